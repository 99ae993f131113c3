package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "auditchain/pkg/domain-errors"
)

type eventBody struct {
	Category string `json:"category"`
	Event    string `json:"event"`
}

func (b *eventBody) Validate() error {
	b.Category = strings.TrimSpace(b.Category)
	if b.Category == "" {
		return dErrors.New(dErrors.CodeValidation, "category is required")
	}
	if b.Event == "" {
		return dErrors.New(dErrors.CodeValidation, "event is required")
	}
	return nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDesc   string
	}{
		{"malformed body", dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"), http.StatusBadRequest, "bad_request", "invalid JSON body"},
		{"validation", dErrors.New(dErrors.CodeValidation, "event is required"), http.StatusBadRequest, "validation_error", "event is required"},
		{"unknown entry", dErrors.New(dErrors.CodeNotFound, "entry 9 not found"), http.StatusNotFound, "not_found", "entry 9 not found"},
		{"closed deletion request", dErrors.New(dErrors.CodeConflict, "already executed"), http.StatusConflict, "conflict", "already executed"},
		{"storage down", dErrors.Wrap(errors.New("dial tcp: refused"), dErrors.CodePersistence, "failed to persist entry"), http.StatusServiceUnavailable, "persistence_error", ""},
		{"signer down", dErrors.New(dErrors.CodeSigning, "failed to sign entry"), http.StatusServiceUnavailable, "signing_error", ""},
		{"chain broken", dErrors.New(dErrors.CodeIntegrity, "hash mismatch at 4"), http.StatusInternalServerError, "integrity_violation", ""},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Error)
			assert.Equal(t, tt.wantDesc, body.ErrorDescription)
		})
	}
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decode := func(body string) (*eventBody, bool, *httptest.ResponseRecorder) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
		out, ok := DecodeAndPrepare[eventBody](rec, req, logger, context.Background(), "req-1")
		return out, ok, rec
	}

	t.Run("valid body is normalized", func(t *testing.T) {
		out, ok, rec := decode(`{"category":" data_access ","event":"patient.record.read"}`)
		require.True(t, ok)
		assert.Equal(t, "data_access", out.Category)
		assert.Equal(t, "patient.record.read", out.Event)
		assert.Equal(t, 0, rec.Body.Len())
	})

	t.Run("malformed JSON is a bad request", func(t *testing.T) {
		out, ok, rec := decode(`{"category":`)
		assert.False(t, ok)
		assert.Nil(t, out)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", decodeError(t, rec).Error)
	})

	t.Run("validation failure keeps its description", func(t *testing.T) {
		_, ok, rec := decode(`{"category":"data_access"}`)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "validation_error", body.Error)
		assert.Equal(t, "event is required", body.ErrorDescription)
	})
}
