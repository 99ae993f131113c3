package handler_test

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks AuditLog,Admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"auditchain/internal/audit/distribution"
	"auditchain/internal/audit/handler"
	"auditchain/internal/audit/handler/mocks"
	"auditchain/internal/audit/merkle"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/service"
	"auditchain/internal/audit/verifier"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/middleware/admin"
	"auditchain/pkg/requestcontext"
	"auditchain/pkg/testutil"
)

const adminToken = "s3cret"

var operatorKeys = admin.NewOperatorKeys(map[string]string{
	"alice": "alice-operator-key-0123456789abcdef",
	"bob":   "bob-operator-key-0123456789abcdef01",
})

type staticStats []distribution.Stats

func (s staticStats) AllStats() []distribution.Stats { return s }

type HandlerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	log    *mocks.MockAuditLog
	admin  *mocks.MockAdmin
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.log = mocks.NewMockAuditLog(s.ctrl)
	s.admin = mocks.NewMockAdmin(s.ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.New(s.log, s.admin, adminToken, logger,
		handler.WithSinkStats(staticStats{{Sink: "siem", Delivered: 7, BreakerState: "closed"}}),
		handler.WithOperatorKeys(operatorKeys),
	)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4242"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) adminHeaders() map[string]string {
	return s.operatorHeaders("alice", operatorKeys["alice"])
}

func (s *HandlerSuite) operatorHeaders(operator string, key []byte) map[string]string {
	token, err := admin.IssueOperatorToken(operator, key, time.Now(), time.Minute)
	s.Require().NoError(err)
	return map[string]string{"X-Admin-Token": adminToken, "Authorization": "Bearer " + token}
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(v))
}

// =============================================================================
// Event submission
// =============================================================================

func (s *HandlerSuite) TestLogEvent() {
	s.Run("returns the receipt and fills actor IP and correlation ID", func() {
		var got models.EventSpec
		s.log.EXPECT().Log(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, spec models.EventSpec) (*service.Receipt, error) {
				got = spec
				return &service.Receipt{EntryID: "e-1", Sequence: 1, ContentHash: "abc", KeyID: "k-1"}, nil
			})

		rec := s.do(http.MethodPost, "/v1/events",
			`{"category":"authentication","event":"user.login","severity":"warning","actor":{"type":"user","id":"u-1"}}`, nil)

		s.Equal(http.StatusCreated, rec.Code)
		var receipt service.Receipt
		s.decode(rec, &receipt)
		s.Equal(uint64(1), receipt.Sequence)
		s.Equal("k-1", receipt.KeyID)

		s.Equal("192.0.2.10", got.Actor.IP)
		s.NotEmpty(got.Context.CorrelationID)
		s.Equal(models.SeverityWarning, got.Severity)
		s.Equal(got.Context.CorrelationID, rec.Header().Get("X-Request-Id"))
	})

	s.Run("rejects malformed JSON without logging", func() {
		rec := s.do(http.MethodPost, "/v1/events", `{"category":`, nil)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("rejects invalid specs without logging", func() {
		rec := s.do(http.MethodPost, "/v1/events", `{"category":"authentication","actor":{"type":"user","id":"u-1"}}`, nil)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	s.Run("persistence failures surface as unavailable", func() {
		s.log.EXPECT().Log(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodePersistence, "failed to persist entry"))

		rec := s.do(http.MethodPost, "/v1/events",
			`{"category":"system","event":"job.run","actor":{"type":"system","id":"cron"}}`, nil)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusServiceUnavailable, string(dErrors.CodePersistence))
	})
}

// =============================================================================
// Query surface
// =============================================================================

func (s *HandlerSuite) TestQuery() {
	s.Run("maps query parameters onto the filter", func() {
		start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		s.log.EXPECT().Query(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, f models.Filter) (*service.QueryResult, error) {
				s.Equal([]models.Category{models.CategoryAuthentication, models.CategorySecurity}, f.Categories)
				s.Equal([]models.Severity{models.SeverityError}, f.Severities)
				s.Equal([]string{"u-1"}, f.Actors)
				s.True(f.StartTime.Equal(start))
				s.True(f.EndTime.IsZero())
				s.Equal(10, f.Limit)
				s.Equal(20, f.Offset)
				s.True(f.VerifyIntegrity)
				return &service.QueryResult{Entries: []models.Entry{}, TotalCount: 25, HasMore: false}, nil
			})

		rec := s.do(http.MethodGet,
			"/v1/entries?category=authentication,security&severity=error&actor=u-1&start=2026-05-01T00:00:00Z&limit=10&offset=20&verify=true", "", nil)

		s.Equal(http.StatusOK, rec.Code)
		var result service.QueryResult
		s.decode(rec, &result)
		s.Equal(25, result.TotalCount)
	})

	s.Run("bad parameters are rejected before querying", func() {
		for _, q := range []string{"severity=loud", "start=yesterday", "limit=ten", "verify=maybe"} {
			rec := s.do(http.MethodGet, "/v1/entries?"+q, "", nil)
			s.Equal(http.StatusBadRequest, rec.Code, q)
		}
	})

	s.Run("service validation errors pass through", func() {
		s.log.EXPECT().Query(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeValidation, "limit cannot be negative"))
		rec := s.do(http.MethodGet, "/v1/entries?limit=-1", "", nil)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestInclusionProof() {
	s.Run("returns the proof", func() {
		s.admin.EXPECT().ProveInclusion(gomock.Any(), uint64(6)).
			Return(&merkle.InclusionProof{Sequence: 6, BatchID: "b-2", LeafIndex: 1, Root: "ff"}, nil)

		rec := s.do(http.MethodGet, "/v1/entries/6/proof", "", nil)
		s.Equal(http.StatusOK, rec.Code)
		var proof merkle.InclusionProof
		s.decode(rec, &proof)
		s.Equal("b-2", proof.BatchID)
	})

	s.Run("open batch is a conflict", func() {
		s.admin.EXPECT().ProveInclusion(gomock.Any(), uint64(9)).
			Return(nil, dErrors.New(dErrors.CodeConflict, "batch not sealed"))
		rec := s.do(http.MethodGet, "/v1/entries/9/proof", "", nil)
		s.Equal(http.StatusConflict, rec.Code)
	})

	s.Run("non-numeric sequence", func() {
		rec := s.do(http.MethodGet, "/v1/entries/abc/proof", "", nil)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// Administrative surface
// =============================================================================

func (s *HandlerSuite) TestAdminRequiresToken() {
	rec := s.do(http.MethodPost, "/v1/admin/keys/rotate", "", map[string]string{"X-Admin-Token": "wrong"})
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/v1/admin/sinks", "", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestAdminRequiresOperatorCredential() {
	s.Run("self-asserted operator header is ignored", func() {
		rec := s.do(http.MethodPost, "/v1/admin/deletions/d-1/confirm", "",
			map[string]string{"X-Admin-Token": adminToken, "X-Operator": "alice"})
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("token naming another operator is rejected", func() {
		rec := s.do(http.MethodPost, "/v1/admin/deletions/d-1/confirm", "",
			s.operatorHeaders("bob", operatorKeys["alice"]))
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("one credential confirms as one operator", func() {
		var confirmers []string
		s.admin.EXPECT().ConfirmDeletion(gomock.Any(), "d-1").Times(2).DoAndReturn(
			func(ctx context.Context, id string) (*models.DeletionRequest, error) {
				confirmers = append(confirmers, requestcontext.Operator(ctx))
				return &models.DeletionRequest{ID: id, State: models.DeletionPending}, nil
			})

		headers := s.adminHeaders()
		for range 2 {
			rec := s.do(http.MethodPost, "/v1/admin/deletions/d-1/confirm", "", headers)
			s.Equal(http.StatusOK, rec.Code)
		}
		s.Equal([]string{"alice", "alice"}, confirmers)
	})
}

func (s *HandlerSuite) TestRotateKeys() {
	s.admin.EXPECT().RotateKeys(gomock.Any()).DoAndReturn(
		func(ctx context.Context) (*models.SigningKeyEpoch, error) {
			s.Equal("alice", requestcontext.Operator(ctx))
			return &models.SigningKeyEpoch{KeyID: "k-2", CreatedAt: time.Now()}, nil
		})

	rec := s.do(http.MethodPost, "/v1/admin/keys/rotate", "", s.adminHeaders())
	s.Equal(http.StatusOK, rec.Code)
	var epoch models.SigningKeyEpoch
	s.decode(rec, &epoch)
	s.Equal("k-2", epoch.KeyID)
}

func (s *HandlerSuite) TestSetRetention() {
	s.Run("updates the category policy", func() {
		s.admin.EXPECT().SetRetentionPolicy(gomock.Any(), models.CategoryDataAccess, 365, true).
			Return(&models.RetentionPolicy{Category: models.CategoryDataAccess, RetentionDays: 365, LegalHold: true}, nil)

		rec := s.do(http.MethodPut, "/v1/admin/retention/data_access",
			`{"retentionDays":365,"legalHold":true}`, s.adminHeaders())
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("rejects non-positive retention", func() {
		rec := s.do(http.MethodPut, "/v1/admin/retention/data_access", `{"retentionDays":0}`, s.adminHeaders())
		testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, string(dErrors.CodeValidation))
	})
}

func (s *HandlerSuite) TestVerify() {
	s.Run("returns the report", func() {
		s.admin.EXPECT().TriggerVerification(gomock.Any(), uint64(1), uint64(50)).
			Return(&verifier.Report{Start: 1, End: 50, Checked: 50, Valid: true, Violations: []verifier.Violation{}}, nil)

		rec := s.do(http.MethodPost, "/v1/admin/verify", `{"start":1,"end":50}`, s.adminHeaders())
		s.Equal(http.StatusOK, rec.Code)
		var report verifier.Report
		s.decode(rec, &report)
		s.True(report.Valid)
		s.Equal(50, report.Checked)
	})

	s.Run("end before start", func() {
		rec := s.do(http.MethodPost, "/v1/admin/verify", `{"start":10,"end":5}`, s.adminHeaders())
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestDeletions() {
	s.Run("lists by state", func() {
		s.admin.EXPECT().DeletionRequests(gomock.Any(), models.DeletionPending).
			Return([]models.DeletionRequest{{ID: "d-1", State: models.DeletionPending, Sequences: []uint64{2, 3}}}, nil)

		rec := s.do(http.MethodGet, "/v1/admin/deletions?state=pending_confirmation", "", s.adminHeaders())
		s.Equal(http.StatusOK, rec.Code)
		var body struct {
			Requests []models.DeletionRequest `json:"requests"`
		}
		s.decode(rec, &body)
		s.Require().Len(body.Requests, 1)
		s.Equal([]uint64{2, 3}, body.Requests[0].Sequences)
	})

	s.Run("unknown state", func() {
		rec := s.do(http.MethodGet, "/v1/admin/deletions?state=gone", "", s.adminHeaders())
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("confirm", func() {
		s.admin.EXPECT().ConfirmDeletion(gomock.Any(), "d-1").
			Return(&models.DeletionRequest{ID: "d-1", State: models.DeletionExecuted}, nil)

		rec := s.do(http.MethodPost, "/v1/admin/deletions/d-1/confirm", "", s.adminHeaders())
		s.Equal(http.StatusOK, rec.Code)
		var req models.DeletionRequest
		s.decode(rec, &req)
		s.Equal(models.DeletionExecuted, req.State)
	})

	s.Run("confirm unknown request", func() {
		s.admin.EXPECT().ConfirmDeletion(gomock.Any(), "d-9").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "deletion request not found"))

		rec := s.do(http.MethodPost, "/v1/admin/deletions/d-9/confirm", "", s.adminHeaders())
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestSinkStats() {
	rec := s.do(http.MethodGet, "/v1/admin/sinks", "", s.adminHeaders())
	s.Equal(http.StatusOK, rec.Code)
	body := testutil.UnmarshalResponse[struct {
		Sinks []distribution.Stats `json:"sinks"`
	}](s.T(), rec)
	s.Require().Len(body.Sinks, 1)
	s.Equal("siem", body.Sinks[0].Sink)
}

func (s *HandlerSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, rec.Code)
}
