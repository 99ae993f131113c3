package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "auditchain/pkg/domain-errors"
)

func validSpec() EventSpec {
	return EventSpec{
		Category: CategoryAuthentication,
		Event:    "user.login",
		Actor:    Actor{Type: ActorUser, ID: "u-1"},
	}
}

func TestEventSpecValidate(t *testing.T) {
	t.Run("defaults severity and status", func(t *testing.T) {
		spec := validSpec()
		require.NoError(t, spec.Validate())
		assert.Equal(t, SeverityInfo, spec.Severity)
		assert.Equal(t, ResultSuccess, spec.Result.Status)
	})

	t.Run("anonymous actor needs no id", func(t *testing.T) {
		spec := validSpec()
		spec.Actor = Actor{Type: ActorAnonymous}
		require.NoError(t, spec.Validate())
	})

	cases := map[string]func(*EventSpec){
		"missing event":      func(s *EventSpec) { s.Event = "  " },
		"missing category":   func(s *EventSpec) { s.Category = "" },
		"missing actor type": func(s *EventSpec) { s.Actor.Type = "" },
		"unknown actor type": func(s *EventSpec) { s.Actor.Type = "robot" },
		"missing actor id":   func(s *EventSpec) { s.Actor.ID = "" },
		"bad result status":  func(s *EventSpec) { s.Result.Status = "maybe" },
		"negative retention": func(s *EventSpec) { s.Metadata.RetentionDays = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			spec := validSpec()
			mutate(&spec)
			err := spec.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestSeverityOrderingAndJSON(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityError))
	assert.True(t, SeverityWarning.AtLeast(SeverityWarning))
	assert.False(t, SeverityDebug.AtLeast(SeverityInfo))

	raw, err := json.Marshal(SeverityWarning)
	require.NoError(t, err)
	assert.Equal(t, `"warning"`, string(raw))

	var s Severity
	require.NoError(t, json.Unmarshal([]byte(`"CRITICAL"`), &s))
	assert.Equal(t, SeverityCritical, s)
	assert.Error(t, json.Unmarshal([]byte(`"loud"`), &s))
}

func TestNewEntryStampsMetadataAndTruncatesTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.FixedZone("X", 3600))
	spec := validSpec()
	require.NoError(t, spec.Validate())

	e := NewEntry("id-1", at, spec)
	assert.Equal(t, MetadataSchemaVersion, e.Metadata.SchemaVersion)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, 123456000, e.Timestamp.Nanosecond())
	assert.Empty(t, e.ContentHash)
}

func TestTailPreviousHash(t *testing.T) {
	assert.Equal(t, GenesisHash, Tail{}.PreviousHash())
	assert.Equal(t, "abc", Tail{Sequence: 3, Hash: "abc"}.PreviousHash())
}
