package distribution_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditchain/internal/audit/distribution"
	"auditchain/internal/audit/models"
)

func TestAllowed(t *testing.T) {
	rules := []distribution.FilterRule{
		{Name: "drop-debug", Effect: distribution.Exclude, Categories: []models.Category{models.CategorySystem}, Events: []string{"heartbeat*"}},
		{Name: "security-only", Effect: distribution.Include, Categories: []models.Category{models.CategorySecurity}, MinSeverity: models.SeverityWarning},
		{Name: "rest", Effect: distribution.Exclude},
	}

	cases := []struct {
		name  string
		entry models.Entry
		want  bool
	}{
		{"heartbeat prefix excluded", models.Entry{Category: models.CategorySystem, Event: "heartbeat.tick"}, false},
		{"other system events fall through to rest", models.Entry{Category: models.CategorySystem, Event: "boot"}, false},
		{"security warning included", models.Entry{Category: models.CategorySecurity, Severity: models.SeverityWarning}, true},
		{"security critical included", models.Entry{Category: models.CategorySecurity, Severity: models.SeverityCritical}, true},
		{"security info excluded", models.Entry{Category: models.CategorySecurity, Severity: models.SeverityInfo}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, distribution.Allowed(rules, tc.entry))
		})
	}

	t.Run("no rules includes everything", func(t *testing.T) {
		assert.True(t, distribution.Allowed(nil, models.Entry{Category: models.CategoryDataAccess}))
	})

	t.Run("actor match", func(t *testing.T) {
		r := []distribution.FilterRule{{Name: "bot", Effect: distribution.Exclude, Actors: []string{"svc-bot"}}}
		assert.False(t, distribution.Allowed(r, models.Entry{Actor: models.Actor{ID: "svc-bot"}}))
		assert.True(t, distribution.Allowed(r, models.Entry{Actor: models.Actor{ID: "alice"}}))
	})
}

func TestParseFilters(t *testing.T) {
	doc := []byte(`
filters:
  - name: only-security
    effect: include
    categories: [security]
    minSeverity: warning
  - name: everything-else
    effect: exclude
`)
	rules, err := distribution.ParseFilters(doc)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, models.SeverityWarning, rules[0].MinSeverity)
	assert.Equal(t, []models.Category{models.CategorySecurity}, rules[0].Categories)

	_, err = distribution.ParseFilters([]byte("filters:\n  - name: x\n    effect: maybe\n"))
	assert.Error(t, err)
}
