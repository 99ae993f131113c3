package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"auditchain/internal/audit/hashchain"
	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/signing"
	"auditchain/internal/audit/store/memory"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/sentinel"
)

type ManagerSuite struct {
	suite.Suite
	entries  *memory.InMemoryStore
	policies *MemoryPolicyStore
	requests *MemoryRequestStore
	signer   *signing.Service
	metrics  *metrics.Metrics
	archive  string
	manager  *Manager
	created  time.Time
	now      time.Time
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.entries = memory.NewInMemoryStore()
	s.policies = NewMemoryPolicyStore()
	s.requests = NewMemoryRequestStore()
	s.signer = signing.NewService(signing.NewLocalProvider())
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.archive = s.T().TempDir()
	s.created = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	s.now = s.created
	s.manager = s.newManager()
}

func (s *ManagerSuite) newManager(opts ...Option) *Manager {
	base := []Option{
		WithArchiver(NewFileArchiver(s.archive)),
		WithSigner(s.signer),
		WithClock(func() time.Time { return s.now }),
		WithMetrics(s.metrics),
	}
	return New(s.policies, s.entries, s.requests, append(base, opts...)...)
}

func (s *ManagerSuite) appendEntries(category models.Category, n int, metadataDays int) []models.Entry {
	ctx := context.Background()
	chain := hashchain.Default()
	var out []models.Entry
	for i := 0; i < n; i++ {
		tail, err := s.entries.LoadTail(ctx)
		s.Require().NoError(err)
		e := models.NewEntry(fmt.Sprintf("e-%d", tail.Sequence+1), s.created, models.EventSpec{
			Category: category,
			Event:    "record.read",
			Severity: models.SeverityInfo,
			Actor:    models.Actor{Type: models.ActorUser, ID: "u-1"},
			Metadata: models.Metadata{RetentionDays: metadataDays},
		})
		e.Sequence = tail.Sequence + 1
		e, err = chain.Seal(e, tail.PreviousHash())
		s.Require().NoError(err)
		s.Require().NoError(s.entries.Persist(ctx, e))
		out = append(out, e)
	}
	return out
}

func (s *ManagerSuite) setPolicy(category models.Category, days int, hold bool) {
	_, err := s.manager.SetPolicy(context.Background(), category, days, hold)
	s.Require().NoError(err)
}

// =============================================================================
// Eligibility
// =============================================================================

func (s *ManagerSuite) TestEligibleAtDay31() {
	ctx := context.Background()
	s.setPolicy(models.CategoryDataAccess, 30, false)
	e := s.appendEntries(models.CategoryDataAccess, 1, 0)[0]

	s.Run("active on day 30", func() {
		state, err := s.manager.State(ctx, e, s.created.Add(30*day))
		s.Require().NoError(err)
		s.Equal(models.EntryActive, state)
	})

	s.Run("eligible on day 31", func() {
		state, err := s.manager.State(ctx, e, s.created.Add(31*day))
		s.Require().NoError(err)
		s.Equal(models.EntryEligibleForDeletion, state)
	})

	s.Run("legal hold is never eligible", func() {
		s.setPolicy(models.CategoryDataAccess, 30, true)
		for _, elapsed := range []time.Duration{31 * day, 365 * day, 100 * 365 * day} {
			state, err := s.manager.State(ctx, e, s.created.Add(elapsed))
			s.Require().NoError(err)
			s.Equal(models.EntryActive, state)
		}
	})
}

func (s *ManagerSuite) TestMetadataRetentionExtendsPolicy() {
	s.setPolicy(models.CategoryDataAccess, 30, false)
	e := s.appendEntries(models.CategoryDataAccess, 1, 90)[0]
	policy, err := s.manager.Policy(context.Background(), models.CategoryDataAccess)
	s.Require().NoError(err)

	s.Equal(90, EffectiveDays(policy, e))
	s.False(IsEligible(policy, e, s.created.Add(31*day)))
	s.True(IsEligible(policy, e, s.created.Add(91*day)))
}

func (s *ManagerSuite) TestDefaultPolicy() {
	p, err := s.manager.Policy(context.Background(), models.CategorySystem)
	s.Require().NoError(err)
	s.Equal(DefaultRetentionDays, p.RetentionDays)
	s.False(p.LegalHold)
}

func (s *ManagerSuite) TestSetPolicyValidation() {
	_, err := s.manager.SetPolicy(context.Background(), "", 30, false)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.manager.SetPolicy(context.Background(), models.CategorySecurity, 0, false)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// =============================================================================
// Sweep and confirmation
// =============================================================================

func (s *ManagerSuite) TestSweepOpensOneRequestPerCategory() {
	ctx := context.Background()
	s.setPolicy(models.CategoryDataAccess, 30, false)
	s.setPolicy(models.CategorySecurity, 30, true)
	s.appendEntries(models.CategoryDataAccess, 3, 0)
	s.appendEntries(models.CategorySecurity, 2, 0)

	s.now = s.created.Add(31 * day)
	opened, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Require().Len(opened, 1)
	s.Equal(models.CategoryDataAccess, opened[0].Category)
	s.Equal([]uint64{1, 2, 3}, opened[0].Sequences)
	s.Equal(models.DeletionPending, opened[0].State)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.LegalHoldSkips))

	state, err := s.manager.State(ctx, s.loadEntry(1), s.now)
	s.Require().NoError(err)
	s.Equal(models.EntryPendingConfirmation, state)

	again, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Empty(again, "pending entries are not requested twice")
}

func (s *ManagerSuite) TestSweepBeforeExpiryOpensNothing() {
	s.setPolicy(models.CategoryDataAccess, 30, false)
	s.appendEntries(models.CategoryDataAccess, 2, 0)
	s.now = s.created.Add(30 * day)

	opened, err := s.manager.Sweep(context.Background())
	s.Require().NoError(err)
	s.Empty(opened)
}

func (s *ManagerSuite) TestConfirmRequiresDistinctConfirmers() {
	ctx := context.Background()
	s.setPolicy(models.CategoryDataAccess, 30, false)
	original := s.appendEntries(models.CategoryDataAccess, 2, 0)
	s.now = s.created.Add(31 * day)
	opened, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Require().Len(opened, 1)
	id := opened[0].ID

	req, err := s.manager.Confirm(ctx, id, "alice")
	s.Require().NoError(err)
	s.Equal(models.DeletionPending, req.State)

	req, err = s.manager.Confirm(ctx, id, "alice")
	s.Require().NoError(err)
	s.Equal(models.DeletionPending, req.State, "same confirmer counts once")
	n, err := s.manager.Confirmations(ctx, id)
	s.Require().NoError(err)
	s.Equal(1, n)

	req, err = s.manager.Confirm(ctx, id, "bob")
	s.Require().NoError(err)
	s.Equal(models.DeletionExecuted, req.State)
	s.True(req.Archived)

	s.Run("payload removed and state archived", func() {
		e := s.loadEntry(1)
		s.True(e.IsRedacted())
		s.Empty(e.Event)
		s.Equal(original[0].ContentHash, e.ContentHash)
		state, err := s.manager.State(ctx, e, s.now)
		s.Require().NoError(err)
		s.Equal(models.EntryArchived, state)
	})

	s.Run("archive keeps verifiable copies", func() {
		archived, err := ReadArchive(NewFileArchiver(s.archive).Path(*req))
		s.Require().NoError(err)
		s.Require().Len(archived, 2)
		h, err := hashchain.Default().ComputeHash(archived[1])
		s.Require().NoError(err)
		s.Equal(original[1].ContentHash, h)
	})

	s.Run("execution is signed by the log", func() {
		s.False(req.Signature.IsZero())
		ok, err := s.signer.Verify(ctx, req.Digest(), req.Signature)
		s.Require().NoError(err)
		s.True(ok)
		stored, err := s.requests.GetRequest(ctx, id)
		s.Require().NoError(err)
		s.Equal(req.Signature, stored.Signature)
	})

	s.Run("executed request cannot be confirmed again", func() {
		_, err := s.manager.Confirm(ctx, id, "carol")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Equal(2.0, testutil.ToFloat64(s.metrics.EntriesDeleted))
}

func (s *ManagerSuite) TestLegalHoldCancelsPendingRequest() {
	ctx := context.Background()
	s.setPolicy(models.CategoryDataAccess, 30, false)
	s.appendEntries(models.CategoryDataAccess, 1, 0)
	s.now = s.created.Add(31 * day)
	opened, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Require().Len(opened, 1)

	s.setPolicy(models.CategoryDataAccess, 30, true)

	stored, err := s.requests.GetRequest(ctx, opened[0].ID)
	s.Require().NoError(err)
	s.Equal(models.DeletionCancelled, stored.State)
	s.False(s.loadEntry(1).IsRedacted())
}

func (s *ManagerSuite) TestLiftedHoldReopensDeletion() {
	ctx := context.Background()
	s.setPolicy(models.CategoryDataAccess, 30, false)
	s.appendEntries(models.CategoryDataAccess, 2, 0)
	s.now = s.created.Add(31 * day)
	first, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Require().Len(first, 1)
	_, err = s.manager.Confirm(ctx, first[0].ID, "alice")
	s.Require().NoError(err)

	s.setPolicy(models.CategoryDataAccess, 30, true)
	s.setPolicy(models.CategoryDataAccess, 30, false)

	second, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Require().Len(second, 1)
	s.NotEqual(first[0].ID, second[0].ID)
	s.Equal(first[0].Sequences, second[0].Sequences)

	stored, err := s.requests.GetRequest(ctx, second[0].ID)
	s.Require().NoError(err)
	s.Equal(models.DeletionPending, stored.State)
	n, err := s.manager.Confirmations(ctx, second[0].ID)
	s.Require().NoError(err)
	s.Zero(n, "confirmations of the cancelled request do not carry over")

	_, err = s.manager.Confirm(ctx, second[0].ID, "alice")
	s.Require().NoError(err)
	req, err := s.manager.Confirm(ctx, second[0].ID, "bob")
	s.Require().NoError(err)
	s.Equal(models.DeletionExecuted, req.State)
	s.True(s.loadEntry(1).IsRedacted())
	s.True(s.loadEntry(2).IsRedacted())

	cancelled, err := s.requests.GetRequest(ctx, first[0].ID)
	s.Require().NoError(err)
	s.Equal(models.DeletionCancelled, cancelled.State)
}

func (s *ManagerSuite) TestSweepLimitSkipsEntriesKeptByMetadata() {
	ctx := context.Background()
	s.manager = s.newManager(WithSweepLimit(2))
	s.setPolicy(models.CategoryDataAccess, 30, false)
	s.appendEntries(models.CategoryDataAccess, 3, 90)
	s.appendEntries(models.CategoryDataAccess, 3, 0)
	s.now = s.created.Add(31 * day)

	opened, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Require().Len(opened, 1)
	s.Equal([]uint64{4, 5}, opened[0].Sequences)

	next, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Require().Len(next, 1)
	s.Equal([]uint64{6}, next[0].Sequences)
}

func (s *ManagerSuite) TestExecutionRequiresSigner() {
	ctx := context.Background()
	s.manager = s.newManager(WithSigner(nil))
	s.setPolicy(models.CategoryDataAccess, 30, false)
	s.appendEntries(models.CategoryDataAccess, 1, 0)
	s.now = s.created.Add(31 * day)
	opened, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)
	s.Require().Len(opened, 1)

	_, err = s.manager.Confirm(ctx, opened[0].ID, "alice")
	s.Require().NoError(err)
	_, err = s.manager.Confirm(ctx, opened[0].ID, "bob")
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.False(s.loadEntry(1).IsRedacted())
}

func (s *ManagerSuite) TestLegalHoldRecheckedAtExecution() {
	ctx := context.Background()
	s.setPolicy(models.CategoryDataAccess, 30, false)
	s.appendEntries(models.CategoryDataAccess, 1, 0)
	s.now = s.created.Add(31 * day)
	opened, err := s.manager.Sweep(ctx)
	s.Require().NoError(err)

	// Hold placed directly in the store, bypassing SetPolicy's cancellation.
	s.Require().NoError(s.policies.SetPolicy(ctx, models.RetentionPolicy{
		Category: models.CategoryDataAccess, RetentionDays: 30, LegalHold: true,
	}))
	_, err = s.manager.Confirm(ctx, opened[0].ID, "alice")
	s.Require().NoError(err)
	req, err := s.manager.Confirm(ctx, opened[0].ID, "bob")
	s.Require().NoError(err)
	s.Equal(models.DeletionCancelled, req.State)
	s.False(s.loadEntry(1).IsRedacted())
}

func (s *ManagerSuite) TestConfirmErrors() {
	ctx := context.Background()
	_, err := s.manager.Confirm(ctx, "missing", "alice")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.manager.Confirm(ctx, "missing", " ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ManagerSuite) loadEntry(seq uint64) models.Entry {
	got, err := s.entries.LoadRange(context.Background(), seq, seq)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	return got[0]
}

func TestRequestIDIsDeterministic(t *testing.T) {
	a := requestID(models.CategorySecurity, []uint64{3, 1, 2}, 0)
	b := requestID(models.CategorySecurity, []uint64{1, 2, 3}, 0)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, requestID(models.CategoryDataAccess, []uint64{1, 2, 3}, 0))
	assert.NotEqual(t, a, requestID(models.CategorySecurity, []uint64{1, 2, 3}, 1))
}

func TestMemoryRequestStoreRejectsReopening(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRequestStore()
	req := models.DeletionRequest{ID: "req-1", Category: models.CategorySecurity, Sequences: []uint64{1}, State: models.DeletionPending}
	assert.NoError(t, store.SaveRequest(ctx, req))

	req.State = models.DeletionCancelled
	assert.NoError(t, store.SaveRequest(ctx, req))

	req.State = models.DeletionPending
	assert.ErrorIs(t, store.SaveRequest(ctx, req), sentinel.ErrConflict)
	stored, err := store.GetRequest(ctx, "req-1")
	assert.NoError(t, err)
	assert.Equal(t, models.DeletionCancelled, stored.State)
}
