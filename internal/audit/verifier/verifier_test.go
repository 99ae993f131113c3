package verifier_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"auditchain/internal/audit/hashchain"
	"auditchain/internal/audit/merkle"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/retention"
	"auditchain/internal/audit/signing"
	"auditchain/internal/audit/store/memory"
	"auditchain/internal/audit/verifier"
	dErrors "auditchain/pkg/domain-errors"
)

type VerifierSuite struct {
	suite.Suite
	store    *memory.InMemoryStore
	signer   *signing.Service
	chain    *hashchain.Builder
	batches  *merkle.MemoryBatchStore
	acc      *merkle.Accumulator
	requests *retention.MemoryRequestStore
	now      time.Time
}

func TestVerifierSuite(t *testing.T) {
	suite.Run(t, new(VerifierSuite))
}

func (s *VerifierSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.signer = signing.NewService(signing.NewLocalProvider())
	s.chain = hashchain.Default()
	s.batches = merkle.NewMemoryBatchStore()
	s.acc = merkle.New(s.chain, s.signer, s.batches, merkle.WithBatchSize(4))
	s.requests = retention.NewMemoryRequestStore()
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
}

// append mirrors the logger's critical section without the service wiring.
func (s *VerifierSuite) append(n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		tail, err := s.store.LoadTail(ctx)
		s.Require().NoError(err)
		e := models.NewEntry(fmt.Sprintf("entry-%d", tail.Sequence+1), s.now.Add(time.Duration(i)*time.Second), models.EventSpec{
			Category: models.CategoryDataAccess,
			Event:    "patient.record.read",
			Severity: models.SeverityInfo,
			Actor:    models.Actor{Type: models.ActorUser, ID: "clinician-7"},
			Resource: models.Resource{Type: "record", ID: fmt.Sprintf("r-%d", i)},
		})
		e.Sequence = tail.Sequence + 1
		e, err = s.chain.Seal(e, tail.PreviousHash())
		s.Require().NoError(err)
		e.Signature, err = s.signer.Sign(ctx, e.ContentHash)
		s.Require().NoError(err)
		s.Require().NoError(s.store.Persist(ctx, e))
		_, err = s.acc.Add(ctx, e)
		s.Require().NoError(err)
	}
}

func (s *VerifierSuite) verifier(opts ...verifier.Option) *verifier.Verifier {
	opts = append([]verifier.Option{verifier.WithPageSize(3), verifier.WithRedactions(s.requests)}, opts...)
	return verifier.New(s.store, s.signer, s.chain, opts...)
}

// =============================================================================
// Intact chains
// =============================================================================

func (s *VerifierSuite) TestIntactChain() {
	s.append(10)

	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Equal(10, report.Checked)
	s.Equal(uint64(1), report.Start)
	s.Equal(uint64(10), report.End)
	s.Empty(report.Violations)
	for seq := uint64(1); seq <= 10; seq++ {
		s.True(report.IsEntryValid(seq))
	}
	s.False(report.IsEntryValid(11))
}

func (s *VerifierSuite) TestEmptyRange() {
	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Zero(report.Checked)
}

func (s *VerifierSuite) TestRotationMidChainStillVerifies() {
	s.append(3)
	_, err := s.signer.Rotate(context.Background())
	s.Require().NoError(err)
	s.append(3)

	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.True(report.Valid, "%v", report.Violations)

	entries, err := s.store.LoadRange(context.Background(), 1, 6)
	s.Require().NoError(err)
	s.NotEqual(entries[0].Signature.KeyID, entries[5].Signature.KeyID)
}

// executed stores a signed, executed deletion request and redacts its entries.
func (s *VerifierSuite) executed(id string, seqs ...uint64) models.DeletionRequest {
	ctx := context.Background()
	req := models.DeletionRequest{
		ID:        id,
		Category:  models.CategoryDataAccess,
		Sequences: seqs,
		State:     models.DeletionExecuted,
		CreatedAt: s.now,
		UpdatedAt: s.now,
	}
	sig, err := s.signer.Sign(ctx, req.Digest())
	s.Require().NoError(err)
	req.Signature = sig
	s.Require().NoError(s.requests.SaveRequest(ctx, req))
	n, err := s.store.Redact(ctx, seqs, models.Redaction{RequestID: id, At: s.now})
	s.Require().NoError(err)
	s.Require().Equal(len(seqs), n)
	return req
}

func (s *VerifierSuite) TestRedactedEntriesKeepChainVerifiable() {
	s.append(6)
	s.executed("req-1", 2, 3)

	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.True(report.Valid, "%v", report.Violations)
	s.Equal(2, report.Redacted)
}

// =============================================================================
// Redaction forgery
// =============================================================================

func (s *VerifierSuite) TestRewrittenPayloadBehindRedactionMarker() {
	s.append(10)
	s.Require().NoError(s.store.Mutate(5, func(e *models.Entry) {
		e.Event = "totally.different.event"
		e.Actor.ID = "attacker"
		e.Redaction = &models.Redaction{RequestID: "forged", At: s.now}
	}))

	report, err := s.verifier().VerifyRange(context.Background(), 1, 10)
	s.Require().NoError(err)
	s.False(report.Valid)
	mismatches := report.ByKind(verifier.KindHashMismatch)
	s.Require().Len(mismatches, 1)
	s.Equal(uint64(5), mismatches[0].Sequence)
	s.Contains(mismatches[0].Detail, "still carries payload")
	s.False(report.IsEntryValid(5))
}

func (s *VerifierSuite) TestTombstonesMustNameAnExecutedSignedRequest() {
	ctx := context.Background()
	tombstone := func(seq uint64, requestID string) {
		s.Require().NoError(s.store.Mutate(seq, func(e *models.Entry) {
			*e = e.Redacted(models.Redaction{RequestID: requestID, At: s.now})
		}))
	}
	detailFor := func(seq uint64, opts ...verifier.Option) string {
		report, err := s.verifier(opts...).VerifyRange(ctx, 1, 0)
		s.Require().NoError(err)
		s.False(report.Valid)
		for _, v := range report.ByKind(verifier.KindHashMismatch) {
			if v.Sequence == seq {
				return v.Detail
			}
		}
		s.Failf("no hash mismatch", "entry %d: %v", seq, report.Violations)
		return ""
	}

	s.Run("unknown request", func() {
		s.SetupTest()
		s.append(4)
		tombstone(2, "never-opened")
		s.Contains(detailFor(2), "does not exist")
	})

	s.Run("pending request", func() {
		s.SetupTest()
		s.append(4)
		s.Require().NoError(s.requests.SaveRequest(ctx, models.DeletionRequest{
			ID: "req-pending", Category: models.CategoryDataAccess, Sequences: []uint64{2}, State: models.DeletionPending,
		}))
		tombstone(2, "req-pending")
		s.Contains(detailFor(2), "is pending_confirmation")
	})

	s.Run("request does not cover the entry", func() {
		s.SetupTest()
		s.append(4)
		s.executed("req-1", 2)
		tombstone(3, "req-1")
		s.Contains(detailFor(3), "does not cover this entry")
	})

	s.Run("unsigned request", func() {
		s.SetupTest()
		s.append(4)
		s.Require().NoError(s.requests.SaveRequest(ctx, models.DeletionRequest{
			ID: "req-unsigned", Category: models.CategoryDataAccess, Sequences: []uint64{2}, State: models.DeletionExecuted,
		}))
		tombstone(2, "req-unsigned")
		s.Contains(detailFor(2), "is not signed")
	})

	s.Run("request widened after signing", func() {
		s.SetupTest()
		s.append(4)
		req := s.executed("req-1", 2)
		req.Sequences = []uint64{2, 3}
		s.Require().NoError(s.requests.Replace(req))
		tombstone(3, "req-1")
		s.Contains(detailFor(3), "signature does not verify")
	})

	s.Run("no redaction source", func() {
		s.SetupTest()
		s.append(4)
		s.executed("req-1", 2)
		s.Contains(detailFor(2, verifier.WithRedactions(nil)), "cannot be authenticated")
	})
}

// =============================================================================
// Tampering
// =============================================================================

func (s *VerifierSuite) TestPayloadTamperReportsHashAndChain() {
	s.append(10)
	s.Require().NoError(s.store.Mutate(5, func(e *models.Entry) {
		e.Event = "patient.record.exported"
	}))

	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.False(report.Valid)
	s.Require().Len(report.Violations, 2)

	s.Equal(verifier.KindHashMismatch, report.Violations[0].Kind)
	s.Equal(uint64(5), report.Violations[0].Sequence)
	s.Equal(verifier.LevelCritical, report.Violations[0].Level)

	s.Equal(verifier.KindChainBroken, report.Violations[1].Kind)
	s.Equal(uint64(6), report.Violations[1].Sequence)

	for _, seq := range []uint64{1, 2, 3, 4, 7, 8, 9, 10} {
		s.True(report.IsEntryValid(seq), "entry %d", seq)
	}
	s.False(report.IsEntryValid(5))
	s.False(report.IsEntryValid(6))
	s.Equal(10, report.Checked)
}

func (s *VerifierSuite) TestTamperedSignature() {
	s.append(4)
	s.Require().NoError(s.store.Mutate(3, func(e *models.Entry) {
		other, err := s.signer.Sign(context.Background(), e.PreviousHash)
		s.Require().NoError(err)
		e.Signature.Value = other.Value
	}))

	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.Require().Len(report.Violations, 1)
	s.Equal(verifier.KindInvalidSignature, report.Violations[0].Kind)
	s.Equal(uint64(3), report.Violations[0].Sequence)
}

func (s *VerifierSuite) TestUnknownSigningKey() {
	s.append(2)
	s.Require().NoError(s.store.Mutate(2, func(e *models.Entry) {
		e.Signature.KeyID = "ed25519-0000000000000000"
	}))

	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.Require().Len(report.ByKind(verifier.KindInvalidSignature), 1)
	s.Contains(report.Violations[0].Detail, "unknown signing key")
}

func (s *VerifierSuite) TestSequenceGap() {
	s.append(6)
	s.Require().NoError(s.store.Remove(4))

	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.Require().Len(report.Violations, 1)
	s.Equal(verifier.KindSequenceGap, report.Violations[0].Kind)
	s.Equal(verifier.LevelHigh, report.Violations[0].Level)
	s.Equal(uint64(4), report.Violations[0].Sequence)
	s.True(report.IsEntryValid(5))
}

func (s *VerifierSuite) TestDuplicateSequenceIsReportedAsOutOfOrder() {
	s.append(6)
	s.Require().NoError(s.store.Mutate(4, func(e *models.Entry) {
		e.Sequence = 3
	}))

	report, err := s.verifier().VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.False(report.Valid)
	var details []string
	for _, v := range report.ByKind(verifier.KindSequenceGap) {
		details = append(details, v.Detail)
	}
	s.Contains(details, "entry 3 is out of order or duplicated, expected 4")
	s.Contains(details, "entries 4..4 missing")
}

func (s *VerifierSuite) TestSubRangeChecksPredecessorLink() {
	s.append(8)
	s.Require().NoError(s.store.Mutate(4, func(e *models.Entry) {
		e.Event = "patient.record.deleted"
	}))

	report, err := s.verifier().VerifyRange(context.Background(), 5, 8)
	s.Require().NoError(err)
	s.Require().Len(report.Violations, 1)
	s.Equal(verifier.KindChainBroken, report.Violations[0].Kind)
	s.Equal(uint64(5), report.Violations[0].Sequence)
	s.Equal(4, report.Checked)
}

func (s *VerifierSuite) TestCancelledContextAborts() {
	s.append(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.verifier().VerifyRange(ctx, 1, 0)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.Require().NotNil(report)
	s.True(report.Aborted)
	s.False(report.Valid)
}

// =============================================================================
// Merkle batches
// =============================================================================

func (s *VerifierSuite) TestSealedBatchesVerify() {
	s.append(8)
	s.Require().NoError(s.acc.Flush(context.Background()))

	report, err := s.verifier(verifier.WithBatches(s.batches, s.signer)).VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.True(report.Valid, "%v", report.Violations)
	s.Equal(2, report.Batches)
}

func (s *VerifierSuite) TestForgedBatchRoot() {
	s.append(4)
	s.Require().NoError(s.acc.Flush(context.Background()))
	stored, err := s.batches.ListBatches(context.Background(), 1, 4)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)

	forged := stored[0]
	forged.Root = forged.LeafHashes[0]
	source := staticBatches{forged}

	report, err := s.verifier(verifier.WithBatches(source, s.signer)).VerifyRange(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.Len(report.ByKind(verifier.KindBatchRootMismatch), 1)
	s.Len(report.ByKind(verifier.KindInvalidCheckpoint), 1)
	s.True(report.IsEntryValid(1), "batch findings do not mark entries")
}

type staticBatches []models.MerkleBatch

func (b staticBatches) ListBatches(context.Context, uint64, uint64) ([]models.MerkleBatch, error) {
	return b, nil
}

func TestReportByKind(t *testing.T) {
	var r *verifier.Report
	assert.False(t, r.IsEntryValid(1))

	r = &verifier.Report{Start: 1, End: 3, Violations: []verifier.Violation{
		{Sequence: 2, Kind: verifier.KindHashMismatch},
		{Sequence: 3, Kind: verifier.KindChainBroken},
	}}
	assert.Len(t, r.ByKind(verifier.KindChainBroken), 1)
	assert.Empty(t, r.ByKind(verifier.KindSequenceGap))
	assert.Equal(t, "hash_mismatch at 2: ", r.Violations[0].String())
}
