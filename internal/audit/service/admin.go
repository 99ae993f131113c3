package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"auditchain/internal/audit/merkle"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/verifier"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/sentinel"
	"auditchain/pkg/requestcontext"
)

// KeyRotator swaps the signing epoch.
type KeyRotator interface {
	Rotate(ctx context.Context) (*models.SigningKeyEpoch, error)
}

// RetentionAdmin changes policies and confirms deletions.
type RetentionAdmin interface {
	SetPolicy(ctx context.Context, category models.Category, days int, legalHold bool) (*models.RetentionPolicy, error)
	Confirm(ctx context.Context, requestID, confirmer string) (*models.DeletionRequest, error)
	Requests(ctx context.Context, state models.DeletionState) ([]models.DeletionRequest, error)
}

// InclusionProver builds Merkle inclusion proofs for sealed batches.
type InclusionProver interface {
	ProveInclusion(ctx context.Context, seq uint64) (*merkle.InclusionProof, error)
}

// Admin is the administrative surface. Every state-changing call is itself
// recorded in the log as a configuration entry attributed to the operator
// found in the request context.
type Admin struct {
	log       *Service
	keys      KeyRotator
	retention RetentionAdmin
	verifier  RangeVerifier
	proofs    InclusionProver
}

func NewAdmin(log *Service, keys KeyRotator, retention RetentionAdmin, v RangeVerifier, proofs InclusionProver) *Admin {
	return &Admin{log: log, keys: keys, retention: retention, verifier: v, proofs: proofs}
}

// RotateKeys retires the current signing epoch and starts a new one.
func (a *Admin) RotateKeys(ctx context.Context) (*models.SigningKeyEpoch, error) {
	operator, err := operatorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if a.keys == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "key rotation is not configured")
	}
	epoch, err := a.keys.Rotate(ctx)
	if err != nil {
		return nil, err
	}
	err = a.record(ctx, operator, "admin.signing_key.rotated", models.SeverityWarning,
		models.Resource{Type: "signing_key", ID: epoch.KeyID},
		models.ResultSuccess,
		models.Change{Field: "keyId", New: epoch.KeyID},
	)
	if err != nil {
		return nil, err
	}
	return epoch, nil
}

// SetRetentionPolicy replaces a category's retention period and legal hold.
func (a *Admin) SetRetentionPolicy(ctx context.Context, category models.Category, days int, legalHold bool) (*models.RetentionPolicy, error) {
	operator, err := operatorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if a.retention == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "retention is not configured")
	}
	policy, err := a.retention.SetPolicy(ctx, category, days, legalHold)
	if err != nil {
		return nil, err
	}
	err = a.record(ctx, operator, "admin.retention_policy.updated", models.SeverityWarning,
		models.Resource{Type: "retention_policy", ID: string(category)},
		models.ResultSuccess,
		models.Change{Field: "retentionDays", New: strconv.Itoa(policy.RetentionDays)},
		models.Change{Field: "legalHold", New: strconv.FormatBool(policy.LegalHold)},
	)
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// TriggerVerification replays start..end (end 0 means the tail) and records
// the outcome.
func (a *Admin) TriggerVerification(ctx context.Context, start, end uint64) (*verifier.Report, error) {
	operator, err := operatorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if a.verifier == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "integrity verification is not configured")
	}
	if end != 0 && end < start {
		return nil, dErrors.New(dErrors.CodeValidation, "end must not be before start")
	}
	report, err := a.verifier.VerifyRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	severity, status := models.SeverityInfo, models.ResultSuccess
	if !report.Valid {
		severity, status = models.SeverityCritical, models.ResultFailure
	}
	err = a.record(ctx, operator, "admin.verification.completed", severity,
		models.Resource{Type: "sequence_range", ID: fmt.Sprintf("%d-%d", report.Start, report.End)},
		status,
		models.Change{Field: "violations", New: strconv.Itoa(len(report.Violations))},
	)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ConfirmDeletion adds the operator's confirmation to a deletion request.
func (a *Admin) ConfirmDeletion(ctx context.Context, requestID string) (*models.DeletionRequest, error) {
	operator, err := operatorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if a.retention == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "retention is not configured")
	}
	req, err := a.retention.Confirm(ctx, requestID, operator)
	if err != nil {
		return nil, err
	}
	err = a.record(ctx, operator, "admin.deletion.confirmed", models.SeverityWarning,
		models.Resource{Type: "deletion_request", ID: req.ID},
		models.ResultSuccess,
		models.Change{Field: "state", New: string(req.State)},
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// DeletionRequests lists deletion requests, optionally by state.
func (a *Admin) DeletionRequests(ctx context.Context, state models.DeletionState) ([]models.DeletionRequest, error) {
	if a.retention == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "retention is not configured")
	}
	return a.retention.Requests(ctx, state)
}

// ProveInclusion returns the Merkle path for entry seq.
func (a *Admin) ProveInclusion(ctx context.Context, seq uint64) (*merkle.InclusionProof, error) {
	if a.proofs == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "merkle accumulation is not configured")
	}
	if seq == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "sequence must be positive")
	}
	proof, err := a.proofs.ProveInclusion(ctx, seq)
	switch {
	case err == nil:
		return proof, nil
	case errors.Is(err, merkle.ErrBatchOpen):
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "entry batch is not sealed yet")
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no sealed batch contains this sequence")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build inclusion proof")
	}
}

func (a *Admin) record(ctx context.Context, operator, event string, severity models.Severity, res models.Resource, status models.ResultStatus, changes ...models.Change) error {
	spec := models.EventSpec{
		Category: models.CategoryConfiguration,
		Event:    event,
		Severity: severity,
		Actor:    models.Actor{Type: models.ActorUser, ID: operator},
		Resource: res,
		Result:   models.Result{Status: status, Changes: changes},
	}
	if reqID := requestcontext.RequestID(ctx); reqID != "" {
		spec.Metadata.Tags = map[string]string{"request_id": reqID}
	}
	_, err := a.log.Log(ctx, spec)
	if err != nil {
		a.log.logger.ErrorContext(ctx, "CRITICAL: administrative action not recorded",
			"event", event,
			"operator", operator,
			"error", err,
		)
		return err
	}
	return nil
}

func operatorFrom(ctx context.Context) (string, error) {
	op := strings.TrimSpace(requestcontext.Operator(ctx))
	if op == "" {
		return "", dErrors.New(dErrors.CodeValidation, "operator identity is required")
	}
	return op, nil
}
