// Package handler exposes the audit log over HTTP: event submission, the
// query surface, inclusion proofs and the administrative surface.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"auditchain/internal/audit/distribution"
	"auditchain/internal/audit/merkle"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/service"
	"auditchain/internal/audit/verifier"
	dErrors "auditchain/pkg/domain-errors"
	"auditchain/pkg/platform/httputil"
	"auditchain/pkg/platform/middleware/admin"
	"auditchain/pkg/platform/middleware/metadata"
	request "auditchain/pkg/platform/middleware/request"
)

// AuditLog is the logging and query surface.
type AuditLog interface {
	Log(ctx context.Context, spec models.EventSpec) (*service.Receipt, error)
	Query(ctx context.Context, filter models.Filter) (*service.QueryResult, error)
}

// Admin is the administrative surface.
type Admin interface {
	RotateKeys(ctx context.Context) (*models.SigningKeyEpoch, error)
	SetRetentionPolicy(ctx context.Context, category models.Category, days int, legalHold bool) (*models.RetentionPolicy, error)
	TriggerVerification(ctx context.Context, start, end uint64) (*verifier.Report, error)
	ConfirmDeletion(ctx context.Context, requestID string) (*models.DeletionRequest, error)
	DeletionRequests(ctx context.Context, state models.DeletionState) ([]models.DeletionRequest, error)
	ProveInclusion(ctx context.Context, seq uint64) (*merkle.InclusionProof, error)
}

// SinkStats reports distribution counters.
type SinkStats interface {
	AllStats() []distribution.Stats
}

// Handler serves the audit HTTP API.
type Handler struct {
	log        AuditLog
	admin      Admin
	sinks      SinkStats
	adminToken string
	operators  admin.OperatorKeys
	timeout    time.Duration
	logger     *slog.Logger
}

type Option func(*Handler)

func WithSinkStats(s SinkStats) Option {
	return func(h *Handler) {
		h.sinks = s
	}
}

// WithOperatorKeys sets the per-operator keys admin bearer tokens are
// verified against. Without keys every admin call is rejected.
func WithOperatorKeys(keys admin.OperatorKeys) Option {
	return func(h *Handler) {
		h.operators = keys
	}
}

func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func New(log AuditLog, adm Admin, adminToken string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		log:        log,
		admin:      adm,
		adminToken: adminToken,
		timeout:    30 * time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.Recovery(h.logger))
		r.Use(request.RequestID)
		r.Use(request.Logger(h.logger))
		r.Use(metadata.ClientMetadata)
		r.Use(timeout(h.timeout))

		r.Get("/healthz", h.handleHealth)
		r.Post("/v1/events", h.handleLog)
		r.Get("/v1/entries", h.handleQuery)
		r.Get("/v1/entries/{sequence}/proof", h.handleProof)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
			r.Use(admin.RequireOperator(h.operators, h.logger))
			r.Post("/keys/rotate", h.handleRotateKeys)
			r.Put("/retention/{category}", h.handleSetRetention)
			r.Post("/verify", h.handleVerify)
			r.Get("/deletions", h.handleListDeletions)
			r.Post("/deletions/{id}/confirm", h.handleConfirmDeletion)
			r.Get("/sinks", h.handleSinkStats)
		})
	})
}

func timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// =============================================================================
// Logging and query
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	spec, ok := httputil.DecodeAndPrepare[models.EventSpec](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if spec.Actor.IP == "" {
		spec.Actor.IP = metadata.GetClientIP(ctx)
	}
	if spec.Context.CorrelationID == "" {
		spec.Context.CorrelationID = requestID
	}

	receipt, err := h.log.Log(ctx, *spec)
	if err != nil {
		h.logFailure(ctx, "failed to log event", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.log.Query(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "failed to query entries", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	seq, err := strconv.ParseUint(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "sequence must be a positive integer"))
		return
	}
	proof, err := h.admin.ProveInclusion(ctx, seq)
	if err != nil {
		h.logFailure(ctx, "failed to build inclusion proof", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, proof)
}

// =============================================================================
// Administrative surface
// =============================================================================

func (h *Handler) handleRotateKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	epoch, err := h.admin.RotateKeys(ctx)
	if err != nil {
		h.logFailure(ctx, "failed to rotate signing keys", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, epoch)
}

func (h *Handler) handleSetRetention(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[retentionRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	category := models.Category(strings.TrimSpace(chi.URLParam(r, "category")))
	policy, err := h.admin.SetRetentionPolicy(ctx, category, req.RetentionDays, req.LegalHold)
	if err != nil {
		h.logFailure(ctx, "failed to set retention policy", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[verifyRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	report, err := h.admin.TriggerVerification(ctx, req.Start, req.End)
	if err != nil {
		h.logFailure(ctx, "verification failed to run", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleListDeletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := models.DeletionState(r.URL.Query().Get("state"))
	switch state {
	case "", models.DeletionPending, models.DeletionExecuted, models.DeletionCancelled:
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown deletion state"))
		return
	}
	reqs, err := h.admin.DeletionRequests(ctx, state)
	if err != nil {
		h.logFailure(ctx, "failed to list deletion requests", err)
		httputil.WriteError(w, err)
		return
	}
	if reqs == nil {
		reqs = []models.DeletionRequest{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (h *Handler) handleConfirmDeletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.admin.ConfirmDeletion(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(ctx, "failed to confirm deletion", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleSinkStats(w http.ResponseWriter, _ *http.Request) {
	stats := []distribution.Stats{}
	if h.sinks != nil {
		stats = h.sinks.AllStats()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sinks": stats})
}

// logFailure logs caller errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	attrs := []any{"request_id", request.GetRequestID(ctx), "error", err}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeBadRequest, dErrors.CodeInvalidInput,
		dErrors.CodeNotFound, dErrors.CodeConflict:
		h.logger.WarnContext(ctx, msg, attrs...)
	default:
		h.logger.ErrorContext(ctx, msg, attrs...)
	}
}
