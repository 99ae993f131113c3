package signing

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler rotates the signing key once the current epoch reaches MaxAge.
type Scheduler struct {
	service  *Service
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler checks the key age every interval. A zero maxAge disables
// age-based rotation; on-demand rotation still works through the service.
func NewScheduler(service *Service, maxAge, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{service: service, maxAge: maxAge, interval: interval, logger: logger}
}

// RotateIfDue rotates when the current epoch is at least maxAge old.
func (s *Scheduler) RotateIfDue(ctx context.Context) (bool, error) {
	if s.maxAge <= 0 {
		return false, nil
	}
	age, err := s.service.KeyAge(ctx)
	if err != nil {
		return false, err
	}
	if age < s.maxAge {
		return false, nil
	}
	if _, err := s.service.Rotate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Run checks on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RotateIfDue(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduled key rotation failed", "error", err)
			}
		}
	}
}
