package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Recover schedules every pending job again so monitoring survives restarts.
func (s *Scheduler) Recover(ctx context.Context) error {
	jobs, err := s.engine.store.ListPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}

	var (
		errs      []error
		scheduled int
	)
	for _, job := range jobs {
		if job == nil {
			continue
		}
		invoice, err := s.engine.store.GetInvoice(ctx, job.InvoiceID)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		if err := s.Schedule(ctx, TargetFrom(*job, *invoice)); err != nil {
			if errors.Is(err, ErrDuplicateJob) {
				s.log.Debug("settlement.recovery.already_scheduled", zap.String("job_id", job.ID.String()))
				continue
			}
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		scheduled++
	}

	s.log.Info("settlement.recovery.completed",
		zap.Int("pending_count", len(jobs)),
		zap.Int("scheduled_count", scheduled),
		zap.Int("error_count", len(errs)),
	)
	return errors.Join(errs...)
}
