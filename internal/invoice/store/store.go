package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paywatch/internal/clock"
	"github.com/smallbiznis/paywatch/internal/invoice/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// maxErrorLength bounds last_error so ledger diagnostics cannot bloat rows.
const maxErrorLength = 1024

type Params struct {
	fx.In

	DB    *gorm.DB
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
}

// Store implements the settlement engine's durable state on top of the repository.
type Store struct {
	db    *gorm.DB
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) *Store {
	return &Store{
		db:    p.DB,
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Store) GetJob(ctx context.Context, jobID snowflake.ID) (*domain.MonitoringJob, error) {
	job, err := s.repo.FindJobByID(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	return invoice, nil
}

func (s *Store) ListPendingJobs(ctx context.Context) ([]*domain.MonitoringJob, error) {
	return s.repo.ListJobsByStatus(ctx, s.db, domain.JobStatusPending)
}

func (s *Store) LoadSecret(ctx context.Context, invoiceID snowflake.ID) ([]byte, error) {
	secret, err := s.repo.FindSecret(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if secret == nil || len(secret.SealedKey) == 0 {
		return nil, domain.ErrSecretUnavailable
	}
	return secret.SealedKey, nil
}

func (s *Store) CommitSettlement(ctx context.Context, commit domain.SettlementCommit) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		completed, err := s.repo.CompleteJob(ctx, tx, commit.JobID, commit.Signature, now)
		if err != nil {
			return err
		}
		if !completed {
			return domain.ErrAlreadySettled
		}

		paid, err := s.repo.MarkInvoicePaid(ctx, tx, commit.InvoiceID, now)
		if err != nil {
			return err
		}
		if !paid {
			return domain.ErrAlreadySettled
		}

		return s.repo.InsertSettlement(ctx, tx, &domain.Settlement{
			ID:              s.genID.Generate(),
			InvoiceID:       commit.InvoiceID,
			JobID:           commit.JobID,
			Signature:       commit.Signature,
			AmountLamports:  commit.AmountLamports,
			BalanceLamports: commit.BalanceLamports,
			Destination:     commit.Destination,
			CreatedAt:       now,
		})
	})
}

func (s *Store) RecordSweepSubmission(ctx context.Context, jobID snowflake.ID, sub domain.SweepSubmission) error {
	sub.Signature = strings.TrimSpace(sub.Signature)
	return s.repo.SetSweepSubmission(ctx, s.db, jobID, sub, s.clock.Now())
}

func (s *Store) ClearSweepSubmission(ctx context.Context, jobID snowflake.ID) error {
	return s.repo.SetSweepSubmission(ctx, s.db, jobID, domain.SweepSubmission{}, s.clock.Now())
}

func (s *Store) RecordSweepFailure(ctx context.Context, jobID snowflake.ID, cause error) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.IncrementJobAttempts(ctx, tx, jobID, errorText(cause), s.clock.Now()); err != nil {
			return err
		}
		job, err := s.repo.FindJobByID(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domain.ErrNotFound
		}
		attempts = job.Attempts
		return nil
	})
	return attempts, err
}

func (s *Store) MarkJobFailed(ctx context.Context, jobID snowflake.ID, cause error) error {
	failed, err := s.repo.FailJob(ctx, s.db, jobID, errorText(cause), s.clock.Now())
	if err != nil {
		return err
	}
	if !failed {
		return fmt.Errorf("mark job %s failed: %w", jobID, domain.ErrAlreadySettled)
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return msg
}

var _ domain.SettlementStore = (*Store)(nil)
