package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paywatch/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const invoiceColumns = `id, amount, amount_lamports, wallet_address, status, webhook_url, paid_at, created_at, updated_at`

const jobColumns = `id, invoice_id, process_name, status, sweep_signature, sweep_lamports, sweep_balance_lamports, attempts, last_error, last_error_at, completed_at, created_at, updated_at`

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.Amount,
		invoice.AmountLamports,
		invoice.WalletAddress,
		invoice.Status,
		invoice.WebhookURL,
		invoice.PaidAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) FindInvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListInvoices(ctx context.Context, db *gorm.DB, filter domain.ListInvoiceFilter) ([]*domain.Invoice, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.BeforeID != 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, filter.BeforeID)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var invoices []*domain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) MarkInvoicePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.InvoiceStatusPaid,
		at,
		at,
		id,
		domain.InvoiceStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertSecret(ctx context.Context, db *gorm.DB, secret *domain.InvoiceSecret) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_secrets (invoice_id, sealed_key, created_at) VALUES (?, ?, ?)`,
		secret.InvoiceID,
		secret.SealedKey,
		secret.CreatedAt,
	).Error
}

func (r *repo) FindSecret(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*domain.InvoiceSecret, error) {
	var secret domain.InvoiceSecret
	err := db.WithContext(ctx).Raw(
		`SELECT invoice_id, sealed_key, created_at FROM invoice_secrets WHERE invoice_id = ?`,
		invoiceID,
	).Scan(&secret).Error
	if err != nil {
		return nil, err
	}
	if secret.InvoiceID == 0 {
		return nil, nil
	}
	return &secret, nil
}

func (r *repo) InsertJob(ctx context.Context, db *gorm.DB, job *domain.MonitoringJob) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO monitoring_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.InvoiceID,
		job.ProcessName,
		job.Status,
		job.SweepSignature,
		job.SweepLamports,
		job.SweepBalanceLamports,
		job.Attempts,
		job.LastError,
		job.LastErrorAt,
		job.CompletedAt,
		job.CreatedAt,
		job.UpdatedAt,
	).Error
}

func (r *repo) FindJobByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MonitoringJob, error) {
	var job domain.MonitoringJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM monitoring_jobs WHERE id = ?`,
		id,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) ListJobsByStatus(ctx context.Context, db *gorm.DB, status domain.JobStatus) ([]*domain.MonitoringJob, error) {
	var jobs []*domain.MonitoringJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM monitoring_jobs WHERE status = ? ORDER BY id ASC`,
		status,
	).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) CompleteJob(ctx context.Context, db *gorm.DB, id snowflake.ID, signature string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE monitoring_jobs
		 SET status = ?, sweep_signature = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.JobStatusCompleted,
		signature,
		at,
		at,
		id,
		domain.JobStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) SetSweepSubmission(ctx context.Context, db *gorm.DB, id snowflake.ID, sub domain.SweepSubmission, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE monitoring_jobs
		 SET sweep_signature = ?, sweep_lamports = ?, sweep_balance_lamports = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		sub.Signature,
		sub.AmountLamports,
		sub.BalanceLamports,
		at,
		id,
		domain.JobStatusPending,
	).Error
}

func (r *repo) IncrementJobAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE monitoring_jobs
		 SET attempts = attempts + 1, last_error = ?, last_error_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		lastError,
		at,
		at,
		id,
		domain.JobStatusPending,
	).Error
}

func (r *repo) FailJob(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE monitoring_jobs
		 SET status = ?, last_error = ?, last_error_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.JobStatusFailed,
		reason,
		at,
		at,
		id,
		domain.JobStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertSettlement(ctx context.Context, db *gorm.DB, settlement *domain.Settlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO settlements (id, invoice_id, job_id, signature, amount_lamports, balance_lamports, destination, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		settlement.ID,
		settlement.InvoiceID,
		settlement.JobID,
		settlement.Signature,
		settlement.AmountLamports,
		settlement.BalanceLamports,
		settlement.Destination,
		settlement.CreatedAt,
	).Error
}

func (r *repo) FindSettlementByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*domain.Settlement, error) {
	var settlement domain.Settlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, job_id, signature, amount_lamports, balance_lamports, destination, created_at
		 FROM settlements WHERE invoice_id = ?`,
		invoiceID,
	).Scan(&settlement).Error
	if err != nil {
		return nil, err
	}
	if settlement.ID == 0 {
		return nil, nil
	}
	return &settlement, nil
}
