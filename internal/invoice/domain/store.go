package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// SettlementCommit carries the terminal transition of one invoice.
type SettlementCommit struct {
	JobID           snowflake.ID
	InvoiceID       snowflake.ID
	Signature       string
	AmountLamports  int64
	BalanceLamports int64
	Destination     string
}

// SweepSubmission is a sweep handed to the ledger but not yet committed.
type SweepSubmission struct {
	Signature       string
	AmountLamports  int64
	BalanceLamports int64
}

// SettlementStore is the durable state the settlement engine reads and writes.
type SettlementStore interface {
	GetJob(ctx context.Context, jobID snowflake.ID) (*MonitoringJob, error)
	GetInvoice(ctx context.Context, invoiceID snowflake.ID) (*Invoice, error)
	ListPendingJobs(ctx context.Context) ([]*MonitoringJob, error)
	LoadSecret(ctx context.Context, invoiceID snowflake.ID) ([]byte, error)

	// CommitSettlement marks the job completed and the invoice paid in one
	// transaction. It returns ErrAlreadySettled when the job left pending.
	CommitSettlement(ctx context.Context, commit SettlementCommit) error
	RecordSweepSubmission(ctx context.Context, jobID snowflake.ID, sub SweepSubmission) error
	ClearSweepSubmission(ctx context.Context, jobID snowflake.ID) error
	// RecordSweepFailure stores the error and returns the new attempt count.
	RecordSweepFailure(ctx context.Context, jobID snowflake.ID, cause error) (int, error)
	MarkJobFailed(ctx context.Context, jobID snowflake.ID, cause error) error
}

// JobScheduler starts background monitoring for a newly created invoice.
type JobScheduler interface {
	ScheduleInvoice(ctx context.Context, job MonitoringJob, invoice Invoice) error
}
