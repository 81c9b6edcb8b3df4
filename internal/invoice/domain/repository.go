package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListInvoiceFilter struct {
	Status   InvoiceStatus
	BeforeID snowflake.ID
	Limit    int
}

type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindInvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	ListInvoices(ctx context.Context, db *gorm.DB, filter ListInvoiceFilter) ([]*Invoice, error)
	MarkInvoicePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	InsertSecret(ctx context.Context, db *gorm.DB, secret *InvoiceSecret) error
	FindSecret(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*InvoiceSecret, error)

	InsertJob(ctx context.Context, db *gorm.DB, job *MonitoringJob) error
	FindJobByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MonitoringJob, error)
	ListJobsByStatus(ctx context.Context, db *gorm.DB, status JobStatus) ([]*MonitoringJob, error)
	CompleteJob(ctx context.Context, db *gorm.DB, id snowflake.ID, signature string, at time.Time) (bool, error)
	SetSweepSubmission(ctx context.Context, db *gorm.DB, id snowflake.ID, sub SweepSubmission, at time.Time) error
	IncrementJobAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, at time.Time) error
	FailJob(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error)

	InsertSettlement(ctx context.Context, db *gorm.DB, settlement *Settlement) error
	FindSettlementByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*Settlement, error)
}
