package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Invoice is the business record returned to callers. The custody secret
// lives in InvoiceSecret and never appears here.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	Amount         float64       `gorm:"not null" json:"amount"`
	AmountLamports int64         `gorm:"not null" json:"amountLamports"`
	WalletAddress  string        `gorm:"not null;uniqueIndex" json:"walletAddress"`
	Status         InvoiceStatus `gorm:"not null;index" json:"status"`
	WebhookURL     string        `gorm:"not null;default:''" json:"webhookUrl,omitempty"`
	PaidAt         *time.Time    `json:"paidAt,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time     `gorm:"not null" json:"updatedAt"`
}

func (Invoice) TableName() string { return "invoices" }

type InvoiceSecret struct {
	InvoiceID snowflake.ID `gorm:"primaryKey"`
	SealedKey []byte       `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (InvoiceSecret) TableName() string { return "invoice_secrets" }

// MonitoringJob is the scheduling handle for one invoice.
type MonitoringJob struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID      snowflake.ID `gorm:"not null;uniqueIndex" json:"invoiceId"`
	ProcessName    string       `gorm:"not null" json:"processName"`
	Status         JobStatus    `gorm:"not null;index" json:"status"`
	SweepSignature string       `gorm:"not null;default:''" json:"sweepSignature,omitempty"`
	SweepLamports  int64        `gorm:"not null;default:0" json:"sweepLamports,omitempty"`
	// SweepBalanceLamports is the balance observed when the sweep was built.
	SweepBalanceLamports int64      `gorm:"not null;default:0" json:"sweepBalanceLamports,omitempty"`
	Attempts             int        `gorm:"not null;default:0" json:"attempts"`
	LastError            string     `gorm:"not null;default:''" json:"lastError,omitempty"`
	LastErrorAt          *time.Time `json:"lastErrorAt,omitempty"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	CreatedAt            time.Time  `gorm:"not null" json:"createdAt"`
	UpdatedAt            time.Time  `gorm:"not null" json:"updatedAt"`
}

func (MonitoringJob) TableName() string { return "monitoring_jobs" }

// Settlement is the audit row written together with the paid transition.
type Settlement struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID       snowflake.ID `gorm:"not null;uniqueIndex" json:"invoiceId"`
	JobID           snowflake.ID `gorm:"not null" json:"jobId"`
	Signature       string       `gorm:"not null" json:"signature"`
	AmountLamports  int64        `gorm:"not null" json:"amountLamports"`
	BalanceLamports int64        `gorm:"not null" json:"balanceLamports"`
	Destination     string       `gorm:"not null" json:"destination"`
	CreatedAt       time.Time    `gorm:"not null" json:"createdAt"`
}

func (Settlement) TableName() string { return "settlements" }

// ProcessName is the stable job name used for de-duplication and logs.
func ProcessName(invoiceID snowflake.ID) string {
	return fmt.Sprintf("invoice_%s_monitoring", invoiceID.String())
}
