package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/paywatch/pkg/db/pagination"
)

type CreateInvoiceRequest struct {
	Amount     float64 `json:"amount"`
	WebhookURL string  `json:"webhookUrl"`
}

type ListInvoiceRequest struct {
	PageToken string
	PageSize  int
	Status    string
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type GetInvoiceRequest struct {
	ID string
}

type Service interface {
	Create(context.Context, CreateInvoiceRequest) (Invoice, error)
	List(context.Context, ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(context.Context, GetInvoiceRequest) (Invoice, error)
	// GetSettlement returns the sweep record of a paid invoice.
	GetSettlement(context.Context, GetInvoiceRequest) (Settlement, error)
}

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidWebhookURL = errors.New("invalid_webhook_url")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidID         = errors.New("invalid_id")
	ErrNotFound          = errors.New("not_found")
	ErrAlreadySettled    = errors.New("already_settled")
	ErrSecretUnavailable = errors.New("secret_unavailable")
)
