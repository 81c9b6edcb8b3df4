package notifier

import (
	"context"
	"errors"
)

const RoutingKeyInvoicePaid = "invoice.paid"

var (
	ErrDeliveryFailed = errors.New("delivery_failed")
	ErrPublishFailed  = errors.New("publish_failed")
)

// Event is the one-shot settlement outcome sent to observers.
type Event struct {
	InvoiceID     string  `json:"invoiceId"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	WalletAddress string  `json:"walletAddress"`
}

// Notifier delivers an event on a best-effort basis.
type Notifier interface {
	Notify(ctx context.Context, url string, event Event) error
}
