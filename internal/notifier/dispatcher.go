package notifier

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/paywatch/internal/observability/metrics"
	"go.uber.org/zap"
)

// Dispatcher fans a settlement event out to the caller's webhook and the
// broker. Both deliveries are attempted once; failures are reported, never retried.
type Dispatcher struct {
	webhook   Notifier
	publisher Publisher
	log       *zap.Logger
	metrics   *obsmetrics.Metrics
}

func NewDispatcher(webhook Notifier, publisher Publisher, log *zap.Logger, m *obsmetrics.Metrics) *Dispatcher {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		webhook:   webhook,
		publisher: publisher,
		log:       log.Named("notifier"),
		metrics:   m,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, url string, event Event) error {
	var errs []error

	if url != "" && d.webhook != nil {
		if err := d.webhook.Notify(ctx, url, event); err != nil {
			d.metrics.RecordNotification(ctx, "webhook", "failed")
			d.log.Warn("notifier.webhook.failed",
				zap.String("invoice_id", event.InvoiceID),
				zap.Error(err),
			)
			errs = append(errs, err)
		} else {
			d.metrics.RecordNotification(ctx, "webhook", "delivered")
		}
	}

	if err := d.publisher.Publish(ctx, RoutingKeyInvoicePaid, event); err != nil {
		d.metrics.RecordNotification(ctx, "amqp", "failed")
		d.log.Warn("notifier.amqp.failed",
			zap.String("invoice_id", event.InvoiceID),
			zap.Error(err),
		)
		errs = append(errs, err)
	} else {
		d.metrics.RecordNotification(ctx, "amqp", "delivered")
	}

	return errors.Join(errs...)
}

var _ Notifier = (*Dispatcher)(nil)
