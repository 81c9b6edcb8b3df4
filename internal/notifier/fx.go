package notifier

import (
	"context"

	"github.com/smallbiznis/paywatch/internal/config"
	obsmetrics "github.com/smallbiznis/paywatch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notifier",
	fx.Provide(NewPublisher),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Publisher Publisher
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// New wires the webhook notifier and broker publisher into one Notifier.
func New(p Params) Notifier {
	webhook := NewWebhookNotifier(nil, p.Config.Notifier.WebhookTimeout, p.Log)
	return NewDispatcher(webhook, p.Publisher, p.Log, p.Metrics)
}

// NewPublisher connects to the broker when AMQP_URL is set and falls back to
// a no-op publisher when the broker is unreachable at start-up.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	if cfg.Notifier.AMQPURL == "" {
		return NoopPublisher{}
	}

	pub, err := NewAMQPPublisher(cfg.Notifier.AMQPURL, cfg.Notifier.AMQPExchange, log)
	if err != nil {
		log.Warn("notifier.amqp.unavailable", zap.Error(err))
		return NoopPublisher{}
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	log.Info("notifier.amqp.connected", zap.String("exchange", cfg.Notifier.AMQPExchange))
	return pub
}
