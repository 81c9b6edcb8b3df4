package settlement

import (
	"context"

	invoicedomain "github.com/smallbiznis/paywatch/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("settlement",
	fx.Provide(ProvideConfig),
	fx.Provide(NewRedisClient),
	fx.Provide(NewSweepLock),
	fx.Provide(NewEngine),
	fx.Provide(NewScheduler),
	fx.Provide(func(s *Scheduler) invoicedomain.JobScheduler { return s }),
	fx.Invoke(RunScheduler),
)

func RunScheduler(lc fx.Lifecycle, sched *Scheduler, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sched.Recover(ctx); err != nil {
				log.Warn("settlement.recovery.partial", zap.Error(err))
			}
			sched.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
}
