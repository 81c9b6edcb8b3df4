package ledger

import (
	"fmt"

	"github.com/smallbiznis/paywatch/internal/config"
	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
	"github.com/smallbiznis/paywatch/internal/ledger/memory"
	"github.com/smallbiznis/paywatch/internal/ledger/solana"
	obsmetrics "github.com/smallbiznis/paywatch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ledger",
	fx.Provide(NewClient),
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// NewClient selects the ledger driver from configuration.
func NewClient(p Params) (ledgerdomain.Client, error) {
	switch p.Config.Ledger.Driver {
	case config.LedgerDriverSolana, "":
		return solana.New(solana.Config{
			RPCURL:         p.Config.Ledger.RPCURL,
			Commitment:     p.Config.Ledger.Commitment,
			RPS:            p.Config.Ledger.RPS,
			Burst:          p.Config.Ledger.Burst,
			ConfirmTimeout: p.Config.Settlement.ConfirmTimeout,
		}, p.Log, p.Metrics), nil
	case config.LedgerDriverMemory:
		p.Log.Warn("ledger.memory.enabled", zap.String("reason", "LEDGER_DRIVER=memory"))
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", p.Config.Ledger.Driver)
	}
}
