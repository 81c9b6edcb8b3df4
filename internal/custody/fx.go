package custody

import (
	"github.com/smallbiznis/paywatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("custody",
	fx.Provide(ProvideSealer),
)

// ProvideSealer refuses to start a production process without a sealing key.
func ProvideSealer(cfg config.Config, log *zap.Logger) (*Sealer, error) {
	if cfg.CustodySecretKey == "" {
		if cfg.IsProduction() {
			return nil, ErrEncryptionKeyMissing
		}
		log.Named("custody").Warn("custody.key.missing", zap.String("env", cfg.Environment))
	}
	return NewSealer(cfg)
}
