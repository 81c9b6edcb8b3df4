package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Ledger     LedgerConfig
	Settlement SettlementConfig
	Notifier   NotifierConfig

	CustodySecretKey string
	RedisAddr        string
	RedisPassword    string
}

type LedgerConfig struct {
	Driver      string
	RPCURL      string
	Commitment  string
	AdminWallet string
	RPS         float64
	Burst       int
}

type SettlementConfig struct {
	PollInterval     time.Duration
	ReserveLamports  int64
	MaxSweepAttempts int
	ConfirmTimeout   time.Duration
	TickTimeout      time.Duration
	LockTTL          time.Duration
}

type NotifierConfig struct {
	WebhookTimeout time.Duration
	AMQPURL        string
	AMQPExchange   string
}

const (
	LedgerDriverSolana = "solana"
	LedgerDriverMemory = "memory"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_SERVICE", "paywatch")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")

	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "postgres")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 50)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 300)
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", 60)

	v.SetDefault("LEDGER_DRIVER", LedgerDriverSolana)
	v.SetDefault("SOLANA_NETWORK", "https://api.devnet.solana.com")
	v.SetDefault("SOLANA_COMMITMENT", "confirmed")
	v.SetDefault("LEDGER_RPS", 10)
	v.SetDefault("LEDGER_BURST", 20)

	v.SetDefault("SETTLEMENT_POLL_INTERVAL", "5s")
	v.SetDefault("SETTLEMENT_RESERVE_LAMPORTS", 5000)
	v.SetDefault("SETTLEMENT_MAX_SWEEP_ATTEMPTS", 0)
	v.SetDefault("SETTLEMENT_CONFIRM_TIMEOUT", "60s")
	v.SetDefault("SETTLEMENT_TICK_TIMEOUT", "90s")
	v.SetDefault("SETTLEMENT_LOCK_TTL", "2m")

	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("AMQP_EXCHANGE", "paywatch.events")

	return Config{
		AppName:           v.GetString("APP_SERVICE"),
		AppVersion:        v.GetString("APP_VERSION"),
		Environment:       v.GetString("ENVIRONMENT"),
		HTTPAddr:          strings.TrimSpace(v.GetString("HTTP_ADDR")),
		NodeID:            v.GetInt64("NODE_ID"),
		OTLPEndpoint:      v.GetString("OTLP_ENDPOINT"),
		DBType:            strings.ToLower(v.GetString("DATABASE_TYPE")),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime: v.GetInt("DATABASE_CONN_MAX_IDLE_TIME"),
		Ledger: LedgerConfig{
			Driver:      strings.ToLower(strings.TrimSpace(v.GetString("LEDGER_DRIVER"))),
			RPCURL:      firstNonEmpty(v.GetString("SOLANA_RPC_URL"), v.GetString("SOLANA_NETWORK")),
			Commitment:  strings.ToLower(strings.TrimSpace(v.GetString("SOLANA_COMMITMENT"))),
			AdminWallet: strings.TrimSpace(v.GetString("ADMIN_WALLET")),
			RPS:         v.GetFloat64("LEDGER_RPS"),
			Burst:       v.GetInt("LEDGER_BURST"),
		},
		Settlement: SettlementConfig{
			PollInterval:     v.GetDuration("SETTLEMENT_POLL_INTERVAL"),
			ReserveLamports:  v.GetInt64("SETTLEMENT_RESERVE_LAMPORTS"),
			MaxSweepAttempts: v.GetInt("SETTLEMENT_MAX_SWEEP_ATTEMPTS"),
			ConfirmTimeout:   v.GetDuration("SETTLEMENT_CONFIRM_TIMEOUT"),
			TickTimeout:      v.GetDuration("SETTLEMENT_TICK_TIMEOUT"),
			LockTTL:          v.GetDuration("SETTLEMENT_LOCK_TTL"),
		},
		Notifier: NotifierConfig{
			WebhookTimeout: v.GetDuration("WEBHOOK_TIMEOUT"),
			AMQPURL:        strings.TrimSpace(v.GetString("AMQP_URL")),
			AMQPExchange:   strings.TrimSpace(v.GetString("AMQP_EXCHANGE")),
		},
		CustodySecretKey: strings.TrimSpace(v.GetString("CUSTODY_SECRET_KEY")),
		RedisAddr:        strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
