package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paywatch/internal/observability/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes the RPC adapter.
type Config struct {
	RPCURL              string
	Commitment          string
	RPS                 float64
	Burst               int
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
	BreakerFailures     uint32
	BreakerOpenTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPCURL:              rpc.DevNet_RPC,
		Commitment:          string(rpc.CommitmentConfirmed),
		RPS:                 10,
		Burst:               20,
		ConfirmTimeout:      60 * time.Second,
		ConfirmPollInterval: time.Second,
		BreakerFailures:     5,
		BreakerOpenTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.RPCURL) == "" {
		c.RPCURL = def.RPCURL
	}
	if strings.TrimSpace(c.Commitment) == "" {
		c.Commitment = def.Commitment
	}
	if c.RPS <= 0 {
		c.RPS = def.RPS
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = def.ConfirmTimeout
	}
	if c.ConfirmPollInterval <= 0 {
		c.ConfirmPollInterval = def.ConfirmPollInterval
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = def.BreakerFailures
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	return c
}

// Client talks to a Solana JSON-RPC node.
type Client struct {
	cfg        Config
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger
	metrics    *obsmetrics.Metrics
}

func New(cfg Config, log *zap.Logger, m *obsmetrics.Metrics) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ledger.solana")

	c := &Client{
		cfg:        cfg,
		rpc:        rpc.New(cfg.RPCURL),
		commitment: rpc.CommitmentType(strings.ToLower(cfg.Commitment)),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:        log,
		metrics:    m,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "solana-rpc",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("ledger.breaker.state_changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isTransportHealthy,
	})
	return c
}

// isTransportHealthy treats answers from the node as success even when they
// reject the request, so only transport failures trip the breaker.
func isTransportHealthy(err error) bool {
	if err == nil || errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr)
}

func (c *Client) NewAccount(ctx context.Context) (ledgerdomain.Account, error) {
	wallet := solana.NewWallet()
	c.metrics.RecordLedgerCall(ctx, "new_account", "ok")
	return ledgerdomain.Account{
		Address: wallet.PublicKey().String(),
		Secret:  []byte(wallet.PrivateKey),
	}, nil
}

func (c *Client) GetAccountInfo(ctx context.Context, address string) (ledgerdomain.AccountInfo, error) {
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return ledgerdomain.AccountInfo{}, fmt.Errorf("%w: %s", ledgerdomain.ErrInvalidAddress, address)
	}

	res, err := c.call(ctx, "get_account_info", func() (interface{}, error) {
		return c.rpc.GetAccountInfoWithOpts(ctx, pk, &rpc.GetAccountInfoOpts{Commitment: c.commitment})
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return ledgerdomain.AccountInfo{Address: address}, nil
	}
	if err != nil {
		return ledgerdomain.AccountInfo{}, unavailable("get account info", err)
	}

	out, _ := res.(*rpc.GetAccountInfoResult)
	if out == nil || out.Value == nil {
		return ledgerdomain.AccountInfo{Address: address}, nil
	}
	return ledgerdomain.AccountInfo{
		Address:  address,
		Lamports: int64(out.Value.Lamports),
		Exists:   true,
	}, nil
}

func (c *Client) Transfer(ctx context.Context, req ledgerdomain.TransferRequest) (ledgerdomain.Receipt, error) {
	if req.Lamports <= 0 {
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAmount
	}
	if len(req.Secret) != 64 {
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidSecret
	}
	signer := solana.PrivateKey(req.Secret)
	from := signer.PublicKey()
	if req.From != "" && req.From != from.String() {
		return ledgerdomain.Receipt{}, fmt.Errorf("%w: secret does not match %s", ledgerdomain.ErrInvalidSecret, req.From)
	}
	to, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.To))
	if err != nil {
		return ledgerdomain.Receipt{}, fmt.Errorf("%w: %s", ledgerdomain.ErrInvalidAddress, req.To)
	}

	res, err := c.call(ctx, "get_latest_blockhash", func() (interface{}, error) {
		return c.rpc.GetLatestBlockhash(ctx, c.commitment)
	})
	if err != nil {
		return ledgerdomain.Receipt{}, unavailable("get latest blockhash", err)
	}
	recent := res.(*rpc.GetLatestBlockhashResult)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(uint64(req.Lamports), from, to).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return ledgerdomain.Receipt{}, fmt.Errorf("build transfer: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from) {
			return &signer
		}
		return nil
	}); err != nil {
		return ledgerdomain.Receipt{}, fmt.Errorf("sign transfer: %w", err)
	}

	receipt := ledgerdomain.Receipt{Signature: tx.Signatures[0].String(), Lamports: req.Lamports}
	if req.OnSubmitted != nil {
		req.OnSubmitted(receipt.Signature)
	}

	_, err = c.call(ctx, "send_transaction", func() (interface{}, error) {
		return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: c.commitment,
		})
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			subErr := &ledgerdomain.SubmissionError{
				Signature: receipt.Signature,
				Reason:    rpcErr.Message,
				Logs:      extractLogs(rpcErr.Data),
			}
			c.log.Warn("ledger.transfer.rejected",
				zap.String("from", from.String()),
				zap.Int64("lamports", req.Lamports),
				zap.Strings("logs", subErr.Logs),
			)
			return receipt, subErr
		}
		// The node may have broadcast the transaction before the reply was lost.
		return receipt, unavailable("send transaction", err)
	}

	if err := c.awaitConfirmation(ctx, receipt.Signature); err != nil {
		return receipt, err
	}
	return receipt, nil
}

func (c *Client) awaitConfirmation(ctx context.Context, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		state, err := c.SignatureStatus(ctx, signature)
		if err == nil {
			switch state {
			case ledgerdomain.SignatureConfirmed:
				return nil
			case ledgerdomain.SignatureFailed:
				return &ledgerdomain.SubmissionError{Signature: signature, Reason: "transaction failed on chain"}
			}
		} else {
			c.log.Debug("ledger.confirmation.poll_failed", zap.String("signature", signature), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ledgerdomain.ErrConfirmationTimeout, signature)
		case <-ticker.C:
		}
	}
}

func (c *Client) SignatureStatus(ctx context.Context, signature string) (ledgerdomain.SignatureState, error) {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(signature))
	if err != nil {
		return ledgerdomain.SignatureUnknown, fmt.Errorf("parse signature: %w", err)
	}

	res, err := c.call(ctx, "get_signature_statuses", func() (interface{}, error) {
		return c.rpc.GetSignatureStatuses(ctx, true, sig)
	})
	if err != nil {
		return ledgerdomain.SignatureUnknown, unavailable("get signature status", err)
	}
	out := res.(*rpc.GetSignatureStatusesResult)
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return ledgerdomain.SignatureUnknown, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return ledgerdomain.SignatureFailed, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return ledgerdomain.SignatureConfirmed, nil
	case rpc.ConfirmationStatusConfirmed:
		if c.commitment == rpc.CommitmentFinalized {
			return ledgerdomain.SignaturePending, nil
		}
		return ledgerdomain.SignatureConfirmed, nil
	default:
		return ledgerdomain.SignaturePending, nil
	}
}

// call rate-limits and routes an RPC through the circuit breaker.
func (c *Client) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.RecordLedgerCall(ctx, op, "throttled")
		return nil, err
	}
	res, err := c.breaker.Execute(fn)
	switch {
	case err == nil:
		c.metrics.RecordLedgerCall(ctx, op, "ok")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.RecordLedgerCall(ctx, op, "breaker_open")
	default:
		c.metrics.RecordLedgerCall(ctx, op, "error")
	}
	return res, err
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ledgerdomain.ErrLedgerUnavailable, op, err)
}

// extractLogs pulls preflight simulation logs out of an RPC error payload.
func extractLogs(data interface{}) []string {
	payload, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := payload["logs"].([]interface{})
	if !ok {
		return nil
	}
	logs := make([]string, 0, len(raw))
	for _, entry := range raw {
		if line, ok := entry.(string); ok {
			logs = append(logs, line)
		}
	}
	return logs
}

var _ ledgerdomain.Client = (*Client)(nil)
