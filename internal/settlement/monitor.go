package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paywatch/internal/clock"
	"github.com/smallbiznis/paywatch/internal/custody"
	invoicedomain "github.com/smallbiznis/paywatch/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
	"github.com/smallbiznis/paywatch/internal/notifier"
	obslogger "github.com/smallbiznis/paywatch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paywatch/internal/observability/metrics"
	"github.com/smallbiznis/paywatch/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type State string

const (
	StateWatching State = "watching"
	StateSettling State = "settling"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

const eventStatusPaid = "paid"

type EngineParams struct {
	fx.In

	Config   Config
	Store    invoicedomain.SettlementStore
	Ledger   ledgerdomain.Client
	Sealer   *custody.Sealer
	Notifier notifier.Notifier
	Lock     SweepLock
	Log      *zap.Logger
	Clock    clock.Clock
}

// Engine holds the collaborators shared by every invoice monitor.
type Engine struct {
	cfg      Config
	store    invoicedomain.SettlementStore
	ledger   ledgerdomain.Client
	watcher  *Watcher
	executor *Executor
	sealer   *custody.Sealer
	notifier notifier.Notifier
	lock     SweepLock
	log      *zap.Logger
	clock    clock.Clock
	metrics  *obsmetrics.SettlementMetrics
}

func NewEngine(p EngineParams) *Engine {
	cfg := p.Config.withDefaults()
	lock := p.Lock
	if lock == nil {
		lock = localLock{}
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Engine{
		cfg:      cfg,
		store:    p.Store,
		ledger:   p.Ledger,
		watcher:  NewWatcher(p.Ledger),
		executor: NewExecutor(p.Ledger, cfg.ReserveLamports),
		sealer:   p.Sealer,
		notifier: p.Notifier,
		lock:     lock,
		log:      p.Log.Named("settlement.monitor"),
		clock:    clk,
		metrics:  obsmetrics.Settlement(),
	}
}

// Monitor drives one invoice from Watching to Done or Failed.
type Monitor struct {
	engine   *Engine
	target   Target
	onFinish func(jobID snowflake.ID)

	tickMu  sync.Mutex
	stateMu sync.RWMutex
	state   State
}

// NewMonitor builds the state machine for target. onFinish runs once the
// monitor reaches a terminal state.
func (e *Engine) NewMonitor(target Target, onFinish func(jobID snowflake.ID)) *Monitor {
	return &Monitor{
		engine:   e,
		target:   target,
		onFinish: onFinish,
		state:    StateWatching,
	}
}

func (m *Monitor) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Monitor) setState(state State) {
	m.stateMu.Lock()
	m.state = state
	m.stateMu.Unlock()
}

func (m *Monitor) Target() Target {
	return m.target
}

// Tick evaluates the invoice once. Overlapping calls return ErrTickInProgress
// without touching the ledger or the store.
func (m *Monitor) Tick(ctx context.Context) (State, error) {
	if !m.tickMu.TryLock() {
		m.engine.metrics.IncTick(obsmetrics.TickOutcomeSkipped)
		m.logger(ctx).Debug("settlement.tick.skipped")
		return m.State(), ErrTickInProgress
	}
	defer m.tickMu.Unlock()

	if state := m.State(); state == StateDone || state == StateFailed {
		m.engine.metrics.IncTick(obsmetrics.TickOutcomeInactive)
		return state, nil
	}

	ctx, span := tracing.StartSpan(ctx, "settlement.tick",
		attribute.String("invoice_id", m.target.InvoiceID.String()),
		attribute.String("job_id", m.target.JobID.String()),
	)
	defer span.End()

	if m.engine.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.engine.cfg.TickTimeout)
		defer cancel()
	}

	startedAt := m.engine.clock.Now()
	outcome, err := m.tick(ctx)
	m.engine.metrics.ObserveTickDuration(m.engine.clock.Now().Sub(startedAt))
	m.engine.metrics.IncTick(outcome)

	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return m.State(), err
}

func (m *Monitor) tick(ctx context.Context) (string, error) {
	job, err := m.engine.store.GetJob(ctx, m.target.JobID)
	if err != nil {
		if errors.Is(err, invoicedomain.ErrNotFound) {
			m.logger(ctx).Error("settlement.job.missing", zap.Error(err))
			m.finish(StateFailed)
			return obsmetrics.TickOutcomeInactive, err
		}
		m.logger(ctx).Warn("settlement.job.read_failed", zap.Error(err))
		return obsmetrics.TickOutcomeError, err
	}
	if outcome, final := m.observeFinal(job); final {
		return outcome, nil
	}

	if job.SweepSignature != "" {
		outcome, handled, err := m.resume(ctx, job)
		if handled {
			return outcome, err
		}
	}

	balance, err := m.engine.watcher.PollOnce(ctx, m.target.Address)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInvalidAddress) {
			return m.fail(ctx, err)
		}
		m.logger(ctx).Warn("settlement.poll.failed", zap.Error(err))
		return obsmetrics.TickOutcomeError, err
	}
	if balance.Exists {
		m.logger(ctx).Info("settlement.balance.observed",
			zap.Int64("balance_lamports", balance.Lamports),
			zap.Float64("balance_sol", ledgerdomain.SOLFromLamports(balance.Lamports)),
			zap.Int64("threshold_lamports", m.target.ThresholdLamports),
		)
	}
	if balance.Lamports < m.target.ThresholdLamports {
		return obsmetrics.TickOutcomeBelowThreshold, nil
	}
	return m.settle(ctx, balance)
}

// observeFinal stops the monitor when the durable job already left pending.
func (m *Monitor) observeFinal(job *invoicedomain.MonitoringJob) (string, bool) {
	switch job.Status {
	case invoicedomain.JobStatusCompleted:
		m.finish(StateDone)
		return obsmetrics.TickOutcomeInactive, true
	case invoicedomain.JobStatusFailed:
		m.finish(StateFailed)
		return obsmetrics.TickOutcomeInactive, true
	}
	return "", false
}

// resume resolves a sweep submitted by an earlier tick that never committed.
func (m *Monitor) resume(ctx context.Context, job *invoicedomain.MonitoringJob) (string, bool, error) {
	log := m.logger(ctx).With(zap.String("signature", job.SweepSignature))

	state, err := m.engine.ledger.SignatureStatus(ctx, job.SweepSignature)
	if err != nil {
		log.Warn("settlement.sweep.resume_failed", zap.Error(err))
		return obsmetrics.TickOutcomeError, true, err
	}

	switch state {
	case ledgerdomain.SignatureConfirmed:
		log.Info("settlement.sweep.resumed", zap.Int64("amount_lamports", job.SweepLamports))
		outcome, err := m.commit(ctx, job.SweepSignature, job.SweepLamports, job.SweepBalanceLamports)
		return outcome, true, err
	case ledgerdomain.SignaturePending:
		log.Info("settlement.sweep.awaiting_confirmation")
		m.engine.metrics.IncSweep(obsmetrics.SweepResultUnconfirmed)
		return obsmetrics.TickOutcomeSkipped, true, nil
	case ledgerdomain.SignatureFailed:
		log.Warn("settlement.sweep.discarded")
		if err := m.engine.store.ClearSweepSubmission(ctx, m.target.JobID); err != nil {
			log.Error("settlement.sweep.clear_failed", zap.Error(err))
			return obsmetrics.TickOutcomeError, true, err
		}
		return "", false, nil
	default:
		// Unknown signatures are given time to land before the sweep is retried.
		if m.engine.clock.Now().Sub(job.UpdatedAt) < m.engine.cfg.SignatureTTL {
			log.Info("settlement.sweep.awaiting_confirmation", zap.String("signature_state", string(state)))
			return obsmetrics.TickOutcomeSkipped, true, nil
		}
		log.Warn("settlement.sweep.expired")
		if err := m.engine.store.ClearSweepSubmission(ctx, m.target.JobID); err != nil {
			log.Error("settlement.sweep.clear_failed", zap.Error(err))
			return obsmetrics.TickOutcomeError, true, err
		}
		return "", false, nil
	}
}

func (m *Monitor) settle(ctx context.Context, balance Balance) (string, error) {
	m.setState(StateSettling)

	ctx, span := tracing.StartSpan(ctx, "settlement.sweep",
		attribute.String("invoice_id", m.target.InvoiceID.String()),
		attribute.Int64("balance_lamports", balance.Lamports),
	)
	defer span.End()

	release, ok, err := m.engine.lock.Acquire(ctx, m.target.InvoiceID)
	if err != nil {
		m.setState(StateWatching)
		m.logger(ctx).Warn("settlement.lock.failed", zap.Error(err))
		return obsmetrics.TickOutcomeError, err
	}
	if !ok {
		m.setState(StateWatching)
		m.logger(ctx).Debug("settlement.lock.held")
		return obsmetrics.TickOutcomeSkipped, nil
	}
	defer release(context.WithoutCancel(ctx))

	// Another process may have settled while the lock was contended.
	job, err := m.engine.store.GetJob(ctx, m.target.JobID)
	if err != nil {
		m.setState(StateWatching)
		return obsmetrics.TickOutcomeError, err
	}
	if outcome, final := m.observeFinal(job); final {
		return outcome, nil
	}
	if job.SweepSignature != "" {
		m.setState(StateWatching)
		return obsmetrics.TickOutcomeSkipped, nil
	}

	secret, err := m.openSecret(ctx)
	if err != nil {
		if errors.Is(err, custody.ErrEncryptionKeyMissing) {
			m.setState(StateWatching)
			m.logger(ctx).Error("settlement.secret.unavailable", zap.Error(err))
			return obsmetrics.TickOutcomeError, err
		}
		return m.fail(ctx, err)
	}
	defer clear(secret)

	var submitted string
	receipt, err := m.engine.executor.Sweep(ctx, SweepRequest{
		Secret:    secret,
		From:      m.target.Address,
		To:        m.engine.cfg.AdminWallet,
		Available: balance.Lamports,
		OnSubmitted: func(signature string, lamports int64) {
			submitted = signature
			sub := invoicedomain.SweepSubmission{
				Signature:       signature,
				AmountLamports:  lamports,
				BalanceLamports: balance.Lamports,
			}
			if err := m.engine.store.RecordSweepSubmission(context.WithoutCancel(ctx), m.target.JobID, sub); err != nil {
				m.logger(ctx).Error("settlement.sweep.record_failed", zap.String("signature", signature), zap.Error(err))
			}
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		return m.sweepFailed(ctx, err, submitted)
	}
	return m.commit(ctx, receipt.Signature, receipt.Lamports, balance.Lamports)
}

func (m *Monitor) openSecret(ctx context.Context) ([]byte, error) {
	sealed, err := m.engine.store.LoadSecret(ctx, m.target.InvoiceID)
	if err != nil {
		return nil, err
	}
	secret, err := m.engine.sealer.Open(m.target.InvoiceID.String(), sealed)
	if err != nil {
		if errors.Is(err, custody.ErrEncryptionKeyMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", invoicedomain.ErrSecretUnavailable, err)
	}
	return secret, nil
}

// sweepFailed decides what a failed sweep costs. signature is set when the
// transfer was signed and handed to the ledger before the failure.
func (m *Monitor) sweepFailed(ctx context.Context, cause error, signature string) (string, error) {
	log := m.logger(ctx)
	m.setState(StateWatching)

	switch {
	case errors.Is(cause, ErrInsufficientReserve):
		// Nothing was submitted; the invoice waits for more funds.
		m.engine.metrics.IncSweep(obsmetrics.SweepResultInsufficientReserve)
		log.Info("settlement.sweep.insufficient_reserve",
			zap.Int64("reserve_lamports", m.engine.executor.Reserve()),
			zap.Error(cause),
		)
		return obsmetrics.TickOutcomeBelowThreshold, cause
	case errors.Is(cause, ledgerdomain.ErrInvalidAddress), errors.Is(cause, ledgerdomain.ErrInvalidSecret):
		m.engine.metrics.IncSweep(obsmetrics.SweepResultSubmissionFailed)
		return m.fail(ctx, cause)
	case errors.Is(cause, ledgerdomain.ErrConfirmationTimeout),
		signature != "" && !errors.Is(cause, ledgerdomain.ErrSubmissionFailed):
		// The transfer may still land; the next tick resolves the stored signature.
		m.engine.metrics.IncSweep(obsmetrics.SweepResultUnconfirmed)
		log.Warn("settlement.sweep.unconfirmed", zap.String("signature", signature), zap.Error(cause))
		return obsmetrics.TickOutcomeError, cause
	}

	result := sweepResult(cause)
	m.engine.metrics.IncSweep(result)

	if errors.Is(cause, ledgerdomain.ErrSubmissionFailed) {
		if err := m.engine.store.ClearSweepSubmission(ctx, m.target.JobID); err != nil {
			log.Error("settlement.sweep.clear_failed", zap.Error(err))
		}
	}

	attempts, err := m.engine.store.RecordSweepFailure(ctx, m.target.JobID, cause)
	if err != nil {
		log.Error("settlement.sweep.record_failed", zap.Error(err))
		return obsmetrics.TickOutcomeError, errors.Join(cause, err)
	}

	fields := []zap.Field{
		zap.String("result", result),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	}
	if logs := ledgerdomain.SubmissionLogs(cause); len(logs) > 0 {
		fields = append(fields, zap.Strings("ledger_logs", logs))
	}
	log.Warn("settlement.sweep.failed", fields...)

	if limit := m.engine.cfg.MaxSweepAttempts; limit > 0 && attempts >= limit {
		return m.fail(ctx, fmt.Errorf("sweep attempts exhausted (%d): %w", attempts, cause))
	}
	return obsmetrics.TickOutcomeError, cause
}

func (m *Monitor) commit(ctx context.Context, signature string, lamports, balance int64) (string, error) {
	log := m.logger(ctx)
	err := m.engine.store.CommitSettlement(ctx, invoicedomain.SettlementCommit{
		JobID:           m.target.JobID,
		InvoiceID:       m.target.InvoiceID,
		Signature:       signature,
		AmountLamports:  lamports,
		BalanceLamports: balance,
		Destination:     m.engine.cfg.AdminWallet,
	})
	if errors.Is(err, invoicedomain.ErrAlreadySettled) {
		log.Info("settlement.commit.already_settled", zap.String("signature", signature))
		m.finish(StateDone)
		return obsmetrics.TickOutcomeInactive, nil
	}
	if err != nil {
		m.setState(StateWatching)
		m.engine.metrics.IncSweep(obsmetrics.SweepResultStoreError)
		log.Error("settlement.commit.failed", zap.String("signature", signature), zap.Error(err))
		return obsmetrics.TickOutcomeError, err
	}

	m.engine.metrics.IncSweep(obsmetrics.SweepResultCommitted)
	m.engine.metrics.AddSweptLamports(lamports)
	log.Info("invoice.paid",
		zap.String("signature", signature),
		zap.Int64("amount_lamports", lamports),
		zap.String("destination", m.engine.cfg.AdminWallet),
	)

	m.notify(ctx)
	m.finish(StateDone)
	return obsmetrics.TickOutcomeSettled, nil
}

// notify is best effort; settlement stands regardless of the outcome.
func (m *Monitor) notify(ctx context.Context) {
	if m.engine.notifier == nil {
		return
	}
	event := notifier.Event{
		InvoiceID:     m.target.InvoiceID.String(),
		Status:        eventStatusPaid,
		Amount:        m.target.Amount,
		WalletAddress: m.target.Address,
	}
	if err := m.engine.notifier.Notify(context.WithoutCancel(ctx), m.target.WebhookURL, event); err != nil {
		m.engine.metrics.IncNotification(obsmetrics.NotifyResultFailed)
		m.logger(ctx).Warn("settlement.notify.failed", zap.Error(err))
		return
	}
	m.engine.metrics.IncNotification(obsmetrics.NotifyResultDelivered)
}

func (m *Monitor) fail(ctx context.Context, cause error) (string, error) {
	log := m.logger(ctx)
	if err := m.engine.store.MarkJobFailed(ctx, m.target.JobID, cause); err != nil {
		if errors.Is(err, invoicedomain.ErrAlreadySettled) {
			log.Info("settlement.job.already_final")
			m.finish(StateDone)
			return obsmetrics.TickOutcomeInactive, nil
		}
		m.setState(StateWatching)
		log.Error("settlement.job.fail_failed", zap.Error(err))
		return obsmetrics.TickOutcomeError, errors.Join(cause, err)
	}

	m.engine.metrics.IncFailedJob()
	log.Error("settlement.job.failed", zap.Error(cause))
	m.finish(StateFailed)
	return obsmetrics.TickOutcomeError, cause
}

func (m *Monitor) finish(state State) {
	m.setState(state)
	if m.onFinish != nil {
		m.onFinish(m.target.JobID)
	}
}

func (m *Monitor) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, m.engine.log).With(
		zap.String("invoice_id", m.target.InvoiceID.String()),
		zap.String("job_id", m.target.JobID.String()),
		zap.String("address", m.target.Address),
	)
}

func sweepResult(err error) string {
	switch {
	case errors.Is(err, ledgerdomain.ErrSubmissionFailed):
		return obsmetrics.SweepResultSubmissionFailed
	case errors.Is(err, ledgerdomain.ErrLedgerUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return obsmetrics.SweepResultLedgerUnavailable
	default:
		return obsmetrics.SweepResultUnknown
	}
}
