package settlement

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	invoicedomain "github.com/smallbiznis/paywatch/internal/invoice/domain"
	obslogger "github.com/smallbiznis/paywatch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paywatch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Target is everything a monitor needs to watch one invoice. The custody
// secret is not part of it; it is unsealed only at sweep time.
type Target struct {
	JobID             snowflake.ID
	InvoiceID         snowflake.ID
	Address           string
	ThresholdLamports int64
	Amount            float64
	WebhookURL        string
}

func TargetFrom(job invoicedomain.MonitoringJob, invoice invoicedomain.Invoice) Target {
	return Target{
		JobID:             job.ID,
		InvoiceID:         invoice.ID,
		Address:           invoice.WalletAddress,
		ThresholdLamports: invoice.AmountLamports,
		Amount:            invoice.Amount,
		WebhookURL:        invoice.WebhookURL,
	}
}

func (t Target) validate() error {
	switch {
	case t.JobID == 0:
		return fmt.Errorf("%w: job id is required", ErrInvalidTarget)
	case t.InvoiceID == 0:
		return fmt.Errorf("%w: invoice id is required", ErrInvalidTarget)
	case strings.TrimSpace(t.Address) == "":
		return fmt.Errorf("%w: address is required", ErrInvalidTarget)
	case t.ThresholdLamports <= 0:
		return fmt.Errorf("%w: threshold must be positive", ErrInvalidTarget)
	}
	return nil
}

type task struct {
	monitor *Monitor
	entryID cron.EntryID
}

type SchedulerParams struct {
	fx.In

	Config Config
	Engine *Engine
	Log    *zap.Logger
}

// Scheduler is the registry of live invoice monitors. Each monitor runs as
// its own cron entry; entries never overlap themselves.
type Scheduler struct {
	cfg     Config
	engine  *Engine
	cron    *cron.Cron
	log     *zap.Logger
	metrics *obsmetrics.SettlementMetrics

	// ctx is handed to every tick and cancelled when the scheduler stops.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[snowflake.ID]*task
	started bool
	stopped bool
}

func NewScheduler(p SchedulerParams) *Scheduler {
	log := p.Log.Named("settlement.scheduler")
	cronLog := cronLogger{log: log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    p.Config.withDefaults(),
		engine: p.Engine,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		log:     log,
		metrics: obsmetrics.Settlement(),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[snowflake.ID]*task),
	}
}

// Schedule registers a recurring check for target and returns immediately.
func (s *Scheduler) Schedule(ctx context.Context, target Target) error {
	if err := target.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("job_id", target.JobID.String()),
		zap.String("invoice_id", target.InvoiceID.String()),
	)
	if s.stopped {
		return ErrSchedulerStopped
	}
	if _, exists := s.tasks[target.JobID]; exists {
		log.Warn("settlement.job.duplicate")
		return fmt.Errorf("%w: %s", ErrDuplicateJob, target.JobID)
	}

	t := &task{monitor: s.engine.NewMonitor(target, s.Cancel)}
	entryID, err := s.cron.AddJob(fmt.Sprintf("@every %s", s.cfg.PollInterval), cron.FuncJob(func() {
		_, _ = t.monitor.Tick(s.ctx)
	}))
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", target.JobID, err)
	}
	t.entryID = entryID
	s.tasks[target.JobID] = t
	s.metrics.SetActiveJobs(len(s.tasks))

	log.Info("settlement.job.scheduled",
		zap.String("address", target.Address),
		zap.Int64("threshold_lamports", target.ThresholdLamports),
		zap.Duration("poll_interval", s.cfg.PollInterval),
	)
	return nil
}

// ScheduleInvoice starts monitoring a freshly created invoice.
func (s *Scheduler) ScheduleInvoice(ctx context.Context, job invoicedomain.MonitoringJob, invoice invoicedomain.Invoice) error {
	return s.Schedule(ctx, TargetFrom(job, invoice))
}

// Cancel stops future ticks for jobID. A tick already running is left to
// finish. Cancelling an unknown or cancelled job is a no-op.
func (s *Scheduler) Cancel(jobID snowflake.ID) {
	s.mu.Lock()
	t, ok := s.tasks[jobID]
	if ok {
		delete(s.tasks, jobID)
		s.metrics.SetActiveJobs(len(s.tasks))
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.cron.Remove(t.entryID)
	s.log.Info("settlement.job.cancelled",
		zap.String("job_id", jobID.String()),
		zap.String("invoice_id", t.monitor.Target().InvoiceID.String()),
		zap.String("state", string(t.monitor.State())),
	)
}

// Monitor returns the live monitor for jobID.
func (s *Scheduler) Monitor(jobID snowflake.ID) (*Monitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[jobID]
	if !ok {
		return nil, false
	}
	return t.monitor, true
}

// Active lists the job ids with a live monitor.
func (s *Scheduler) Active() []snowflake.ID {
	s.mu.Lock()
	ids := make([]snowflake.ID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("settlement.scheduler.started", zap.Duration("poll_interval", s.cfg.PollInterval))
}

// Stop halts all future ticks and waits for running ones. Ticks still
// running when ctx expires are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.tasks = make(map[snowflake.ID]*task)
	s.metrics.SetActiveJobs(0)
	s.mu.Unlock()

	defer s.cancel()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("settlement.scheduler.stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("settlement.scheduler.stop_timeout", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

var _ invoicedomain.JobScheduler = (*Scheduler)(nil)

// cronLogger adapts zap to cron.Logger; routine cron chatter goes to debug.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("settlement.cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("settlement.cron."+msg, append(keysAndValues, "error", err)...)
}
