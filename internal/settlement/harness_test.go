package settlement

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/paywatch/internal/clock"
	"github.com/smallbiznis/paywatch/internal/custody"
	invoicedomain "github.com/smallbiznis/paywatch/internal/invoice/domain"
	"github.com/smallbiznis/paywatch/internal/invoice/repository"
	"github.com/smallbiznis/paywatch/internal/invoice/store"
	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
	"github.com/smallbiznis/paywatch/internal/ledger/memory"
	"github.com/smallbiznis/paywatch/internal/migration"
	"github.com/smallbiznis/paywatch/internal/notifier"
	obsmetrics "github.com/smallbiznis/paywatch/internal/observability/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testAdminWallet = "admin-wallet"

type notifyCall struct {
	url   string
	event notifier.Event
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, url string, event notifier.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{url: url, event: event})
	return n.err
}

func (n *recordingNotifier) Calls() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifyCall, len(n.calls))
	copy(out, n.calls)
	return out
}

// spyStore counts writes reaching the settlement store.
type spyStore struct {
	invoicedomain.SettlementStore
	writes atomic.Int64
}

func (s *spyStore) CommitSettlement(ctx context.Context, commit invoicedomain.SettlementCommit) error {
	s.writes.Add(1)
	return s.SettlementStore.CommitSettlement(ctx, commit)
}

func (s *spyStore) RecordSweepSubmission(ctx context.Context, jobID snowflake.ID, sub invoicedomain.SweepSubmission) error {
	s.writes.Add(1)
	return s.SettlementStore.RecordSweepSubmission(ctx, jobID, sub)
}

func (s *spyStore) ClearSweepSubmission(ctx context.Context, jobID snowflake.ID) error {
	s.writes.Add(1)
	return s.SettlementStore.ClearSweepSubmission(ctx, jobID)
}

func (s *spyStore) RecordSweepFailure(ctx context.Context, jobID snowflake.ID, cause error) (int, error) {
	s.writes.Add(1)
	return s.SettlementStore.RecordSweepFailure(ctx, jobID, cause)
}

func (s *spyStore) MarkJobFailed(ctx context.Context, jobID snowflake.ID, cause error) error {
	s.writes.Add(1)
	return s.SettlementStore.MarkJobFailed(ctx, jobID, cause)
}

// gatedLedger blocks transfers until release is closed.
type gatedLedger struct {
	*memory.Ledger
	entered chan struct{}
	release chan struct{}
}

func newGatedLedger(inner *memory.Ledger) *gatedLedger {
	return &gatedLedger{
		Ledger:  inner,
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (g *gatedLedger) Transfer(ctx context.Context, req ledgerdomain.TransferRequest) (ledgerdomain.Receipt, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Ledger.Transfer(ctx, req)
}

type harness struct {
	db       *gorm.DB
	repo     invoicedomain.Repository
	store    *store.Store
	ledger   *memory.Ledger
	sealer   *custody.Sealer
	notifier *recordingNotifier
	node     *snowflake.Node
	clock    *clock.FakeClock
	cfg      Config
	registry *prometheus.Registry
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:settlement_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	sealer, err := custody.NewSealerFromSecret("settlement-test-secret")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AdminWallet = testAdminWallet
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := prometheus.NewRegistry()
	t.Cleanup(swapPrometheusRegistry(registry))

	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	return &harness{
		registry: registry,
		db:       db,
		repo:     repo,
		store:    store.New(store.Params{DB: db, Repo: repo, GenID: node, Clock: fc}),
		ledger:   memory.New(),
		sealer:   sealer,
		notifier: &recordingNotifier{},
		node:     node,
		clock:    fc,
		cfg:      cfg,
	}
}

func (h *harness) engine(t *testing.T) *Engine {
	t.Helper()
	return h.engineWith(t, h.store, h.ledger)
}

func (h *harness) engineWith(t *testing.T, st invoicedomain.SettlementStore, ledger ledgerdomain.Client) *Engine {
	t.Helper()
	return NewEngine(EngineParams{
		Config:   h.cfg,
		Store:    st,
		Ledger:   ledger,
		Sealer:   h.sealer,
		Notifier: h.notifier,
		Lock:     localLock{},
		Log:      zap.NewNop(),
		Clock:    h.clock,
	})
}

func (h *harness) scheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(SchedulerParams{Config: h.cfg, Engine: h.engine(t), Log: zap.NewNop()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

// createInvoice provisions an account, seals its secret and stores the
// invoice with a pending job.
func (h *harness) createInvoice(t *testing.T, amount float64, webhookURL string) (invoicedomain.Invoice, invoicedomain.MonitoringJob) {
	t.Helper()
	ctx := context.Background()
	now := h.clock.Now()

	account, err := h.ledger.NewAccount(ctx)
	require.NoError(t, err)

	invoice := invoicedomain.Invoice{
		ID:             h.node.Generate(),
		Amount:         amount,
		AmountLamports: ledgerdomain.LamportsFromSOL(amount),
		WalletAddress:  account.Address,
		Status:         invoicedomain.InvoiceStatusPending,
		WebhookURL:     webhookURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sealed, err := h.sealer.Seal(invoice.ID.String(), account.Secret)
	require.NoError(t, err)

	job := invoicedomain.MonitoringJob{
		ID:          h.node.Generate(),
		InvoiceID:   invoice.ID,
		ProcessName: invoicedomain.ProcessName(invoice.ID),
		Status:      invoicedomain.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	require.NoError(t, h.repo.InsertInvoice(ctx, h.db, &invoice))
	require.NoError(t, h.repo.InsertSecret(ctx, h.db, &invoicedomain.InvoiceSecret{
		InvoiceID: invoice.ID,
		SealedKey: sealed,
		CreatedAt: now,
	}))
	require.NoError(t, h.repo.InsertJob(ctx, h.db, &job))
	return invoice, job
}

func (h *harness) invoice(t *testing.T, id snowflake.ID) *invoicedomain.Invoice {
	t.Helper()
	invoice, err := h.store.GetInvoice(context.Background(), id)
	require.NoError(t, err)
	return invoice
}

func (h *harness) job(t *testing.T, id snowflake.ID) *invoicedomain.MonitoringJob {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *harness) ledgerCalls() int {
	return h.ledger.Calls(memory.OpGetAccountInfo) +
		h.ledger.Calls(memory.OpTransfer) +
		h.ledger.Calls(memory.OpSignatureStatus)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSettlementMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSettlementMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	for _, label := range metric.Label {
		if want, ok := labels[label.GetName()]; ok && want != label.GetValue() {
			return false
		}
	}
	return true
}
