package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/paywatch/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRejectsDuplicateJob(t *testing.T) {
	h := newHarness(t)
	invoice, job := h.createInvoice(t, 1.0, "")
	s := h.scheduler(t)

	require.NoError(t, s.ScheduleInvoice(context.Background(), job, invoice))
	first, ok := s.Monitor(job.ID)
	require.True(t, ok)

	err := s.Schedule(context.Background(), TargetFrom(job, invoice))
	require.ErrorIs(t, err, ErrDuplicateJob)

	second, ok := s.Monitor(job.ID)
	require.True(t, ok)
	assert.Same(t, first, second, "duplicate never overwrites the live monitor")
	assert.Equal(t, []snowflake.ID{job.ID}, s.Active())
}

func TestScheduleRejectsInvalidTarget(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(t)

	cases := map[string]Target{
		"missing job":     {InvoiceID: 1, Address: "a", ThresholdLamports: 1},
		"missing invoice": {JobID: 1, Address: "a", ThresholdLamports: 1},
		"missing address": {JobID: 1, InvoiceID: 1, ThresholdLamports: 1},
		"zero threshold":  {JobID: 1, InvoiceID: 1, Address: "a"},
		"blank address":   {JobID: 1, InvoiceID: 1, Address: "  ", ThresholdLamports: 1},
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Schedule(context.Background(), target), ErrInvalidTarget)
		})
	}
	assert.Empty(t, s.Active())
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t)
	invoice, job := h.createInvoice(t, 1.0, "")
	s := h.scheduler(t)
	require.NoError(t, s.ScheduleInvoice(context.Background(), job, invoice))

	s.Cancel(job.ID)
	s.Cancel(job.ID)
	s.Cancel(snowflake.ID(42))

	assert.Empty(t, s.Active())
	_, ok := s.Monitor(job.ID)
	assert.False(t, ok)

	// A cancelled job may be scheduled again.
	require.NoError(t, s.ScheduleInvoice(context.Background(), job, invoice))
	assert.Equal(t, []snowflake.ID{job.ID}, s.Active())
}

func TestScheduleAfterStopIsRejected(t *testing.T) {
	h := newHarness(t)
	invoice, job := h.createInvoice(t, 1.0, "")
	s := h.scheduler(t)
	s.Start()

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	err := s.ScheduleInvoice(context.Background(), job, invoice)
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestSchedulerSettlesInBackgroundAndCancels(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PollInterval = time.Second })
	invoice, job := h.createInvoice(t, 1.0, "https://merchant.test/hook")
	s := h.scheduler(t)
	s.Start()

	require.NoError(t, s.ScheduleInvoice(context.Background(), job, invoice))
	h.ledger.Fund(invoice.WalletAddress, oneSOL+h.cfg.ReserveLamports)

	require.Eventually(t, func() bool {
		return len(s.Active()) == 0
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, invoicedomain.InvoiceStatusPaid, h.invoice(t, invoice.ID).Status)
	assert.Equal(t, invoicedomain.JobStatusCompleted, h.job(t, job.ID).Status)
	assert.Len(t, h.ledger.Transfers(), 1)
	assert.Len(t, h.notifier.Calls(), 1)
}

func TestRecoverSchedulesPendingJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pendingInvoice, pendingJob := h.createInvoice(t, 1.0, "")
	settledInvoice, settledJob := h.createInvoice(t, 2.0, "")
	require.NoError(t, h.store.CommitSettlement(ctx, invoicedomain.SettlementCommit{
		JobID:     settledJob.ID,
		InvoiceID: settledInvoice.ID,
		Signature: "sig-done",
	}))

	s := h.scheduler(t)
	require.NoError(t, s.Recover(ctx))
	assert.Equal(t, []snowflake.ID{pendingJob.ID}, s.Active())

	monitor, ok := s.Monitor(pendingJob.ID)
	require.True(t, ok)
	assert.Equal(t, pendingInvoice.WalletAddress, monitor.Target().Address)
	assert.Equal(t, pendingInvoice.AmountLamports, monitor.Target().ThresholdLamports)

	// Running recovery twice leaves the registry unchanged.
	require.NoError(t, s.Recover(ctx))
	assert.Equal(t, []snowflake.ID{pendingJob.ID}, s.Active())
}

func TestRecoverCollectsPerJobErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	broken, _ := h.createInvoice(t, 1.0, "")
	require.NoError(t, h.db.Exec("UPDATE invoices SET wallet_address = '' WHERE id = ?", broken.ID).Error)
	_, healthy := h.createInvoice(t, 1.0, "")

	s := h.scheduler(t)
	err := s.Recover(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTarget))
	assert.Equal(t, []snowflake.ID{healthy.ID}, s.Active())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{PollInterval: 10 * time.Millisecond, MaxSweepAttempts: -3, AdminWallet: "  admin  "}.withDefaults()
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, int64(5000), cfg.ReserveLamports)
	assert.Zero(t, cfg.MaxSweepAttempts)
	assert.Equal(t, "admin", cfg.AdminWallet)
	require.NoError(t, cfg.validate())

	assert.ErrorIs(t, Config{}.withDefaults().validate(), ErrInvalidConfig)
}
