package service

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paywatch/internal/clock"
	"github.com/smallbiznis/paywatch/internal/custody"
	"github.com/smallbiznis/paywatch/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paywatch/internal/observability/metrics"
	"github.com/smallbiznis/paywatch/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Ledger     ledgerdomain.Client
	Sealer     *custody.Sealer
	Scheduler  domain.JobScheduler
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	ledger     ledgerdomain.Client
	sealer     *custody.Sealer
	scheduler  domain.JobScheduler
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledger:     p.Ledger,
		sealer:     p.Sealer,
		scheduler:  p.Scheduler,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateInvoiceRequest) (domain.Invoice, error) {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return domain.Invoice{}, domain.ErrInvalidAmount
	}
	lamports := ledgerdomain.LamportsFromSOL(req.Amount)
	if lamports <= 0 {
		return domain.Invoice{}, domain.ErrInvalidAmount
	}
	webhookURL, err := normalizeWebhookURL(req.WebhookURL)
	if err != nil {
		return domain.Invoice{}, err
	}

	account, err := s.ledger.NewAccount(ctx)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("provision account: %w", err)
	}

	now := s.clock.Now()
	invoice := domain.Invoice{
		ID:             s.genID.Generate(),
		Amount:         req.Amount,
		AmountLamports: lamports,
		WalletAddress:  account.Address,
		Status:         domain.InvoiceStatusPending,
		WebhookURL:     webhookURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	sealed, err := s.sealer.Seal(invoice.ID.String(), account.Secret)
	clear(account.Secret)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("seal custody secret: %w", err)
	}

	job := domain.MonitoringJob{
		ID:          s.genID.Generate(),
		InvoiceID:   invoice.ID,
		ProcessName: domain.ProcessName(invoice.ID),
		Status:      domain.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertInvoice(ctx, tx, &invoice); err != nil {
			return err
		}
		if err := s.repo.InsertSecret(ctx, tx, &domain.InvoiceSecret{
			InvoiceID: invoice.ID,
			SealedKey: sealed,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.repo.InsertJob(ctx, tx, &job)
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	// The pending job is durable, so a scheduling failure is picked up by
	// recovery on the next start.
	if err := s.scheduler.ScheduleInvoice(ctx, job, invoice); err != nil {
		s.log.Warn("invoice.schedule.failed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("job", job.ProcessName),
			zap.Error(err),
		)
	}

	s.obsMetrics.RecordInvoiceCreated(ctx)
	s.log.Info("invoice.created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("wallet_address", invoice.WalletAddress),
		zap.Int64("amount_lamports", invoice.AmountLamports),
	)
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	filter := domain.ListInvoiceFilter{}

	switch status := domain.InvoiceStatus(strings.ToLower(strings.TrimSpace(req.Status))); status {
	case "":
	case domain.InvoiceStatusPending, domain.InvoiceStatusPaid:
		filter.Status = status
	default:
		return domain.ListInvoiceResponse{}, domain.ErrInvalidStatus
	}

	page := pagination.Pagination{PageToken: strings.TrimSpace(req.PageToken), PageSize: req.PageSize}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return domain.ListInvoiceResponse{}, err
		}
		beforeID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListInvoiceResponse{}, pagination.ErrInvalidPageToken
		}
		filter.BeforeID = beforeID
	}
	limit := page.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.ListInvoices(ctx, s.db, filter)
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}

	items, info, err := pagination.BuildCursorPageInfo(items, limit, func(inv *domain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: inv.ID.String()}
	})
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}

	invoices := make([]domain.Invoice, 0, len(items))
	for _, inv := range items {
		invoices = append(invoices, *inv)
	}
	return domain.ListInvoiceResponse{PageInfo: info, Invoices: invoices}, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetInvoiceRequest) (domain.Invoice, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Invoice{}, err
	}

	invoice, err := s.repo.FindInvoiceByID(ctx, s.db, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice == nil {
		return domain.Invoice{}, domain.ErrNotFound
	}
	return *invoice, nil
}

func (s *Service) GetSettlement(ctx context.Context, req domain.GetInvoiceRequest) (domain.Settlement, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Settlement{}, err
	}

	settlement, err := s.repo.FindSettlementByInvoice(ctx, s.db, id)
	if err != nil {
		return domain.Settlement{}, err
	}
	if settlement == nil {
		return domain.Settlement{}, domain.ErrNotFound
	}
	return *settlement, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func normalizeWebhookURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", domain.ErrInvalidWebhookURL
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return parsed.String(), nil
	default:
		return "", domain.ErrInvalidWebhookURL
	}
}

