package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	invoicedomain "github.com/smallbiznis/meterguard/internal/invoice/domain"
	"github.com/smallbiznis/meterguard/internal/invoice/format"
	"github.com/smallbiznis/meterguard/internal/invoice/render"
	"github.com/smallbiznis/meterguard/internal/invoice/repository"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	"github.com/smallbiznis/meterguard/internal/payment/adapters/stripe"
	"github.com/smallbiznis/meterguard/internal/quota/window"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	providerStripe   = "stripe"
	entityInvoice    = "invoice"
	eventPrefix      = "invoice."
	defaultCurrency  = "USD"
	defaultListLimit = 50
	maxListLimit     = 500
)

var statusMapping = intakedomain.StatusMapping{
	ByEventType: map[string]string{
		"invoice.finalized":            string(invoicedomain.StatusFinalized),
		"invoice.payment_succeeded":    string(invoicedomain.StatusPaid),
		"invoice.paid":                 string(invoicedomain.StatusPaid),
		"invoice.payment_failed":       string(invoicedomain.StatusFailed),
		"invoice.voided":               string(invoicedomain.StatusFailed),
		"invoice.marked_uncollectible": string(invoicedomain.StatusFailed),
	},
	ByStatus: map[string]string{
		"draft":         string(invoicedomain.StatusDraft),
		"open":          string(invoicedomain.StatusFinalized),
		"paid":          string(invoicedomain.StatusPaid),
		"void":          string(invoicedomain.StatusFailed),
		"uncollectible": string(invoicedomain.StatusFailed),
	},
	Default: string(invoicedomain.StatusFinalized),
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Cfg       config.Config
	LedgerSvc ledgerdomain.Service
	Intake    intakedomain.Service
	Renderer  *render.PDFRenderer
	QuotaCfg  *config.QuotaConfigHolder  `optional:"true"`
	Customers subscriptiondomain.Service `optional:"true"`
	Billing   *stripe.Billing            `optional:"true"`
	Clock     clock.Clock                `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	appName   string
	ledgerSvc ledgerdomain.Service
	intake    intakedomain.Service
	renderer  *render.PDFRenderer
	quotaCfg  *config.QuotaConfigHolder
	verifier  *stripe.WebhookVerifier
	customers subscriptiondomain.Service
	billing   *stripe.Billing
	clock     clock.Clock
	repo      invoicedomain.Repository
}

func NewService(p Params) invoicedomain.Service {
	clk := clock.OrSystem(p.Clock)
	renderer := p.Renderer
	if renderer == nil {
		renderer = render.NewPDFRenderer()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("invoice.service"),
		genID:     p.GenID,
		appName:   p.Cfg.AppName,
		ledgerSvc: p.LedgerSvc,
		intake:    p.Intake,
		renderer:  renderer,
		quotaCfg:  p.QuotaCfg,
		verifier:  stripe.NewWebhookVerifier(p.Cfg.Stripe, clk),
		customers: p.Customers,
		billing:   p.Billing,
		clock:     clk,
		repo:      repository.Provide(),
	}
}

func (s *Service) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (*invoicedomain.Invoice, error) {
	account := req.Account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return nil, invoicedomain.ErrInvalidPeriod
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return nil, invoicedomain.ErrInvalidCurrency
	}

	start, end := req.Start.UTC(), req.End.UTC()
	totals, err := s.ledgerSvc.UsageTotals(ctx, account, currency, start, end)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	invoice := &invoicedomain.Invoice{
		ID:               s.genID.Generate(),
		CustomerID:       req.CustomerID,
		EntityType:       account.EntityType,
		EntityID:         account.EntityID,
		PeriodStart:      start,
		PeriodEnd:        end,
		Currency:         currency,
		TotalAmountCents: totals.AmountCents,
		Status:           invoicedomain.StatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	items := []invoicedomain.InvoiceItem{{
		ID:          s.genID.Generate(),
		InvoiceID:   invoice.ID,
		Description: "Usage " + format.Period(start, end),
		Quantity:    1,
		AmountCents: totals.AmountCents,
		CreatedAt:   now,
	}}
	if err := s.repo.Insert(ctx, s.db, invoice, items); err != nil {
		return nil, err
	}
	invoice.Items = items

	obslogger.WithContext(ctx, s.log).Info("invoice.generated",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("account", account.Key()),
		zap.Int64("total_amount_cents", invoice.TotalAmountCents),
		zap.Int64("usage_records", totals.Count),
	)
	return invoice, nil
}

// GenerateForDay invoices the quota day window that contains day.
func (s *Service) GenerateForDay(ctx context.Context, account accountdomain.Account, day time.Time) (*invoicedomain.Invoice, error) {
	cfg := s.quotaCfg.Get()
	w, err := window.Resolve(day, cfg.Window.UTCOffset, cfg.Window.ResetTime)
	if err != nil {
		return nil, err
	}
	return s.Generate(ctx, invoicedomain.GenerateRequest{
		Account: account,
		Start:   w.Start,
		End:     w.End,
	})
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	invoice.Items = items
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) ([]invoicedomain.Invoice, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, invoicedomain.ErrInvalidStatus
	}
	if req.Account != nil {
		account := req.Account.Normalize()
		if err := account.Validate(); err != nil {
			return nil, err
		}
		req.Account = &account
	}
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return s.repo.List(ctx, s.db, req)
}

// HandleStripeWebhook syncs status from invoice.* events. Generation never
// changes status; only these events do.
func (s *Service) HandleStripeWebhook(ctx context.Context, headers http.Header, body []byte) (intakedomain.Result, error) {
	event, err := s.verifier.Verify(headers, body)
	if err != nil {
		return intakedomain.Result{}, err
	}
	if !strings.HasPrefix(event.Type, eventPrefix) {
		return intakedomain.Result{}, invoicedomain.ErrNotInvoiceEvent
	}

	var obj struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return intakedomain.Result{}, intakedomain.ErrInvalidPayload
	}
	status := invoicedomain.Status(statusMapping.Resolve(event.Type, obj.Status))

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("stripe_invoice_id", obj.ID),
	)
	env := intakedomain.Envelope{
		Provider:        providerStripe,
		ExternalEventID: event.ID,
		EventType:       event.Type,
		Payload:         body,
	}
	result, err := s.intake.Ingest(ctx, env, func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		outcome := intakedomain.HandlerOutcome{Status: string(status)}
		invoice, err := s.lookup(ctx, tx, obj.ID, obj.Metadata["invoice_id"])
		if err != nil {
			return outcome, err
		}
		if invoice == nil {
			log.Warn("invoice.webhook.no_invoice")
			return outcome, nil
		}
		if err := s.repo.UpdateStatus(ctx, tx, invoice.ID, status, s.clock.Now()); err != nil {
			return outcome, err
		}
		log.Info("invoice.webhook.handled",
			zap.String("prev_status", string(invoice.Status)),
			zap.String("status", string(status)),
		)
		outcome.EntityType = entityInvoice
		outcome.EntityID = invoice.ID
		outcome.Linked = true
		return outcome, nil
	})
	if err != nil {
		return intakedomain.Result{}, err
	}
	return result, nil
}

// lookup matches by Stripe invoice id first, then by the local id carried in
// metadata, binding the Stripe id on first sight.
func (s *Service) lookup(ctx context.Context, tx *gorm.DB, stripeID, localID string) (*invoicedomain.Invoice, error) {
	if stripeID != "" {
		invoice, err := s.repo.FindByStripeID(ctx, tx, stripeID)
		if err != nil || invoice != nil {
			return invoice, err
		}
	}
	id, err := snowflake.ParseString(strings.TrimSpace(localID))
	if err != nil || id == 0 {
		return nil, nil
	}
	invoice, err := s.repo.FindByID(ctx, tx, id)
	if err != nil || invoice == nil {
		return invoice, err
	}
	if stripeID != "" && invoice.StripeInvoiceID == nil {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices SET stripe_invoice_id = ? WHERE id = ? AND stripe_invoice_id IS NULL`,
			stripeID, invoice.ID,
		).Error; err != nil {
			return nil, err
		}
		invoice.StripeInvoiceID = &stripeID
	}
	return invoice, nil
}

func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	seq, err := s.repo.Sequence(ctx, s.db, *invoice)
	if err != nil {
		return nil, err
	}
	number, err := format.Number(format.DefaultNumberTemplate, invoice.CreatedAt, seq)
	if err != nil {
		return nil, err
	}

	doc := render.Document{
		IssuerName: s.appName,
		Number:     number,
		IssueDate:  invoice.CreatedAt.UTC().Format("January 2, 2006"),
		Period:     format.Period(invoice.PeriodStart, invoice.PeriodEnd),
		Status:     string(invoice.Status),
		BillTo:     invoice.Account().Key(),
		Total:      format.Money(invoice.TotalAmountCents, invoice.Currency),
	}
	for _, item := range invoice.Items {
		doc.Items = append(doc.Items, render.Line{
			Description: item.Description,
			Quantity:    item.Quantity,
			Amount:      format.Money(item.AmountCents, invoice.Currency),
		})
	}
	return s.renderer.Render(doc)
}
