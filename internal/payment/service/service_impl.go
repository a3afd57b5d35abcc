package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	budgetsyncdomain "github.com/smallbiznis/meterguard/internal/budgetsync/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	"github.com/smallbiznis/meterguard/internal/lago"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	"github.com/smallbiznis/meterguard/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
	"github.com/smallbiznis/meterguard/internal/payment/repository"
	"github.com/smallbiznis/meterguard/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	entityTypeOrder = "order"
	maxOrderIDLen   = 64
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Registry   *adapters.Registry
	Intake     intakedomain.Service
	LedgerSvc  ledgerdomain.Service
	Lago       *lago.Sink               `optional:"true"`
	BudgetSync budgetsyncdomain.Service `optional:"true"`
	Clock      clock.Clock              `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	registry   *adapters.Registry
	intake     intakedomain.Service
	ledgerSvc  ledgerdomain.Service
	lago       *lago.Sink
	budgetSync budgetsyncdomain.Service
	clock      clock.Clock
	repo       paymentdomain.Repository
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		registry:   p.Registry,
		intake:     p.Intake,
		ledgerSvc:  p.LedgerSvc,
		lago:       p.Lago,
		budgetSync: p.BudgetSync,
		clock:      clock.OrSystem(p.Clock),
		repo:       repository.Provide(),
	}
}

// Checkout asks the provider to open a payment, then stores the order and
// its first payment together. The provider call is keyed by order id, so a
// retry after a failed insert reuses the same remote intent.
func (s *Service) Checkout(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutResult, error) {
	account := req.Account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, err
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" || len(orderID) > maxOrderIDLen {
		return nil, paymentdomain.ErrInvalidOrder
	}
	if req.AmountCents <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	provider, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindOrderByOrderID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, paymentdomain.ErrOrderExists
	}

	now := s.clock.Now()
	order := paymentdomain.Order{
		ID:          s.genID.Generate(),
		OrderID:     orderID,
		EntityType:  account.EntityType,
		EntityID:    account.EntityID,
		AmountCents: req.AmountCents,
		Currency:    currency,
		Provider:    provider.Name(),
		Status:      paymentdomain.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	init, err := provider.CreatePayment(ctx, order)
	if err != nil {
		return nil, err
	}

	payment := paymentdomain.Payment{
		ID:          s.genID.Generate(),
		OrderRef:    order.ID,
		Provider:    provider.Name(),
		AmountCents: req.AmountCents,
		Currency:    currency,
		Status:      paymentdomain.StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if init.ProviderTxnID != "" {
		txnID := init.ProviderTxnID
		payment.ProviderTxnID = &txnID
	}
	if len(init.Extra) > 0 {
		raw, err := json.Marshal(init.Extra)
		if err != nil {
			return nil, err
		}
		payment.Raw = datatypes.JSON(raw)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertOrder(ctx, tx, &order); err != nil {
			return err
		}
		return s.repo.InsertPayment(ctx, tx, &payment)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, paymentdomain.ErrOrderExists
		}
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("payment.checkout",
		zap.String("provider", provider.Name()),
		zap.String("order_id", orderID),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("currency", currency),
	)
	return &paymentdomain.CheckoutResult{Order: order, Payment: payment, Init: init}, nil
}

// HandleWebhook verifies and applies one provider notification. A
// successful payment credits the wallet in the same transaction as the
// dedup row, so a redelivery can never credit twice.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, headers http.Header, body []byte) (intakedomain.Result, error) {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return intakedomain.Result{}, err
	}
	event, err := provider.HandleWebhook(ctx, headers, body)
	if err != nil {
		return intakedomain.Result{}, err
	}
	if event.DedupKey() == "" {
		return intakedomain.Result{}, paymentdomain.ErrInvalidPayload
	}

	var credited *accountdomain.Account
	env := intakedomain.Envelope{
		Provider:        provider.Name(),
		ExternalEventID: event.DedupKey(),
		EventType:       event.EventType,
		Payload:         event.Raw,
	}
	result, err := s.intake.Ingest(ctx, env, func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		account, outcome, err := s.applyEvent(ctx, tx, provider.Name(), *event)
		credited = account
		return outcome, err
	})
	if err != nil {
		return intakedomain.Result{}, err
	}

	if credited != nil && s.budgetSync != nil {
		res := s.budgetSync.SyncAccount(ctx, *credited)
		if res.Failed() {
			obslogger.WithContext(ctx, s.log).Warn("payment.budget_sync_failed",
				zap.String("account", credited.Key()),
				zap.String("reason", res.Reason),
			)
		}
	}
	return result, nil
}

func (s *Service) applyEvent(ctx context.Context, tx *gorm.DB, providerName string, event paymentdomain.WebhookEvent) (*accountdomain.Account, intakedomain.HandlerOutcome, error) {
	order, err := s.repo.FindOrderByOrderID(ctx, tx, strings.TrimSpace(event.OrderID))
	if err != nil {
		return nil, intakedomain.HandlerOutcome{}, err
	}
	if order == nil {
		return nil, intakedomain.HandlerOutcome{Status: event.EventType}, nil
	}

	now := s.clock.Now()
	currency := strings.ToUpper(strings.TrimSpace(event.Currency))
	if currency == "" {
		currency = order.Currency
	}
	amount := event.AmountCents
	if amount <= 0 {
		amount = order.AmountCents
	}

	payment, err := s.repo.FindEffectivePayment(ctx, tx, order.ID, providerName)
	if err != nil {
		return nil, intakedomain.HandlerOutcome{}, err
	}
	if payment == nil {
		payment = &paymentdomain.Payment{
			ID:          s.genID.Generate(),
			OrderRef:    order.ID,
			Provider:    providerName,
			AmountCents: amount,
			Currency:    currency,
			Status:      paymentdomain.StatusProcessing,
			Raw:         datatypes.JSON(event.Raw),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if event.ProviderTxnID != "" {
			txnID := event.ProviderTxnID
			payment.ProviderTxnID = &txnID
		}
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return nil, intakedomain.HandlerOutcome{}, err
		}
	} else if payment.ProviderTxnID == nil && event.ProviderTxnID != "" {
		txnID := event.ProviderTxnID
		payment.ProviderTxnID = &txnID
	}

	var credited *accountdomain.Account
	var status paymentdomain.Status
	switch event.EventType {
	case paymentdomain.EventTypePaymentSucceeded:
		status = paymentdomain.StatusSucceeded
		// A second success event for an already settled order must not credit again.
		if order.Status != paymentdomain.StatusSucceeded {
			account := order.Account()
			if _, err := s.ledgerSvc.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
				Account:     account,
				Currency:    currency,
				AmountCents: amount,
				Reason:      ledgerdomain.ReasonRecharge,
				Meta: map[string]any{
					"provider":        providerName,
					"order_id":        order.OrderID,
					"provider_txn_id": event.ProviderTxnID,
				},
			}); err != nil {
				return nil, intakedomain.HandlerOutcome{}, err
			}
			if _, err := s.lago.CreditTx(ctx, tx, lago.CreditEvent{
				Account:     account,
				Currency:    currency,
				AmountCents: amount,
				OrderID:     order.OrderID,
			}); err != nil {
				return nil, intakedomain.HandlerOutcome{}, err
			}
			credited = &account
		}
	case paymentdomain.EventTypePaymentFailed:
		status = paymentdomain.StatusFailed
	case paymentdomain.EventTypeRefunded:
		status = paymentdomain.StatusRefunded
	}

	if status != "" {
		payment.Status = status
		order.Status = status
		if err := s.repo.UpdateOrderStatus(ctx, tx, order.ID, status, now); err != nil {
			return nil, intakedomain.HandlerOutcome{}, err
		}
		if _, err := s.lago.PaymentTx(ctx, tx, lago.PaymentEvent{
			EventType:     event.EventType,
			Provider:      providerName,
			ProviderTxnID: event.ProviderTxnID,
			OrderID:       order.OrderID,
			AmountCents:   amount,
			Currency:      currency,
			Status:        string(status),
			RequestID:     event.EventID,
			Account:       order.Account(),
		}); err != nil {
			return nil, intakedomain.HandlerOutcome{}, err
		}
	}
	payment.UpdatedAt = now
	if err := s.repo.UpdatePayment(ctx, tx, payment); err != nil {
		return nil, intakedomain.HandlerOutcome{}, err
	}

	return credited, intakedomain.HandlerOutcome{
		EntityType: entityTypeOrder,
		EntityID:   order.ID,
		Status:     string(order.Status),
		Linked:     true,
	}, nil
}

// Refund calls the provider before touching the ledger. The local refund
// row, status changes and wallet debit then commit together.
func (s *Service) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResponse, error) {
	provider, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	if req.AmountCents < 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	order, payment, err := s.findPayment(ctx, s.db, provider.Name(), req.ProviderTxnID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if payment.Status == paymentdomain.StatusRefunded {
		return &paymentdomain.RefundResponse{Result: paymentdomain.RefundResult{OK: true}, AlreadyRefunded: true}, nil
	}
	amount := req.AmountCents
	if amount == 0 {
		amount = payment.AmountCents
	}
	if amount > payment.AmountCents {
		return nil, paymentdomain.ErrInvalidAmount
	}

	txnID := ""
	if payment.ProviderTxnID != nil {
		txnID = *payment.ProviderTxnID
	}
	res, err := provider.Refund(ctx, txnID, req.AmountCents, req.Reason)
	if err != nil {
		return nil, err
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("provider", provider.Name()),
		zap.String("order_id", order.OrderID),
	)
	if !res.OK {
		log.Warn("payment.refund_rejected", zap.String("error", res.Error))
		return &paymentdomain.RefundResponse{Result: res}, nil
	}

	resp := &paymentdomain.RefundResponse{Result: res}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockPayment(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if locked.Status == paymentdomain.StatusRefunded {
			resp.AlreadyRefunded = true
			return nil
		}

		now := s.clock.Now()
		refund := &paymentdomain.Refund{
			ID:          s.genID.Generate(),
			PaymentID:   locked.ID,
			AmountCents: amount,
			Status:      paymentdomain.StatusSucceeded,
			Reason:      strings.TrimSpace(req.Reason),
			CreatedAt:   now,
		}
		if res.ProviderRefundID != "" {
			refundID := res.ProviderRefundID
			refund.ProviderRefundID = &refundID
		}
		if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
			return err
		}
		locked.Status = paymentdomain.StatusRefunded
		locked.UpdatedAt = now
		if err := s.repo.UpdatePayment(ctx, tx, locked); err != nil {
			return err
		}
		if err := s.repo.UpdateOrderStatus(ctx, tx, order.ID, paymentdomain.StatusRefunded, now); err != nil {
			return err
		}
		if _, err := s.ledgerSvc.DebitTx(ctx, tx, ledgerdomain.DebitRequest{
			Account:     order.Account(),
			Currency:    locked.Currency,
			AmountCents: amount,
			Reason:      ledgerdomain.ReasonRefund,
			Meta: map[string]any{
				"provider":           provider.Name(),
				"order_id":           order.OrderID,
				"provider_refund_id": res.ProviderRefundID,
			},
		}); err != nil {
			return err
		}
		if _, err := s.lago.PaymentTx(ctx, tx, lago.PaymentEvent{
			EventType:     paymentdomain.EventTypeRefunded,
			Provider:      provider.Name(),
			ProviderTxnID: txnID,
			OrderID:       order.OrderID,
			AmountCents:   amount,
			Currency:      locked.Currency,
			Status:        string(paymentdomain.StatusRefunded),
			Account:       order.Account(),
		}); err != nil {
			return err
		}
		resp.Refund = refund
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("payment.refund", zap.Int64("amount_cents", amount), zap.Bool("already_refunded", resp.AlreadyRefunded))
	return resp, nil
}

// Status reports the local record, when one exists, next to the provider's view.
func (s *Service) Status(ctx context.Context, req paymentdomain.StatusRequest) (*paymentdomain.StatusResponse, error) {
	provider, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	resp := &paymentdomain.StatusResponse{}
	txnID := strings.TrimSpace(req.ProviderTxnID)
	order, payment, err := s.findPayment(ctx, s.db, provider.Name(), txnID, req.OrderID)
	switch {
	case err == nil:
		resp.Local = &paymentdomain.LocalStatus{
			OrderID:       order.OrderID,
			OrderStatus:   order.Status,
			PaymentStatus: payment.Status,
			ProviderTxnID: payment.ProviderTxnID,
		}
		if payment.ProviderTxnID != nil {
			txnID = *payment.ProviderTxnID
		}
	case errors.Is(err, paymentdomain.ErrPaymentNotFound), errors.Is(err, paymentdomain.ErrInvalidLookup):
	default:
		return nil, err
	}
	if txnID == "" {
		return nil, paymentdomain.ErrInvalidLookup
	}

	remote, err := provider.Query(ctx, txnID)
	if err != nil {
		return nil, err
	}
	resp.Provider = remote
	return resp, nil
}

func (s *Service) findPayment(ctx context.Context, tx *gorm.DB, providerName, txnID, orderID string) (*paymentdomain.Order, *paymentdomain.Payment, error) {
	txnID = strings.TrimSpace(txnID)
	orderID = strings.TrimSpace(orderID)
	if txnID == "" && orderID == "" {
		return nil, nil, paymentdomain.ErrInvalidLookup
	}

	if txnID != "" {
		payment, err := s.repo.FindPaymentByTxnID(ctx, tx, providerName, txnID)
		if err != nil {
			return nil, nil, err
		}
		if payment != nil {
			order, err := s.repo.FindOrderByID(ctx, tx, payment.OrderRef)
			if err != nil {
				return nil, nil, err
			}
			if order != nil {
				return order, payment, nil
			}
		}
	}
	if orderID != "" {
		order, err := s.repo.FindOrderByOrderID(ctx, tx, orderID)
		if err != nil {
			return nil, nil, err
		}
		if order != nil && order.Provider == providerName {
			payment, err := s.repo.FindEffectivePayment(ctx, tx, order.ID, providerName)
			if err != nil {
				return nil, nil, err
			}
			if payment != nil {
				return order, payment, nil
			}
		}
	}
	return nil, nil, paymentdomain.ErrPaymentNotFound
}
