package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	"github.com/smallbiznis/meterguard/internal/payment/adapters/stripe"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
	"github.com/smallbiznis/meterguard/internal/subscription/repository"
	"github.com/smallbiznis/meterguard/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	providerStripe     = "stripe"
	entitySubscription = "subscription"
	eventPrefix        = "customer.subscription."
	defaultListLimit   = 50
	maxListLimit       = 500
)

var statusMapping = intakedomain.StatusMapping{
	ByEventType: map[string]string{
		"customer.subscription.deleted": string(subscriptiondomain.StatusCanceled),
	},
	ByStatus: map[string]string{
		"active":             string(subscriptiondomain.StatusActive),
		"trialing":           string(subscriptiondomain.StatusActive),
		"past_due":           string(subscriptiondomain.StatusPaused),
		"unpaid":             string(subscriptiondomain.StatusPaused),
		"incomplete":         string(subscriptiondomain.StatusPaused),
		"incomplete_expired": string(subscriptiondomain.StatusCanceled),
		"canceled":           string(subscriptiondomain.StatusCanceled),
	},
	Default: string(subscriptiondomain.StatusActive),
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Cfg     config.Config
	PlanSvc plandomain.Service
	Intake  intakedomain.Service
	Billing *stripe.Billing `optional:"true"`
	Clock   clock.Clock     `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	planSvc  plandomain.Service
	intake   intakedomain.Service
	verifier *stripe.WebhookVerifier
	billing  *stripe.Billing
	clock    clock.Clock
	repo     subscriptiondomain.Repository
}

func NewService(p Params) subscriptiondomain.Service {
	clk := clock.OrSystem(p.Clock)
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		planSvc:  p.PlanSvc,
		intake:   p.Intake,
		verifier: stripe.NewWebhookVerifier(p.Cfg.Stripe, clk),
		billing:  p.Billing,
		clock:    clk,
		repo:     repository.Provide(),
	}
}

// CreateCustomer returns the existing customer when the account already has one.
func (s *Service) CreateCustomer(ctx context.Context, req subscriptiondomain.CreateCustomerRequest) (*subscriptiondomain.Customer, error) {
	account := req.Account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindCustomerByAccount(ctx, s.db, account)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	customer := &subscriptiondomain.Customer{
		ID:               s.genID.Generate(),
		EntityType:       account.EntityType,
		EntityID:         account.EntityID,
		Name:             optional(req.Name),
		Email:            optional(req.Email),
		StripeCustomerID: optional(req.StripeCustomerID),
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.InsertCustomer(ctx, s.db, customer); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.repo.FindCustomerByAccount(ctx, s.db, account)
		}
		return nil, err
	}
	return customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Customer, error) {
	customer, err := s.repo.FindCustomerByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, subscriptiondomain.ErrCustomerNotFound
	}
	return customer, nil
}

func (s *Service) CreateSubscription(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	if req.CustomerID == 0 {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	if _, err := s.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, err
	}
	if _, err := s.planSvc.GetPlan(ctx, req.PlanID); err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			return nil, subscriptiondomain.ErrInvalidPlan
		}
		return nil, err
	}

	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		ID:                   s.genID.Generate(),
		CustomerID:           req.CustomerID,
		PlanID:               req.PlanID,
		Status:               subscriptiondomain.StatusActive,
		StripeSubscriptionID: optional(req.StripeSubscriptionID),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.InsertSubscription(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) GetSubscription(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, req subscriptiondomain.ListSubscriptionsRequest) ([]subscriptiondomain.Subscription, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, subscriptiondomain.ErrInvalidStatus
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
	return s.repo.ListSubscriptions(ctx, s.db, req)
}

func (s *Service) UpdateStatus(ctx context.Context, id snowflake.ID, status subscriptiondomain.Status) (*subscriptiondomain.Subscription, error) {
	if !status.Valid() {
		return nil, subscriptiondomain.ErrInvalidStatus
	}
	sub, err := s.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, s.db, id, status, now); err != nil {
		return nil, err
	}
	sub.Status = status
	sub.UpdatedAt = now
	return sub, nil
}

// HandleStripeWebhook syncs the local status from customer.subscription.*
// events. An event for an unknown subscription is recorded as unlinked.
func (s *Service) HandleStripeWebhook(ctx context.Context, headers http.Header, body []byte) (intakedomain.Result, error) {
	event, err := s.verifier.Verify(headers, body)
	if err != nil {
		return intakedomain.Result{}, err
	}
	if !strings.HasPrefix(event.Type, eventPrefix) {
		return intakedomain.Result{}, subscriptiondomain.ErrNotSubscriptionEvent
	}

	var obj struct {
		ID              string          `json:"id"`
		Status          string          `json:"status"`
		PauseCollection json.RawMessage `json:"pause_collection"`
	}
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return intakedomain.Result{}, intakedomain.ErrInvalidPayload
	}
	status := subscriptiondomain.Status(ResolveStatus(event.Type, obj.Status, paused(obj.PauseCollection)))

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("stripe_subscription_id", obj.ID),
	)
	env := intakedomain.Envelope{
		Provider:        providerStripe,
		ExternalEventID: event.ID,
		EventType:       event.Type,
		Payload:         body,
	}
	result, err := s.intake.Ingest(ctx, env, func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		outcome := intakedomain.HandlerOutcome{Status: string(status)}
		if obj.ID == "" {
			return outcome, nil
		}
		sub, err := s.repo.FindSubscriptionByStripeID(ctx, tx, obj.ID)
		if err != nil {
			return outcome, err
		}
		if sub == nil {
			log.Warn("subscription.webhook.no_subscription")
			return outcome, nil
		}
		if err := s.repo.UpdateStatus(ctx, tx, sub.ID, status, s.clock.Now()); err != nil {
			return outcome, err
		}
		log.Info("subscription.webhook.handled",
			zap.String("prev_status", string(sub.Status)),
			zap.String("status", string(status)),
		)
		outcome.EntityType = entitySubscription
		outcome.EntityID = sub.ID
		outcome.Linked = true
		return outcome, nil
	})
	if err != nil {
		return intakedomain.Result{}, err
	}
	return result, nil
}

// ResolveStatus maps a Stripe subscription event to a local status. A
// deletion always cancels; otherwise pause_collection wins over the status.
func ResolveStatus(eventType, stripeStatus string, isPaused bool) string {
	if _, ok := statusMapping.ByEventType[eventType]; ok {
		return statusMapping.Resolve(eventType, stripeStatus)
	}
	if isPaused {
		return string(subscriptiondomain.StatusPaused)
	}
	return statusMapping.Resolve(eventType, stripeStatus)
}

func paused(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null" && v != "{}"
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
