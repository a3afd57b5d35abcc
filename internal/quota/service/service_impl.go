package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/lago"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
	quotadomain "github.com/smallbiznis/meterguard/internal/quota/domain"
	"github.com/smallbiznis/meterguard/internal/quota/repository"
	"github.com/smallbiznis/meterguard/internal/quota/window"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultCurrency  = "USD"
	defaultListLimit = 50
	maxListLimit     = 500
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	PlanSvc    plandomain.Service
	LedgerSvc  ledgerdomain.Service
	Pricing    pricingdomain.Service
	QuotaCfg   *config.QuotaConfigHolder `optional:"true"`
	Lago       *lago.Sink                `optional:"true"`
	Clock      clock.Clock               `optional:"true"`
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	planSvc    plandomain.Service
	ledgerSvc  ledgerdomain.Service
	pricing    pricingdomain.Service
	quotaCfg   *config.QuotaConfigHolder
	lago       *lago.Sink
	clock      clock.Clock
	repo       quotadomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) quotadomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("quota.service"),
		genID:      p.GenID,
		planSvc:    p.PlanSvc,
		ledgerSvc:  p.LedgerSvc,
		pricing:    p.Pricing,
		quotaCfg:   p.QuotaCfg,
		lago:       p.Lago,
		clock:      clock.OrSystem(p.Clock),
		repo:       repository.Provide(),
		obsMetrics: p.ObsMetrics,
	}
}

// Check answers whether a call estimated at AmountCents may proceed. It reads
// without locking; Settle re-derives the numbers under the wallet lock.
func (s *Service) Check(ctx context.Context, req quotadomain.CheckRequest) (quotadomain.Decision, error) {
	account := req.Account.Normalize()
	if err := account.Validate(); err != nil {
		return quotadomain.Decision{}, quotadomain.ErrInvalidAccount
	}
	if req.AmountCents < 0 {
		return quotadomain.Decision{}, quotadomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	limit, err := s.dailyLimit(ctx, account, now)
	if err != nil {
		return quotadomain.Decision{}, err
	}
	if limit == nil {
		decision := quotadomain.Decision{Allowed: true, Unlimited: true, Reason: quotadomain.ReasonUnlimited}
		s.recordDecision(ctx, decision)
		return decision, nil
	}

	win, err := s.windowFor(now, limit.Limit)
	if err != nil {
		return quotadomain.Decision{}, err
	}
	spent, err := s.ledgerSvc.SpentInWindow(ctx, account, win.Start, win.End)
	if err != nil {
		return quotadomain.Decision{}, err
	}

	decision := evaluate(limit.Limit, spent, req.AmountCents)
	decision.Window = win
	if decision.Policy == plandomain.OverflowPolicyDegrade && decision.Reason == quotadomain.ReasonDegraded {
		decision.FallbackModel = s.degradeMapper().Map(req.Model)
	}
	s.recordDecision(ctx, decision)
	return decision, nil
}

// Settle charges a completed call. The wallet row lock serializes settlements
// per account, so spent is re-read consistently and overflow stays bounded.
func (s *Service) Settle(ctx context.Context, req quotadomain.SettleRequest) (*quotadomain.Settlement, error) {
	account := req.Account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, quotadomain.ErrInvalidAccount
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, quotadomain.ErrInvalidModel
	}
	if req.FinalCents < 0 {
		return nil, quotadomain.ErrInvalidAmount
	}
	unit := req.Unit
	if unit == "" {
		unit = pricingdomain.UnitToken
	}

	now := s.clock.Now()
	tokens := req.Tokens.Normalized()
	final, quote, err := s.finalCost(ctx, req, account, model, unit, now)
	if err != nil {
		return nil, err
	}
	limit, err := s.dailyLimit(ctx, account, now)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	var win window.Window
	if limit != nil {
		currency = limit.Plan.Currency
		if win, err = s.windowFor(now, limit.Limit); err != nil {
			return nil, err
		}
	}
	if quote.Priced && quote.Currency != "" {
		currency = quote.Currency
	}
	if currency == "" {
		currency = defaultCurrency
	}

	var out *quotadomain.Settlement
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledgerSvc.LockWalletTx(ctx, tx, account, currency); err != nil {
			return err
		}

		settlement := &quotadomain.Settlement{
			FinalCents:    final,
			ChargedCents:  final,
			ReportedCents: req.FinalCents,
			Priced:        quote.Priced,
		}
		var ruleID *snowflake.ID
		if quote.Rule != nil {
			id := quote.Rule.ID
			ruleID = &id
			settlement.PriceRuleID = ruleID
		}
		if limit == nil {
			settlement.Unlimited = true
		} else {
			spent, err := s.ledgerSvc.SpentInWindowTx(ctx, tx, account, win.Start, win.End)
			if err != nil {
				return err
			}
			remaining := limit.Limit.LimitCents - spent
			settlement.Policy = limit.Limit.OverflowPolicy
			settlement.RemainingBeforeCents = remaining
			if final > remaining {
				settlement.ChargedCents = min(final, max(remaining, 0))
				settlement.Capped = settlement.ChargedCents < final
				settlement.Blocked = limit.Limit.OverflowPolicy == plandomain.OverflowPolicyBlock
			}
		}

		meta := map[string]any{
			"final_cents":    final,
			"reported_cents": req.FinalCents,
			"priced":         quote.Priced,
		}
		for k, v := range req.Meta {
			meta[k] = v
		}
		usage, err := s.ledgerSvc.RecordUsageTx(ctx, tx, ledgerdomain.UsageRequest{
			Account:       account,
			Model:         model,
			Unit:          string(unit),
			InputTokens:   tokens.Input,
			OutputTokens:  tokens.Output,
			TotalTokens:   tokens.Total,
			AmountCents:   settlement.ChargedCents,
			PriceRuleID:   ruleID,
			Currency:      currency,
			Success:       req.Success,
			CorrelationID: req.CorrelationID,
			Meta:          meta,
		})
		if err != nil {
			return err
		}
		settlement.Usage = usage
		if usage.Duplicate {
			settlement.ChargedCents = usage.Record.ComputedAmountCents
			settlement.Capped = false
			settlement.Blocked = false
			out = settlement
			return nil
		}

		if limit != nil && final > settlement.RemainingBeforeCents {
			alert := &quotadomain.OverdraftAlert{
				ID:                   s.genID.Generate(),
				EntityType:           account.EntityType,
				EntityID:             account.EntityID,
				Model:                model,
				RequestID:            usage.Record.RequestID,
				OverflowPolicy:       settlement.Policy,
				FinalAmountCents:     final,
				ChargedAmountCents:   settlement.ChargedCents,
				RemainingBeforeCents: settlement.RemainingBeforeCents,
				CreatedAt:            now,
			}
			if err := s.repo.InsertAlert(ctx, tx, alert); err != nil {
				return err
			}
			settlement.AlertID = &alert.ID
		}

		event := lago.UsageEvent{
			Account:     account,
			Model:       model,
			Unit:        string(unit),
			Tokens:      lago.Tokens{Total: tokens.Total, Input: tokens.Input, Output: tokens.Output},
			PriceRuleID: ruleID,
			AmountCents: settlement.ChargedCents,
			Currency:    currency,
			OccurredAt:  now,
			RequestID:   req.CorrelationID,
			Success:     req.Success,
			Meta:        map[string]any{"usage_record_id": usage.Record.ID.String()},
		}
		if quote.Rule != nil {
			base := quote.Rule.UnitBasePriceCents
			event.UnitBasePriceCents = &base
			if quote.Rule.PriceMultiplier.Valid {
				mult := quote.Rule.PriceMultiplier.Decimal.InexactFloat64()
				event.PriceMultiplier = &mult
			}
		}
		if _, err := s.lago.UsageTx(ctx, tx, event); err != nil {
			return err
		}
		out = settlement
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := obslogger.WithContext(ctx, s.log)
	if out.Usage != nil && out.Usage.Duplicate {
		log.Info("quota.settle_duplicate", zap.String("account", account.Key()), zap.String("request_id", req.CorrelationID))
		return out, nil
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsage(ctx, model, out.ChargedCents)
	}
	if out.AlertID != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordOverdraft(ctx, string(out.Policy), out.FinalCents-out.ChargedCents)
		}
		log.Warn("quota.overdraft",
			zap.String("account", account.Key()),
			zap.String("policy", string(out.Policy)),
			zap.Int64("final_cents", out.FinalCents),
			zap.Int64("charged_cents", out.ChargedCents),
			zap.Int64("remaining_before_cents", out.RemainingBeforeCents),
		)
	}
	return out, nil
}

// finalCost prices the call through the resolver. Unpriced calls (no plan or
// no matching rule) fall back to the amount the caller measured.
func (s *Service) finalCost(ctx context.Context, req quotadomain.SettleRequest, account accountdomain.Account, model string, unit pricingdomain.Unit, at time.Time) (int64, pricingdomain.Quote, error) {
	if s.pricing == nil {
		return req.FinalCents, pricingdomain.Quote{}, nil
	}
	quote, err := s.pricing.Quote(ctx, pricingdomain.QuoteRequest{
		Account: account,
		Model:   model,
		Unit:    unit,
		Tokens:  req.Tokens,
		At:      at,
	})
	if err != nil {
		return 0, pricingdomain.Quote{}, err
	}
	if !quote.Priced {
		obslogger.WithContext(ctx, s.log).Debug("quota.settle_unpriced",
			zap.String("account", account.Key()),
			zap.String("model", model),
			zap.Int64("reported_cents", req.FinalCents),
		)
		return req.FinalCents, quote, nil
	}
	return quote.AmountCents, quote, nil
}

// Gate rejects or degrades the next request of an account whose wallet is
// already below zero.
func (s *Service) Gate(ctx context.Context, account accountdomain.Account, model string) (quotadomain.GateDecision, error) {
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return quotadomain.GateDecision{}, quotadomain.ErrInvalidAccount
	}
	cfg := s.config()
	if !cfg.Overdraft.GatingEnabled {
		return quotadomain.GateDecision{Allowed: true, Reason: quotadomain.ReasonGatingOff}, nil
	}

	currency, err := s.currencyFor(ctx, account, s.clock.Now())
	if err != nil {
		return quotadomain.GateDecision{}, err
	}
	balance, err := s.ledgerSvc.Balance(ctx, account, currency)
	if err != nil {
		return quotadomain.GateDecision{}, err
	}
	if balance >= 0 {
		return quotadomain.GateDecision{Allowed: true, Reason: quotadomain.ReasonWithinLimit, BalanceCents: balance}, nil
	}

	decision := quotadomain.GateDecision{Reason: quotadomain.ReasonOverdraft, BalanceCents: balance}
	if cfg.Overdraft.GatingMode == config.GatingModeDegrade {
		decision.Allowed = true
		decision.FallbackModel = s.degradeMapper().Map(model)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordQuotaDecision(ctx, gateOutcome(decision), string(decision.Reason))
	}
	return decision, nil
}

func (s *Service) ListAlerts(ctx context.Context, account accountdomain.Account, limit int) ([]quotadomain.OverdraftAlert, error) {
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, quotadomain.ErrInvalidAccount
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListAlerts(ctx, s.db, account, nil, limit)
}

func (s *Service) dailyLimit(ctx context.Context, account accountdomain.Account, at time.Time) (*plandomain.DailyLimit, error) {
	limit, err := s.planSvc.DailyLimitFor(ctx, account, at)
	switch {
	case errors.Is(err, plandomain.ErrNoActiveAssignment), errors.Is(err, plandomain.ErrNoDailyLimit):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return limit, nil
}

func (s *Service) currencyFor(ctx context.Context, account accountdomain.Account, at time.Time) (string, error) {
	assignment, err := s.planSvc.EffectiveAssignment(ctx, account, at)
	if errors.Is(err, plandomain.ErrNoActiveAssignment) {
		return defaultCurrency, nil
	}
	if err != nil {
		return "", err
	}
	detail, err := s.planSvc.GetPlan(ctx, assignment.PlanID)
	if err != nil {
		return "", err
	}
	return detail.Plan.Currency, nil
}

func (s *Service) windowFor(now time.Time, limit plandomain.DailyLimitPlan) (window.Window, error) {
	cfg := s.config()
	tz := limit.Timezone
	if tz == "" {
		tz = cfg.Window.UTCOffset
	}
	reset := limit.ResetTime
	if reset == "" {
		reset = cfg.Window.ResetTime
	}
	return window.Resolve(now, tz, reset)
}

func (s *Service) config() config.QuotaConfig {
	if s.quotaCfg == nil {
		return config.DefaultQuotaConfig()
	}
	return s.quotaCfg.Get()
}

func (s *Service) degradeMapper() quotadomain.DegradeMapper {
	cfg := s.config()
	return quotadomain.ParseDegradeMapping(cfg.Degrade.Mapping, cfg.Degrade.DefaultModel)
}

func (s *Service) recordDecision(ctx context.Context, d quotadomain.Decision) {
	if s.obsMetrics == nil {
		return
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "rejected"
	}
	s.obsMetrics.RecordQuotaDecision(ctx, outcome, string(d.Reason))
}

func evaluate(limit plandomain.DailyLimitPlan, spent, add int64) quotadomain.Decision {
	remaining := limit.LimitCents - spent
	decision := quotadomain.Decision{
		Policy:               limit.OverflowPolicy,
		LimitCents:           limit.LimitCents,
		SpentCents:           spent,
		RemainingBeforeCents: remaining,
	}
	if spent+add <= limit.LimitCents {
		decision.Allowed = true
		decision.Reason = quotadomain.ReasonWithinLimit
		return decision
	}
	switch limit.OverflowPolicy {
	case plandomain.OverflowPolicyGrace:
		decision.Allowed = true
		decision.Reason = quotadomain.ReasonGraceOverflow
	case plandomain.OverflowPolicyDegrade:
		decision.Allowed = true
		decision.Reason = quotadomain.ReasonDegraded
	default:
		decision.Reason = quotadomain.ReasonLimitExceeded
	}
	return decision
}

func gateOutcome(d quotadomain.GateDecision) string {
	switch {
	case !d.Allowed:
		return "rejected"
	case d.FallbackModel != "":
		return "degraded"
	default:
		return "allowed"
	}
}
