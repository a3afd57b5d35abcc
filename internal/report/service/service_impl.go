package service

import (
	"context"
	"errors"
	"strings"
	"time"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	quotadomain "github.com/smallbiznis/meterguard/internal/quota/domain"
	"github.com/smallbiznis/meterguard/internal/quota/window"
	reportdomain "github.com/smallbiznis/meterguard/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultCurrency = "USD"

type Params struct {
	fx.In

	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	PlanSvc   plandomain.Service
	QuotaSvc  quotadomain.Service
	QuotaCfg  *config.QuotaConfigHolder `optional:"true"`
	Clock     clock.Clock               `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	ledgerSvc ledgerdomain.Service
	planSvc   plandomain.Service
	quotaSvc  quotadomain.Service
	quotaCfg  *config.QuotaConfigHolder
	clock     clock.Clock
}

func NewService(p Params) reportdomain.Service {
	return &Service{
		log:       p.Log.Named("report.service"),
		ledgerSvc: p.LedgerSvc,
		planSvc:   p.PlanSvc,
		quotaSvc:  p.QuotaSvc,
		quotaCfg:  p.QuotaCfg,
		clock:     clock.OrSystem(p.Clock),
	}
}

// DailyTotals returns one row per day window, oldest first, ending with the
// window that contains now.
func (s *Service) DailyTotals(ctx context.Context, account accountdomain.Account, days int, now time.Time) ([]reportdomain.DayTotal, error) {
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if days < reportdomain.MinDays || days > reportdomain.MaxDays {
		return nil, reportdomain.ErrInvalidDays
	}
	if now.IsZero() {
		now = s.clock.Now()
	}

	windows, err := s.windows(ctx, account, now, days)
	if err != nil {
		return nil, err
	}
	out := make([]reportdomain.DayTotal, 0, len(windows))
	for _, w := range windows {
		totals, err := s.ledgerSvc.UsageTotals(ctx, account, "", w.Start, w.End)
		if err != nil {
			return nil, err
		}
		out = append(out, reportdomain.DayTotal{
			Start:       w.Start,
			End:         w.End,
			AmountCents: totals.AmountCents,
			TotalTokens: totals.TotalTokens,
			Requests:    totals.Count,
		})
	}
	return out, nil
}

func (s *Service) Summary(ctx context.Context, account accountdomain.Account, days int) (reportdomain.Summary, error) {
	now := s.clock.Now()
	daily, err := s.DailyTotals(ctx, account, days, now)
	if err != nil {
		return reportdomain.Summary{}, err
	}
	account = account.Normalize()

	summary := reportdomain.Summary{Days: days, Currency: defaultCurrency, Unlimited: true}
	for _, d := range daily {
		summary.AmountCents += d.AmountCents
		summary.TotalTokens += d.TotalTokens
		summary.Requests += d.Requests
	}
	if len(daily) > 0 {
		summary.TodayCents = daily[len(daily)-1].AmountCents
	}

	limit, err := s.planSvc.DailyLimitFor(ctx, account, now)
	switch {
	case err == nil:
		cents := limit.Limit.LimitCents
		summary.DailyLimitCents = &cents
		summary.Unlimited = false
		if c := strings.TrimSpace(limit.Plan.Currency); c != "" {
			summary.Currency = c
		}
	case errors.Is(err, plandomain.ErrNoActiveAssignment), errors.Is(err, plandomain.ErrNoDailyLimit):
	default:
		return reportdomain.Summary{}, err
	}

	balance, err := s.ledgerSvc.Balance(ctx, account, summary.Currency)
	if err != nil {
		return reportdomain.Summary{}, err
	}
	summary.BalanceCents = balance
	return summary, nil
}

func (s *Service) Overdrafts(ctx context.Context, account accountdomain.Account, limit int) ([]quotadomain.OverdraftAlert, error) {
	return s.quotaSvc.ListAlerts(ctx, account, limit)
}

// windows follows the account's plan reset time and timezone when it has a
// daily limit, and the quota config otherwise.
func (s *Service) windows(ctx context.Context, account accountdomain.Account, now time.Time, days int) ([]window.Window, error) {
	cfg := s.quotaCfg.Get()
	tz, reset := cfg.Window.UTCOffset, cfg.Window.ResetTime

	limit, err := s.planSvc.DailyLimitFor(ctx, account, now)
	switch {
	case err == nil:
		if v := strings.TrimSpace(limit.Limit.Timezone); v != "" {
			tz = v
		}
		if v := strings.TrimSpace(limit.Limit.ResetTime); v != "" {
			reset = v
		}
	case errors.Is(err, plandomain.ErrNoActiveAssignment), errors.Is(err, plandomain.ErrNoDailyLimit):
	default:
		return nil, err
	}

	offset, err := window.ParseUTCOffset(tz)
	if err != nil {
		return nil, err
	}
	resetAt, err := window.ParseResetTime(reset)
	if err != nil {
		return nil, err
	}
	return window.Days(now, offset, resetAt, days), nil
}
