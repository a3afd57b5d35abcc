package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/meterguard/internal/ledger/service"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	planservice "github.com/smallbiznis/meterguard/internal/plan/service"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
	pricingservice "github.com/smallbiznis/meterguard/internal/pricing/service"
	quotadomain "github.com/smallbiznis/meterguard/internal/quota/domain"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc     quotadomain.Service
	ledger  ledgerdomain.Service
	plans   plandomain.Service
	pricing pricingdomain.Service
	clk     *clock.FakeClock
	account accountdomain.Account
}

func newFixture(t *testing.T, cfg config.QuotaConfig) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	// 12:00 at UTC+8, so the day window opened at 2026-03-09T16:00Z.
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	planSvc := planservice.NewService(planservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	pricingSvc := pricingservice.NewService(pricingservice.Params{DB: db, Log: log, GenID: node, PlanSvc: planSvc, Clock: clk})
	svc := NewService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		PlanSvc:   planSvc,
		LedgerSvc: ledgerSvc,
		Pricing:   pricingSvc,
		QuotaCfg:  config.NewStaticQuotaConfigHolder(cfg),
		Clock:     clk,
	})
	return &fixture{
		svc:     svc,
		ledger:  ledgerSvc,
		plans:   planSvc,
		pricing: pricingSvc,
		clk:     clk,
		account: accountdomain.UserAccount(node.Generate()),
	}
}

func (f *fixture) assignDailyLimit(t *testing.T, limitCents int64, policy plandomain.OverflowPolicy) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	plan, err := f.plans.CreatePlan(ctx, plandomain.CreatePlanRequest{
		Name:     fmt.Sprintf("Daily %s", policy),
		Type:     plandomain.PlanTypeDailyLimit,
		Currency: "USD",
	})
	require.NoError(t, err)
	_, err = f.plans.UpsertDailyLimit(ctx, plandomain.UpsertDailyLimitRequest{
		PlanID:         plan.ID,
		LimitCents:     limitCents,
		OverflowPolicy: policy,
		ResetTime:      "00:00",
		Timezone:       "UTC+8",
	})
	require.NoError(t, err)
	_, err = f.plans.Assign(ctx, plandomain.AssignRequest{Account: f.account, PlanID: plan.ID})
	require.NoError(t, err)
	return plan.ID
}

func (f *fixture) settle(t *testing.T, cents int64, requestID string) *quotadomain.Settlement {
	t.Helper()
	out, err := f.svc.Settle(context.Background(), quotadomain.SettleRequest{
		Account:       f.account,
		Model:         "gpt-4o",
		Unit:          pricingdomain.UnitToken,
		Tokens:        pricingdomain.Tokens{Input: 1000, Output: 500},
		FinalCents:    cents,
		CorrelationID: requestID,
		Success:       true,
	})
	require.NoError(t, err)
	return out
}

func TestCheckUnlimitedWithoutPlan(t *testing.T) {
	f := newFixture(t, config.DefaultQuotaConfig())

	decision, err := f.svc.Check(context.Background(), quotadomain.CheckRequest{Account: f.account, AmountCents: 1_000_000})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Unlimited)
	assert.Equal(t, quotadomain.ReasonUnlimited, decision.Reason)

	settlement := f.settle(t, 500, "")
	assert.True(t, settlement.Unlimited)
	assert.Equal(t, int64(500), settlement.ChargedCents)
	assert.Nil(t, settlement.AlertID)
}

func TestOverflowByPolicy(t *testing.T) {
	cases := []struct {
		policy       plandomain.OverflowPolicy
		allowed      bool
		reason       quotadomain.Reason
		blocked      bool
		wantFallback string
	}{
		{policy: plandomain.OverflowPolicyBlock, allowed: false, reason: quotadomain.ReasonLimitExceeded, blocked: true},
		{policy: plandomain.OverflowPolicyGrace, allowed: true, reason: quotadomain.ReasonGraceOverflow},
		{policy: plandomain.OverflowPolicyDegrade, allowed: true, reason: quotadomain.ReasonDegraded, wantFallback: "gpt-4o-mini"},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			cfg := config.DefaultQuotaConfig()
			cfg.Degrade.Mapping = "gpt-4o*->gpt-4o-mini,claude-*->claude-haiku"
			f := newFixture(t, cfg)
			f.assignDailyLimit(t, 1000, tc.policy)
			ctx := context.Background()

			first := f.settle(t, 900, "req-1")
			assert.Equal(t, int64(900), first.ChargedCents)
			assert.False(t, first.Capped)
			assert.Equal(t, int64(1000), first.RemainingBeforeCents)

			decision, err := f.svc.Check(ctx, quotadomain.CheckRequest{Account: f.account, AmountCents: 300, Model: "gpt-4o"})
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, decision.Allowed)
			assert.Equal(t, tc.reason, decision.Reason)
			assert.Equal(t, int64(100), decision.RemainingBeforeCents)
			assert.Equal(t, int64(900), decision.SpentCents)
			assert.Equal(t, tc.wantFallback, decision.FallbackModel)
			assert.Equal(t, time.Date(2026, 3, 9, 16, 0, 0, 0, time.UTC), decision.Window.Start)

			second := f.settle(t, 300, "req-2")
			assert.Equal(t, int64(100), second.ChargedCents)
			assert.Equal(t, int64(300), second.FinalCents)
			assert.True(t, second.Capped)
			assert.Equal(t, tc.blocked, second.Blocked)
			assert.Equal(t, int64(100), second.RemainingBeforeCents)
			require.NotNil(t, second.AlertID)

			spent, err := f.ledger.SpentInWindow(ctx, f.account, decision.Window.Start, decision.Window.End)
			require.NoError(t, err)
			assert.Equal(t, int64(1000), spent)

			alerts, err := f.svc.ListAlerts(ctx, f.account, 10)
			require.NoError(t, err)
			require.Len(t, alerts, 1)
			assert.Equal(t, int64(300), alerts[0].FinalAmountCents)
			assert.Equal(t, int64(100), alerts[0].ChargedAmountCents)
			assert.Equal(t, tc.policy, alerts[0].OverflowPolicy)

			third := f.settle(t, 50, "req-3")
			assert.Zero(t, third.ChargedCents)
			assert.True(t, third.Capped)
		})
	}
}

func TestSettleDuplicateRequestChargesOnce(t *testing.T) {
	f := newFixture(t, config.DefaultQuotaConfig())
	f.assignDailyLimit(t, 1000, plandomain.OverflowPolicyBlock)

	first := f.settle(t, 120, "dup-1")
	second := f.settle(t, 120, "dup-1")
	require.NotNil(t, second.Usage)
	assert.True(t, second.Usage.Duplicate)
	assert.Equal(t, first.Usage.Record.ID, second.Usage.Record.ID)

	balance, err := f.ledger.Balance(context.Background(), f.account, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(-120), balance)
}

func TestConcurrentSettleNeverExceedsLimit(t *testing.T) {
	f := newFixture(t, config.DefaultQuotaConfig())
	f.assignDailyLimit(t, 1000, plandomain.OverflowPolicyGrace)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Settle(ctx, quotadomain.SettleRequest{
				Account:       f.account,
				Model:         "gpt-4o",
				FinalCents:    300,
				CorrelationID: fmt.Sprintf("c-%d", i),
				Success:       true,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	start := time.Date(2026, 3, 9, 16, 0, 0, 0, time.UTC)
	spent, err := f.ledger.SpentInWindow(ctx, f.account, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), spent)
}

func TestWindowResetRestoresHeadroom(t *testing.T) {
	f := newFixture(t, config.DefaultQuotaConfig())
	f.assignDailyLimit(t, 1000, plandomain.OverflowPolicyBlock)
	ctx := context.Background()

	f.settle(t, 1000, "")
	decision, err := f.svc.Check(ctx, quotadomain.CheckRequest{Account: f.account, AmountCents: 1})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	// 2026-03-10T16:00Z is midnight at UTC+8.
	f.clk.Set(time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC))
	decision, err = f.svc.Check(ctx, quotadomain.CheckRequest{Account: f.account, AmountCents: 1})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Zero(t, decision.SpentCents)
}

func TestGateOnNegativeBalance(t *testing.T) {
	cfg := config.DefaultQuotaConfig()
	cfg.Overdraft.GatingEnabled = true
	cfg.Overdraft.GatingMode = config.GatingModeDegrade
	cfg.Degrade.Mapping = "gpt-4o->gpt-4o-mini"
	f := newFixture(t, cfg)
	ctx := context.Background()

	gate, err := f.svc.Gate(ctx, f.account, "gpt-4o")
	require.NoError(t, err)
	assert.True(t, gate.Allowed)
	assert.Empty(t, gate.FallbackModel)

	f.settle(t, 10, "")
	gate, err = f.svc.Gate(ctx, f.account, "gpt-4o")
	require.NoError(t, err)
	assert.True(t, gate.Allowed)
	assert.Equal(t, quotadomain.ReasonOverdraft, gate.Reason)
	assert.Equal(t, "gpt-4o-mini", gate.FallbackModel)
	assert.Equal(t, int64(-10), gate.BalanceCents)
}

func TestGateBlockMode(t *testing.T) {
	cfg := config.DefaultQuotaConfig()
	cfg.Overdraft.GatingEnabled = true
	f := newFixture(t, cfg)

	f.settle(t, 10, "")
	gate, err := f.svc.Gate(context.Background(), f.account, "gpt-4o")
	require.NoError(t, err)
	assert.False(t, gate.Allowed)
	assert.Equal(t, quotadomain.ReasonOverdraft, gate.Reason)
}

func TestDegradeMapping(t *testing.T) {
	m := quotadomain.ParseDegradeMapping("gpt-4*->gpt-4o-mini, bad, *-opus->sonnet", "fallback")
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "gpt-4o-mini", m.Map("gpt-4-turbo"))
	assert.Equal(t, "sonnet", m.Map("claude-opus"))
	assert.Equal(t, "fallback", m.Map("llama"))
}

func TestSettleChargesResolverPrice(t *testing.T) {
	f := newFixture(t, config.DefaultQuotaConfig())
	planID := f.assignDailyLimit(t, 10_000, plandomain.OverflowPolicyGrace)
	mult := decimal.RequireFromString("2.0")
	rule, err := f.pricing.AddRule(context.Background(), pricingdomain.AddRuleRequest{
		PlanID:             planID,
		ModelPattern:       "gpt-4*",
		Unit:               pricingdomain.UnitToken,
		UnitBasePriceCents: 100,
		PriceMultiplier:    &mult,
	})
	require.NoError(t, err)

	// 1500 tokens at 100c per 1k x 2.0; the caller's own figure is ignored.
	settlement := f.settle(t, 0, "priced-1")
	assert.True(t, settlement.Priced)
	assert.Equal(t, int64(300), settlement.FinalCents)
	assert.Equal(t, int64(300), settlement.ChargedCents)
	assert.Equal(t, int64(0), settlement.ReportedCents)
	require.NotNil(t, settlement.PriceRuleID)
	assert.Equal(t, rule.ID, *settlement.PriceRuleID)
	require.NotNil(t, settlement.Usage.Record.PriceRuleID)
	assert.Equal(t, rule.ID, *settlement.Usage.Record.PriceRuleID)
	assert.Equal(t, int64(300), settlement.Usage.Record.ComputedAmountCents)

	settlement = f.settle(t, 999, "priced-2")
	assert.Equal(t, int64(300), settlement.ChargedCents)
	assert.Equal(t, int64(999), settlement.ReportedCents)

	balance, err := f.ledger.Balance(context.Background(), f.account, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(-600), balance)
}

func TestSettleUnpricedModelUsesReportedCents(t *testing.T) {
	f := newFixture(t, config.DefaultQuotaConfig())
	planID := f.assignDailyLimit(t, 10_000, plandomain.OverflowPolicyGrace)
	_, err := f.pricing.AddRule(context.Background(), pricingdomain.AddRuleRequest{
		PlanID:             planID,
		ModelPattern:       "claude-*",
		UnitBasePriceCents: 100,
	})
	require.NoError(t, err)

	settlement := f.settle(t, 42, "unpriced-1")
	assert.False(t, settlement.Priced)
	assert.Nil(t, settlement.PriceRuleID)
	assert.Equal(t, int64(42), settlement.ChargedCents)
	assert.Nil(t, settlement.Usage.Record.PriceRuleID)
}

func TestResolverPriceDrivesOverflow(t *testing.T) {
	f := newFixture(t, config.DefaultQuotaConfig())
	planID := f.assignDailyLimit(t, 200, plandomain.OverflowPolicyGrace)
	_, err := f.pricing.AddRule(context.Background(), pricingdomain.AddRuleRequest{
		PlanID:             planID,
		ModelPattern:       "gpt-4o",
		UnitBasePriceCents: 200,
	})
	require.NoError(t, err)

	// 1500 tokens at 200c per 1k = 300 > 200 remaining, even though the caller reported 1.
	settlement := f.settle(t, 1, "overflow-1")
	assert.Equal(t, int64(300), settlement.FinalCents)
	assert.Equal(t, int64(200), settlement.ChargedCents)
	assert.True(t, settlement.Capped)
	require.NotNil(t, settlement.AlertID)
}
