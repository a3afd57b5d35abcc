package service

import (
	"context"
	"testing"
	"time"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/meterguard/internal/ledger/service"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	planservice "github.com/smallbiznis/meterguard/internal/plan/service"
	quotaservice "github.com/smallbiznis/meterguard/internal/quota/service"
	reportdomain "github.com/smallbiznis/meterguard/internal/report/domain"
	"github.com/smallbiznis/meterguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var reportNow = time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)

type reportHarness struct {
	svc     reportdomain.Service
	ledger  ledgerdomain.Service
	plans   plandomain.Service
	clk     *clock.FakeClock
	account accountdomain.Account
}

func setupReports(t *testing.T) *reportHarness {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(reportNow)
	quotaCfg := config.NewStaticQuotaConfigHolder(config.DefaultQuotaConfig())

	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	plans := planservice.NewService(planservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	quota := quotaservice.NewService(quotaservice.Params{
		DB: db, Log: log, GenID: node,
		PlanSvc: plans, LedgerSvc: ledger, QuotaCfg: quotaCfg, Clock: clk,
	})
	svc := NewService(Params{
		Log:       log,
		LedgerSvc: ledger,
		PlanSvc:   plans,
		QuotaSvc:  quota,
		QuotaCfg:  quotaCfg,
		Clock:     clk,
	})
	return &reportHarness{svc: svc, ledger: ledger, plans: plans, clk: clk, account: accountdomain.UserAccount(node.Generate())}
}

func (h *reportHarness) spendAt(t *testing.T, at time.Time, cents int64) {
	t.Helper()
	h.clk.Set(at)
	_, err := h.ledger.RecordUsage(context.Background(), ledgerdomain.UsageRequest{
		Account:      h.account,
		Model:        "gpt-4o",
		Unit:         "token",
		InputTokens:  10,
		OutputTokens: 5,
		AmountCents:  cents,
		Currency:     "USD",
		Success:      true,
	})
	require.NoError(t, err)
	h.clk.Set(reportNow)
}

func TestDailyTotalsUsesConfiguredWindow(t *testing.T) {
	h := setupReports(t)
	h.spendAt(t, reportNow.Add(-24*time.Hour), 50)
	h.spendAt(t, reportNow, 100)

	days, err := h.svc.DailyTotals(context.Background(), h.account, 3, reportNow)
	require.NoError(t, err)
	require.Len(t, days, 3)

	// Windows open at 16:00Z, which is midnight at UTC+8.
	assert.Equal(t, time.Date(2026, 3, 7, 16, 0, 0, 0, time.UTC), days[0].Start)
	assert.Equal(t, time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC), days[2].End)
	assert.Zero(t, days[0].AmountCents)
	assert.Equal(t, int64(50), days[1].AmountCents)
	assert.Equal(t, int64(100), days[2].AmountCents)
	assert.Equal(t, int64(15), days[2].TotalTokens)
	assert.Equal(t, int64(1), days[2].Requests)
}

func TestDailyTotalsFollowsPlanWindow(t *testing.T) {
	h := setupReports(t)
	ctx := context.Background()
	plan, err := h.plans.CreatePlan(ctx, plandomain.CreatePlanRequest{Name: "Daily", Type: plandomain.PlanTypeDailyLimit, Currency: "USD"})
	require.NoError(t, err)
	_, err = h.plans.UpsertDailyLimit(ctx, plandomain.UpsertDailyLimitRequest{
		PlanID: plan.ID, LimitCents: 500, OverflowPolicy: plandomain.OverflowPolicyBlock,
		ResetTime: "06:00", Timezone: "UTC+0",
	})
	require.NoError(t, err)
	_, err = h.plans.Assign(ctx, plandomain.AssignRequest{Account: h.account, PlanID: plan.ID})
	require.NoError(t, err)

	days, err := h.svc.DailyTotals(ctx, h.account, 1, reportNow)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC), days[0].Start)
	assert.Equal(t, time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC), days[0].End)

	summary, err := h.svc.Summary(ctx, h.account, 1)
	require.NoError(t, err)
	assert.False(t, summary.Unlimited)
	require.NotNil(t, summary.DailyLimitCents)
	assert.Equal(t, int64(500), *summary.DailyLimitCents)
}

func TestSummaryWithoutPlan(t *testing.T) {
	h := setupReports(t)
	h.spendAt(t, reportNow.Add(-24*time.Hour), 50)
	h.spendAt(t, reportNow, 100)

	summary, err := h.svc.Summary(context.Background(), h.account, 7)
	require.NoError(t, err)
	assert.True(t, summary.Unlimited)
	assert.Nil(t, summary.DailyLimitCents)
	assert.Equal(t, 7, summary.Days)
	assert.Equal(t, "USD", summary.Currency)
	assert.Equal(t, int64(150), summary.AmountCents)
	assert.Equal(t, int64(100), summary.TodayCents)
	assert.Equal(t, int64(2), summary.Requests)
	assert.Equal(t, int64(-150), summary.BalanceCents)
}

func TestDaysOutOfRange(t *testing.T) {
	h := setupReports(t)
	_, err := h.svc.DailyTotals(context.Background(), h.account, 0, reportNow)
	assert.ErrorIs(t, err, reportdomain.ErrInvalidDays)
	_, err = h.svc.Summary(context.Background(), h.account, reportdomain.MaxDays+1)
	assert.ErrorIs(t, err, reportdomain.ErrInvalidDays)
}

func TestOverdraftsEmpty(t *testing.T) {
	h := setupReports(t)
	alerts, err := h.svc.Overdrafts(context.Background(), h.account, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
