package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	intakeservice "github.com/smallbiznis/meterguard/internal/intake/service"
	"github.com/smallbiznis/meterguard/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	planservice "github.com/smallbiznis/meterguard/internal/plan/service"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
	"github.com/smallbiznis/meterguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test"

type subHarness struct {
	svc  subscriptiondomain.Service
	plan *plandomain.Plan
	clk  *clock.FakeClock
}

func setupSubscriptions(t *testing.T) *subHarness {
	t.Helper()
	return setupSubscriptionsWithBilling(t, nil)
}

// fakeStripe counts Stripe object creations.
type fakeStripe struct {
	customers     atomic.Int64
	subscriptions atomic.Int64
	lastPrice     atomic.Value
}

func (f *fakeStripe) billing(t *testing.T) *stripe.Billing {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/customers":
			n := f.customers.Add(1)
			fmt.Fprintf(w, `{"id":"cus_%d"}`, n)
		case "/v1/subscriptions":
			f.lastPrice.Store(r.PostForm.Get("items[0][price]"))
			n := f.subscriptions.Add(1)
			fmt.Fprintf(w, `{"id":"sub_new_%d"}`, n)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return stripe.NewBilling(config.StripeConfig{SecretKey: "sk_test", APIBase: server.URL}, nil, zap.NewNop())
}

func setupSubscriptionsWithBilling(t *testing.T, billing *stripe.Billing) *subHarness {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	planSvc := planservice.NewService(planservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	plan, err := planSvc.CreatePlan(context.Background(), plandomain.CreatePlanRequest{Name: "Starter", Type: plandomain.PlanTypeUsage})
	require.NoError(t, err)

	svc := NewService(Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Cfg:     config.Config{Stripe: config.StripeConfig{WebhookSecret: webhookSecret, Tolerance: 5 * time.Minute}},
		PlanSvc: planSvc,
		Intake:  intakeservice.NewService(intakeservice.Params{DB: db, Log: log, GenID: node, Clock: clk}),
		Billing: billing,
		Clock:   clk,
	})
	return &subHarness{svc: svc, plan: plan, clk: clk}
}

func (h *subHarness) signed(body string) http.Header {
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripe.SignPayload(webhookSecret, []byte(body), h.clk.Now()))
	return headers
}

func subscriptionEvent(eventID, eventType, subID, status string) string {
	return fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q,"status":%q}}}`, eventID, eventType, subID, status)
}

func TestCreateCustomerIsOnePerAccount(t *testing.T) {
	h := setupSubscriptions(t)
	ctx := context.Background()
	account := accountdomain.TeamAccount(31)

	first, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: account, Name: "Acme"})
	require.NoError(t, err)
	second, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: account, Name: "Other"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.Name)
	assert.Equal(t, "Acme", *second.Name)
}

func TestSubscriptionLifecycle(t *testing.T) {
	h := setupSubscriptions(t)
	ctx := context.Background()

	customer, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: accountdomain.UserAccount(4)})
	require.NoError(t, err)
	sub, err := h.svc.CreateSubscription(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:           customer.ID,
		PlanID:               h.plan.ID,
		StripeSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)

	updated, err := h.svc.UpdateStatus(ctx, sub.ID, subscriptiondomain.StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPaused, updated.Status)

	list, err := h.svc.ListSubscriptions(ctx, subscriptiondomain.ListSubscriptionsRequest{Status: subscriptiondomain.StatusPaused})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = h.svc.UpdateStatus(ctx, sub.ID, "expired")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
	_, err = h.svc.CreateSubscription(ctx, subscriptiondomain.CreateSubscriptionRequest{CustomerID: customer.ID, PlanID: 999})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlan)
	_, err = h.svc.CreateSubscription(ctx, subscriptiondomain.CreateSubscriptionRequest{CustomerID: 999, PlanID: h.plan.ID})
	assert.ErrorIs(t, err, subscriptiondomain.ErrCustomerNotFound)
}

func TestStripeWebhookSyncsStatusOnce(t *testing.T) {
	h := setupSubscriptions(t)
	ctx := context.Background()

	customer, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: accountdomain.UserAccount(5)})
	require.NoError(t, err)
	sub, err := h.svc.CreateSubscription(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: customer.ID, PlanID: h.plan.ID, StripeSubscriptionID: "sub_9",
	})
	require.NoError(t, err)

	body := subscriptionEvent("evt_s1", "customer.subscription.updated", "sub_9", "past_due")
	res, err := h.svc.HandleStripeWebhook(ctx, h.signed(body), []byte(body))
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, string(subscriptiondomain.StatusPaused), res.Status)

	again, err := h.svc.HandleStripeWebhook(ctx, h.signed(body), []byte(body))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, string(subscriptiondomain.StatusPaused), again.Status)

	deleted := subscriptionEvent("evt_s2", "customer.subscription.deleted", "sub_9", "active")
	res, err = h.svc.HandleStripeWebhook(ctx, h.signed(deleted), []byte(deleted))
	require.NoError(t, err)
	assert.Equal(t, string(subscriptiondomain.StatusCanceled), res.Status)

	got, err := h.svc.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, got.Status)
}

func TestStripeWebhookRejectsBadSignatureAndOtherEvents(t *testing.T) {
	h := setupSubscriptions(t)
	ctx := context.Background()
	body := subscriptionEvent("evt_x", "customer.subscription.updated", "sub_x", "active")

	headers := http.Header{}
	headers.Set("Stripe-Signature", stripe.SignPayload("wrong", []byte(body), h.clk.Now()))
	_, err := h.svc.HandleStripeWebhook(ctx, headers, []byte(body))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	stale := http.Header{}
	stale.Set("Stripe-Signature", stripe.SignPayload(webhookSecret, []byte(body), h.clk.Now().Add(-time.Hour)))
	_, err = h.svc.HandleStripeWebhook(ctx, stale, []byte(body))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	other := subscriptionEvent("evt_y", "invoice.paid", "in_1", "paid")
	_, err = h.svc.HandleStripeWebhook(ctx, h.signed(other), []byte(other))
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotSubscriptionEvent)

	unknown := subscriptionEvent("evt_z", "customer.subscription.updated", "sub_unknown", "active")
	res, err := h.svc.HandleStripeWebhook(ctx, h.signed(unknown), []byte(unknown))
	require.NoError(t, err)
	assert.False(t, res.Handled)
}

func TestResolveStatus(t *testing.T) {
	assert.Equal(t, "canceled", ResolveStatus("customer.subscription.deleted", "active", true))
	assert.Equal(t, "paused", ResolveStatus("customer.subscription.updated", "active", true))
	assert.Equal(t, "active", ResolveStatus("customer.subscription.updated", "trialing", false))
	assert.Equal(t, "active", ResolveStatus("customer.subscription.created", "weird", false))
}

func TestEnsureStripeCustomerCreatesOnce(t *testing.T) {
	api := &fakeStripe{}
	h := setupSubscriptionsWithBilling(t, api.billing(t))
	ctx := context.Background()

	customer, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: accountdomain.UserAccount(41), Email: "ops@acme.test"})
	require.NoError(t, err)

	first, err := h.svc.EnsureStripeCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", first)
	second, err := h.svc.EnsureStripeCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), api.customers.Load())

	got, err := h.svc.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StripeCustomerID)
	assert.Equal(t, "cus_1", *got.StripeCustomerID)
}

func TestEnsureStripeCustomerWithoutStripe(t *testing.T) {
	h := setupSubscriptions(t)
	ctx := context.Background()

	customer, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: accountdomain.UserAccount(42)})
	require.NoError(t, err)
	_, err = h.svc.EnsureStripeCustomer(ctx, customer.ID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrStripeNotConfigured)

	linked, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: accountdomain.UserAccount(43), StripeCustomerID: "cus_existing"})
	require.NoError(t, err)
	id, err := h.svc.EnsureStripeCustomer(ctx, linked.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)
}

func TestEnsureStripeSubscriptionUsesActivePriceMapping(t *testing.T) {
	api := &fakeStripe{}
	h := setupSubscriptionsWithBilling(t, api.billing(t))
	ctx := context.Background()

	customer, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: accountdomain.TeamAccount(44)})
	require.NoError(t, err)
	req := subscriptiondomain.EnsureStripeSubscriptionRequest{CustomerID: customer.ID, PlanID: h.plan.ID}

	_, err = h.svc.EnsureStripeSubscription(ctx, req)
	assert.ErrorIs(t, err, subscriptiondomain.ErrNoPriceMapping)

	_, err = h.svc.CreatePriceMapping(ctx, subscriptiondomain.CreatePriceMappingRequest{PlanID: h.plan.ID, StripePriceID: "price_old"})
	require.NoError(t, err)
	_, err = h.svc.CreatePriceMapping(ctx, subscriptiondomain.CreatePriceMappingRequest{PlanID: h.plan.ID, StripePriceID: "price_eur", Currency: "eur"})
	require.NoError(t, err)
	inactive := false
	_, err = h.svc.CreatePriceMapping(ctx, subscriptiondomain.CreatePriceMappingRequest{PlanID: h.plan.ID, StripePriceID: "price_off", Active: &inactive})
	require.NoError(t, err)

	sub, err := h.svc.EnsureStripeSubscription(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, sub.StripeSubscriptionID)
	assert.Equal(t, "sub_new_1", *sub.StripeSubscriptionID)
	assert.Equal(t, "price_old", api.lastPrice.Load())

	again, err := h.svc.EnsureStripeSubscription(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
	assert.Equal(t, int64(1), api.subscriptions.Load())
	assert.Equal(t, int64(1), api.customers.Load())
}

func TestEnsureStripeSubscriptionLinksLocalSubscription(t *testing.T) {
	api := &fakeStripe{}
	h := setupSubscriptionsWithBilling(t, api.billing(t))
	ctx := context.Background()

	customer, err := h.svc.CreateCustomer(ctx, subscriptiondomain.CreateCustomerRequest{Account: accountdomain.UserAccount(45)})
	require.NoError(t, err)
	local, err := h.svc.CreateSubscription(ctx, subscriptiondomain.CreateSubscriptionRequest{CustomerID: customer.ID, PlanID: h.plan.ID})
	require.NoError(t, err)
	require.Nil(t, local.StripeSubscriptionID)

	sub, err := h.svc.EnsureStripeSubscription(ctx, subscriptiondomain.EnsureStripeSubscriptionRequest{
		CustomerID: customer.ID, PlanID: h.plan.ID, StripePriceID: "price_direct",
	})
	require.NoError(t, err)
	assert.Equal(t, local.ID, sub.ID)
	assert.Equal(t, "price_direct", api.lastPrice.Load())

	got, err := h.svc.GetSubscription(ctx, local.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StripeSubscriptionID)
	assert.Equal(t, "sub_new_1", *got.StripeSubscriptionID)
}

func TestPriceMappingCRUD(t *testing.T) {
	h := setupSubscriptions(t)
	ctx := context.Background()

	_, err := h.svc.CreatePriceMapping(ctx, subscriptiondomain.CreatePriceMappingRequest{PlanID: h.plan.ID})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPriceID)
	_, err = h.svc.CreatePriceMapping(ctx, subscriptiondomain.CreatePriceMappingRequest{PlanID: 999, StripePriceID: "price_x"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlan)

	mapping, err := h.svc.CreatePriceMapping(ctx, subscriptiondomain.CreatePriceMappingRequest{PlanID: h.plan.ID, StripePriceID: "price_a", Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "USD", mapping.Currency)
	assert.True(t, mapping.Active)

	price, err := h.svc.ActivePriceFor(ctx, h.plan.ID, "usd")
	require.NoError(t, err)
	assert.Equal(t, "price_a", price)

	off := false
	updated, err := h.svc.UpdatePriceMapping(ctx, subscriptiondomain.UpdatePriceMappingRequest{ID: mapping.ID, Active: &off})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	price, err = h.svc.ActivePriceFor(ctx, h.plan.ID, "")
	require.NoError(t, err)
	assert.Empty(t, price)

	list, err := h.svc.ListPriceMappings(ctx, &h.plan.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, h.svc.DeletePriceMapping(ctx, mapping.ID))
	require.NoError(t, h.svc.DeletePriceMapping(ctx, mapping.ID))
	_, err = h.svc.UpdatePriceMapping(ctx, subscriptiondomain.UpdatePriceMappingRequest{ID: mapping.ID, Active: &off})
	assert.ErrorIs(t, err, subscriptiondomain.ErrPriceMappingNotFound)
}
