package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	budgetsyncdomain "github.com/smallbiznis/meterguard/internal/budgetsync/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	intakeservice "github.com/smallbiznis/meterguard/internal/intake/service"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/meterguard/internal/ledger/service"
	"github.com/smallbiznis/meterguard/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
	"github.com/smallbiznis/meterguard/internal/payment/domain/mocks"
	"github.com/smallbiznis/meterguard/internal/testutil"
	"github.com/smallbiznis/meterguard/pkg/softresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type budgetSyncStub struct {
	mu       sync.Mutex
	accounts []accountdomain.Account
}

func (b *budgetSyncStub) SyncAccount(ctx context.Context, account accountdomain.Account) softresult.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = append(b.accounts, account)
	return softresult.OK()
}

func (b *budgetSyncStub) SyncAll(ctx context.Context, currency string) (budgetsyncdomain.SyncStats, error) {
	return budgetsyncdomain.SyncStats{}, nil
}

func (b *budgetSyncStub) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.accounts)
}

type harness struct {
	svc      paymentdomain.Service
	ledger   ledgerdomain.Service
	provider *mocks.MockProvider
	budget   *budgetSyncStub
	account  accountdomain.Account
}

func setupPayments(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Name().Return("stripe").AnyTimes()

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	intakeSvc := intakeservice.NewService(intakeservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	budget := &budgetSyncStub{}
	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Registry:   adapters.NewRegistry(provider),
		Intake:     intakeSvc,
		LedgerSvc:  ledgerSvc,
		BudgetSync: budget,
		Clock:      clk,
	})
	return &harness{
		svc:      svc,
		ledger:   ledgerSvc,
		provider: provider,
		budget:   budget,
		account:  accountdomain.UserAccount(node.Generate()),
	}
}

func (h *harness) checkout(t *testing.T, orderID string, cents int64) *paymentdomain.CheckoutResult {
	t.Helper()
	h.provider.EXPECT().
		CreatePayment(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, order paymentdomain.Order) (paymentdomain.InitResult, error) {
			return paymentdomain.InitResult{
				Type:          paymentdomain.InitTypeClientSecret,
				Payload:       map[string]any{"client_secret": "pi_secret"},
				ProviderTxnID: "pi_" + order.OrderID,
			}, nil
		})
	res, err := h.svc.Checkout(context.Background(), paymentdomain.CheckoutRequest{
		Account:     h.account,
		Provider:    "Stripe",
		OrderID:     orderID,
		AmountCents: cents,
		Currency:    "usd",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) expectWebhook(event *paymentdomain.WebhookEvent, times int) {
	h.provider.EXPECT().
		HandleWebhook(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(event, nil).
		Times(times)
}

func TestCheckoutStoresOrderAndPayment(t *testing.T) {
	h := setupPayments(t)

	res := h.checkout(t, "ord-1", 2000)
	assert.Equal(t, paymentdomain.StatusCreated, res.Order.Status)
	assert.Equal(t, "USD", res.Order.Currency)
	assert.Equal(t, paymentdomain.StatusProcessing, res.Payment.Status)
	require.NotNil(t, res.Payment.ProviderTxnID)
	assert.Equal(t, "pi_ord-1", *res.Payment.ProviderTxnID)

	_, err := h.svc.Checkout(context.Background(), paymentdomain.CheckoutRequest{
		Account: h.account, Provider: "stripe", OrderID: "ord-1", AmountCents: 10, Currency: "USD",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrOrderExists)

	_, err = h.svc.Checkout(context.Background(), paymentdomain.CheckoutRequest{
		Account: h.account, Provider: "paypal", OrderID: "ord-2", AmountCents: 10, Currency: "USD",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestWebhookCreditsOnceAcrossRedelivery(t *testing.T) {
	h := setupPayments(t)
	ctx := context.Background()
	h.checkout(t, "ord-7", 5000)

	h.expectWebhook(&paymentdomain.WebhookEvent{
		EventID:       "evt_paid_7",
		EventType:     paymentdomain.EventTypePaymentSucceeded,
		OrderID:       "ord-7",
		AmountCents:   5000,
		Currency:      "USD",
		ProviderTxnID: "pi_ord-7",
		Raw:           []byte(`{"id":"evt_paid_7"}`),
	}, 2)

	first, err := h.svc.HandleWebhook(ctx, "stripe", http.Header{}, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.Handled)
	assert.Equal(t, string(paymentdomain.StatusSucceeded), first.Status)

	second, err := h.svc.HandleWebhook(ctx, "stripe", http.Header{}, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.True(t, second.Handled)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.EntityID, second.EntityID)

	balance, err := h.ledger.Balance(ctx, h.account, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
	assert.Equal(t, 1, h.budget.Calls())

	h.provider.EXPECT().
		Query(gomock.Any(), "pi_ord-7").
		Return(paymentdomain.PaymentStatus{Status: paymentdomain.StatusSucceeded, AmountCents: 5000, Currency: "USD"}, nil)
	status, err := h.svc.Status(ctx, paymentdomain.StatusRequest{Provider: "stripe", OrderID: "ord-7"})
	require.NoError(t, err)
	require.NotNil(t, status.Local)
	assert.Equal(t, paymentdomain.StatusSucceeded, status.Local.OrderStatus)
	assert.Equal(t, paymentdomain.StatusSucceeded, status.Provider.Status)
}

func TestSecondSuccessEventDoesNotCreditAgain(t *testing.T) {
	h := setupPayments(t)
	ctx := context.Background()
	h.checkout(t, "ord-8", 700)

	for _, id := range []string{"evt_a", "evt_b"} {
		h.expectWebhook(&paymentdomain.WebhookEvent{
			EventID:     id,
			EventType:   paymentdomain.EventTypePaymentSucceeded,
			OrderID:     "ord-8",
			AmountCents: 700,
			Currency:    "USD",
			Raw:         []byte(`{}`),
		}, 1)
		res, err := h.svc.HandleWebhook(ctx, "stripe", http.Header{}, nil)
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}

	balance, err := h.ledger.Balance(ctx, h.account, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance)
}

func TestWebhookForUnknownOrderIsUnlinked(t *testing.T) {
	h := setupPayments(t)
	h.expectWebhook(&paymentdomain.WebhookEvent{
		EventID:   "evt_orphan",
		EventType: paymentdomain.EventTypePaymentSucceeded,
		OrderID:   "ord-missing",
		Raw:       []byte(`{}`),
	}, 1)

	res, err := h.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, nil)
	require.NoError(t, err)
	assert.False(t, res.Handled)
	assert.Zero(t, h.budget.Calls())
}

func TestWebhookSignatureFailure(t *testing.T) {
	h := setupPayments(t)
	h.provider.EXPECT().
		HandleWebhook(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, paymentdomain.ErrInvalidSignature)

	_, err := h.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestRefundDebitsOnce(t *testing.T) {
	h := setupPayments(t)
	ctx := context.Background()
	h.checkout(t, "ord-9", 1200)
	h.expectWebhook(&paymentdomain.WebhookEvent{
		EventID:       "evt_paid_9",
		EventType:     paymentdomain.EventTypePaymentSucceeded,
		OrderID:       "ord-9",
		AmountCents:   1200,
		Currency:      "USD",
		ProviderTxnID: "pi_ord-9",
		Raw:           []byte(`{}`),
	}, 1)
	_, err := h.svc.HandleWebhook(ctx, "stripe", http.Header{}, nil)
	require.NoError(t, err)

	h.provider.EXPECT().
		Refund(gomock.Any(), "pi_ord-9", int64(0), "customer request").
		Return(paymentdomain.RefundResult{OK: true, ProviderRefundID: "re_1"}, nil)

	resp, err := h.svc.Refund(ctx, paymentdomain.RefundRequest{Provider: "stripe", ProviderTxnID: "pi_ord-9", Reason: "customer request"})
	require.NoError(t, err)
	assert.True(t, resp.Result.OK)
	require.NotNil(t, resp.Refund)
	assert.Equal(t, int64(1200), resp.Refund.AmountCents)

	again, err := h.svc.Refund(ctx, paymentdomain.RefundRequest{Provider: "stripe", OrderID: "ord-9"})
	require.NoError(t, err)
	assert.True(t, again.AlreadyRefunded)

	balance, err := h.ledger.Balance(ctx, h.account, "USD")
	require.NoError(t, err)
	assert.Zero(t, balance)
}
