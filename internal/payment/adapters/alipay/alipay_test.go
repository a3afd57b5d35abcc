package alipay

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	privDER := x509.MarshalPKCS1PrivateKey(priv)
	return priv, base64.StdEncoding.EncodeToString(pubDER), base64.StdEncoding.EncodeToString(privDER)
}

func newTestAdapter(t *testing.T) (*Adapter, *rsa.PrivateKey) {
	t.Helper()
	priv, pub, privRaw := newKeyPair(t)
	adapter, err := New(config.AlipayConfig{
		AppID:         "2021000000",
		AppPrivateKey: privRaw,
		PublicKey:     pub,
		NotifyURL:     "https://example.test/notify",
	}, clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	return adapter, priv
}

func signedBody(t *testing.T, priv *rsa.PrivateKey, params map[string]string) []byte {
	t.Helper()
	sign, err := Sign(priv, params)
	require.NoError(t, err)
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("sign", sign)
	values.Set("sign_type", "RSA2")
	return []byte(values.Encode())
}

func TestNewRequiresPublicKey(t *testing.T) {
	_, err := New(config.AlipayConfig{AppID: "app"}, nil)
	require.ErrorIs(t, err, paymentdomain.ErrProviderNotConfigured)
}

func TestHandleWebhookVerifiesRSA2(t *testing.T) {
	adapter, priv := newTestAdapter(t)
	body := signedBody(t, priv, map[string]string{
		"notify_id":    "n_1",
		"out_trade_no": "ord_1",
		"total_amount": "12.34",
		"trade_no":     "2024010122001",
		"trade_status": "TRADE_SUCCESS",
	})

	event, err := adapter.HandleWebhook(context.Background(), nil, body)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypePaymentSucceeded, event.EventType)
	assert.Equal(t, "ord_1", event.OrderID)
	assert.Equal(t, int64(1234), event.AmountCents)
	assert.Equal(t, "CNY", event.Currency)
	assert.Equal(t, "2024010122001", event.ProviderTxnID)
	assert.Equal(t, "n_1", event.DedupKey())
}

func TestHandleWebhookRejectsTamperedBody(t *testing.T) {
	adapter, priv := newTestAdapter(t)
	body := signedBody(t, priv, map[string]string{
		"out_trade_no": "ord_1",
		"total_amount": "12.34",
		"trade_no":     "t_1",
	})
	tampered := []byte(strings.Replace(string(body), "12.34", "99.99", 1))

	_, err := adapter.HandleWebhook(context.Background(), nil, tampered)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestCreatePaymentReturnsSignedRedirect(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	init, err := adapter.CreatePayment(context.Background(), paymentdomain.Order{OrderID: "ord_7", AmountCents: 1050, Currency: "CNY"})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.InitTypeRedirectURL, init.Type)

	raw, ok := init.Payload["url"].(string)
	require.True(t, ok)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "alipay.trade.page.pay", q.Get("method"))
	assert.Contains(t, q.Get("biz_content"), `"total_amount":"10.50"`)

	params := map[string]string{}
	for k := range q {
		params[k] = q.Get(k)
	}
	require.NoError(t, Verify(&adapter.privateKey.PublicKey, params))
}

func TestRefundNotSupported(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	res, err := adapter.Refund(context.Background(), "t_1", 100, "")
	require.ErrorIs(t, err, paymentdomain.ErrNotSupported)
	assert.False(t, res.OK)

	status, err := adapter.Query(context.Background(), "t_1")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusCreated, status.Status)
}
