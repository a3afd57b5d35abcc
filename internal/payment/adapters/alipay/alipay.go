package alipay

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
)

const (
	Name     = "alipay"
	currency = "CNY"
)

var errBadKey = errors.New("alipay: unreadable key")

// Adapter verifies Alipay async notifications and builds page-pay redirects.
type Adapter struct {
	appID      string
	gateway    string
	notifyURL  string
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	clock      clock.Clock
}

// New requires the Alipay public key; notifications are never trusted unsigned.
func New(cfg config.AlipayConfig, clk clock.Clock) (*Adapter, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.PublicKey) == "" {
		return nil, fmt.Errorf("alipay: app id and public key: %w", paymentdomain.ErrProviderNotConfigured)
	}
	pub, err := ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("alipay: public key: %w", paymentdomain.ErrProviderNotConfigured)
	}
	adapter := &Adapter{
		appID:     strings.TrimSpace(cfg.AppID),
		gateway:   strings.TrimSpace(cfg.Gateway),
		notifyURL: strings.TrimSpace(cfg.NotifyURL),
		publicKey: pub,
		clock:     clock.OrSystem(clk),
	}
	if adapter.gateway == "" {
		adapter.gateway = "https://openapi.alipay.com/gateway.do"
	}
	if strings.TrimSpace(cfg.AppPrivateKey) != "" {
		priv, err := ParsePrivateKey(cfg.AppPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("alipay: app private key: %w", paymentdomain.ErrProviderNotConfigured)
		}
		adapter.privateKey = priv
	}
	return adapter, nil
}

func (a *Adapter) Name() string { return Name }

// CreatePayment returns an alipay.trade.page.pay URL. The request is signed
// when an app private key is configured.
func (a *Adapter) CreatePayment(ctx context.Context, order paymentdomain.Order) (paymentdomain.InitResult, error) {
	biz, err := json.Marshal(map[string]string{
		"out_trade_no": order.OrderID,
		"total_amount": centsToYuan(order.AmountCents),
		"subject":      "Top-up " + order.OrderID,
		"product_code": "FAST_INSTANT_TRADE_PAY",
	})
	if err != nil {
		return paymentdomain.InitResult{}, err
	}

	params := map[string]string{
		"app_id":      a.appID,
		"method":      "alipay.trade.page.pay",
		"charset":     "utf-8",
		"sign_type":   "RSA2",
		"timestamp":   a.clock.Now().Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"biz_content": string(biz),
	}
	if a.notifyURL != "" {
		params["notify_url"] = a.notifyURL
	}
	if a.privateKey != nil {
		sign, err := Sign(a.privateKey, params)
		if err != nil {
			return paymentdomain.InitResult{}, err
		}
		params["sign"] = sign
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return paymentdomain.InitResult{
		Type:    paymentdomain.InitTypeRedirectURL,
		Payload: map[string]any{"url": a.gateway + "?" + values.Encode()},
	}, nil
}

func (a *Adapter) HandleWebhook(ctx context.Context, headers http.Header, body []byte) (*paymentdomain.WebhookEvent, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	if err := Verify(a.publicKey, params); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidSignature, err)
	}

	amount, err := yuanToCents(params["total_amount"])
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.WebhookEvent{
		EventID:       params["notify_id"],
		EventType:     mapTradeStatus(params["trade_status"]),
		OrderID:       params["out_trade_no"],
		AmountCents:   amount,
		Currency:      currency,
		ProviderTxnID: params["trade_no"],
		Raw:           raw,
	}, nil
}

func (a *Adapter) Refund(ctx context.Context, providerTxnID string, amountCents int64, reason string) (paymentdomain.RefundResult, error) {
	return paymentdomain.RefundResult{OK: false, Error: "not_implemented"}, paymentdomain.ErrNotSupported
}

func (a *Adapter) Query(ctx context.Context, providerTxnID string) (paymentdomain.PaymentStatus, error) {
	return paymentdomain.PaymentStatus{
		Status:        paymentdomain.StatusCreated,
		Currency:      currency,
		ProviderTxnID: providerTxnID,
	}, nil
}

// Verify checks an RSA2 (SHA256withRSA) signature over the sorted params.
func Verify(pub *rsa.PublicKey, params map[string]string) error {
	signature := params["sign"]
	if signature == "" {
		return errors.New("missing sign")
	}
	if st := params["sign_type"]; st != "" && !strings.EqualFold(st, "RSA2") {
		return fmt.Errorf("unsupported sign_type %q", st)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return errors.New("sign is not base64")
	}
	digest := sha256.Sum256([]byte(canonical(params)))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
}

func Sign(priv *rsa.PrivateKey, params map[string]string) (string, error) {
	digest := sha256.Sum256([]byte(canonical(params)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// canonical joins non-empty params except sign and sign_type as k=v&... in key order.
func canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// ParsePublicKey accepts PEM or bare base64 PKIX.
func ParsePublicKey(raw string) (*rsa.PublicKey, error) {
	der, err := keyBytes(raw)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errBadKey
	}
	return pub, nil
}

// ParsePrivateKey accepts PKCS#1 or PKCS#8, PEM or bare base64.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	der, err := keyBytes(raw)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errBadKey
	}
	return priv, nil
}

func keyBytes(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errBadKey
	}
	return der, nil
}

func mapTradeStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "", "TRADE_SUCCESS", "TRADE_FINISHED":
		return paymentdomain.EventTypePaymentSucceeded
	case "TRADE_CLOSED":
		return paymentdomain.EventTypePaymentFailed
	default:
		return paymentdomain.EventTypeRequiresAction
	}
}

func yuanToCents(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return amount.Shift(2).Round(0).IntPart(), nil
}

func centsToYuan(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
