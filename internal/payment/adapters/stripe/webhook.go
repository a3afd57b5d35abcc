package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
)

var (
	ErrMissingSignature = errors.New("missing_signature")
	ErrSignatureInvalid = errors.New("signature_mismatch")
	ErrSignatureExpired = errors.New("signature_outside_tolerance")
	ErrMalformedEvent   = errors.New("malformed_event")
)

// Event is the envelope shared by every Stripe webhook.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

// VerifySignature checks a Stripe-Signature header (t=..,v1=..) against
// payload. A zero tolerance disables the timestamp check.
func VerifySignature(header string, payload []byte, secret string, tolerance time.Duration, now time.Time) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	ts, signatures, err := parseStripeSignature(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return ErrSignatureInvalid
		}
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrSignatureExpired
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", ts, payload)))
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// SignPayload builds a header VerifySignature accepts.
func SignPayload(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func ParseEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, ErrMalformedEvent
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return Event{}, ErrMalformedEvent
	}
	return event, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, ErrSignatureInvalid
	}
	return timestamp, signatures, nil
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

// WebhookVerifier authenticates and decodes Stripe webhook deliveries.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
	clock     clock.Clock
}

func NewWebhookVerifier(cfg config.StripeConfig, clk clock.Clock) *WebhookVerifier {
	return &WebhookVerifier{
		secret:    strings.TrimSpace(cfg.WebhookSecret),
		tolerance: cfg.Tolerance,
		clock:     clock.OrSystem(clk),
	}
}

// Verify rejects every delivery when no secret is configured.
func (v *WebhookVerifier) Verify(headers http.Header, body []byte) (Event, error) {
	if v == nil || v.secret == "" {
		return Event{}, fmt.Errorf("stripe: webhook secret: %w", paymentdomain.ErrProviderNotConfigured)
	}
	if err := VerifySignature(headers.Get("Stripe-Signature"), body, v.secret, v.tolerance, v.clock.Now()); err != nil {
		return Event{}, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidSignature, err)
	}
	event, err := ParseEvent(body)
	if err != nil {
		return Event{}, paymentdomain.ErrInvalidPayload
	}
	return event, nil
}
