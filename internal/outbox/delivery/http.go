package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/meterguard/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
)

const maxErrorBody = 512

// BearerRule attaches Token to destinations starting with Prefix.
type BearerRule struct {
	Prefix string
	Token  string
}

// HTTPDeliverer POSTs the payload as JSON. Any 2xx is success.
type HTTPDeliverer struct {
	client  *http.Client
	timeout time.Duration
	bearers []BearerRule
}

func NewHTTPDeliverer(client *http.Client, timeout time.Duration, bearers ...BearerRule) *HTTPDeliverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rules := make([]BearerRule, 0, len(bearers))
	for _, b := range bearers {
		if strings.TrimSpace(b.Prefix) == "" || strings.TrimSpace(b.Token) == "" {
			continue
		}
		rules = append(rules, BearerRule{Prefix: strings.TrimSpace(b.Prefix), Token: strings.TrimSpace(b.Token)})
	}
	// longest prefix first
	sort.SliceStable(rules, func(i, j int) bool { return len(rules[i].Prefix) > len(rules[j].Prefix) })
	return &HTTPDeliverer{
		client:  tracing.WrapHTTPClient(client, "outbox"),
		timeout: timeout,
		bearers: rules,
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, event outboxdomain.EventOutbox) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body := []byte(event.Payload)
	if len(body) == 0 {
		body = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, event.Destination, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", event.ID.String())
	if token := d.tokenFor(event.Destination); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}

func (d *HTTPDeliverer) tokenFor(destination string) string {
	for _, b := range d.bearers {
		if strings.HasPrefix(destination, b.Prefix) {
			return b.Token
		}
	}
	return ""
}
