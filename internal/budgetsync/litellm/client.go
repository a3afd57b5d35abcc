package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/observability/tracing"
	"github.com/smallbiznis/meterguard/pkg/softresult"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultDuration = "30d"
	maxErrorBody    = 512
)

// Client updates per-user spend budgets on a LiteLLM proxy.
type Client struct {
	baseURL   string
	masterKey string
	duration  string
	client    *http.Client
}

func NewClient(cfg config.LiteLLMConfig, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	duration := strings.TrimSpace(cfg.BudgetDuration)
	if duration == "" {
		duration = defaultDuration
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		masterKey: strings.TrimSpace(cfg.MasterKey),
		duration:  duration,
		client:    tracing.WrapHTTPClient(client, "litellm"),
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.masterKey != ""
}

type budgetRequest struct {
	UserID         string  `json:"user_id"`
	MaxBudget      float64 `json:"max_budget"`
	BudgetDuration string  `json:"budget_duration"`
}

// UpdateBudget sets the user's max budget to maxBudgetCents/100. An empty
// duration uses the configured default.
func (c *Client) UpdateBudget(ctx context.Context, externalUserID string, maxBudgetCents int64, duration string) softresult.Result {
	if !c.Configured() {
		return softresult.Skipped("litellm_not_configured")
	}
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return softresult.Skipped("missing_external_user_id")
	}
	if maxBudgetCents < 0 {
		maxBudgetCents = 0
	}
	if strings.TrimSpace(duration) == "" {
		duration = c.duration
	}

	body, err := json.Marshal(budgetRequest{
		UserID:         externalUserID,
		MaxBudget:      decimal.New(maxBudgetCents, -2).InexactFloat64(),
		BudgetDuration: duration,
	})
	if err != nil {
		return softresult.Failed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/new", bytes.NewReader(body))
	if err != nil {
		return softresult.Failed(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.masterKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return softresult.Failed(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return softresult.OK()
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return softresult.Failed(fmt.Errorf("litellm http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
}
