package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/idgen"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	"github.com/smallbiznis/meterguard/internal/migration"
	"github.com/smallbiznis/meterguard/internal/observability"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	"github.com/smallbiznis/meterguard/internal/scheduler"
	"github.com/smallbiznis/meterguard/internal/server"
	"github.com/smallbiznis/meterguard/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const devAPIKey = "sk-e2e-dev"

type testEnv struct {
	app       *fx.App
	server    *server.Server
	db        *gorm.DB
	genID     *snowflake.Node
	planSvc   plandomain.Service
	ledgerSvc ledgerdomain.Service
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
	lago      *lagoSink
	tmpDir    string
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	tmpDir, err := os.MkdirTemp("", "meterguard-e2e-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create temp dir:", err)
		os.Exit(1)
	}
	sink := newLagoSink()
	setDefaultEnv(tmpDir, sink.URL())

	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		sink.Close()
		_ = os.RemoveAll(tmpDir)
		os.Exit(1)
	}
	env.lago = sink
	env.tmpDir = tmpDir

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func startEnv() (*testEnv, error) {
	var (
		srv       *server.Server
		dbConn    *gorm.DB
		genID     *snowflake.Node
		planSvc   plandomain.Service
		ledgerSvc ledgerdomain.Service
		sched     *scheduler.Scheduler
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		fx.Provide(scheduler.ProvideConfig, scheduler.New),
		fx.Populate(&srv, &dbConn, &genID, &planSvc, &ledgerSvc, &sched),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	return &testEnv{
		app:       app,
		server:    srv,
		db:        dbConn,
		genID:     genID,
		planSvc:   planSvc,
		ledgerSvc: ledgerSvc,
		scheduler: sched,
		httpSrv:   httptest.NewServer(srv.Engine()),
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if e.lago != nil {
		e.lago.Close()
	}
	if e.tmpDir != "" {
		_ = os.RemoveAll(e.tmpDir)
	}
}

func setDefaultEnv(tmpDir, lagoURL string) {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("DATABASE_PATH", filepath.Join(tmpDir, "meterguard.db"))
	setEnvIfEmpty("DATABASE_MAX_OPEN_CONN", "1")
	setEnvIfEmpty("DEV_API_KEY", devAPIKey)
	setEnvIfEmpty("QUOTA_CONFIG_DIRS", tmpDir)
	setEnvIfEmpty("LAGO_API_URL", lagoURL)
	setEnvIfEmpty("LAGO_API_KEY", "lago-e2e")
	setEnvIfEmpty("LAGO_EVENTS_ENABLED", "true")
	setEnvIfEmpty("LITELLM_SYNC_ENABLED", "false")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	tx := dbConn.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range migration.Models() {
		require.NoError(t, tx.Delete(model).Error)
	}
	env.lago.Reset()
}

// lagoSink records every delivery the outbox dispatcher makes.
type lagoSink struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []lagoRequest
}

type lagoRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

func newLagoSink() *lagoSink {
	s := &lagoSink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		s.mu.Lock()
		s.requests = append(s.requests, lagoRequest{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return s
}

func (s *lagoSink) URL() string { return s.srv.URL }

func (s *lagoSink) Close() { s.srv.Close() }

func (s *lagoSink) Reset() {
	s.mu.Lock()
	s.requests = nil
	s.mu.Unlock()
}

func (s *lagoSink) Requests() []lagoRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lagoRequest(nil), s.requests...)
}

// seedDailyLimit assigns a fresh user a daily-limit plan and funds the wallet.
func seedDailyLimit(t *testing.T, limitCents int64, policy plandomain.OverflowPolicy) accountdomain.Account {
	t.Helper()
	ctx := context.Background()
	account := accountdomain.UserAccount(env.genID.Generate())

	p, err := env.planSvc.CreatePlan(ctx, plandomain.CreatePlanRequest{
		Name:     "Daily " + string(policy),
		Code:     "daily-" + account.EntityID.String(),
		Type:     plandomain.PlanTypeDailyLimit,
		Currency: "USD",
	})
	require.NoError(t, err)
	_, err = env.planSvc.UpsertDailyLimit(ctx, plandomain.UpsertDailyLimitRequest{
		PlanID:         p.ID,
		LimitCents:     limitCents,
		OverflowPolicy: policy,
		ResetTime:      "00:00",
		Timezone:       "UTC",
	})
	require.NoError(t, err)
	from := time.Now().Add(-time.Hour)
	_, err = env.planSvc.Assign(ctx, plandomain.AssignRequest{
		Account:       account,
		PlanID:        p.ID,
		EffectiveFrom: &from,
		Timezone:      "UTC",
	})
	require.NoError(t, err)

	_, err = env.ledgerSvc.Credit(ctx, ledgerdomain.CreditRequest{
		Account:     account,
		Currency:    "USD",
		AmountCents: 10_000,
		Reason:      ledgerdomain.ReasonRecharge,
	})
	require.NoError(t, err)
	return account
}

func accountBody(account accountdomain.Account, extra map[string]any) map[string]any {
	body := map[string]any{
		"entity_type": string(account.EntityType),
		"entity_id":   account.EntityID.String(),
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + devAPIKey}
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, body := doJSON(t, http.MethodGet, env.httpSrv.URL+"/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Contains(t, string(body), `"database":"ok"`)
}

func TestE2E_APIKeyRequired(t *testing.T) {
	resp, _ := doJSON(t, http.MethodGet, env.httpSrv.URL+"/v1/reports/daily", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, env.httpSrv.URL+"/v1/reports/daily", nil,
		map[string]string{"Authorization": "Bearer sk-unknown"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestE2E_QuotaCheckSettleAndReport(t *testing.T) {
	resetDatabase(t, env.db)
	account := seedDailyLimit(t, 500, plandomain.OverflowPolicyGrace)

	resp, body := doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/quota/check",
		accountBody(account, map[string]any{"model": "gpt-4o", "amount_cents": 200}), authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var check struct {
		Allowed  bool `json:"allowed"`
		Decision struct {
			LimitCents int64 `json:"limit_cents"`
		} `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(body, &check))
	require.True(t, check.Allowed)
	require.Equal(t, int64(500), check.Decision.LimitCents)

	settle := accountBody(account, map[string]any{
		"model":       "gpt-4o",
		"unit":        "token",
		"tokens":      map[string]any{"input": 1000, "output": 500},
		"final_cents": 700,
		"request_id":  "req-e2e-1",
	})
	resp, body = doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/quota/settle", settle, authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var settlement struct {
		ChargedCents int64   `json:"charged_cents"`
		Capped       bool    `json:"capped"`
		AlertID      *string `json:"alert_id"`
	}
	require.NoError(t, json.Unmarshal(body, &settlement))
	require.Equal(t, int64(500), settlement.ChargedCents)
	require.True(t, settlement.Capped)
	require.NotNil(t, settlement.AlertID)

	// Replaying the same request id charges nothing new.
	resp, body = doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/quota/settle", settle, authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Contains(t, string(body), `"duplicate":true`)

	resp, body = doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/quota/check",
		accountBody(account, map[string]any{"model": "gpt-4o", "amount_cents": 1}), authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	query := fmt.Sprintf("?entity_type=%s&entity_id=%s&days=1", account.EntityType, account.EntityID)
	resp, body = doJSON(t, http.MethodGet, env.httpSrv.URL+"/v1/reports/daily"+query, nil, authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var daily struct {
		Data []struct {
			AmountCents int64 `json:"amount_cents"`
			Requests    int64 `json:"requests"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &daily))
	require.Len(t, daily.Data, 1)
	require.Equal(t, int64(500), daily.Data[0].AmountCents)
	require.Equal(t, int64(1), daily.Data[0].Requests)

	resp, body = doJSON(t, http.MethodGet, env.httpSrv.URL+"/v1/reports/overdrafts"+query, nil, authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Contains(t, string(body), `"final_amount_cents":700`)
}

func TestE2E_BlockPolicyDeniesOverLimit(t *testing.T) {
	resetDatabase(t, env.db)
	account := seedDailyLimit(t, 100, plandomain.OverflowPolicyBlock)

	resp, body := doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/quota/check",
		accountBody(account, map[string]any{"model": "gpt-4o", "amount_cents": 150}), authHeaders())
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode, string(body))
	require.Contains(t, string(body), `"limit_exceeded"`)
}

func TestE2E_InvoiceFromUsage(t *testing.T) {
	resetDatabase(t, env.db)
	account := seedDailyLimit(t, 10_000, plandomain.OverflowPolicyGrace)

	for i, cents := range []int64{120, 80} {
		resp, body := doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/quota/settle", accountBody(account, map[string]any{
			"model":       "gpt-4o-mini",
			"final_cents": cents,
			"request_id":  fmt.Sprintf("req-invoice-%d", i),
		}), authHeaders())
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	now := time.Now().UTC()
	resp, body := doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/invoices", accountBody(account, map[string]any{
		"start":    now.Add(-24 * time.Hour).Format(time.RFC3339),
		"end":      now.Add(time.Hour).Format(time.RFC3339),
		"currency": "USD",
	}), authHeaders())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var invoice struct {
		ID               string `json:"id"`
		TotalAmountCents int64  `json:"total_amount_cents"`
		Status           string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &invoice))
	require.Equal(t, int64(200), invoice.TotalAmountCents)
	require.NotEmpty(t, invoice.ID)

	resp, body = doJSON(t, http.MethodGet, env.httpSrv.URL+"/v1/invoices/"+invoice.ID, nil, authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Contains(t, string(body), `"items"`)

	resp, pdf := doJSON(t, http.MethodGet, env.httpSrv.URL+"/v1/invoices/"+invoice.ID+"/pdf", nil, authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
}

func TestE2E_OutboxDrainsToLago(t *testing.T) {
	resetDatabase(t, env.db)
	account := seedDailyLimit(t, 10_000, plandomain.OverflowPolicyGrace)

	resp, body := doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/quota/settle", accountBody(account, map[string]any{
		"model":       "gpt-4o",
		"final_cents": 42,
		"request_id":  "req-lago-1",
	}), authHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	require.NoError(t, env.scheduler.OutboxDrainJob(context.Background()))

	requests := env.lago.Requests()
	require.NotEmpty(t, requests)
	var usage *lagoRequest
	for i := range requests {
		if requests[i].Path == "/events/usage" {
			usage = &requests[i]
		}
	}
	require.NotNil(t, usage, "usage event not delivered")
	require.Equal(t, "Bearer lago-e2e", usage.Authorization)
	require.Equal(t, "gpt-4o", usage.Body["model"])
}

func TestE2E_AdminCreatesScopedKey(t *testing.T) {
	resetDatabase(t, env.db)

	resp, body := doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/admin/api-keys", map[string]any{
		"name":   "reports only",
		"scopes": []string{"reports:read"},
	}, authHeaders())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.APIKey)

	scoped := map[string]string{"Authorization": "Bearer " + created.APIKey}
	resp, _ = doJSON(t, http.MethodPost, env.httpSrv.URL+"/v1/quota/check", map[string]any{
		"entity_type": "user", "entity_id": "1", "model": "gpt-4o",
	}, scoped)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, env.httpSrv.URL+"/v1/admin/api-keys", nil, scoped)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func doJSON(t *testing.T, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}
