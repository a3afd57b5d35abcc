package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	"github.com/smallbiznis/meterguard/internal/ledger/repository"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      clock.OrSystem(p.Clock),
		repo:       repository.Provide(),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (*ledgerdomain.Mutation, error) {
	var out *ledgerdomain.Mutation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.CreditTx(ctx, tx, req)
		out = m
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterEntry(ctx, out)
	return out, nil
}

func (s *Service) Debit(ctx context.Context, req ledgerdomain.DebitRequest) (*ledgerdomain.Mutation, error) {
	var out *ledgerdomain.Mutation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.DebitTx(ctx, tx, req)
		out = m
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterEntry(ctx, out)
	return out, nil
}

func (s *Service) RecordUsage(ctx context.Context, req ledgerdomain.UsageRequest) (*ledgerdomain.UsageResult, error) {
	var out *ledgerdomain.UsageResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.RecordUsageTx(ctx, tx, req)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	if !out.Duplicate && s.obsMetrics != nil {
		s.obsMetrics.RecordUsage(ctx, out.Record.Model, out.Record.ComputedAmountCents)
		s.obsMetrics.RecordLedgerEntry(ctx, string(ledgerdomain.ReasonSpend))
	}
	return out, nil
}

// CreditTx adds abs(amount) to the wallet inside tx. The default reason is recharge.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.CreditRequest) (*ledgerdomain.Mutation, error) {
	reason := req.Reason
	if reason == "" {
		reason = ledgerdomain.ReasonRecharge
	}
	if req.AmountCents <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	return s.mutate(ctx, tx, req.Account, req.Currency, req.AmountCents, reason, req.Meta)
}

// DebitTx subtracts abs(amount) inside tx. The balance is allowed to go negative.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.DebitRequest) (*ledgerdomain.Mutation, error) {
	reason := req.Reason
	if reason == "" {
		reason = ledgerdomain.ReasonSpend
	}
	if req.AmountCents == 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	return s.mutate(ctx, tx, req.Account, req.Currency, -abs(req.AmountCents), reason, req.Meta)
}

// RecordUsageTx inserts the usage record and the matching spend entry. A
// correlation id that was already recorded returns the stored record with
// Duplicate set and changes nothing.
func (s *Service) RecordUsageTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.UsageRequest) (*ledgerdomain.UsageResult, error) {
	if tx == nil {
		return nil, ledgerdomain.ErrTxRequired
	}
	account, currency, err := normalizeTarget(req.Account, req.Currency)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, ledgerdomain.ErrInvalidModel
	}
	unit := strings.ToLower(strings.TrimSpace(req.Unit))
	if unit == "" {
		return nil, ledgerdomain.ErrInvalidUnit
	}
	if req.AmountCents < 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	total := req.TotalTokens
	if total == 0 {
		total = req.InputTokens + req.OutputTokens
	}

	now := s.clock.Now()
	record := ledgerdomain.UsageRecord{
		ID:                  s.genID.Generate(),
		EntityType:          account.EntityType,
		EntityID:            account.EntityID,
		TeamID:              req.TeamID,
		Model:               model,
		Unit:                unit,
		InputTokens:         req.InputTokens,
		OutputTokens:        req.OutputTokens,
		TotalTokens:         total,
		ComputedAmountCents: req.AmountCents,
		PriceRuleID:         req.PriceRuleID,
		Currency:            currency,
		Success:             req.Success,
		CreatedAt:           now,
	}
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID != "" {
		record.RequestID = &correlationID
	}

	inserted, err := s.repo.InsertUsage(ctx, tx, &record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.FindUsageByRequestID(ctx, tx, correlationID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ledgerdomain.ErrUsageConflict
		}
		obslogger.WithContext(ctx, s.log).Info("ledger.usage_duplicate",
			zap.String("request_id", correlationID),
			zap.String("usage_id", existing.ID.String()),
		)
		return &ledgerdomain.UsageResult{Record: *existing, Duplicate: true}, nil
	}

	meta := map[string]any{
		"usage_id": record.ID.String(),
		"model":    model,
		"unit":     unit,
	}
	for k, v := range req.Meta {
		meta[k] = v
	}
	if correlationID != "" {
		meta["request_id"] = correlationID
	}
	if req.PriceRuleID != nil {
		meta["price_rule_id"] = req.PriceRuleID.String()
	}

	m, err := s.mutate(ctx, tx, account, currency, -req.AmountCents, ledgerdomain.ReasonSpend, meta)
	if err != nil {
		return nil, err
	}
	return &ledgerdomain.UsageResult{
		Record: record,
		Entry:  &m.Entry,
		Wallet: &m.Wallet,
	}, nil
}

// LockWalletTx returns the wallet row locked for the rest of tx, creating it at zero.
func (s *Service) LockWalletTx(ctx context.Context, tx *gorm.DB, account accountdomain.Account, currency string) (*ledgerdomain.Wallet, error) {
	if tx == nil {
		return nil, ledgerdomain.ErrTxRequired
	}
	account, currency, err := normalizeTarget(account, currency)
	if err != nil {
		return nil, err
	}
	return s.lockWallet(ctx, tx, account, currency)
}

func (s *Service) SpentInWindowTx(ctx context.Context, tx *gorm.DB, account accountdomain.Account, start, end time.Time) (int64, error) {
	if !end.After(start) {
		return 0, ledgerdomain.ErrInvalidWindow
	}
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	totals, err := s.repo.SumUsage(ctx, tx, account, "", start.UTC(), end.UTC())
	if err != nil {
		return 0, err
	}
	return totals.AmountCents, nil
}

func (s *Service) GetWallet(ctx context.Context, account accountdomain.Account, currency string) (*ledgerdomain.Wallet, error) {
	account, currency, err := normalizeTarget(account, currency)
	if err != nil {
		return nil, err
	}
	wallet, err := s.repo.FindWallet(ctx, s.db, account, currency)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, ledgerdomain.ErrWalletNotFound
	}
	return wallet, nil
}

// Balance returns zero for an account that has no wallet yet.
func (s *Service) Balance(ctx context.Context, account accountdomain.Account, currency string) (int64, error) {
	wallet, err := s.GetWallet(ctx, account, currency)
	if errors.Is(err, ledgerdomain.ErrWalletNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wallet.BalanceCents, nil
}

func (s *Service) ListEntries(ctx context.Context, walletID snowflake.ID, limit int) ([]ledgerdomain.LedgerEntry, error) {
	return s.repo.ListEntries(ctx, s.db, walletID, clampLimit(limit))
}

func (s *Service) ListUsage(ctx context.Context, account accountdomain.Account, start, end time.Time, limit int) ([]ledgerdomain.UsageRecord, error) {
	if !end.After(start) {
		return nil, ledgerdomain.ErrInvalidWindow
	}
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	return s.repo.ListUsage(ctx, s.db, account, start.UTC(), end.UTC(), clampLimit(limit))
}

// SpentInWindow sums computed usage cost for created_at in [start, end).
func (s *Service) SpentInWindow(ctx context.Context, account accountdomain.Account, start, end time.Time) (int64, error) {
	return s.SpentInWindowTx(ctx, s.db, account, start, end)
}

func (s *Service) UsageTotals(ctx context.Context, account accountdomain.Account, currency string, start, end time.Time) (ledgerdomain.UsageTotals, error) {
	if !end.After(start) {
		return ledgerdomain.UsageTotals{}, ledgerdomain.ErrInvalidWindow
	}
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return ledgerdomain.UsageTotals{}, ledgerdomain.ErrInvalidAccount
	}
	return s.repo.SumUsage(ctx, s.db, account, strings.ToUpper(strings.TrimSpace(currency)), start.UTC(), end.UTC())
}

func (s *Service) SumEntries(ctx context.Context, walletID snowflake.ID) (int64, error) {
	return s.repo.SumEntries(ctx, s.db, walletID)
}

func (s *Service) mutate(
	ctx context.Context,
	tx *gorm.DB,
	account accountdomain.Account,
	currency string,
	delta int64,
	reason ledgerdomain.Reason,
	meta map[string]any,
) (*ledgerdomain.Mutation, error) {
	if tx == nil {
		return nil, ledgerdomain.ErrTxRequired
	}
	if !reason.Valid() {
		return nil, ledgerdomain.ErrInvalidReason
	}
	account, currency, err := normalizeTarget(account, currency)
	if err != nil {
		return nil, err
	}

	wallet, err := s.lockWallet(ctx, tx, account, currency)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.ApplyDelta(ctx, tx, wallet.ID, delta, now); err != nil {
		return nil, err
	}
	wallet.BalanceCents += delta
	wallet.UpdatedAt = now

	entry := ledgerdomain.LedgerEntry{
		ID:          s.genID.Generate(),
		WalletID:    wallet.ID,
		AmountCents: delta,
		Currency:    currency,
		Reason:      reason,
		CreatedAt:   now,
	}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		entry.Meta = datatypes.JSON(raw)
	}
	if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Debug("ledger.entry",
		zap.String("wallet_id", wallet.ID.String()),
		zap.String("reason", string(reason)),
		zap.Int64("amount_cents", delta),
		zap.Int64("balance_cents", wallet.BalanceCents),
	)
	return &ledgerdomain.Mutation{Wallet: *wallet, Entry: entry}, nil
}

func (s *Service) lockWallet(ctx context.Context, tx *gorm.DB, account accountdomain.Account, currency string) (*ledgerdomain.Wallet, error) {
	now := s.clock.Now()
	if err := s.repo.EnsureWallet(ctx, tx, &ledgerdomain.Wallet{
		ID:         s.genID.Generate(),
		EntityType: account.EntityType,
		EntityID:   account.EntityID,
		Currency:   currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	wallet, err := s.repo.LockWallet(ctx, tx, account, currency)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceWallet, time.Since(start))
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, ledgerdomain.ErrWalletNotFound
	}
	return wallet, nil
}

func (s *Service) afterEntry(ctx context.Context, m *ledgerdomain.Mutation) {
	if m == nil {
		return
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(m.Entry.Reason))
	}
	obslogger.WithContext(ctx, s.log).Info("ledger."+string(m.Entry.Reason),
		zap.String("wallet_id", m.Wallet.ID.String()),
		zap.Int64("amount_cents", m.Entry.AmountCents),
		zap.Int64("balance_cents", m.Wallet.BalanceCents),
	)
}

func normalizeTarget(account accountdomain.Account, currency string) (accountdomain.Account, string, error) {
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return account, "", ledgerdomain.ErrInvalidAccount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return account, "", ledgerdomain.ErrInvalidCurrency
	}
	return account, currency, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
