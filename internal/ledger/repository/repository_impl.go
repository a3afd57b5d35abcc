package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

// EnsureWallet inserts wallet unless one already exists for its owner and currency.
func (r *repo) EnsureWallet(ctx context.Context, db *gorm.DB, wallet *ledgerdomain.Wallet) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "entity_type"},
				{Name: "entity_id"},
				{Name: "currency"},
			},
			DoNothing: true,
		}).
		Create(wallet).Error
}

func (r *repo) LockWallet(ctx context.Context, db *gorm.DB, account accountdomain.Account, currency string) (*ledgerdomain.Wallet, error) {
	var wallet ledgerdomain.Wallet
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("entity_type = ? AND entity_id = ? AND currency = ?", account.EntityType, account.EntityID, currency).
		Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repo) FindWallet(ctx context.Context, db *gorm.DB, account accountdomain.Account, currency string) (*ledgerdomain.Wallet, error) {
	var wallet ledgerdomain.Wallet
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND currency = ?", account.EntityType, account.EntityID, currency).
		Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repo) ApplyDelta(ctx context.Context, db *gorm.DB, walletID snowflake.ID, delta int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE wallets SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ?`,
		delta,
		at,
		walletID,
	).Error
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *ledgerdomain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, wallet_id, amount_cents, currency, reason, meta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.WalletID,
		entry.AmountCents,
		entry.Currency,
		entry.Reason,
		entry.Meta,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, walletID snowflake.ID, limit int) ([]ledgerdomain.LedgerEntry, error) {
	var entries []ledgerdomain.LedgerEntry
	err := db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *repo) SumEntries(ctx context.Context, db *gorm.DB, walletID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE wallet_id = ?`,
		walletID,
	).Scan(&total).Error
	return total, err
}

// InsertUsage reports false when a record with the same request id exists.
func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, record *ledgerdomain.UsageRecord) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "request_id"}}, DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindUsageByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*ledgerdomain.UsageRecord, error) {
	var record ledgerdomain.UsageRecord
	err := db.WithContext(ctx).Where("request_id = ?", requestID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) ListUsage(ctx context.Context, db *gorm.DB, account accountdomain.Account, start, end time.Time, limit int) ([]ledgerdomain.UsageRecord, error) {
	var records []ledgerdomain.UsageRecord
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND created_at >= ? AND created_at < ?",
			account.EntityType, account.EntityID, start, end).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *repo) SumUsage(ctx context.Context, db *gorm.DB, account accountdomain.Account, currency string, start, end time.Time) (ledgerdomain.UsageTotals, error) {
	query := `SELECT
			COALESCE(SUM(computed_amount_cents), 0) AS amount_cents,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COUNT(*) AS count
		FROM usage_records
		WHERE entity_type = ? AND entity_id = ? AND created_at >= ? AND created_at < ?`
	args := []any{account.EntityType, account.EntityID, start, end}
	if currency != "" {
		query += ` AND currency = ?`
		args = append(args, currency)
	}

	var totals ledgerdomain.UsageTotals
	err := db.WithContext(ctx).Raw(query, args...).Scan(&totals).Error
	return totals, err
}
