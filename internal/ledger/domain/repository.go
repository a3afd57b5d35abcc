package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"gorm.io/gorm"
)

// UsageTotals aggregates usage records over a window.
type UsageTotals struct {
	AmountCents int64
	TotalTokens int64
	Count       int64
}

type Repository interface {
	EnsureWallet(ctx context.Context, db *gorm.DB, wallet *Wallet) error
	LockWallet(ctx context.Context, db *gorm.DB, account accountdomain.Account, currency string) (*Wallet, error)
	FindWallet(ctx context.Context, db *gorm.DB, account accountdomain.Account, currency string) (*Wallet, error)
	ApplyDelta(ctx context.Context, db *gorm.DB, walletID snowflake.ID, delta int64, at time.Time) error
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	ListEntries(ctx context.Context, db *gorm.DB, walletID snowflake.ID, limit int) ([]LedgerEntry, error)
	SumEntries(ctx context.Context, db *gorm.DB, walletID snowflake.ID) (int64, error)

	InsertUsage(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)
	FindUsageByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*UsageRecord, error)
	ListUsage(ctx context.Context, db *gorm.DB, account accountdomain.Account, start, end time.Time, limit int) ([]UsageRecord, error)
	SumUsage(ctx context.Context, db *gorm.DB, account accountdomain.Account, currency string, start, end time.Time) (UsageTotals, error)
}
