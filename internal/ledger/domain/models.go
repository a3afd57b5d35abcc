package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"gorm.io/datatypes"
)

// Reason classifies a ledger entry.
type Reason string

const (
	ReasonRecharge Reason = "recharge"
	ReasonSpend    Reason = "spend"
	ReasonRefund   Reason = "refund"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonRecharge, ReasonSpend, ReasonRefund:
		return true
	default:
		return false
	}
}

// Wallet holds the materialized balance of one account in one currency.
// The balance may go negative.
type Wallet struct {
	ID                snowflake.ID             `gorm:"primaryKey" json:"id"`
	EntityType        accountdomain.EntityType `gorm:"type:varchar(16);not null;uniqueIndex:ux_wallets_owner,priority:1" json:"entity_type"`
	EntityID          snowflake.ID             `gorm:"not null;uniqueIndex:ux_wallets_owner,priority:2" json:"entity_id"`
	Currency          string                   `gorm:"type:varchar(8);not null;uniqueIndex:ux_wallets_owner,priority:3" json:"currency"`
	BalanceCents      int64                    `gorm:"not null;default:0" json:"balance_cents"`
	LowThresholdCents *int64                   `json:"low_threshold_cents,omitempty"`
	CreatedAt         time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                `gorm:"not null" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

func (w Wallet) Account() accountdomain.Account {
	return accountdomain.Account{EntityType: w.EntityType, EntityID: w.EntityID}
}

// LedgerEntry is an append-only signed movement on a wallet.
type LedgerEntry struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	WalletID    snowflake.ID   `gorm:"not null;index:ix_ledger_entries_wallet_created,priority:1" json:"wallet_id"`
	AmountCents int64          `gorm:"not null" json:"amount_cents"`
	Currency    string         `gorm:"type:varchar(8);not null" json:"currency"`
	Reason      Reason         `gorm:"type:varchar(16);not null" json:"reason"`
	Meta        datatypes.JSON `json:"meta,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index:ix_ledger_entries_wallet_created,priority:2" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// UsageRecord is the immutable record of one metered call.
type UsageRecord struct {
	ID                  snowflake.ID             `gorm:"primaryKey" json:"id"`
	EntityType          accountdomain.EntityType `gorm:"type:varchar(16);not null;index:ix_usage_records_owner_created,priority:1" json:"entity_type"`
	EntityID            snowflake.ID             `gorm:"not null;index:ix_usage_records_owner_created,priority:2" json:"entity_id"`
	TeamID              *snowflake.ID            `json:"team_id,omitempty"`
	Model               string                   `gorm:"type:varchar(191);not null" json:"model"`
	Unit                string                   `gorm:"type:varchar(16);not null" json:"unit"`
	InputTokens         int64                    `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens        int64                    `gorm:"not null;default:0" json:"output_tokens"`
	TotalTokens         int64                    `gorm:"not null;default:0" json:"total_tokens"`
	ComputedAmountCents int64                    `gorm:"not null;default:0" json:"computed_amount_cents"`
	PriceRuleID         *snowflake.ID            `json:"price_rule_id,omitempty"`
	Currency            string                   `gorm:"type:varchar(8);not null" json:"currency"`
	Success             bool                     `gorm:"not null" json:"success"`
	RequestID           *string                  `gorm:"type:varchar(191);uniqueIndex:ux_usage_records_request_id" json:"request_id,omitempty"`
	CreatedAt           time.Time                `gorm:"not null;index:ix_usage_records_owner_created,priority:3" json:"created_at"`
}

func (UsageRecord) TableName() string { return "usage_records" }

func (u UsageRecord) Account() accountdomain.Account {
	return accountdomain.Account{EntityType: u.EntityType, EntityID: u.EntityID}
}
