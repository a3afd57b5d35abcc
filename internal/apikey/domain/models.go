package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey is a hashed credential for the /v1 surface. Scopes are stored
// comma-separated so every dialect can hold them.
type APIKey struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	KeyID            string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_api_keys_key_id" json:"key_id"`
	Name             string       `gorm:"type:varchar(191);not null" json:"name"`
	Scopes           string       `gorm:"type:varchar(255);not null" json:"-"`
	KeyHash          string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_api_keys_key_hash" json:"-"`
	IsActive         bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
	LastUsedAt       *time.Time   `json:"last_used_at,omitempty"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
	RotatedFromKeyID *string      `gorm:"type:varchar(64)" json:"rotated_from_key_id,omitempty"`
}

func (APIKey) TableName() string { return "api_keys" }

func (k APIKey) ScopeList() []string {
	return splitScopes(k.Scopes)
}

func (k APIKey) Usable(now time.Time) bool {
	return k.IsActive && (k.ExpiresAt == nil || now.Before(*k.ExpiresAt))
}

// Principal is the authenticated caller of a request.
type Principal struct {
	KeyID  string   `json:"key_id"`
	Scopes []string `json:"scopes"`
	Admin  bool     `json:"admin"`
}

func (p Principal) Has(scope string) bool {
	if p.Admin {
		return true
	}
	for _, s := range p.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

func splitScopes(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
