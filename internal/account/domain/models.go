package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EntityType string

const (
	EntityTypeUser EntityType = "user"
	EntityTypeTeam EntityType = "team"
)

// Account identifies the owner of a wallet, plan assignment or usage record.
type Account struct {
	EntityType EntityType   `json:"entity_type"`
	EntityID   snowflake.ID `json:"entity_id"`
}

func UserAccount(id snowflake.ID) Account { return Account{EntityType: EntityTypeUser, EntityID: id} }
func TeamAccount(id snowflake.ID) Account { return Account{EntityType: EntityTypeTeam, EntityID: id} }

func (a Account) Validate() error {
	switch EntityType(strings.ToLower(string(a.EntityType))) {
	case EntityTypeUser, EntityTypeTeam:
	default:
		return ErrInvalidEntityType
	}
	if a.EntityID <= 0 {
		return ErrInvalidEntityID
	}
	return nil
}

// Normalize lower-cases the entity type.
func (a Account) Normalize() Account {
	a.EntityType = EntityType(strings.ToLower(strings.TrimSpace(string(a.EntityType))))
	return a
}

// Key is a stable string form used for lock names and cache keys.
func (a Account) Key() string {
	return fmt.Sprintf("%s:%d", a.EntityType, int64(a.EntityID))
}

// ParseEntityType accepts "user" or "team" in any case.
func ParseEntityType(raw string) (EntityType, error) {
	switch v := EntityType(strings.ToLower(strings.TrimSpace(raw))); v {
	case EntityTypeUser, EntityTypeTeam:
		return v, nil
	default:
		return "", ErrInvalidEntityType
	}
}

type User struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	TeamID        *snowflake.ID `gorm:"index" json:"team_id,omitempty"`
	Email         string        `gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email" json:"email"`
	LiteLLMUserID *string       `gorm:"type:varchar(191);uniqueIndex:ux_users_litellm_user_id" json:"litellm_user_id,omitempty"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u User) Account() Account { return UserAccount(u.ID) }

type Team struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Name          string       `gorm:"type:varchar(191);not null" json:"name"`
	LiteLLMTeamID *string      `gorm:"type:varchar(191);uniqueIndex:ux_teams_litellm_team_id" json:"litellm_team_id,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (Team) TableName() string { return "teams" }
