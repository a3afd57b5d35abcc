package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
)

const dateOnlyLayout = "2006-01-02"

// accountParams is the account selector shared by query strings and bodies.
type accountParams struct {
	EntityType string `json:"entity_type" form:"entity_type"`
	EntityID   string `json:"entity_id" form:"entity_id"`
}

func (p accountParams) account() (accountdomain.Account, error) {
	entityType, err := accountdomain.ParseEntityType(p.EntityType)
	if err != nil {
		return accountdomain.Account{}, err
	}
	id, err := parseSnowflakeID(p.EntityID)
	if err != nil {
		return accountdomain.Account{}, accountdomain.ErrInvalidEntityID
	}
	return accountdomain.Account{EntityType: entityType, EntityID: id}, nil
}

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, ErrInvalidRequest
	}
	return parsed, nil
}

func parseOptionalInt(value string, def int) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def, nil
	}
	return strconv.Atoi(trimmed)
}

// parseDate reads YYYY-MM-DD or RFC3339.
func parseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(dateOnlyLayout, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
