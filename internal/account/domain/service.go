package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrInvalidEntityType = errs.New(errs.KindValidation, "invalid_entity_type")
	ErrInvalidEntityID   = errs.New(errs.KindValidation, "invalid_entity_id")
	ErrInvalidEmail      = errs.New(errs.KindValidation, "invalid_email")
	ErrInvalidTeamName   = errs.New(errs.KindValidation, "invalid_team_name")
	ErrUserNotFound      = errs.New(errs.KindNotFound, "user_not_found")
	ErrTeamNotFound      = errs.New(errs.KindNotFound, "team_not_found")
)

// IsNotFound reports whether err is one of the lookup misses above.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrTeamNotFound)
}

type EnsureUserRequest struct {
	Email         string
	TeamID        *snowflake.ID
	LiteLLMUserID string
}

type CreateTeamRequest struct {
	Name          string
	LiteLLMTeamID string
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	EnsureUser(ctx context.Context, req EnsureUserRequest) (*User, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	CreateTeam(ctx context.Context, req CreateTeamRequest) (*Team, error)
	GetTeam(ctx context.Context, id snowflake.ID) (*Team, error)
	ListUsersWithBudgetLink(ctx context.Context) ([]User, error)
}
