package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrUnknownProvider = errs.New(errs.KindValidation, "unknown_provider")
	ErrInvalidState    = errs.New(errs.KindValidation, "invalid_state")
	ErrNotConfigured   = errs.New(errs.KindConfiguration, "social_login_not_configured")
)

type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGithub Provider = "github"
)

// Authorization is a started sign-in: the browser goes to RedirectTo and
// comes back with State before ExpiresAt.
type Authorization struct {
	Provider   Provider  `json:"provider"`
	State      string    `json:"state"`
	RedirectTo string    `json:"redirect_to"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Completion struct {
	Provider   Provider `json:"provider"`
	RedirectTo string   `json:"redirect_to"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Start(ctx context.Context, provider string) (*Authorization, error)
	// Complete consumes the state; a state is accepted at most once.
	Complete(ctx context.Context, state string) (*Completion, error)
}
