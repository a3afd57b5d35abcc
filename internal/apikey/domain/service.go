package domain

import (
	"context"

	"github.com/smallbiznis/meterguard/pkg/errs"
)

const (
	ScopeQuotaWrite   = "quota:write"
	ScopeReportsRead  = "reports:read"
	ScopeBillingWrite = "billing:write"
	ScopeAdmin        = "admin"
)

var KnownScopes = []string{ScopeQuotaWrite, ScopeReportsRead, ScopeBillingWrite, ScopeAdmin}

var (
	ErrInvalidName  = errs.New(errs.KindValidation, "invalid_name")
	ErrInvalidScope = errs.New(errs.KindValidation, "invalid_scope")
	ErrInvalidKeyID = errs.New(errs.KindValidation, "invalid_key_id")
	ErrUnauthorized = errs.New(errs.KindSignature, "unauthorized")
	ErrNotFound     = errs.New(errs.KindNotFound, "api_key_not_found")
)

type CreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	List(ctx context.Context) ([]APIKey, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
	// Authenticate resolves a raw bearer token. The configured admin and dev
	// keys are checked before the table.
	Authenticate(ctx context.Context, raw string) (*Principal, error)
}
