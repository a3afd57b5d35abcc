package domain

import (
	"context"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/pkg/softresult"
)

// SyncStats counts one pass over linked users.
type SyncStats struct {
	Considered int `json:"considered"`
	Synced     int `json:"synced"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Service pushes wallet balances to the gateway as spend budgets. Nothing
// here returns an error for a remote failure.
//
//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	SyncAccount(ctx context.Context, account accountdomain.Account) softresult.Result
	SyncAll(ctx context.Context, currency string) (SyncStats, error)
}
