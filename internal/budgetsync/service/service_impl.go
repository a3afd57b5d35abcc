package service

import (
	"context"
	"strings"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/budgetsync/domain"
	"github.com/smallbiznis/meterguard/internal/budgetsync/litellm"
	"github.com/smallbiznis/meterguard/internal/config"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	"github.com/smallbiznis/meterguard/pkg/softresult"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	AccountSvc accountdomain.Service
	LedgerSvc  ledgerdomain.Service
	Client     *litellm.Client `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	currency   string
	accountSvc accountdomain.Service
	ledgerSvc  ledgerdomain.Service
	client     *litellm.Client
}

func NewService(p Params) domain.Service {
	client := p.Client
	if client == nil {
		client = litellm.NewClient(p.Cfg.LiteLLM, nil)
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Cfg.LiteLLM.SyncCurrency))
	if currency == "" {
		currency = "USD"
	}
	return &Service{
		log:        p.Log.Named("budgetsync.service"),
		currency:   currency,
		accountSvc: p.AccountSvc,
		ledgerSvc:  p.LedgerSvc,
		client:     client,
	}
}

// SyncAccount pushes the account's balance as its gateway budget. Only user
// accounts with a gateway link are synced.
func (s *Service) SyncAccount(ctx context.Context, account accountdomain.Account) softresult.Result {
	if !s.client.Configured() {
		return softresult.Skipped("litellm_not_configured")
	}
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return softresult.Failed(err)
	}
	if account.EntityType != accountdomain.EntityTypeUser {
		return softresult.Skipped("not_a_user_account")
	}
	user, err := s.accountSvc.GetUser(ctx, account.EntityID)
	if err != nil {
		return softresult.Failed(err)
	}
	return s.syncUser(ctx, *user, s.currency)
}

func (s *Service) SyncAll(ctx context.Context, currency string) (domain.SyncStats, error) {
	var stats domain.SyncStats
	if !s.client.Configured() {
		return stats, nil
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.currency
	}

	users, err := s.accountSvc.ListUsersWithBudgetLink(ctx)
	if err != nil {
		return stats, err
	}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Considered++
		res := s.syncUser(ctx, user, currency)
		switch {
		case res.OK():
			stats.Synced++
		case res.Skipped():
			stats.Skipped++
		default:
			stats.Failed++
		}
	}

	s.log.Info("budgetsync.sync_all.completed",
		zap.String("currency", currency),
		zap.Int("considered", stats.Considered),
		zap.Int("synced", stats.Synced),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

func (s *Service) syncUser(ctx context.Context, user accountdomain.User, currency string) softresult.Result {
	if user.LiteLLMUserID == nil || strings.TrimSpace(*user.LiteLLMUserID) == "" {
		return softresult.Skipped("no_gateway_link")
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("user_id", user.ID.String()),
		zap.String("litellm_user_id", *user.LiteLLMUserID),
	)

	balance, err := s.ledgerSvc.Balance(ctx, user.Account(), currency)
	if err != nil {
		log.Warn("budgetsync.balance_failed", zap.Error(err))
		return softresult.Failed(err)
	}
	res := s.client.UpdateBudget(ctx, *user.LiteLLMUserID, balance, "")
	if res.Failed() {
		log.Warn("budgetsync.update_failed", zap.String("reason", res.Reason))
		return res
	}
	log.Debug("budgetsync.updated", zap.Int64("balance_cents", balance), zap.String("status", string(res.Status)))
	return res
}
