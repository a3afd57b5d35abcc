package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/account/repository"
	"github.com/smallbiznis/meterguard/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  accountdomain.Repository
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		clock: clock.OrSystem(p.Clock),
		repo:  repository.Provide(),
	}
}

// EnsureUser returns the user for email, creating it when absent. Non-empty
// link fields on the request overwrite stored ones.
func (s *Service) EnsureUser(ctx context.Context, req accountdomain.EnsureUserRequest) (*accountdomain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, accountdomain.ErrInvalidEmail
	}
	litellmID := strings.TrimSpace(req.LiteLLMUserID)

	var out *accountdomain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		user := &accountdomain.User{
			ID:        s.genID.Generate(),
			TeamID:    req.TeamID,
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if litellmID != "" {
			user.LiteLLMUserID = &litellmID
		}
		inserted, err := s.repo.InsertUser(ctx, tx, user)
		if err != nil {
			return err
		}
		if inserted {
			out = user
			return nil
		}

		existing, err := s.repo.FindUserByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if existing == nil {
			return accountdomain.ErrUserNotFound
		}
		changed := false
		if req.TeamID != nil && (existing.TeamID == nil || *existing.TeamID != *req.TeamID) {
			existing.TeamID = req.TeamID
			changed = true
		}
		if litellmID != "" && (existing.LiteLLMUserID == nil || *existing.LiteLLMUserID != litellmID) {
			existing.LiteLLMUserID = &litellmID
			changed = true
		}
		if changed {
			existing.UpdatedAt = now
			if err := s.repo.UpdateUserLinks(ctx, tx, existing); err != nil {
				return err
			}
		}
		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetUser(ctx context.Context, id snowflake.ID) (*accountdomain.User, error) {
	if id <= 0 {
		return nil, accountdomain.ErrInvalidEntityID
	}
	user, err := s.repo.FindUserByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, accountdomain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) CreateTeam(ctx context.Context, req accountdomain.CreateTeamRequest) (*accountdomain.Team, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, accountdomain.ErrInvalidTeamName
	}
	team := &accountdomain.Team{
		ID:        s.genID.Generate(),
		Name:      name,
		CreatedAt: s.clock.Now(),
	}
	if id := strings.TrimSpace(req.LiteLLMTeamID); id != "" {
		team.LiteLLMTeamID = &id
	}
	if err := s.repo.InsertTeam(ctx, s.db, team); err != nil {
		return nil, err
	}
	return team, nil
}

func (s *Service) GetTeam(ctx context.Context, id snowflake.ID) (*accountdomain.Team, error) {
	if id <= 0 {
		return nil, accountdomain.ErrInvalidEntityID
	}
	team, err := s.repo.FindTeamByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, accountdomain.ErrTeamNotFound
	}
	return team, nil
}

func (s *Service) ListUsersWithBudgetLink(ctx context.Context) ([]accountdomain.User, error) {
	return s.repo.ListUsersWithBudgetLink(ctx, s.db)
}
