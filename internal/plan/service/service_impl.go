package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	"github.com/smallbiznis/meterguard/internal/plan/repository"
	"github.com/smallbiznis/meterguard/internal/quota/window"
	"github.com/smallbiznis/meterguard/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTimezone  = "UTC+8"
	defaultResetTime = "00:00"
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
	repo  plandomain.Repository
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: clock.OrSystem(p.Clock),
		repo:  repository.Provide(),
	}
}

func (s *Service) CreatePlan(ctx context.Context, req plandomain.CreatePlanRequest) (*plandomain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, plandomain.ErrInvalidName
	}
	switch req.Type {
	case plandomain.PlanTypeDailyLimit, plandomain.PlanTypeUsage:
	default:
		return nil, plandomain.ErrInvalidPlanType
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return nil, plandomain.ErrInvalidCurrency
	}
	code := slug.Make(strings.TrimSpace(req.Code))
	if code == "" {
		code = slug.Make(name)
	}
	if code == "" {
		return nil, plandomain.ErrInvalidName
	}

	now := s.clock.Now()
	plan := &plandomain.Plan{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		Type:      req.Type,
		Currency:  currency,
		Status:    plandomain.PlanStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertPlan(ctx, s.db, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, plandomain.ErrPlanCodeTaken
		}
		return nil, err
	}
	s.log.Info("plan.created", zap.String("plan_id", plan.ID.String()), zap.String("code", code))
	return plan, nil
}

func (s *Service) ArchivePlan(ctx context.Context, id snowflake.ID) (*plandomain.Plan, error) {
	plan, err := s.findPlan(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan.Status == plandomain.PlanStatusArchived {
		return plan, nil
	}
	now := s.clock.Now()
	if err := s.repo.UpdatePlanStatus(ctx, s.db, id, plandomain.PlanStatusArchived, now); err != nil {
		return nil, err
	}
	plan.Status = plandomain.PlanStatusArchived
	plan.UpdatedAt = now
	return plan, nil
}

func (s *Service) UpsertDailyLimit(ctx context.Context, req plandomain.UpsertDailyLimitRequest) (*plandomain.DailyLimitPlan, error) {
	if req.LimitCents < 0 {
		return nil, plandomain.ErrInvalidLimit
	}
	policy := plandomain.OverflowPolicy(strings.ToLower(strings.TrimSpace(string(req.OverflowPolicy))))
	if policy == "" {
		policy = plandomain.OverflowPolicyBlock
	}
	switch policy {
	case plandomain.OverflowPolicyBlock, plandomain.OverflowPolicyGrace, plandomain.OverflowPolicyDegrade:
	default:
		return nil, plandomain.ErrInvalidOverflowPolicy
	}
	resetTime := strings.TrimSpace(req.ResetTime)
	if resetTime == "" {
		resetTime = defaultResetTime
	}
	if _, err := window.ParseResetTime(resetTime); err != nil {
		return nil, plandomain.ErrInvalidResetTime
	}
	timezone, err := normalizeTimezone(req.Timezone)
	if err != nil {
		return nil, err
	}
	if _, err := s.findPlan(ctx, s.db, req.PlanID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	limit := &plandomain.DailyLimitPlan{
		ID:             s.genID.Generate(),
		PlanID:         req.PlanID,
		LimitCents:     req.LimitCents,
		OverflowPolicy: policy,
		ResetTime:      resetTime,
		Timezone:       timezone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.UpsertDailyLimit(ctx, s.db, limit); err != nil {
		return nil, err
	}
	return s.repo.FindDailyLimit(ctx, s.db, req.PlanID)
}

func (s *Service) UpsertUsagePlan(ctx context.Context, req plandomain.UpsertUsagePlanRequest) (*plandomain.UsagePlan, error) {
	cycle := plandomain.BillingCycle(strings.ToLower(strings.TrimSpace(string(req.BillingCycle))))
	if cycle == "" {
		cycle = plandomain.BillingCycleMonthly
	}
	switch cycle {
	case plandomain.BillingCycleMonthly, plandomain.BillingCycleWeekly:
	default:
		return nil, plandomain.ErrInvalidBillingCycle
	}
	if (req.MinCommitCents != nil && *req.MinCommitCents < 0) || (req.CreditGrantCents != nil && *req.CreditGrantCents < 0) {
		return nil, plandomain.ErrInvalidLimit
	}
	if _, err := s.findPlan(ctx, s.db, req.PlanID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	usage := &plandomain.UsagePlan{
		ID:               s.genID.Generate(),
		PlanID:           req.PlanID,
		BillingCycle:     cycle,
		MinCommitCents:   req.MinCommitCents,
		CreditGrantCents: req.CreditGrantCents,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.UpsertUsagePlan(ctx, s.db, usage); err != nil {
		return nil, err
	}
	return s.repo.FindUsagePlan(ctx, s.db, req.PlanID)
}

func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (*plandomain.PlanDetail, error) {
	plan, err := s.findPlan(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	limit, err := s.repo.FindDailyLimit(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	usage, err := s.repo.FindUsagePlan(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &plandomain.PlanDetail{Plan: *plan, DailyLimit: limit, Usage: usage}, nil
}

// Assign closes any open active assignment of the account and inserts the new
// one in the same transaction. Prior rows are kept for history.
func (s *Service) Assign(ctx context.Context, req plandomain.AssignRequest) (*plandomain.PlanAssignment, error) {
	account := req.Account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, plandomain.ErrInvalidAccount
	}
	timezone, err := normalizeTimezone(req.Timezone)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	from := now
	if req.EffectiveFrom != nil {
		from = req.EffectiveFrom.UTC()
	}
	var to *time.Time
	if req.EffectiveTo != nil {
		t := req.EffectiveTo.UTC()
		if !t.After(from) {
			return nil, plandomain.ErrInvalidWindow
		}
		to = &t
	}

	var out *plandomain.PlanAssignment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.findPlan(ctx, tx, req.PlanID)
		if err != nil {
			return err
		}
		if plan.Status != plandomain.PlanStatusActive {
			return plandomain.ErrPlanArchived
		}

		closed, err := s.repo.CloseActiveAssignments(ctx, tx, account, now)
		if err != nil {
			return err
		}

		assignment := &plandomain.PlanAssignment{
			ID:            s.genID.Generate(),
			EntityType:    account.EntityType,
			EntityID:      account.EntityID,
			PlanID:        plan.ID,
			Status:        plandomain.AssignmentStatusActive,
			EffectiveFrom: from,
			EffectiveTo:   to,
			Timezone:      timezone,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.InsertAssignment(ctx, tx, assignment); err != nil {
			return err
		}
		s.log.Info("plan.assigned",
			zap.String("account", account.Key()),
			zap.String("plan_id", plan.ID.String()),
			zap.Int64("superseded", closed),
		)
		out = assignment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) EffectiveAssignment(ctx context.Context, account accountdomain.Account, at time.Time) (*plandomain.PlanAssignment, error) {
	account = account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, plandomain.ErrInvalidAccount
	}
	assignment, err := s.repo.FindEffectiveAssignment(ctx, s.db, account, at.UTC())
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, plandomain.ErrNoActiveAssignment
	}
	return assignment, nil
}

func (s *Service) DailyLimitFor(ctx context.Context, account accountdomain.Account, at time.Time) (*plandomain.DailyLimit, error) {
	assignment, err := s.EffectiveAssignment(ctx, account, at)
	if err != nil {
		return nil, err
	}
	plan, err := s.findPlan(ctx, s.db, assignment.PlanID)
	if err != nil {
		return nil, err
	}
	limit, err := s.repo.FindDailyLimit(ctx, s.db, plan.ID)
	if err != nil {
		return nil, err
	}
	if limit == nil {
		return nil, plandomain.ErrNoDailyLimit
	}
	return &plandomain.DailyLimit{Assignment: *assignment, Plan: *plan, Limit: *limit}, nil
}

func (s *Service) findPlan(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	if id <= 0 {
		return nil, plandomain.ErrPlanNotFound
	}
	plan, err := s.repo.FindPlanByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func normalizeTimezone(raw string) (string, error) {
	timezone := strings.TrimSpace(raw)
	if timezone == "" {
		return defaultTimezone, nil
	}
	if _, err := window.ParseUTCOffset(timezone); err != nil {
		return "", plandomain.ErrInvalidTimezone
	}
	return timezone, nil
}
