package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() accountdomain.Repository {
	return &repo{}
}

// InsertUser reports false when a user with the same email already exists.
func (r *repo) InsertUser(ctx context.Context, db *gorm.DB, user *accountdomain.User) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(user)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindUserByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.User, error) {
	var user accountdomain.User
	err := db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*accountdomain.User, error) {
	var user accountdomain.User
	err := db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) UpdateUserLinks(ctx context.Context, db *gorm.DB, user *accountdomain.User) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET team_id = ?, litellm_user_id = ?, updated_at = ? WHERE id = ?`,
		user.TeamID,
		user.LiteLLMUserID,
		user.UpdatedAt,
		user.ID,
	).Error
}

func (r *repo) ListUsersWithBudgetLink(ctx context.Context, db *gorm.DB) ([]accountdomain.User, error) {
	var users []accountdomain.User
	err := db.WithContext(ctx).
		Where("litellm_user_id IS NOT NULL AND litellm_user_id <> ''").
		Order("id ASC").
		Find(&users).Error
	return users, err
}

func (r *repo) InsertTeam(ctx context.Context, db *gorm.DB, team *accountdomain.Team) error {
	return db.WithContext(ctx).Create(team).Error
}

func (r *repo) FindTeamByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.Team, error) {
	var team accountdomain.Team
	err := db.WithContext(ctx).Where("id = ?", id).Take(&team).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}
