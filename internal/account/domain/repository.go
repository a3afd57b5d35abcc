package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertUser(ctx context.Context, db *gorm.DB, user *User) (bool, error)
	FindUserByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	UpdateUserLinks(ctx context.Context, db *gorm.DB, user *User) error
	ListUsersWithBudgetLink(ctx context.Context, db *gorm.DB) ([]User, error)
	InsertTeam(ctx context.Context, db *gorm.DB, team *Team) error
	FindTeamByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Team, error)
}
