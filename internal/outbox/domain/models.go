package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const EventTypeHTTPPost = "http_post"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// EventOutbox is one outbound side effect, written in the same transaction
// as the state change that caused it.
type EventOutbox struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	EventType     string         `gorm:"type:varchar(32);not null" json:"event_type"`
	Destination   string         `gorm:"type:varchar(512);not null" json:"destination"`
	Payload       datatypes.JSON `json:"payload"`
	Status        Status         `gorm:"type:varchar(16);not null;index:ix_event_outbox_due,priority:1" json:"status"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time     `gorm:"index:ix_event_outbox_due,priority:2" json:"next_attempt_at,omitempty"`
	LastError     *string        `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (EventOutbox) TableName() string { return "event_outbox" }

type DrainStats struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Dead    int `json:"dead"`
}

// Backoff is the delay before retry number attempts: 2^min(10, attempts)
// seconds, capped at limit.
func Backoff(attempts int, limit time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := time.Duration(1<<min(10, attempts)) * time.Second
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
