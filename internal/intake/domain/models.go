package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeHandled  Outcome = "handled"
	OutcomeUnlinked Outcome = "unlinked"
)

// ProviderEvent is the dedup record of one external event. The unique
// (provider, external_event_id) index is the idempotency gate.
type ProviderEvent struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider         string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_provider_events_external,priority:1" json:"provider"`
	ExternalEventID  string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_provider_events_external,priority:2" json:"external_event_id"`
	EventType        string         `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload          datatypes.JSON `json:"payload"`
	Outcome          Outcome        `gorm:"type:varchar(16);not null" json:"outcome"`
	LinkedEntityType *string        `gorm:"type:varchar(32)" json:"linked_entity_type,omitempty"`
	LinkedEntityID   *snowflake.ID  `json:"linked_entity_id,omitempty"`
	ResultStatus     *string        `gorm:"type:varchar(32)" json:"result_status,omitempty"`
	ReceivedAt       time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
}

func (ProviderEvent) TableName() string { return "provider_events" }

// Envelope is a verified external event ready for intake.
type Envelope struct {
	Provider        string
	ExternalEventID string
	EventType       string
	Payload         []byte
}

// HandlerOutcome is what a handler did with an event. Linked=false means no
// local entity matched; the event is still recorded.
type HandlerOutcome struct {
	EntityType string
	EntityID   snowflake.ID
	Status     string
	Linked     bool
}

type Result struct {
	Provider   string       `json:"provider"`
	EventType  string       `json:"event_type"`
	EntityType string       `json:"entity_type,omitempty"`
	EntityID   snowflake.ID `json:"entity_id,omitempty"`
	Status     string       `json:"status,omitempty"`
	Duplicate  bool         `json:"duplicate"`
	Handled    bool         `json:"handled"`
}
