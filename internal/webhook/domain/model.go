package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Outcome classifies what the reconciler did with one inbound event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeNoMatch   Outcome = "no_match"
	OutcomeMismatch  Outcome = "amount_mismatch"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// WebhookEvent is the dedup ledger row. The unique key on
// (tenant_id, provider, gateway_event_id) makes redelivery a no-op regardless
// of how many times the provider retries.
type WebhookEvent struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID       snowflake.ID   `json:"tenant_id" gorm:"not null;index:ux_webhook_events_dedup,priority:1"`
	Provider       string         `json:"provider" gorm:"type:text;not null;index:ux_webhook_events_dedup,priority:2"`
	GatewayEventID string         `json:"gateway_event_id" gorm:"type:text;not null;index:ux_webhook_events_dedup,priority:3"`
	EventType      string         `json:"event_type" gorm:"type:text"`
	Payload        datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Outcome        Outcome        `json:"outcome" gorm:"type:text;not null"`
	ReceivedAt     time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Ack is what the HTTP layer returns to the provider. Providers only care
// that the event was received; the outcome detail is for operators.
type Ack struct {
	EventID string  `json:"event_id"`
	Outcome Outcome `json:"outcome"`
}

var (
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
