package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/webhook/domain"
	"github.com/smallbiznis/checkout/pkg/db"
	"gorm.io/gorm"
)

type Repository interface {
	// Record claims the event under the dedup key. A redelivered event returns
	// ErrEventAlreadyProcessed without touching the existing row.
	Record(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error
	// FindByDedupKey loads the row holding the dedup key, claimed or finished.
	FindByDedupKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider, gatewayEventID string) (*domain.WebhookEvent, error)
	SetOutcome(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent, outcome domain.Outcome, now time.Time) error
	// Release frees the dedup key so the provider's next retry can claim it.
	Release(ctx context.Context, db *gorm.DB, eventID snowflake.ID) error
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Record(ctx context.Context, tx *gorm.DB, event *domain.WebhookEvent) error {
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, tenant_id, provider, gateway_event_id, event_type, payload, outcome, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.TenantID,
		event.Provider,
		event.GatewayEventID,
		event.EventType,
		event.Payload,
		event.Outcome,
		event.ReceivedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrEventAlreadyProcessed
	}
	return err
}

func (r *repo) FindByDedupKey(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, provider, gatewayEventID string) (*domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM webhook_events WHERE tenant_id = ? AND provider = ? AND gateway_event_id = ? LIMIT 1`,
		tenantID,
		provider,
		gatewayEventID,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *repo) SetOutcome(ctx context.Context, tx *gorm.DB, event *domain.WebhookEvent, outcome domain.Outcome, now time.Time) error {
	err := tx.WithContext(ctx).Exec(
		`UPDATE webhook_events SET outcome = ?, processed_at = ? WHERE id = ?`,
		outcome,
		now,
		event.ID,
	).Error
	if err != nil {
		return err
	}
	event.Outcome = outcome
	event.ProcessedAt = &now
	return nil
}

func (r *repo) Release(ctx context.Context, tx *gorm.DB, eventID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(
		`DELETE FROM webhook_events WHERE id = ? AND processed_at IS NULL`,
		eventID,
	).Error
}
