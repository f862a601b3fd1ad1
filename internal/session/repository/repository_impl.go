package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/session/domain"
	"gorm.io/gorm"
)

// mutableColumns lists every column a state transition may touch. The Select
// forces gorm to write zero values too, so a step can clear a field.
var mutableColumns = []string{
	"customer_email",
	"customer_name",
	"customer_phone",
	"sub_total",
	"currency",
	"shipping_address",
	"billing_address",
	"billing_same_as_shipping",
	"shipping_method",
	"shipping_cost",
	"estimated_delivery_at",
	"payment_method",
	"status",
	"order_id",
	"order_number",
	"updated_at",
	"version",
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, session *domain.CheckoutSession) error {
	return db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CheckoutSession, error) {
	var item domain.CheckoutSession
	res := db.WithContext(ctx).Limit(1).Find(&item, "id = ?", id)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, session *domain.CheckoutSession, now time.Time) error {
	if session == nil {
		return domain.ErrNotFound
	}

	expected := session.Version
	updated := *session
	updated.UpdatedAt = now
	updated.Version = expected + 1

	res := db.WithContext(ctx).
		Model(&domain.CheckoutSession{}).
		Where("id = ? AND version = ?", session.ID, expected).
		Select(mutableColumns).
		Updates(&updated)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}

	session.UpdatedAt = now
	session.Version = expected + 1
	return nil
}

func (r *repo) ExpireDue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE checkout_sessions
		 SET status = ?, updated_at = ?, version = version + 1
		 WHERE status NOT IN (?, ?, ?) AND expires_at <= ?`,
		domain.StatusExpired,
		now,
		domain.StatusCompleted,
		domain.StatusExpired,
		domain.StatusAbandoned,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
