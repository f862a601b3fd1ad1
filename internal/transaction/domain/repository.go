package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentTransaction, error)
	FindBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*PaymentTransaction, error)
	FindByGatewayID(ctx context.Context, db *gorm.DB, provider string, gatewayTransactionID string) (*PaymentTransaction, error)
	FindPendingByReferenceCode(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) (*PaymentTransaction, error)
	ListStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]PaymentTransaction, error)

	// UpdateStatus applies a status transition under the optimistic version
	// guard. It returns ErrConcurrentModification when the compared version
	// no longer matches.
	UpdateStatus(ctx context.Context, db *gorm.DB, txn *PaymentTransaction, to Status, gatewayTransactionID string, failureReason *string, now time.Time) error
}
