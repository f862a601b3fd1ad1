package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, session *CheckoutSession) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CheckoutSession, error)

	// Update persists the session under the optimistic version guard; a lost
	// race surfaces as ErrConcurrentModification with the row untouched.
	Update(ctx context.Context, db *gorm.DB, session *CheckoutSession, now time.Time) error

	// ExpireDue sweeps every non-terminal session whose deadline passed. The
	// status filter makes the sweep cooperative: a concurrently completing
	// session keeps its terminal status.
	ExpireDue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
