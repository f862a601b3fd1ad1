package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/session/domain"
	"github.com/smallbiznis/checkout/internal/session/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_sess_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Exec(`CREATE TABLE checkout_sessions (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		cart_id TEXT NOT NULL,
		user_id BIGINT,
		customer_email TEXT NOT NULL,
		customer_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		sub_total BIGINT NOT NULL,
		currency TEXT NOT NULL,
		shipping_address TEXT,
		billing_address TEXT,
		billing_same_as_shipping BOOLEAN NOT NULL DEFAULT FALSE,
		shipping_method TEXT,
		shipping_cost BIGINT NOT NULL DEFAULT 0,
		estimated_delivery_at DATETIME,
		payment_method TEXT,
		status TEXT NOT NULL,
		order_id TEXT,
		order_number TEXT,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version BIGINT NOT NULL DEFAULT 1
	)`).Error; err != nil {
		t.Fatalf("schema exec failed: %v", err)
	}
	return db
}

func newSession(node *snowflake.Node, now time.Time) domain.CheckoutSession {
	return domain.CheckoutSession{
		ID:            node.Generate(),
		TenantID:      node.Generate(),
		CartID:        "cart_1",
		CustomerEmail: "shopper@example.com",
		SubTotal:      200000,
		Currency:      "VND",
		Status:        domain.StatusStarted,
		ExpiresAt:     now.Add(30 * time.Minute),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
}

func TestUpdateDetectsConcurrentModification(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(50)
	repo := repository.Provide()
	now := time.Now().UTC()

	session := newSession(node, now)
	if err := repo.Create(ctx, db, &session); err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := session
	session.Status = domain.StatusAddressComplete
	if err := repo.Update(ctx, db, &session, now); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if session.Version != 2 {
		t.Fatalf("expected version bump, got %d", session.Version)
	}

	stale.Status = domain.StatusAbandoned
	if err := repo.Update(ctx, db, &stale, now); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestUpdatePersistsAddresses(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(51)
	repo := repository.Provide()
	now := time.Now().UTC()

	session := newSession(node, now)
	if err := repo.Create(ctx, db, &session); err != nil {
		t.Fatalf("create: %v", err)
	}

	session.Status = domain.StatusAddressComplete
	session.ShippingAddress = &domain.Address{
		FullName:    "Nguyen Van A",
		Line1:       "1 Trang Tien",
		City:        "Hanoi",
		CountryCode: "VN",
	}
	if err := repo.Update(ctx, db, &session, now); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := repo.FindByID(ctx, db, session.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded == nil || loaded.ShippingAddress == nil {
		t.Fatalf("expected address persisted")
	}
	if loaded.ShippingAddress.City != "Hanoi" {
		t.Fatalf("unexpected address %+v", loaded.ShippingAddress)
	}
}

func TestExpireDueSweepsOnlyOverdueOpenSessions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(52)
	repo := repository.Provide()
	now := time.Now().UTC()

	overdue := newSession(node, now.Add(-time.Hour))
	if err := repo.Create(ctx, db, &overdue); err != nil {
		t.Fatalf("create overdue: %v", err)
	}
	fresh := newSession(node, now)
	if err := repo.Create(ctx, db, &fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	completed := newSession(node, now.Add(-time.Hour))
	completed.Status = domain.StatusCompleted
	if err := repo.Create(ctx, db, &completed); err != nil {
		t.Fatalf("create completed: %v", err)
	}

	swept, err := repo.ExpireDue(ctx, db, now)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected one swept session, got %d", swept)
	}

	loaded, err := repo.FindByID(ctx, db, overdue.ID)
	if err != nil {
		t.Fatalf("find overdue: %v", err)
	}
	if loaded.Status != domain.StatusExpired {
		t.Fatalf("expected expired, got %s", loaded.Status)
	}

	loaded, err = repo.FindByID(ctx, db, completed.ID)
	if err != nil {
		t.Fatalf("find completed: %v", err)
	}
	if loaded.Status != domain.StatusCompleted {
		t.Fatalf("terminal session must stay completed, got %s", loaded.Status)
	}
}
