package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/transaction/domain"
	"github.com/smallbiznis/checkout/internal/transaction/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_txn_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Exec(`CREATE TABLE payment_transactions (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		session_id BIGINT NOT NULL,
		provider TEXT NOT NULL,
		gateway_transaction_id TEXT NOT NULL DEFAULT '',
		reference_code TEXT NOT NULL DEFAULT '',
		transaction_number TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version BIGINT NOT NULL DEFAULT 1
	)`).Error; err != nil {
		t.Fatalf("schema exec failed: %v", err)
	}
	return db
}

func newTransaction(node *snowflake.Node, now time.Time) domain.PaymentTransaction {
	id := node.Generate()
	return domain.PaymentTransaction{
		ID:                id,
		TenantID:          node.Generate(),
		SessionID:         node.Generate(),
		Provider:          "sepay",
		ReferenceCode:     "SP123456ABCD1234",
		TransactionNumber: "CK" + id.String(),
		Amount:            230000,
		Currency:          "VND",
		Status:            domain.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}
}

func TestUpdateStatusBumpsVersion(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(40)
	repo := repository.Provide()
	now := time.Now().UTC()

	txn := newTransaction(node, now)
	if err := repo.Create(ctx, db, &txn); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.UpdateStatus(ctx, db, &txn, domain.StatusPaid, "FT26001", nil, now); err != nil {
		t.Fatalf("update: %v", err)
	}
	if txn.Status != domain.StatusPaid || txn.Version != 2 {
		t.Fatalf("expected paid v2, got %s v%d", txn.Status, txn.Version)
	}
	if txn.GatewayTransactionID != "FT26001" {
		t.Fatalf("expected gateway handle recorded, got %q", txn.GatewayTransactionID)
	}
}

func TestUpdateStatusDetectsLostRace(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(41)
	repo := repository.Provide()
	now := time.Now().UTC()

	txn := newTransaction(node, now)
	if err := repo.Create(ctx, db, &txn); err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := txn
	if err := repo.UpdateStatus(ctx, db, &txn, domain.StatusProcessing, "", nil, now); err != nil {
		t.Fatalf("first update: %v", err)
	}

	err := repo.UpdateStatus(ctx, db, &stale, domain.StatusProcessing, "", nil, now)
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestUpdateStatusRejectsBackwardsTransition(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(42)
	repo := repository.Provide()
	now := time.Now().UTC()

	txn := newTransaction(node, now)
	if err := repo.Create(ctx, db, &txn); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.UpdateStatus(ctx, db, &txn, domain.StatusPaid, "", nil, now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if err := repo.UpdateStatus(ctx, db, &txn, domain.StatusPending, "", nil, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, db, &txn, domain.StatusFailed, "", nil, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("paid is write-once except refunds, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, db, &txn, domain.StatusRefunded, "", nil, now); err != nil {
		t.Fatalf("paid to refunded must be allowed: %v", err)
	}
}

func TestFindPendingByReferenceCodeSkipsSettled(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(43)
	repo := repository.Provide()
	now := time.Now().UTC()

	txn := newTransaction(node, now)
	if err := repo.Create(ctx, db, &txn); err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := repo.FindPendingByReferenceCode(ctx, db, txn.TenantID, txn.ReferenceCode)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != txn.ID {
		t.Fatalf("expected pending transaction found")
	}

	if err := repo.UpdateStatus(ctx, db, &txn, domain.StatusPaid, "", nil, now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	found, err = repo.FindPendingByReferenceCode(ctx, db, txn.TenantID, txn.ReferenceCode)
	if err != nil {
		t.Fatalf("find after settle: %v", err)
	}
	if found != nil {
		t.Fatalf("settled transaction must not match again")
	}
}

func TestListStalePendingSkipsHandleless(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(44)
	repo := repository.Provide()
	now := time.Now().UTC()

	noHandle := newTransaction(node, now.Add(-time.Hour))
	if err := repo.Create(ctx, db, &noHandle); err != nil {
		t.Fatalf("create: %v", err)
	}
	withHandle := newTransaction(node, now.Add(-time.Hour))
	withHandle.GatewayTransactionID = "pi_1"
	if err := repo.Create(ctx, db, &withHandle); err != nil {
		t.Fatalf("create: %v", err)
	}

	stale, err := repo.ListStalePending(ctx, db, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != withHandle.ID {
		t.Fatalf("expected only the transaction with a gateway handle, got %d", len(stale))
	}
}
