package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/transaction/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, tenant_id, session_id, provider, gateway_transaction_id, reference_code,
			transaction_number, amount, currency, status, failure_reason,
			created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		txn.ID,
		txn.TenantID,
		txn.SessionID,
		txn.Provider,
		txn.GatewayTransactionID,
		txn.ReferenceCode,
		txn.TransactionNumber,
		txn.Amount,
		txn.Currency,
		txn.Status,
		txn.FailureReason,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentTransaction, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

// FindBySession returns the most recent transaction for a session. A session
// can accumulate several transactions when earlier payment attempts failed.
func (r *repo) FindBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_transactions
		 WHERE session_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		sessionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByGatewayID(ctx context.Context, db *gorm.DB, provider string, gatewayTransactionID string) (*domain.PaymentTransaction, error) {
	gatewayTransactionID = strings.TrimSpace(gatewayTransactionID)
	if gatewayTransactionID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `provider = ? AND gateway_transaction_id = ?`, provider, gatewayTransactionID)
}

func (r *repo) FindPendingByReferenceCode(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) (*domain.PaymentTransaction, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_transactions
		 WHERE tenant_id = ? AND reference_code = ?
		   AND status IN (?, ?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tenantID,
		code,
		domain.StatusPending,
		domain.StatusProcessing,
		domain.StatusRequiresAction,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_transactions
		 WHERE status IN (?, ?, ?)
		   AND gateway_transaction_id <> ''
		   AND updated_at <= ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.StatusPending,
		domain.StatusProcessing,
		domain.StatusRequiresAction,
		olderThan,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(
	ctx context.Context,
	db *gorm.DB,
	txn *domain.PaymentTransaction,
	to domain.Status,
	gatewayTransactionID string,
	failureReason *string,
	now time.Time,
) error {
	if txn == nil {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(txn.Status, to) {
		return domain.ErrInvalidTransition
	}

	gatewayTransactionID = strings.TrimSpace(gatewayTransactionID)
	if gatewayTransactionID == "" {
		gatewayTransactionID = txn.GatewayTransactionID
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, gateway_transaction_id = ?, failure_reason = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		to,
		gatewayTransactionID,
		failureReason,
		now,
		txn.ID,
		txn.Version,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}

	txn.Status = to
	txn.GatewayTransactionID = gatewayTransactionID
	txn.FailureReason = failureReason
	txn.UpdatedAt = now
	txn.Version++
	return nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_transactions WHERE `+where+` LIMIT 1`, args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
