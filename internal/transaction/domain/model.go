package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusRequiresAction Status = "requires_action"
	StatusAuthorized     Status = "authorized"
	StatusPaid           Status = "paid"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
	StatusRefunded       Status = "refunded"
	StatusPartialRefund  Status = "partial_refund"
	StatusCodPending     Status = "cod_pending"
	StatusCodCollected   Status = "cod_collected"
)

// transitions encodes the monotonic status graph. Statuses move toward a
// terminal outcome; the only sanctioned reversals are capture
// (authorized→paid) and refunds out of paid.
var transitions = map[Status][]Status{
	StatusPending:        {StatusProcessing, StatusRequiresAction, StatusAuthorized, StatusPaid, StatusFailed, StatusCancelled, StatusExpired, StatusCodPending},
	StatusProcessing:     {StatusRequiresAction, StatusAuthorized, StatusPaid, StatusFailed, StatusCancelled, StatusExpired},
	StatusRequiresAction: {StatusProcessing, StatusAuthorized, StatusPaid, StatusFailed, StatusCancelled, StatusExpired},
	StatusAuthorized:     {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:           {StatusRefunded, StatusPartialRefund},
	StatusPartialRefund:  {StatusPartialRefund, StatusRefunded},
	StatusCodPending:     {StatusCodCollected, StatusCancelled, StatusExpired},
	StatusFailed:         nil,
	StatusCancelled:      nil,
	StatusExpired:        nil,
	StatusRefunded:       nil,
	StatusCodCollected:   nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Settled reports whether the transaction represents money received.
func (s Status) Settled() bool {
	return s == StatusPaid || s == StatusCodCollected
}

// Terminal statuses are write-once: no caller, webhook or poll, may move a
// transaction out of them except through the refund edges out of paid.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusExpired, StatusRefunded, StatusCodCollected:
		return true
	}
	return false
}

func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentTransaction struct {
	ID                   snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID             snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	SessionID            snowflake.ID `json:"session_id" gorm:"not null;index"`
	Provider             string       `json:"provider" gorm:"type:text;not null"`
	GatewayTransactionID string       `json:"gateway_transaction_id" gorm:"type:text"`
	ReferenceCode        string       `json:"reference_code" gorm:"type:text;index"`
	TransactionNumber    string       `json:"transaction_number" gorm:"type:text;not null"`
	Amount               int64        `json:"amount" gorm:"not null"`
	Currency             string       `json:"currency" gorm:"type:text;not null"`
	Status               Status       `json:"status" gorm:"type:text;not null"`
	FailureReason        *string      `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt            time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time    `json:"updated_at" gorm:"not null"`
	Version              int64        `json:"-" gorm:"not null;default:1"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

var (
	ErrNotFound               = errors.New("transaction_not_found")
	ErrInvalidTransition      = errors.New("invalid_transaction_transition")
	ErrConcurrentModification = errors.New("concurrent_modification")
)
