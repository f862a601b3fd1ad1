package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusStarted           Status = "started"
	StatusAddressComplete   Status = "address_complete"
	StatusShippingSelected  Status = "shipping_selected"
	StatusPaymentPending    Status = "payment_pending"
	StatusPaymentProcessing Status = "payment_processing"
	StatusCompleted         Status = "completed"
	StatusExpired           Status = "expired"
	StatusAbandoned         Status = "abandoned"
)

// Terminal sessions are immutable; only reads succeed afterwards.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusAbandoned:
		return true
	}
	return false
}

type Address struct {
	FullName    string `json:"full_name"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	Province    string `json:"province,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone,omitempty"`
}

// CheckoutSession is the aggregate tracking one shopper's path from cart to
// order. Step-specific fields stay nil until their predecessor step committed;
// a terminal status freezes the row. All mutations go through the version
// compare-and-swap in the repository.
type CheckoutSession struct {
	ID                    snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID              snowflake.ID  `json:"tenant_id" gorm:"not null;index"`
	CartID                string        `json:"cart_id" gorm:"type:text;not null"`
	UserID                *snowflake.ID `json:"user_id,omitempty"`
	CustomerEmail         string        `json:"customer_email" gorm:"type:text;not null"`
	CustomerName          string        `json:"customer_name" gorm:"type:text"`
	CustomerPhone         string        `json:"customer_phone" gorm:"type:text"`
	SubTotal              int64         `json:"sub_total" gorm:"not null"`
	Currency              string        `json:"currency" gorm:"type:text;not null"`
	ShippingAddress       *Address      `json:"shipping_address,omitempty" gorm:"type:jsonb;serializer:json"`
	BillingAddress        *Address      `json:"billing_address,omitempty" gorm:"type:jsonb;serializer:json"`
	BillingSameAsShipping bool          `json:"billing_same_as_shipping"`
	ShippingMethod        *string       `json:"shipping_method,omitempty" gorm:"type:text"`
	ShippingCost          int64         `json:"shipping_cost"`
	EstimatedDeliveryAt   *time.Time    `json:"estimated_delivery_at,omitempty"`
	PaymentMethod         *string       `json:"payment_method,omitempty" gorm:"type:text"`
	Status                Status        `json:"status" gorm:"type:text;not null"`
	OrderID               *string       `json:"order_id,omitempty" gorm:"type:text"`
	OrderNumber           *string       `json:"order_number,omitempty" gorm:"type:text"`
	ExpiresAt             time.Time     `json:"expires_at" gorm:"not null"`
	CreatedAt             time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time     `json:"updated_at" gorm:"not null"`
	Version               int64         `json:"-" gorm:"not null;default:1"`
}

func (CheckoutSession) TableName() string { return "checkout_sessions" }

// GrandTotal is always computed, never stored.
func (s *CheckoutSession) GrandTotal() int64 {
	return s.SubTotal + s.ShippingCost
}

// TransactionNumber is the merchant-side handle handed to payment gateways.
func (s *CheckoutSession) TransactionNumber() string {
	return fmt.Sprintf("CK%s", s.ID)
}

func (s *CheckoutSession) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

var (
	ErrNotFound                = errors.New("session_not_found")
	ErrInvalidStateTransition  = errors.New("invalid_state_transition")
	ErrSessionExpired          = errors.New("session_expired")
	ErrConcurrentModification  = errors.New("concurrent_modification")
	ErrPaymentNotConfirmed     = errors.New("payment_not_confirmed")
	ErrPaymentInitiationFailed = errors.New("payment_initiation_failed")
	ErrInvalidRequest          = errors.New("invalid_request")
)
