package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateSessionRequest struct {
	TenantID      snowflake.ID
	CartID        string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	UserID        *snowflake.ID
}

type SetShippingAddressRequest struct {
	SessionID             snowflake.ID
	ShippingAddress       Address
	BillingAddress        *Address
	BillingSameAsShipping bool
}

type SelectShippingMethodRequest struct {
	SessionID           snowflake.ID
	Method              string
	Cost                int64
	EstimatedDeliveryAt *time.Time
}

type SelectPaymentMethodRequest struct {
	SessionID   snowflake.ID
	Method      string
	GatewayHint string
}

type CompleteRequest struct {
	SessionID   snowflake.ID
	OrderID     string
	OrderNumber string
}

// PaymentInstructions is what the storefront needs to move the shopper
// through the provider's confirmation flow.
type PaymentInstructions struct {
	Provider             string `json:"provider"`
	TransactionID        string `json:"transaction_id"`
	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
	PaymentURL           string `json:"payment_url,omitempty"`
	ClientSecret         string `json:"client_secret,omitempty"`
	QRURL                string `json:"qr_url,omitempty"`
	ReferenceCode        string `json:"reference_code,omitempty"`
	RequiresAction       bool   `json:"requires_action"`
}

type Service interface {
	Create(ctx context.Context, req CreateSessionRequest) (CheckoutSession, error)
	Get(ctx context.Context, id snowflake.ID) (CheckoutSession, error)
	SetShippingAddress(ctx context.Context, req SetShippingAddressRequest) (CheckoutSession, error)
	SelectShippingMethod(ctx context.Context, req SelectShippingMethodRequest) (CheckoutSession, error)
	SelectPaymentMethod(ctx context.Context, req SelectPaymentMethodRequest) (CheckoutSession, PaymentInstructions, error)
	Complete(ctx context.Context, req CompleteRequest) (CheckoutSession, error)
	Abandon(ctx context.Context, id snowflake.ID) (CheckoutSession, error)
}
