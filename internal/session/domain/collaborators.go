package domain

import (
	"context"
	"time"
)

// Cart is the slice of the cart service's state the checkout flow needs.
type Cart struct {
	ID       string `json:"id"`
	SubTotal int64  `json:"sub_total"`
	Currency string `json:"currency"`
}

// CartService supplies pricing for the cart a session is opened against. The
// cart/pricing domain itself is owned elsewhere.
type CartService interface {
	Get(ctx context.Context, cartID string) (Cart, error)
}

type Order struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

// OrderService is the sole writer of order records. The checkout flow hands a
// completed session over and records the identifiers it gets back.
type OrderService interface {
	CreateOrder(ctx context.Context, session CheckoutSession) (Order, error)
}

type ShippingRate struct {
	Method              string     `json:"method"`
	Cost                int64      `json:"cost"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at,omitempty"`
}

// ShippingRateService quotes a shipping method against a destination.
type ShippingRateService interface {
	Quote(ctx context.Context, method string, destination Address) (ShippingRate, error)
}
