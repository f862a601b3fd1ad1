package domain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	txdomain "github.com/smallbiznis/checkout/internal/transaction/domain"
	"gorm.io/datatypes"
)

const (
	EnvironmentSandbox = "sandbox"
	EnvironmentLive    = "live"
)

// GatewayConfig is the per-tenant, per-provider configuration row. The
// credentials column holds an AES-GCM envelope; the payment core only ever
// sees the decrypted bundle for the duration of a single provider call.
type GatewayConfig struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID   `json:"tenant_id" gorm:"not null;index:ux_payment_gateway_configs_tenant_provider,priority:1"`
	Provider         string         `json:"provider" gorm:"type:text;not null;index:ux_payment_gateway_configs_tenant_provider,priority:2"`
	DisplayName      string         `json:"display_name" gorm:"type:text;not null"`
	Environment      string         `json:"environment" gorm:"type:text;not null;default:sandbox"`
	Credentials      datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	PaymentMethods   datatypes.JSON `json:"payment_methods" gorm:"type:jsonb"`
	MinAmount        int64          `json:"min_amount"`
	MaxAmount        int64          `json:"max_amount"`
	Currencies       datatypes.JSON `json:"currencies" gorm:"type:jsonb"`
	IsActive         bool           `json:"is_active" gorm:"not null;default:true"`
	LastHealthStatus *string        `json:"last_health_status,omitempty" gorm:"type:text"`
	LastHealthAt     *time.Time     `json:"last_health_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null"`
}

func (GatewayConfig) TableName() string { return "payment_gateway_configs" }

// SupportsCurrency reports whether the config accepts the currency. An empty
// set means unrestricted.
func (c GatewayConfig) SupportsCurrency(currency string) bool {
	return jsonSetContains(c.Currencies, currency)
}

// SupportsPaymentMethod reports whether the config accepts the checkout
// payment method. An empty set means unrestricted.
func (c GatewayConfig) SupportsPaymentMethod(method string) bool {
	return jsonSetContains(c.PaymentMethods, method)
}

func jsonSetContains(set datatypes.JSON, value string) bool {
	if len(set) == 0 {
		return true
	}
	var entries []string
	if err := json.Unmarshal(set, &entries); err != nil || len(entries) == 0 {
		return true
	}
	value = strings.ToLower(strings.TrimSpace(value))
	for _, entry := range entries {
		if strings.ToLower(strings.TrimSpace(entry)) == value {
			return true
		}
	}
	return false
}

// AdapterConfig carries everything a factory needs to build a provider bound
// to one tenant's credentials. Adapters hold no process-wide state: two
// tenants' calls run concurrently on distinct adapter instances.
type AdapterConfig struct {
	TenantID    snowflake.ID
	Provider    string
	Environment string
	Credentials map[string]any
}

type InitiateRequest struct {
	Amount            int64
	Currency          string
	TransactionNumber string
	Metadata          map[string]string
}

// InitiateResult is a structured outcome, never an exception channel. A
// gateway decline comes back with Success=false and ErrorMessage set; the Go
// error return of InitiatePayment is reserved for transport failures.
type InitiateResult struct {
	Success              bool
	GatewayTransactionID string
	Status               txdomain.Status
	RequiresAction       bool
	PaymentURL           string
	ClientSecret         string
	QRURL                string
	ReferenceCode        string
	AdditionalData       map[string]string
	ErrorMessage         string
}

type StatusResult struct {
	Status         txdomain.Status
	AdditionalData map[string]string
}

type RefundRequest struct {
	GatewayTransactionID string
	Amount               int64
	Reason               string
}

// RefundResult reports refund outcomes. Providers without a refund API return
// Supported=false with a manual-process message; that is a documented outcome,
// not an error.
type RefundResult struct {
	Success         bool
	Supported       bool
	GatewayRefundID string
	ErrorMessage    string
}

// WebhookResult is the normalized view of one inbound provider event.
// Qualifying=false marks events the reconciler acknowledges without applying
// (outgoing transfers, zero amounts, event types we do not track).
type WebhookResult struct {
	Valid                bool
	Qualifying           bool
	GatewayEventID       string
	GatewayTransactionID string
	EventType            string
	PaymentStatus        txdomain.Status
	Content              string
	Amount               int64
	ErrorMessage         string
}

type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Provider is the uniform contract over heterogeneous payment networks.
type Provider interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	GetPaymentStatus(ctx context.Context, gatewayTransactionID string) (StatusResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	ValidateWebhook(ctx context.Context, payload []byte, headers http.Header) (WebhookResult, error)
	HealthCheck(ctx context.Context) Health
}

type Factory interface {
	Provider() string
	NewProvider(cfg AdapterConfig) (Provider, error)
}

var (
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrConfigNotFound       = errors.New("gateway_config_not_found")
	ErrInvalidConfig        = errors.New("invalid_gateway_config")
	ErrInvalidSignature     = errors.New("webhook_authentication_failed")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrGatewayUnavailable   = errors.New("gateway_unavailable")
	ErrUnsupportedOperation = errors.New("unsupported_operation")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
)
