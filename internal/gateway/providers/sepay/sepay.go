package sepay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/checkout/internal/clock"
	gatewaydomain "github.com/smallbiznis/checkout/internal/gateway/domain"
	"github.com/smallbiznis/checkout/internal/refcode"
	txdomain "github.com/smallbiznis/checkout/internal/transaction/domain"
)

const (
	defaultQRBase   = "https://qr.sepay.vn/img"
	defaultAPIBase  = "https://my.sepay.vn"
	defaultPrefix   = "SP"
	transferTypeIn  = "in"
	transferTypeOut = "out"
)

type Factory struct {
	clock clock.Clock
}

func NewFactory(clk clock.Clock) *Factory {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Factory{clock: clk}
}

func (f *Factory) Provider() string {
	return "sepay"
}

func (f *Factory) NewProvider(cfg gatewaydomain.AdapterConfig) (gatewaydomain.Provider, error) {
	apiKey, _ := readString(cfg.Credentials, "api_key")
	if strings.TrimSpace(apiKey) == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}
	accountNumber, _ := readString(cfg.Credentials, "account_number")
	bankCode, _ := readString(cfg.Credentials, "bank_code")
	if strings.TrimSpace(accountNumber) == "" || strings.TrimSpace(bankCode) == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}

	prefix := defaultPrefix
	if custom, ok := readString(cfg.Credentials, "code_prefix"); ok && strings.TrimSpace(custom) != "" {
		prefix = strings.ToUpper(strings.TrimSpace(custom))
	}

	apiBase := defaultAPIBase
	if custom, ok := readString(cfg.Credentials, "api_base"); ok && strings.TrimSpace(custom) != "" {
		apiBase = strings.TrimRight(strings.TrimSpace(custom), "/")
	}

	return &Adapter{
		clock:         f.clock,
		tenantID:      cfg.TenantID,
		apiKey:        strings.TrimSpace(apiKey),
		accountNumber: strings.TrimSpace(accountNumber),
		bankCode:      strings.TrimSpace(bankCode),
		codePrefix:    prefix,
		apiBase:       apiBase,
		client:        &http.Client{Timeout: 12 * time.Second},
	}, nil
}

// Adapter is the description-matched variant: InitiatePayment never returns a
// final status, only a QR payment instruction whose transfer memo embeds a
// reference code. Confirmation arrives exclusively through webhooks reporting
// raw bank-transfer events, and there is no refund API.
type Adapter struct {
	clock         clock.Clock
	tenantID      snowflake.ID
	apiKey        string
	accountNumber string
	bankCode      string
	codePrefix    string
	apiBase       string
	client        *http.Client
}

func (a *Adapter) InitiatePayment(ctx context.Context, req gatewaydomain.InitiateRequest) (gatewaydomain.InitiateResult, error) {
	code, err := refcode.Generate(a.codePrefix, req.TransactionNumber, a.clock.Now())
	if err != nil {
		return gatewaydomain.InitiateResult{}, gatewaydomain.ErrInvalidConfig
	}

	query := url.Values{}
	query.Set("acc", a.accountNumber)
	query.Set("bank", a.bankCode)
	query.Set("amount", strconv.FormatInt(req.Amount, 10))
	query.Set("des", code)

	return gatewaydomain.InitiateResult{
		Success:        true,
		Status:         txdomain.StatusPending,
		RequiresAction: true,
		QRURL:          defaultQRBase + "?" + query.Encode(),
		ReferenceCode:  code,
		AdditionalData: map[string]string{
			"account_number": a.accountNumber,
			"bank_code":      a.bankCode,
			"transfer_memo":  code,
		},
	}, nil
}

// GetPaymentStatus has nothing to ask the bank until a transfer has been
// observed; before that the transaction has no gateway-side handle. Pending is
// the honest answer, and the polling fallback skips handle-less transactions.
func (a *Adapter) GetPaymentStatus(ctx context.Context, gatewayTransactionID string) (gatewaydomain.StatusResult, error) {
	return gatewaydomain.StatusResult{Status: txdomain.StatusPending}, nil
}

func (a *Adapter) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (gatewaydomain.RefundResult, error) {
	return gatewaydomain.RefundResult{
		Success:      false,
		Supported:    false,
		ErrorMessage: "bank transfers cannot be refunded through the gateway; issue a manual outgoing transfer",
	}, nil
}

// transferEvent is the raw bank-transfer notification shape.
type transferEvent struct {
	ID             int64  `json:"id"`
	Gateway        string `json:"gateway"`
	AccountNumber  string `json:"accountNumber"`
	Content        string `json:"content"`
	Description    string `json:"description"`
	TransferType   string `json:"transferType"`
	TransferAmount int64  `json:"transferAmount"`
	ReferenceCode  string `json:"referenceCode"`
}

func (a *Adapter) ValidateWebhook(ctx context.Context, payload []byte, headers http.Header) (gatewaydomain.WebhookResult, error) {
	auth := strings.TrimSpace(headers.Get("Authorization"))
	key, ok := strings.CutPrefix(auth, "Apikey ")
	if !ok {
		return gatewaydomain.WebhookResult{ErrorMessage: "missing api key"}, gatewaydomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(a.apiKey)) != 1 {
		return gatewaydomain.WebhookResult{ErrorMessage: "api key mismatch"}, gatewaydomain.ErrInvalidSignature
	}

	var event transferEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return gatewaydomain.WebhookResult{}, gatewaydomain.ErrInvalidPayload
	}
	if event.ID == 0 {
		return gatewaydomain.WebhookResult{}, gatewaydomain.ErrInvalidPayload
	}

	transferType := strings.ToLower(strings.TrimSpace(event.TransferType))
	content := strings.TrimSpace(event.Content)
	if content == "" {
		content = strings.TrimSpace(event.Description)
	}

	result := gatewaydomain.WebhookResult{
		Valid:                true,
		GatewayEventID:       strconv.FormatInt(event.ID, 10),
		GatewayTransactionID: strings.TrimSpace(event.ReferenceCode),
		EventType:            "transfer." + transferType,
		Content:              content,
		Amount:               event.TransferAmount,
	}

	// Outgoing transfers and zero-amount notifications are acknowledged but
	// never applied to a transaction.
	if transferType != transferTypeIn || event.TransferAmount <= 0 {
		return result, nil
	}

	result.Qualifying = true
	result.PaymentStatus = txdomain.StatusPaid
	return result, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) gatewaydomain.Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/userapi/transactions/count", nil)
	if err != nil {
		return gatewaydomain.HealthUnhealthy
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return gatewaydomain.HealthUnhealthy
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return gatewaydomain.HealthHealthy
	case resp.StatusCode >= http.StatusInternalServerError:
		return gatewaydomain.HealthUnhealthy
	default:
		return gatewaydomain.HealthDegraded
	}
}

// CodePrefix exposes the configured memo prefix for reference-code extraction.
func (a *Adapter) CodePrefix() string {
	return a.codePrefix
}

func readString(credentials map[string]any, key string) (string, bool) {
	value, ok := credentials[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
