package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/checkout/internal/gateway/domain"
	txdomain "github.com/smallbiznis/checkout/internal/transaction/domain"
)

const defaultBaseURL = "https://api.stripe.com"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewProvider(cfg gatewaydomain.AdapterConfig) (gatewaydomain.Provider, error) {
	apiKey, ok := readString(cfg.Credentials, "api_key")
	if !ok || strings.TrimSpace(apiKey) == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}
	secret, ok := readString(cfg.Credentials, "webhook_secret")
	if !ok || strings.TrimSpace(secret) == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}

	baseURL := defaultBaseURL
	if custom, ok := readString(cfg.Credentials, "api_base"); ok && strings.TrimSpace(custom) != "" {
		baseURL = strings.TrimRight(strings.TrimSpace(custom), "/")
	}

	return &Adapter{
		tenantID:      cfg.TenantID,
		apiKey:        strings.TrimSpace(apiKey),
		webhookSecret: strings.TrimSpace(secret),
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 12 * time.Second},
	}, nil
}

// Adapter is the intent-confirmed variant: InitiatePayment comes back with a
// near-final status, webhooks are a secondary confirmation channel for delayed
// authentication flows, and refunds go through a direct API call.
type Adapter struct {
	tenantID      snowflake.ID
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

type paymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	NextAction   *struct {
		Type string `json:"type"`
	} `json:"next_action"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type refundObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) InitiatePayment(ctx context.Context, req gatewaydomain.InitiateRequest) (gatewaydomain.InitiateResult, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	values.Set("metadata[transaction_number]", req.TransactionNumber)
	values.Set("metadata[tenant_id]", a.tenantID.String())
	for key, value := range req.Metadata {
		values.Set("metadata["+key+"]", value)
	}

	var intent paymentIntent
	declined, err := a.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, "txn:"+req.TransactionNumber, &intent)
	if err != nil {
		return gatewaydomain.InitiateResult{}, err
	}
	if declined != "" {
		return gatewaydomain.InitiateResult{Success: false, ErrorMessage: declined}, nil
	}

	status := mapIntentStatus(intent.Status)
	return gatewaydomain.InitiateResult{
		Success:              true,
		GatewayTransactionID: intent.ID,
		Status:               status,
		RequiresAction:       status == txdomain.StatusRequiresAction || status == txdomain.StatusProcessing,
		ClientSecret:         intent.ClientSecret,
	}, nil
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, gatewayTransactionID string) (gatewaydomain.StatusResult, error) {
	var intent paymentIntent
	declined, err := a.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(gatewayTransactionID), nil, "", &intent)
	if err != nil {
		return gatewaydomain.StatusResult{}, err
	}
	if declined != "" {
		return gatewaydomain.StatusResult{}, fmt.Errorf("%w: %s", gatewaydomain.ErrGatewayUnavailable, declined)
	}

	result := gatewaydomain.StatusResult{Status: mapIntentStatus(intent.Status)}
	if intent.LastPaymentError != nil && intent.LastPaymentError.Message != "" {
		result.AdditionalData = map[string]string{"last_payment_error": intent.LastPaymentError.Message}
	}
	return result, nil
}

func (a *Adapter) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (gatewaydomain.RefundResult, error) {
	values := url.Values{}
	values.Set("payment_intent", req.GatewayTransactionID)
	if req.Amount > 0 {
		values.Set("amount", strconv.FormatInt(req.Amount, 10))
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		values.Set("metadata[reason]", reason)
	}

	var refund refundObject
	declined, err := a.doRequest(ctx, http.MethodPost, "/v1/refunds", values, "refund:"+req.GatewayTransactionID, &refund)
	if err != nil {
		return gatewaydomain.RefundResult{Supported: true}, err
	}
	if declined != "" {
		return gatewaydomain.RefundResult{Supported: true, ErrorMessage: declined}, nil
	}
	return gatewaydomain.RefundResult{
		Success:         true,
		Supported:       true,
		GatewayRefundID: refund.ID,
	}, nil
}

func (a *Adapter) ValidateWebhook(ctx context.Context, payload []byte, headers http.Header) (gatewaydomain.WebhookResult, error) {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return gatewaydomain.WebhookResult{ErrorMessage: "missing signature"}, gatewaydomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return gatewaydomain.WebhookResult{ErrorMessage: "malformed signature"}, gatewaydomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	matched := false
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return gatewaydomain.WebhookResult{ErrorMessage: "signature mismatch"}, gatewaydomain.ErrInvalidSignature
	}

	return a.parseEvent(payload)
}

func (a *Adapter) HealthCheck(ctx context.Context) gatewaydomain.Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/balance", nil)
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

type webhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (a *Adapter) parseEvent(payload []byte) (gatewaydomain.WebhookResult, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return gatewaydomain.WebhookResult{}, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return gatewaydomain.WebhookResult{}, gatewaydomain.ErrInvalidPayload
	}

	result := gatewaydomain.WebhookResult{
		Valid:          true,
		GatewayEventID: event.ID,
		EventType:      strings.TrimSpace(event.Type),
	}

	var status txdomain.Status
	switch result.EventType {
	case "payment_intent.succeeded":
		status = txdomain.StatusPaid
	case "payment_intent.processing":
		status = txdomain.StatusProcessing
	case "payment_intent.requires_action":
		status = txdomain.StatusRequiresAction
	case "payment_intent.payment_failed":
		status = txdomain.StatusFailed
	case "payment_intent.canceled":
		status = txdomain.StatusCancelled
	case "charge.refunded":
		status = txdomain.StatusRefunded
	default:
		return result, nil
	}

	var object struct {
		ID            string `json:"id"`
		Amount        int64  `json:"amount"`
		PaymentIntent string `json:"payment_intent"`
	}
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return gatewaydomain.WebhookResult{}, gatewaydomain.ErrInvalidPayload
	}

	gatewayID := object.ID
	if object.PaymentIntent != "" {
		// charge events reference the owning intent.
		gatewayID = object.PaymentIntent
	}

	result.Qualifying = true
	result.GatewayTransactionID = gatewayID
	result.PaymentStatus = status
	result.Amount = object.Amount
	return result, nil
}

func (a *Adapter) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out any,
) (string, error) {
	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", gatewaydomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", gatewaydomain.ErrGatewayUnavailable
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return "request failed", nil
		}
		message := strings.TrimSpace(apiErr.Error.Message)
		if message == "" {
			message = "request failed"
		}
		return message, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", errors.New("invalid gateway response")
	}
	return "", nil
}

func mapIntentStatus(status string) txdomain.Status {
	switch strings.TrimSpace(status) {
	case "succeeded":
		return txdomain.StatusPaid
	case "processing":
		return txdomain.StatusProcessing
	case "requires_action", "requires_confirmation", "requires_payment_method":
		return txdomain.StatusRequiresAction
	case "requires_capture":
		return txdomain.StatusAuthorized
	case "canceled":
		return txdomain.StatusCancelled
	default:
		return txdomain.StatusPending
	}
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
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
