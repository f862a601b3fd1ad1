package stripe_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gatewaydomain "github.com/smallbiznis/checkout/internal/gateway/domain"
	"github.com/smallbiznis/checkout/internal/gateway/providers/stripe"
	txdomain "github.com/smallbiznis/checkout/internal/transaction/domain"
)

const webhookSecret = "whsec_test"

func newAdapter(t *testing.T, apiBase string) gatewaydomain.Provider {
	t.Helper()
	factory := stripe.NewFactory()
	credentials := map[string]any{
		"api_key":        "sk_test_123",
		"webhook_secret": webhookSecret,
	}
	if apiBase != "" {
		credentials["api_base"] = apiBase
	}
	adapter, err := factory.NewProvider(gatewaydomain.AdapterConfig{
		Provider:    "stripe",
		Environment: "sandbox",
		Credentials: credentials,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return adapter
}

func signatureHeader(payload []byte, timestamp int64) string {
	signed := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestFactoryRejectsMissingCredentials(t *testing.T) {
	factory := stripe.NewFactory()
	_, err := factory.NewProvider(gatewaydomain.AdapterConfig{
		Credentials: map[string]any{"api_key": "sk_test_123"},
	})
	if !errors.Is(err, gatewaydomain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestInitiatePaymentMapsIntent(t *testing.T) {
	var gotIdempotency string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotIdempotency = r.Header.Get("Idempotency-Key")
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostFormValue("amount"); got != "230000" {
			t.Fatalf("unexpected amount %s", got)
		}
		fmt.Fprint(w, `{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_action"}`)
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	result, err := adapter.InitiatePayment(context.Background(), gatewaydomain.InitiateRequest{
		Amount:            230000,
		Currency:          "VND",
		TransactionNumber: "CK100",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.GatewayTransactionID != "pi_1" || result.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Status != txdomain.StatusRequiresAction || !result.RequiresAction {
		t.Fatalf("expected requires_action, got %s", result.Status)
	}
	if gotIdempotency != "txn:CK100" {
		t.Fatalf("expected idempotency key, got %q", gotIdempotency)
	}
}

func TestInitiatePaymentDeclineIsStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"type":"card_error","message":"Your card was declined."}}`)
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	result, err := adapter.InitiatePayment(context.Background(), gatewaydomain.InitiateRequest{
		Amount:            1000,
		Currency:          "USD",
		TransactionNumber: "CK101",
	})
	if err != nil {
		t.Fatalf("decline must not be a transport error, got %v", err)
	}
	if result.Success {
		t.Fatalf("expected decline")
	}
	if result.ErrorMessage != "Your card was declined." {
		t.Fatalf("unexpected message %q", result.ErrorMessage)
	}
}

func TestInitiatePaymentServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	_, err := adapter.InitiatePayment(context.Background(), gatewaydomain.InitiateRequest{
		Amount:            1000,
		Currency:          "USD",
		TransactionNumber: "CK102",
	})
	if !errors.Is(err, gatewaydomain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestRefundSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"re_1","status":"succeeded"}`)
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	result, err := adapter.Refund(context.Background(), gatewaydomain.RefundRequest{
		GatewayTransactionID: "pi_1",
		Amount:               500,
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !result.Success || !result.Supported || result.GatewayRefundID != "re_1" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestValidateWebhookVerifiesSignature(t *testing.T) {
	adapter := newAdapter(t, "")
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":230000}}}`)
	now := time.Now().Unix()

	headers := http.Header{}
	headers.Set("Stripe-Signature", signatureHeader(payload, now))

	result, err := adapter.ValidateWebhook(context.Background(), payload, headers)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || !result.Qualifying {
		t.Fatalf("expected qualifying result, got %+v", result)
	}
	if result.PaymentStatus != txdomain.StatusPaid || result.GatewayTransactionID != "pi_1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Amount != 230000 {
		t.Fatalf("expected amount carried through, got %d", result.Amount)
	}
}

func TestValidateWebhookRejectsTamperedPayload(t *testing.T) {
	adapter := newAdapter(t, "")
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	now := time.Now().Unix()

	headers := http.Header{}
	headers.Set("Stripe-Signature", signatureHeader(payload, now))

	tampered := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_2"}}}`)
	_, err := adapter.ValidateWebhook(context.Background(), tampered, headers)
	if !errors.Is(err, gatewaydomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestValidateWebhookUnknownEventIsNonQualifying(t *testing.T) {
	adapter := newAdapter(t, "")
	payload := []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	now := time.Now().Unix()

	headers := http.Header{}
	headers.Set("Stripe-Signature", signatureHeader(payload, now))

	result, err := adapter.ValidateWebhook(context.Background(), payload, headers)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || result.Qualifying {
		t.Fatalf("expected acknowledged non-qualifying event, got %+v", result)
	}
}

func TestChargeRefundedResolvesOwningIntent(t *testing.T) {
	adapter := newAdapter(t, "")
	payload := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1","amount":500,"payment_intent":"pi_9"}}}`)
	now := time.Now().Unix()

	headers := http.Header{}
	headers.Set("Stripe-Signature", signatureHeader(payload, now))

	result, err := adapter.ValidateWebhook(context.Background(), payload, headers)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.GatewayTransactionID != "pi_9" {
		t.Fatalf("expected owning intent, got %q", result.GatewayTransactionID)
	}
	if result.PaymentStatus != txdomain.StatusRefunded {
		t.Fatalf("expected refunded, got %s", result.PaymentStatus)
	}
}
