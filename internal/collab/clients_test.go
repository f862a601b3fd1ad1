package collab_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/checkout/internal/collab"
	"github.com/smallbiznis/checkout/internal/config"
	sessiondomain "github.com/smallbiznis/checkout/internal/session/domain"
	"github.com/smallbiznis/checkout/pkg/tenantctx"
)

func TestCartClientForwardsTenant(t *testing.T) {
	var gotTenant string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = r.Header.Get("X-Tenant-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cart_1","sub_total":200000,"currency":"VND"}`))
	}))
	defer server.Close()

	client := collab.NewCartClient(config.Config{CartServiceURL: server.URL})
	ctx := tenantctx.WithTenantID(context.Background(), 42)

	cart, err := client.Get(ctx, "cart_1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if cart.SubTotal != 200000 || cart.Currency != "VND" {
		t.Fatalf("unexpected cart %+v", cart)
	}
	if gotTenant != "42" {
		t.Fatalf("expected tenant forwarded, got %q", gotTenant)
	}
}

func TestOrderClientSurfacesFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := collab.NewOrderClient(config.Config{OrderServiceURL: server.URL})
	if _, err := client.CreateOrder(context.Background(), sessiondomain.CheckoutSession{}); err == nil {
		t.Fatalf("expected error for 503 response")
	}
}
