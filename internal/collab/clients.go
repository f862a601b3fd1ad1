package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/session/domain"
	"github.com/smallbiznis/checkout/pkg/tenantctx"
	"go.uber.org/fx"
)

const requestTimeout = 10 * time.Second

// CartClient reads cart pricing from the cart service.
type CartClient struct {
	baseURL string
	client  *http.Client
}

func NewCartClient(cfg config.Config) domain.CartService {
	return &CartClient{
		baseURL: strings.TrimRight(cfg.CartServiceURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *CartClient) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	var cart domain.Cart
	endpoint := c.baseURL + "/v1/carts/" + url.PathEscape(cartID)
	if err := getJSON(ctx, c.client, endpoint, &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("cart service: %w", err)
	}
	return cart, nil
}

// OrderClient hands completed sessions to the order service, which owns order
// records and numbering.
type OrderClient struct {
	baseURL string
	client  *http.Client
}

func NewOrderClient(cfg config.Config) domain.OrderService {
	return &OrderClient{
		baseURL: strings.TrimRight(cfg.OrderServiceURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *OrderClient) CreateOrder(ctx context.Context, session domain.CheckoutSession) (domain.Order, error) {
	var order domain.Order
	endpoint := c.baseURL + "/v1/orders"
	if err := postJSON(ctx, c.client, endpoint, session, &order); err != nil {
		return domain.Order{}, fmt.Errorf("order service: %w", err)
	}
	return order, nil
}

// ShippingRateClient quotes shipping against the order service's rate table.
type ShippingRateClient struct {
	baseURL string
	client  *http.Client
}

func NewShippingRateClient(cfg config.Config) domain.ShippingRateService {
	return &ShippingRateClient{
		baseURL: strings.TrimRight(cfg.OrderServiceURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *ShippingRateClient) Quote(ctx context.Context, method string, destination domain.Address) (domain.ShippingRate, error) {
	var rate domain.ShippingRate
	endpoint := c.baseURL + "/v1/shipping-rates/quote"
	payload := struct {
		Method      string         `json:"method"`
		Destination domain.Address `json:"destination"`
	}{Method: method, Destination: destination}
	if err := postJSON(ctx, c.client, endpoint, payload, &rate); err != nil {
		return domain.ShippingRate{}, fmt.Errorf("shipping rates: %w", err)
	}
	return rate, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return do(client, req, out)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, req, out)
}

func do(client *http.Client, req *http.Request, out any) error {
	// Collaborator services are tenant-scoped; forward the caller's tenant.
	if tenantID, ok := tenantctx.TenantID(req.Context()); ok {
		req.Header.Set("X-Tenant-ID", strconv.FormatInt(tenantID, 10))
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

var Module = fx.Module("collab",
	fx.Provide(
		NewCartClient,
		NewOrderClient,
		NewShippingRateClient,
	),
)
