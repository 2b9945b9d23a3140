package commerce

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
)

type ShopifyConfig struct {
	StoreDomain     string
	AccessToken     string // Admin API
	StorefrontToken string // Storefront API, used for carts
	APIVersion      string
	// BaseURL overrides https://<StoreDomain>; used by tests.
	BaseURL string
	Timeout time.Duration
}

// ShopifyClient talks to the Admin REST API for catalog, orders and customers
// and to the Storefront GraphQL API for carts.
type ShopifyClient struct {
	cfg        ShopifyConfig
	httpClient *http.Client
}

func NewShopifyClient(cfg ShopifyConfig) (*ShopifyClient, error) {
	cfg.StoreDomain = strings.TrimSpace(cfg.StoreDomain)
	if cfg.StoreDomain == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("shopify: store domain and access token required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-01"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://" + cfg.StoreDomain
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ShopifyClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

// APIError is a non-2xx response from Shopify. It matches
// ErrProviderUnavailable.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify: status %d: %s", e.Status, e.Body)
}

func (e *APIError) Unwrap() error { return ErrProviderUnavailable }

func (c *ShopifyClient) adminGet(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := fmt.Sprintf("%s/admin/api/%s/%s", c.cfg.BaseURL, c.cfg.APIVersion, path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *ShopifyClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: %w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("shopify: read response: %w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("shopify: decode response: %w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

type restProduct struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Handle      string `json:"handle"`
	BodyHTML    string `json:"body_html"`
	Vendor      string `json:"vendor"`
	ProductType string `json:"product_type"`
	Variants    []struct {
		ID                int64  `json:"id"`
		SKU               string `json:"sku"`
		Price             string `json:"price"`
		CompareAtPrice    string `json:"compare_at_price"`
		InventoryQuantity int    `json:"inventory_quantity"`
	} `json:"variants"`
	Images []struct {
		Src string `json:"src"`
		Alt string `json:"alt"`
	} `json:"images"`
}

func (c *ShopifyClient) ListProducts(ctx context.Context) ([]Product, error) {
	var resp struct {
		Products []restProduct `json:"products"`
	}
	if err := c.adminGet(ctx, "products.json", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		prod := Product{
			ID:          strconv.FormatInt(p.ID, 10),
			Title:       p.Title,
			Handle:      p.Handle,
			Description: stripHTML(p.BodyHTML),
			Vendor:      p.Vendor,
			ProductType: p.ProductType,
			Variants:    make([]Variant, 0, len(p.Variants)),
			Images:      make([]Image, 0, len(p.Images)),
		}
		for _, v := range p.Variants {
			prod.Variants = append(prod.Variants, Variant{
				ID:             strconv.FormatInt(v.ID, 10),
				SKU:            v.SKU,
				Price:          v.Price,
				CompareAtPrice: v.CompareAtPrice,
				Available:      v.InventoryQuantity > 0,
			})
		}
		for _, img := range p.Images {
			prod.Images = append(prod.Images, Image{Src: img.Src, Alt: img.Alt})
		}
		out = append(out, prod)
	}
	return out, nil
}

// RestOrder is the Admin API order shape, shared with the order webhooks.
type RestOrder struct {
	ID                int64     `json:"id"`
	OrderNumber       int       `json:"order_number"`
	Email             string    `json:"email"`
	CreatedAt         time.Time `json:"created_at"`
	FinancialStatus   string    `json:"financial_status"`
	FulfillmentStatus string    `json:"fulfillment_status"`
	TotalPrice        string    `json:"total_price"`
	Currency          string    `json:"currency"`
	LineItems         []struct {
		Name     string `json:"name"`
		SKU      string `json:"sku"`
		Quantity int    `json:"quantity"`
		Price    string `json:"price"`
	} `json:"line_items"`
	Fulfillments []struct {
		Status         string `json:"status"`
		ShipmentStatus string `json:"shipment_status"`
		TrackingNumber string `json:"tracking_number"`
	} `json:"fulfillments"`
}

func (o RestOrder) toOrder() Order {
	out := Order{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		Email:             o.Email,
		CreatedAt:         o.CreatedAt,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		TotalPrice:        o.TotalPrice,
		Currency:          o.Currency,
		LineItems:         make([]LineItem, 0, len(o.LineItems)),
		TrackingNumbers:   []string{},
	}
	for _, li := range o.LineItems {
		out.LineItems = append(out.LineItems, LineItem{Name: li.Name, SKU: li.SKU, Quantity: li.Quantity, Price: li.Price})
	}
	for _, f := range o.Fulfillments {
		if f.TrackingNumber != "" {
			out.TrackingNumbers = append(out.TrackingNumbers, f.TrackingNumber)
		}
	}
	return out
}

func (c *ShopifyClient) ListOrders(ctx context.Context, email string) ([]Order, error) {
	q := url.Values{}
	q.Set("status", "any")
	q.Set("limit", "50")
	if email != "" {
		q.Set("email", email)
	}
	var resp struct {
		Orders []RestOrder `json:"orders"`
	}
	if err := c.adminGet(ctx, "orders.json", q, &resp); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, o.toOrder())
	}
	return out, nil
}

func (c *ShopifyClient) LookupCustomer(ctx context.Context, email string) (*Customer, error) {
	q := url.Values{}
	q.Set("query", "email:"+email)
	var resp struct {
		Customers []struct {
			ID          int64     `json:"id"`
			Email       string    `json:"email"`
			FirstName   string    `json:"first_name"`
			LastName    string    `json:"last_name"`
			Phone       string    `json:"phone"`
			CreatedAt   time.Time `json:"created_at"`
			OrdersCount int       `json:"orders_count"`
			TotalSpent  string    `json:"total_spent"`
		} `json:"customers"`
	}
	if err := c.adminGet(ctx, "customers/search.json", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Customers) == 0 {
		return nil, ErrCustomerNotFound
	}
	cu := resp.Customers[0]
	return &Customer{
		ID:          cu.ID,
		Email:       cu.Email,
		FirstName:   cu.FirstName,
		LastName:    cu.LastName,
		Phone:       cu.Phone,
		CreatedAt:   cu.CreatedAt,
		OrdersCount: cu.OrdersCount,
		TotalSpent:  cu.TotalSpent,
	}, nil
}

const cartCreateMutation = `mutation cartCreate($input: CartInput!) {
  cartCreate(input: $input) {
    cart { id checkoutUrl totalQuantity }
    userErrors { field message }
  }
}`

// CreateCart creates a Storefront cart holding quantity of variantID.
func (c *ShopifyClient) CreateCart(ctx context.Context, variantID string, quantity int) (*Cart, error) {
	if c.cfg.StorefrontToken == "" {
		return nil, fmt.Errorf("shopify: storefront token not configured: %w", ErrProviderUnavailable)
	}

	payload := map[string]interface{}{
		"query": cartCreateMutation,
		"variables": map[string]interface{}{
			"input": map[string]interface{}{
				"lines": []map[string]interface{}{{
					"merchandiseId": "gid://shopify/ProductVariant/" + variantID,
					"quantity":      quantity,
				}},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("shopify: encode cart request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/%s/graphql.json", c.cfg.BaseURL, c.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Storefront-Access-Token", c.cfg.StorefrontToken)

	var resp struct {
		Data struct {
			CartCreate struct {
				Cart *struct {
					ID            string `json:"id"`
					CheckoutURL   string `json:"checkoutUrl"`
					TotalQuantity int    `json:"totalQuantity"`
				} `json:"cart"`
				UserErrors []struct {
					Message string `json:"message"`
				} `json:"userErrors"`
			} `json:"cartCreate"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	cc := resp.Data.CartCreate
	if cc.Cart == nil || cc.Cart.CheckoutURL == "" {
		var msgs []string
		for _, e := range cc.UserErrors {
			msgs = append(msgs, e.Message)
		}
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("shopify: cart creation failed: %s: %w", strings.Join(msgs, "; "), ErrInvalidCartRequest)
	}
	return &Cart{ID: cc.Cart.ID, CheckoutURL: cc.Cart.CheckoutURL, TotalQuantity: cc.Cart.TotalQuantity}, nil
}
