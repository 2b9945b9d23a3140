package commerce

import (
	"regexp"
	"strings"
	"time"
)

type Product struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Handle      string    `json:"handle"`
	Description string    `json:"description"`
	Vendor      string    `json:"vendor,omitempty"`
	ProductType string    `json:"productType,omitempty"`
	Variants    []Variant `json:"variants"`
	Images      []Image   `json:"images"`
}

type Variant struct {
	ID             string `json:"id"`
	SKU            string `json:"sku,omitempty"`
	Price          string `json:"price"`
	CompareAtPrice string `json:"compareAtPrice,omitempty"`
	Available      bool   `json:"available"`
}

type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// Cart is a checkout handle. Fallback is set when the Storefront API could
// not be reached and CheckoutURL points at the store's cart permalink.
type Cart struct {
	ID            string `json:"cartId,omitempty"`
	CheckoutURL   string `json:"checkoutUrl"`
	TotalQuantity int    `json:"totalQuantity"`
	Fallback      bool   `json:"fallback,omitempty"`
}

type Order struct {
	ID                int64      `json:"id"`
	OrderNumber       int        `json:"orderNumber"`
	Email             string     `json:"email"`
	CreatedAt         time.Time  `json:"createdAt"`
	FinancialStatus   string     `json:"financialStatus"`
	FulfillmentStatus string     `json:"fulfillmentStatus,omitempty"`
	TotalPrice        string     `json:"totalPrice"`
	Currency          string     `json:"currency"`
	LineItems         []LineItem `json:"lineItems"`
	TrackingNumbers   []string   `json:"trackingNumbers"`
}

type LineItem struct {
	Name     string `json:"name"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type Customer struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	OrdersCount int       `json:"ordersCount"`
	TotalSpent  string    `json:"totalSpent"`
}

// CustomerOverview is the customer record together with their orders.
type CustomerOverview struct {
	Customer *Customer `json:"customer"`
	Orders   []Order   `json:"orders"`
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// stripHTML turns a product body_html into plain text.
func stripHTML(s string) string {
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}
