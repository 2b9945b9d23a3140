package commerce

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable wraps every failure to reach the commerce backend.
	ErrProviderUnavailable = errors.New("commerce provider unavailable")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrInvalidCartRequest  = errors.New("invalid cart request")
)

// Provider is the storefront backend.
type Provider interface {
	ListProducts(ctx context.Context) ([]Product, error)
	CreateCart(ctx context.Context, variantID string, quantity int) (*Cart, error)
	// ListOrders returns recent orders, filtered to email when it is not empty.
	ListOrders(ctx context.Context, email string) ([]Order, error)
	LookupCustomer(ctx context.Context, email string) (*Customer, error)
}

// DisabledProvider is used when no commerce credentials are configured.
type DisabledProvider struct{}

func (DisabledProvider) ListProducts(context.Context) ([]Product, error) {
	return nil, ErrProviderUnavailable
}

func (DisabledProvider) CreateCart(context.Context, string, int) (*Cart, error) {
	return nil, ErrProviderUnavailable
}

func (DisabledProvider) ListOrders(context.Context, string) ([]Order, error) {
	return nil, ErrProviderUnavailable
}

func (DisabledProvider) LookupCustomer(context.Context, string) (*Customer, error) {
	return nil, ErrProviderUnavailable
}
