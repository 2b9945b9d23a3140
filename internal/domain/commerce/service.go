package commerce

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const providerName = "shopify"

// CallRecorder counts provider calls by outcome ("ok", "fallback", "error").
type CallRecorder interface {
	ProviderCall(provider, op, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ProviderCall(string, string, string) {}

type ServiceOption func(*Service)

func WithTimeout(d time.Duration) ServiceOption { return func(s *Service) { s.timeout = d } }

func WithRecorder(r CallRecorder) ServiceOption { return func(s *Service) { s.metrics = r } }

func WithLogger(l zerolog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

func WithTracer(t trace.Tracer) ServiceOption { return func(s *Service) { s.tracer = t } }

// Service fronts a Provider with a per-call timeout and the fallbacks the
// storefront relies on when the backend is unreachable.
type Service struct {
	provider    Provider
	storeDomain string
	timeout     time.Duration
	metrics     CallRecorder
	tracer      trace.Tracer
	logger      zerolog.Logger
}

func NewService(p Provider, storeDomain string, opts ...ServiceOption) *Service {
	s := &Service{
		provider:    p,
		storeDomain: strings.TrimSpace(storeDomain),
		timeout:     5 * time.Second,
		metrics:     noopRecorder{},
		tracer:      otel.Tracer("github.com/gmtcc/insight/commerce"),
		logger:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// call runs fn under the provider timeout inside a span named commerce.<op>.
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "commerce."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("commerce.provider", providerName)))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return err
	}
	return nil
}

func (s *Service) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ProviderCall(providerName, op, outcome)
}

func (s *Service) Products(ctx context.Context) ([]Product, error) {
	var out []Product
	err := s.call(ctx, "list_products", func(ctx context.Context) error {
		var err error
		out, err = s.provider.ListProducts(ctx)
		return err
	})
	s.record("list_products", err)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

var variantID = regexp.MustCompile(`^[0-9]+$`)

// CreateCart returns a checkout URL for quantity of variant. When the provider
// fails the cart permalink on the store domain is returned instead, flagged as
// a fallback.
func (s *Service) CreateCart(ctx context.Context, variant string, quantity int) (*Cart, error) {
	variant = strings.TrimPrefix(strings.TrimSpace(variant), "gid://shopify/ProductVariant/")
	if !variantID.MatchString(variant) {
		return nil, fmt.Errorf("%w: variant id must be numeric", ErrInvalidCartRequest)
	}
	if quantity < 1 || quantity > 99 {
		return nil, fmt.Errorf("%w: quantity must be between 1 and 99", ErrInvalidCartRequest)
	}

	var cart *Cart
	err := s.call(ctx, "create_cart", func(ctx context.Context) error {
		var err error
		cart, err = s.provider.CreateCart(ctx, variant, quantity)
		return err
	})
	if err == nil {
		s.record("create_cart", nil)
		return cart, nil
	}

	fallback, ferr := s.FallbackCart(variant, quantity)
	if ferr != nil {
		s.record("create_cart", err)
		return nil, fmt.Errorf("create cart: %w", err)
	}
	s.logger.Warn().Err(err).Str("variant", variant).Msg("cart creation failed, using store permalink")
	s.metrics.ProviderCall(providerName, "create_cart", "fallback")
	return fallback, nil
}

// FallbackCart builds the https://<store>/cart/<variant>:<qty> permalink.
func (s *Service) FallbackCart(variant string, quantity int) (*Cart, error) {
	u, err := s.CartRedirect(fmt.Sprintf("%s:%d", variant, quantity))
	if err != nil {
		return nil, err
	}
	return &Cart{CheckoutURL: u, TotalQuantity: quantity, Fallback: true}, nil
}

// CartRedirect maps a /cart/<path> request onto the store's cart page.
func (s *Service) CartRedirect(path string) (string, error) {
	if s.storeDomain == "" {
		return "", fmt.Errorf("store domain not configured: %w", ErrProviderUnavailable)
	}
	path = strings.TrimPrefix(path, "/")
	u := url.URL{Scheme: "https", Host: s.storeDomain, Path: "/cart/" + path}
	return u.String(), nil
}

func (s *Service) Orders(ctx context.Context, email string) ([]Order, error) {
	var out []Order
	err := s.call(ctx, "list_orders", func(ctx context.Context) error {
		var err error
		out, err = s.provider.ListOrders(ctx, strings.TrimSpace(email))
		return err
	})
	s.record("list_orders", err)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func (s *Service) Customer(ctx context.Context, email string) (*Customer, error) {
	var out *Customer
	err := s.call(ctx, "lookup_customer", func(ctx context.Context) error {
		var err error
		out, err = s.provider.LookupCustomer(ctx, strings.TrimSpace(email))
		return err
	})
	if errors.Is(err, ErrCustomerNotFound) {
		s.record("lookup_customer", nil)
		return nil, err
	}
	s.record("lookup_customer", err)
	if err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	return out, nil
}

// CustomerOverview fetches the customer record and their orders concurrently.
// A customer without an account still gets their guest orders.
func (s *Service) CustomerOverview(ctx context.Context, email string) (*CustomerOverview, error) {
	var ov CustomerOverview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.Customer(gctx, email)
		if errors.Is(err, ErrCustomerNotFound) {
			return nil
		}
		ov.Customer = c
		return err
	})
	g.Go(func() error {
		orders, err := s.Orders(gctx, email)
		ov.Orders = orders
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ov.Orders == nil {
		ov.Orders = []Order{}
	}
	return &ov, nil
}
