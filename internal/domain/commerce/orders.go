package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gmtcc/insight/internal/domain/journey"
)

// Webhook topics the order router understands.
const (
	TopicOrderCreated   = "orders/create"
	TopicOrderUpdated   = "orders/updated"
	TopicAppUninstalled = "app/uninstalled"
)

var ErrMalformedOrder = errors.New("malformed order payload")

// SKUMap ties store SKUs to journey purchases.
type SKUMap struct {
	TestOnly   string
	Bundle     string
	Upgrade    string
	Probiotics string
}

func (m SKUMap) option(sku string) (journey.PurchaseOption, bool) {
	switch {
	case sku == "":
		return "", false
	case strings.EqualFold(sku, m.TestOnly):
		return journey.OptionTestOnly, true
	case strings.EqualFold(sku, m.Bundle):
		return journey.OptionBundle, true
	case strings.EqualFold(sku, m.Upgrade):
		return journey.OptionUpgrade, true
	}
	return "", false
}

func (m SKUMap) probiotics(sku string) bool {
	return sku != "" && strings.EqualFold(sku, m.Probiotics)
}

// Journey is the part of the journey store driven by order webhooks.
type Journey interface {
	BuyItem(ctx context.Context, opt journey.PurchaseOption) (journey.JourneyState, error)
	AdvanceTestStatus(ctx context.Context, next journey.TestStatus) (journey.JourneyState, error)
	PurchaseProbiotics(ctx context.Context) (journey.JourneyState, error)
	ShipProbiotics(ctx context.Context) (journey.JourneyState, error)
}

// OrderRouter applies order webhooks to the journey. Rejected transitions are
// logged and swallowed so the store acknowledges the delivery; only
// persistence and payload errors are returned.
type OrderRouter struct {
	journey Journey
	skus    SKUMap
	logger  zerolog.Logger
}

func NewOrderRouter(j Journey, skus SKUMap, logger zerolog.Logger) *OrderRouter {
	return &OrderRouter{journey: j, skus: skus, logger: logger}
}

// Route dispatches one webhook body by topic. Unknown topics are ignored.
func (r *OrderRouter) Route(ctx context.Context, topic string, body []byte) error {
	switch topic {
	case TopicOrderCreated, TopicOrderUpdated:
		var o RestOrder
		if err := json.Unmarshal(body, &o); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedOrder, err)
		}
		if topic == TopicOrderCreated {
			return r.orderCreated(ctx, o)
		}
		return r.orderUpdated(ctx, o)
	case TopicAppUninstalled:
		var shop struct {
			Domain string `json:"domain"`
		}
		_ = json.Unmarshal(body, &shop)
		r.logger.Warn().Str("shop", shop.Domain).Msg("commerce app uninstalled")
		return nil
	}
	r.logger.Info().Str("topic", topic).Msg("unhandled commerce webhook")
	return nil
}

// apply runs one journey operation, downgrading rejected transitions to a log
// line.
func (r *OrderRouter) apply(o RestOrder, what string, op func() (journey.JourneyState, error)) error {
	_, err := op()
	switch {
	case err == nil:
		r.logger.Info().Int64("order_id", o.ID).Str("applied", what).Msg("order applied to journey")
		return nil
	case errors.Is(err, journey.ErrInvalidTransition):
		r.logger.Info().Err(err).Int64("order_id", o.ID).Str("skipped", what).Msg("order does not match journey state")
		return nil
	}
	return fmt.Errorf("order %d %s: %w", o.ID, what, err)
}

func (r *OrderRouter) orderCreated(ctx context.Context, o RestOrder) error {
	for _, li := range o.LineItems {
		if opt, ok := r.skus.option(li.SKU); ok {
			if err := r.apply(o, "buy "+string(opt), func() (journey.JourneyState, error) {
				return r.journey.BuyItem(ctx, opt)
			}); err != nil {
				return err
			}
			continue
		}
		if r.skus.probiotics(li.SKU) {
			if err := r.apply(o, "purchase probiotics", func() (journey.JourneyState, error) {
				return r.journey.PurchaseProbiotics(ctx)
			}); err != nil {
				return err
			}
			continue
		}
		r.logger.Debug().Int64("order_id", o.ID).Str("sku", li.SKU).Msg("line item not tracked by journey")
	}
	return nil
}

func (r *OrderRouter) orderUpdated(ctx context.Context, o RestOrder) error {
	var kit, probiotics bool
	for _, li := range o.LineItems {
		if _, ok := r.skus.option(li.SKU); ok {
			kit = true
		}
		if r.skus.probiotics(li.SKU) {
			probiotics = true
		}
	}

	status := fulfilment(o)
	switch {
	case kit && status == "delivered":
		return r.apply(o, "kit delivered", func() (journey.JourneyState, error) {
			return r.journey.AdvanceTestStatus(ctx, journey.TestReceived)
		})
	case probiotics && (status == "fulfilled" || status == "delivered"):
		return r.apply(o, "probiotics shipped", func() (journey.JourneyState, error) {
			return r.journey.ShipProbiotics(ctx)
		})
	}
	r.logger.Debug().Int64("order_id", o.ID).Str("fulfillment", status).Msg("order update not tracked by journey")
	return nil
}

// fulfilment folds the order-level status and carrier shipment statuses into
// one value. A delivered shipment wins over "fulfilled".
func fulfilment(o RestOrder) string {
	status := strings.ToLower(o.FulfillmentStatus)
	for _, f := range o.Fulfillments {
		if strings.EqualFold(f.ShipmentStatus, "delivered") {
			return "delivered"
		}
	}
	return status
}
