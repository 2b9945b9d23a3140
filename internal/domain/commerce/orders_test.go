package commerce

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gmtcc/insight/internal/domain/journey"
)

var testSKUs = SKUMap{
	TestOnly:   "GMTCC-TEST",
	Bundle:     "GMTCC-BUNDLE",
	Upgrade:    "GMTCC-UPGRADE",
	Probiotics: "GMTCC-PROBIOTICS",
}

func newRouter() (*OrderRouter, *journey.Store) {
	st := journey.NewStore(journey.NewMemoryRepository())
	return NewOrderRouter(st, testSKUs, zerolog.Nop()), st
}

func state(t *testing.T, st *journey.Store) journey.JourneyState {
	t.Helper()
	s, err := st.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestOrderRouter_OrderCreatedBuysBundle(t *testing.T) {
	r, st := newRouter()
	body := `{"id":1001,"line_items":[{"name":"Bundle","sku":"gmtcc-bundle","quantity":1}]}`
	if err := r.Route(context.Background(), TopicOrderCreated, []byte(body)); err != nil {
		t.Fatal(err)
	}
	s := state(t, st)
	if s.TestStatus != journey.TestOrdered || s.ConsultationStatus != journey.ConsultationPurchased {
		t.Errorf("state = %s / %s", s.TestStatus, s.ConsultationStatus)
	}
	if len(s.PurchaseHistory) != 1 || s.PurchaseHistory[0] != journey.OptionBundle {
		t.Errorf("history = %v", s.PurchaseHistory)
	}
}

func TestOrderRouter_RedeliveredOrderIsAcknowledged(t *testing.T) {
	r, st := newRouter()
	body := []byte(`{"id":1001,"line_items":[{"sku":"GMTCC-TEST","quantity":1}]}`)
	for i := 0; i < 2; i++ {
		if err := r.Route(context.Background(), TopicOrderCreated, body); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if s := state(t, st); len(s.PurchaseHistory) != 1 {
		t.Errorf("history = %v", s.PurchaseHistory)
	}
}

func TestOrderRouter_UntrackedSKUsIgnored(t *testing.T) {
	r, st := newRouter()
	body := `{"id":5,"line_items":[{"sku":"TOTE-BAG","quantity":1},{"sku":"","quantity":1}]}`
	if err := r.Route(context.Background(), TopicOrderCreated, []byte(body)); err != nil {
		t.Fatal(err)
	}
	if s := state(t, st); s.TestStatus != journey.TestNone || len(s.Notifications) != 0 {
		t.Errorf("state changed: %+v", s)
	}
}

func TestOrderRouter_KitDelivered(t *testing.T) {
	r, st := newRouter()
	ctx := context.Background()
	if _, err := st.BuyItem(ctx, journey.OptionTestOnly); err != nil {
		t.Fatal(err)
	}

	shipped := `{"id":1001,"fulfillment_status":"fulfilled","line_items":[{"sku":"GMTCC-TEST"}],"fulfillments":[{"shipment_status":"in_transit"}]}`
	if err := r.Route(ctx, TopicOrderUpdated, []byte(shipped)); err != nil {
		t.Fatal(err)
	}
	if s := state(t, st); s.TestStatus != journey.TestOrdered {
		t.Fatalf("fulfilled kit moved test to %s", s.TestStatus)
	}

	delivered := `{"id":1001,"fulfillment_status":"fulfilled","line_items":[{"sku":"GMTCC-TEST"}],"fulfillments":[{"shipment_status":"delivered"}]}`
	if err := r.Route(ctx, TopicOrderUpdated, []byte(delivered)); err != nil {
		t.Fatal(err)
	}
	if s := state(t, st); s.TestStatus != journey.TestReceived {
		t.Errorf("test status = %s, want RECEIVED", s.TestStatus)
	}
}

func TestOrderRouter_ProbioticsPurchaseAndShipping(t *testing.T) {
	st := journey.NewStore(journey.NewMemoryRepository(), journey.WithPolicy(journey.PolicyPermissive))
	r := NewOrderRouter(st, testSKUs, zerolog.Nop())
	ctx := context.Background()
	if _, err := st.CompleteConsultation(ctx); err != nil {
		t.Fatal(err)
	}

	if err := r.Route(ctx, TopicOrderCreated, []byte(`{"id":2002,"line_items":[{"sku":"GMTCC-PROBIOTICS"}]}`)); err != nil {
		t.Fatal(err)
	}
	if s := state(t, st); s.ProbioticsStatus != journey.ProbioticsPaid {
		t.Fatalf("probiotics = %s", s.ProbioticsStatus)
	}
	if err := r.Route(ctx, TopicOrderUpdated, []byte(`{"id":2002,"fulfillment_status":"fulfilled","line_items":[{"sku":"GMTCC-PROBIOTICS"}]}`)); err != nil {
		t.Fatal(err)
	}
	if s := state(t, st); s.ProbioticsStatus != journey.ProbioticsShipped {
		t.Errorf("probiotics = %s", s.ProbioticsStatus)
	}
}

func TestOrderRouter_MalformedAndUnknownTopics(t *testing.T) {
	r, _ := newRouter()
	if err := r.Route(context.Background(), TopicOrderCreated, []byte(`{"id":`)); !errors.Is(err, ErrMalformedOrder) {
		t.Errorf("err = %v", err)
	}
	if err := r.Route(context.Background(), "products/update", []byte(`{}`)); err != nil {
		t.Errorf("unknown topic err = %v", err)
	}
	if err := r.Route(context.Background(), TopicAppUninstalled, []byte(`{"domain":"gmtcc.myshopify.com"}`)); err != nil {
		t.Errorf("uninstall err = %v", err)
	}
}

// failingJourney fails every operation as a store whose repository is down.
type failingJourney struct{}

var errSaveFailed = fmt.Errorf("save: %w", journey.ErrPersistence)

func (failingJourney) BuyItem(context.Context, journey.PurchaseOption) (journey.JourneyState, error) {
	return journey.JourneyState{}, errSaveFailed
}

func (failingJourney) AdvanceTestStatus(context.Context, journey.TestStatus) (journey.JourneyState, error) {
	return journey.JourneyState{}, errSaveFailed
}

func (failingJourney) PurchaseProbiotics(context.Context) (journey.JourneyState, error) {
	return journey.JourneyState{}, errSaveFailed
}

func (failingJourney) ShipProbiotics(context.Context) (journey.JourneyState, error) {
	return journey.JourneyState{}, errSaveFailed
}

func TestOrderRouter_PersistenceFailureReturned(t *testing.T) {
	r := NewOrderRouter(failingJourney{}, testSKUs, zerolog.Nop())
	err := r.Route(context.Background(), TopicOrderCreated, []byte(`{"id":1,"line_items":[{"sku":"GMTCC-TEST"}]}`))
	if !errors.Is(err, journey.ErrPersistence) {
		t.Errorf("err = %v", err)
	}
}
