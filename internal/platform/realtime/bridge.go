package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/gmtcc/insight/internal/domain/journey"
	"github.com/gmtcc/insight/internal/platform/websocket"
)

const (
	EventStateChanged        = "state.changed"
	EventNotificationCreated = "notification.created"
)

// Events converts a committed transition into hub events: one state event on
// the journey topic, then one per new notification in emission order.
func Events(e journey.Event) []websocket.Event {
	out := make([]websocket.Event, 0, 1+len(e.Notifications))

	state, err := json.Marshal(e.State)
	if err == nil {
		out = append(out, websocket.Event{
			Type:      EventStateChanged,
			Topic:     websocket.TopicJourney,
			Action:    string(e.Action),
			Seq:       e.Seq,
			Timestamp: e.At,
			Data:      state,
		})
	}
	for _, n := range e.Notifications {
		raw, err := json.Marshal(n)
		if err != nil {
			continue
		}
		out = append(out, websocket.Event{
			Type:      EventNotificationCreated,
			Topic:     websocket.TopicNotifications,
			Action:    string(e.Action),
			Timestamp: e.At,
			Data:      raw,
		})
	}
	return out
}

// Bridge publishes store events to bus and forwards bus events to the hub.
// The store hands events over in commit order and one goroutine drains the
// queue, so bus order matches commit order. If the queue is full the event is
// dropped with a warning; clients can spot the gap in the state events' seq. The returned
// function detaches the bridge from the store.
func Bridge(ctx context.Context, store *journey.Store, bus Bus, hub websocket.EventPublisher, logger zerolog.Logger) (func(), error) {
	if err := bus.Start(ctx, func(ev websocket.Event) {
		_ = hub.Publish(ctx, ev)
	}); err != nil {
		return nil, err
	}

	queue := make(chan journey.Event, queueSize)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-queue:
				publishAll(ctx, bus, e, logger)
			}
		}
	}()

	unsubscribe := store.Subscribe(func(e journey.Event) {
		select {
		case queue <- e:
		default:
			logger.Warn().Str("action", string(e.Action)).Msg("realtime: queue full, event dropped")
		}
	})
	return unsubscribe, nil
}

const queueSize = 64

func publishAll(ctx context.Context, bus Bus, e journey.Event, logger zerolog.Logger) {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, ev := range Events(e) {
		if err := bus.Publish(pctx, ev); err != nil {
			logger.Warn().Err(err).Str("action", string(e.Action)).Msg("realtime: publish failed")
			return
		}
	}
}
