// Package realtime moves journey change events from the store to websocket
// clients, optionally through Redis so that every server instance sees every
// change.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gmtcc/insight/internal/platform/websocket"
)

// Bus carries hub events between the publisher and the local forwarder.
type Bus interface {
	Publish(ctx context.Context, ev websocket.Event) error
	// Start delivers every event published on the bus to onEvent until ctx is
	// done.
	Start(ctx context.Context, onEvent func(websocket.Event)) error
	Close() error
}

// LocalBus delivers events in-process.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []func(websocket.Event)
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Publish(_ context.Context, ev websocket.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *LocalBus) Start(_ context.Context, onEvent func(websocket.Event)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, onEvent)
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Close() error { return nil }

// RedisBus publishes JSON-encoded events on one Redis pub/sub channel.
type RedisBus struct {
	rdb     goredis.UniversalClient
	channel string
	logger  zerolog.Logger
}

func NewRedisBus(rdb goredis.UniversalClient, channel string, logger zerolog.Logger) *RedisBus {
	if channel == "" {
		channel = "journey"
	}
	return &RedisBus{rdb: rdb, channel: channel, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, ev websocket.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Start(ctx context.Context, onEvent func(websocket.Event)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev websocket.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.logger.Warn().Err(err).Str("channel", b.channel).Msg("realtime: bad payload")
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

// Close leaves the shared client open; its owner closes it.
func (b *RedisBus) Close() error { return nil }
