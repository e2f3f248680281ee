package notifier

import (
	"context"
	"time"

	"zkcache"
	"zkcache/internal/event"
)

// NotifyEvent is the value carried on a BusNotifier's internal event.Bus.
// It wraps a single zkcache.Notifier.Publish call so that subscribers can
// filter by channel the same way internal/event's SubscribeType(s) filters
// by event type.
type NotifyEvent struct {
	Channel    zkcache.Channel
	Payload    map[string]any
	OccurredAt time.Time
}

// Type satisfies internal/event.Event so SubscribeType(s) can filter a
// BusNotifier's stream by channel name.
func (e NotifyEvent) Type() string {
	return string(e.Channel)
}

// Timestamp reports when the underlying cache cell was updated.
func (e NotifyEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// BusNotifier is a zkcache.Notifier backed by a single internal/event.Bus of
// NotifyEvent, fanning every static/directory/runtime update out to any
// number of subscribers. Unlike internal/notification's package-level
// singleton bus, a BusNotifier is an owned value: each CacheFacade using one
// gets its own bus and its own subscriber set.
type BusNotifier struct {
	bus *event.Bus[NotifyEvent]
}

// NewBusNotifier constructs a BusNotifier. opts.Name defaults to
// "zkcache_notifier" when empty; ctx governs the bus's lifetime the same
// way it does for any internal/event.Bus (cancellation closes it).
func NewBusNotifier(ctx context.Context, opts event.BusOptions) *BusNotifier {
	if opts.Name == "" {
		opts.Name = "zkcache_notifier"
	}
	return &BusNotifier{bus: event.NewBus[NotifyEvent](ctx, opts)}
}

// Publish implements zkcache.Notifier.
func (n *BusNotifier) Publish(channel zkcache.Channel, payload map[string]any) {
	if n == nil || n.bus == nil {
		return
	}
	n.bus.Publish(NotifyEvent{Channel: channel, Payload: payload, OccurredAt: time.Now().UTC()})
}

// Subscribe returns every event published on every channel.
func (n *BusNotifier) Subscribe() (<-chan NotifyEvent, func()) {
	return n.bus.Subscribe()
}

// SubscribeChannel returns only events published on the named channels.
func (n *BusNotifier) SubscribeChannel(channels ...zkcache.Channel) (<-chan NotifyEvent, func()) {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = string(c)
	}
	return n.bus.SubscribeTypes(names...)
}

// Close shuts down the underlying bus, closing every live subscriber
// channel.
func (n *BusNotifier) Close() {
	if n == nil || n.bus == nil {
		return
	}
	n.bus.Close()
}
