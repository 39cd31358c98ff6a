package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

// defaultBufferSize is the per-subscription channel depth. A subscriber that
// falls this far behind starts losing entries.
const defaultBufferSize = 256

// Subscription is one subscriber's view of a channel. Entries arrive on C in
// publish order. Close the subscription via Bus.Unsubscribe.
type Subscription struct {
	ID      string
	Channel string
	C       <-chan *models.LogEntry

	ch chan *models.LogEntry
}

// Bus fans published log entries out to channel subscribers. Publishing never
// blocks: a subscriber whose buffer is full has the entry dropped with a
// warning, so a stalled observer cannot stall the orchestrator.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription // channel → subscription id → sub
	logger *slog.Logger
	closed bool
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]map[string]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a new subscriber on the named channel. Use
// SessionChannel(id) for session-scoped delivery or FirehoseChannel for
// everything.
func (b *Bus) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		ID:      uuid.New().String(),
		Channel: channel,
		ch:      make(chan *models.LogEntry, defaultBufferSize),
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	byID, ok := b.subs[channel]
	if !ok {
		byID = make(map[string]*Subscription)
		b.subs[channel] = byID
	}
	byID[sub.ID] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	byID, ok := b.subs[sub.Channel]
	if !ok {
		return
	}
	if _, ok := byID[sub.ID]; !ok {
		return
	}
	delete(byID, sub.ID)
	if len(byID) == 0 {
		delete(b.subs, sub.Channel)
	}
	close(sub.ch)
}

// Publish delivers the entry to the session channel and the firehose.
// Delivery order matches call order for all subscribers of a channel.
func (b *Bus) Publish(entry *models.LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.deliver(SessionChannel(entry.SessionID), entry)
	b.deliver(FirehoseChannel, entry)
}

// deliver is called with the read lock held.
func (b *Bus) deliver(channel string, entry *models.LogEntry) {
	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- entry:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"channel", channel,
				"subscription_id", sub.ID,
				"event_type", entry.EventType,
				"session_id", entry.SessionID)
		}
	}
}

// Close shuts the bus down and closes every subscriber channel. Publishes
// after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for channel, byID := range b.subs {
		for _, sub := range byID {
			close(sub.ch)
		}
		delete(b.subs, channel)
	}
}
