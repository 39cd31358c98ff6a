package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// EntryFetcher recovers a full entry when a NOTIFY payload arrived truncated.
// Implemented by *PostgresStore.
type EntryFetcher interface {
	FindByID(ctx context.Context, id string) (*models.LogEntry, error)
}

// NotifyListener bridges the Postgres NOTIFY stream into the in-process bus.
// It is the sole publisher to the bus in Postgres-backed runs, so every
// process subscribed to the same database sees one consistent stream.
//
// A dedicated pgx connection runs LISTEN; the receive loop is the only
// goroutine touching it, which avoids the "conn busy" race between
// WaitForNotification and Exec.
type NotifyListener struct {
	connString string
	bus        *events.Bus
	fetcher    EntryFetcher

	conn    *pgx.Conn
	connMu  sync.Mutex
	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener for the given database.
func NewNotifyListener(connString string, bus *events.Bus, fetcher EntryFetcher) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		bus:        bus,
		fetcher:    fetcher,
	}
}

// Start opens the dedicated LISTEN connection and begins receiving.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannelName}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("LISTEN %s failed: %w", NotifyChannelName, err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("notify listener started", "channel", NotifyChannelName)
	return nil
}

// Stop cancels the receive loop and closes the connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		select {
		case <-l.loopDone:
		case <-ctx.Done():
		}
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

// receiveLoop is the sole goroutine using the pgx connection.
func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.dispatch(ctx, []byte(notification.Payload))
	}
}

// dispatch decodes one NOTIFY payload and publishes it on the bus. Truncated
// envelopes are refetched by id before publishing.
func (l *NotifyListener) dispatch(ctx context.Context, payload []byte) {
	var probe struct {
		ID        string `json:"id"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		slog.Error("failed to decode NOTIFY payload", "error", err)
		return
	}

	if probe.Truncated {
		entry, err := l.fetcher.FindByID(ctx, probe.ID)
		if err != nil {
			slog.Error("failed to refetch truncated entry", "entry_id", probe.ID, "error", err)
			return
		}
		l.bus.Publish(entry)
		return
	}

	var entry models.LogEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		slog.Error("failed to decode NOTIFY entry", "error", err)
		return
	}
	l.bus.Publish(&entry)
}

// reconnect re-establishes the LISTEN connection with exponential backoff.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
	l.connMu.Unlock()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannelName}.Sanitize()); err != nil {
			slog.Error("re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		l.connMu.Lock()
		l.conn = conn
		l.connMu.Unlock()
		slog.Info("notify listener reconnected", "channel", NotifyChannelName)
		return
	}
}
