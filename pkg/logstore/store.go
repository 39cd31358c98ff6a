// Package logstore persists the append-only event log and the final research
// results. Two implementations exist: an in-memory store for tests and
// single-process runs, and a Postgres store that broadcasts appends via
// NOTIFY so every process sees the same stream.
package logstore

import (
	"context"
	"time"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

// Order controls the sort direction of query results.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Filter narrows a Query. Zero fields are ignored.
type Filter struct {
	SessionID  string
	EventTypes []string
	From       time.Time
	To         time.Time
	IDs        []string

	// HasError selects entries whose data carries an "error" key (true) or
	// lacks one (false). Nil means no error filtering.
	HasError *bool

	Limit  int
	Offset int
	Order  Order
}

// Store is the append-only event log. Append assigns an id and a timestamp
// when the entry carries none, persists the entry, and publishes it on the
// session channel and the firehose. Append failures are fatal to the calling
// operation; the engine never silently drops audit trail.
type Store interface {
	Append(ctx context.Context, entry *models.LogEntry) (*models.LogEntry, error)
	FindBySession(ctx context.Context, sessionID string) ([]*models.LogEntry, error)
	Query(ctx context.Context, filter Filter) ([]*models.LogEntry, error)
}

// ResultStore persists the final ResearchResult per session.
type ResultStore interface {
	SaveResult(ctx context.Context, result *models.ResearchResult) error
	GetResult(ctx context.Context, sessionID string) (*models.ResearchResult, error)
}
