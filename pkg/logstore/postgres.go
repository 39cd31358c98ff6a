package logstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// NotifyChannelName is the Postgres NOTIFY channel carrying appended entries.
// Session routing happens in-process once the listener decodes the payload.
const NotifyChannelName = "seeker_events"

// notifyPayloadLimit keeps NOTIFY payloads under PostgreSQL's 8000-byte cap.
// Larger entries are broadcast as a truncation envelope; listeners refetch
// the full row by id.
const notifyPayloadLimit = 7900

// PostgresStore persists log entries and results in PostgreSQL. Each append
// runs INSERT and pg_notify in one transaction, so the broadcast fires only
// for committed entries and NOTIFY delivery follows commit order.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection, applies pending migrations and
// returns the store.
func NewPostgresStore(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection without running
// migrations. Used by tests that manage the schema themselves.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "seeker", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	// Close only the source driver. m.Close() would also close the shared
	// *sql.DB handed to postgres.WithInstance.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// DB exposes the underlying pool for health checks.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Append persists the entry and broadcasts it via pg_notify within the same
// transaction. The commit makes persistence and broadcast atomic.
func (s *PostgresStore) Append(ctx context.Context, entry *models.LogEntry) (*models.LogEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("cannot append nil entry")
	}
	if entry.SessionID == "" {
		return nil, fmt.Errorf("cannot append entry without session id")
	}

	stored := *entry
	if stored.ID == "" {
		stored.ID = models.NewLogEntryID()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	dataJSON, err := json.Marshal(stored.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO log_entries (id, session_id, ts, event_type, plan_id, phase_id, step_id, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		stored.ID, stored.SessionID, stored.Timestamp, stored.EventType,
		nullable(stored.PlanID), nullable(stored.PhaseID), nullable(stored.StepID), dataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to persist entry: %w", err)
	}

	notifyPayload, err := buildNotifyPayload(&stored)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", NotifyChannelName, notifyPayload); err != nil {
		return nil, fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entry: %w", err)
	}
	return &stored, nil
}

// buildNotifyPayload marshals the entry for NOTIFY, falling back to a
// truncation envelope when the JSON exceeds the payload limit.
func buildNotifyPayload(entry *models.LogEntry) (string, error) {
	full, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notify payload: %w", err)
	}
	if len(full) <= notifyPayloadLimit {
		return string(full), nil
	}
	envelope, err := json.Marshal(map[string]any{
		"id":         entry.ID,
		"session_id": entry.SessionID,
		"event_type": entry.EventType,
		"truncated":  true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncation envelope: %w", err)
	}
	return string(envelope), nil
}

// FindBySession returns the session's entries in append order.
func (s *PostgresStore) FindBySession(ctx context.Context, sessionID string) ([]*models.LogEntry, error) {
	return s.Query(ctx, Filter{SessionID: sessionID})
}

// FindByID returns one entry. Used by the notify listener to recover full
// payloads from truncation envelopes.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.LogEntry, error) {
	entries, err := s.Query(ctx, Filter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entry with id %s", id)
	}
	return entries[0], nil
}

// Query returns entries matching the filter ordered by append position.
func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]*models.LogEntry, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.SessionID != "" {
		conds = append(conds, "session_id = "+arg(filter.SessionID))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = arg(et)
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = arg(id)
		}
		conds = append(conds, "id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.From.IsZero() {
		conds = append(conds, "ts >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "ts <= "+arg(filter.To))
	}
	if filter.HasError != nil {
		if *filter.HasError {
			conds = append(conds, "data ? 'error'")
		} else {
			conds = append(conds, "NOT (data ? 'error')")
		}
	}

	query := "SELECT id, session_id, ts, event_type, plan_id, phase_id, step_id, data FROM log_entries"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.Order == OrderDesc {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY seq ASC"
	}
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.LogEntry
	for rows.Next() {
		var (
			e        models.LogEntry
			planID   sql.NullString
			phaseID  sql.NullString
			stepID   sql.NullString
			dataJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.EventType, &planID, &phaseID, &stepID, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.PlanID = planID.String
		e.PhaseID = phaseID.String
		e.StepID = stepID.String
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry data: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return out, nil
}

// SaveResult upserts the final result for its session.
func (s *PostgresStore) SaveResult(ctx context.Context, result *models.ResearchResult) error {
	if result == nil || result.SessionID == "" {
		return fmt.Errorf("cannot save result without session id")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_results (session_id, payload, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		result.SessionID, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// GetResult returns the saved result or an error when none exists.
func (s *PostgresStore) GetResult(ctx context.Context, sessionID string) (*models.ResearchResult, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM research_results WHERE session_id = $1`, sessionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no result for session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	var result models.ResearchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
