package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/leadflow/internal/notify"
)

// Dialects.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var leadColumns = []string{
	"id", "session_id", "name", "phone", "email", "legal_area",
	"urgency", "situation", "confidence_score", "completed_at", "data",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL,
		name             TEXT NOT NULL DEFAULT '',
		phone            TEXT NOT NULL DEFAULT '',
		email            TEXT NOT NULL DEFAULT '',
		legal_area       TEXT NOT NULL DEFAULT '',
		urgency          TEXT NOT NULL DEFAULT '',
		situation        TEXT NOT NULL DEFAULT '',
		confidence_score DOUBLE PRECISION NOT NULL,
		completed_at     TIMESTAMP NOT NULL,
		data             TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leads_completed_at ON leads (completed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_leads_legal_area ON leads (legal_area)`,
	`CREATE TABLE IF NOT EXISTS notification_failures (
		correlation_id TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		sink           TEXT NOT NULL,
		attempts       INTEGER NOT NULL,
		last_error     TEXT NOT NULL DEFAULT '',
		payload        TEXT NOT NULL,
		failed_at      TIMESTAMP NOT NULL
	)`,
}

// Repository stores leads and notification failures.
type Repository struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
}

// Open connects to the archive and creates its tables.
func Open(ctx context.Context, driver, dsn string) (*Repository, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s archive: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	r, err := New(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := r.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an open database.
func New(db *sql.DB, driver string) (*Repository, error) {
	r := &Repository{db: db, driver: driver}
	switch driver {
	case DriverSQLite:
		r.sb = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	case DriverPostgres:
		r.sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	return r, nil
}

// Migrate creates tables and indexes that do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating archive: %w", err)
		}
	}
	return nil
}

// Save archives a lead. Saving the same id again is a no-op.
func (r *Repository) Save(ctx context.Context, l Lead) error {
	if err := l.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(l.Data)
	if err != nil {
		return fmt.Errorf("marshaling lead data: %w", err)
	}
	if l.Data == nil {
		data = []byte("{}")
	}

	query, args, err := r.sb.Insert("leads").
		Columns(leadColumns...).
		Values(l.ID, l.SessionID, l.Name, l.Phone, l.Email, l.LegalArea,
			l.Urgency, l.Situation, l.ConfidenceScore, l.CompletedAt.UTC(), string(data)).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("building lead insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting lead: %w", err)
	}
	return nil
}

// Get returns the lead with the given correlation id.
func (r *Repository) Get(ctx context.Context, id string) (Lead, error) {
	query, args, err := r.sb.Select(leadColumns...).From("leads").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Lead{}, fmt.Errorf("building lead query: %w", err)
	}
	l, err := scanLead(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

// List returns leads newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Lead, error) {
	qb := r.sb.Select(leadColumns...).From("leads")
	if f.LegalArea != "" {
		qb = qb.Where(sq.Eq{"legal_area": f.LegalArea})
	}
	if f.Since != nil {
		qb = qb.Where(sq.GtOrEq{"completed_at": f.Since.UTC()})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	qb = qb.OrderBy("completed_at DESC").Limit(uint64(limit))
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building lead list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing leads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Lead, 0, limit)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating leads: %w", err)
	}
	return out, nil
}

// Count returns the number of archived leads.
func (r *Repository) Count(ctx context.Context) (int, error) {
	query, args, err := r.sb.Select("COUNT(*)").From("leads").ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting leads: %w", err)
	}
	return n, nil
}

// RecordFailure stores a dead-lettered notification. A later failure for the
// same correlation id replaces the earlier one.
func (r *Repository) RecordFailure(ctx context.Context, dl notify.DeadLetter) error {
	payload, err := json.Marshal(dl.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	d := dl.Delivery
	failedAt := d.UpdatedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}

	query, args, err := r.sb.Insert("notification_failures").
		Columns("correlation_id", "session_id", "sink", "attempts", "last_error", "payload", "failed_at").
		Values(d.CorrelationID, d.SessionID, d.Sink, d.Attempts, d.LastError, string(payload), failedAt.UTC()).
		Suffix("ON CONFLICT (correlation_id) DO UPDATE SET attempts = excluded.attempts, " +
			"last_error = excluded.last_error, failed_at = excluded.failed_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building failure insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting notification failure: %w", err)
	}
	return nil
}

// Failures lists dead letters, most recent first.
func (r *Repository) Failures(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query, args, err := r.sb.
		Select("correlation_id", "session_id", "sink", "attempts", "last_error", "payload", "failed_at").
		From("notification_failures").
		OrderBy("failed_at DESC").
		Limit(uint64(min(limit, maxListLimit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building failure query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Failure
	for rows.Next() {
		var f Failure
		var payload string
		if err := rows.Scan(&f.CorrelationID, &f.SessionID, &f.Sink, &f.Attempts, &f.LastError, &payload, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		f.Payload = []byte(payload)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating failures: %w", err)
	}
	return out, nil
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(s scanner) (Lead, error) {
	var l Lead
	var data string
	err := s.Scan(&l.ID, &l.SessionID, &l.Name, &l.Phone, &l.Email, &l.LegalArea,
		&l.Urgency, &l.Situation, &l.ConfidenceScore, &l.CompletedAt, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, err
		}
		return Lead{}, fmt.Errorf("scanning lead: %w", err)
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &l.Data); err != nil {
			return Lead{}, fmt.Errorf("decoding lead data: %w", err)
		}
	}
	return l, nil
}
