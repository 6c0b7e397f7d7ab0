package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkin-go/internal/database/migrations"
	"checkin-go/internal/scanner"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock scanner.Clock
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string, clock scanner.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock scanner.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = scanner.RealClock{}
	}
	return &SQLiteDatabase{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// History

// AppendHistory stores a ledger entry. Appending the same entry twice is a
// no-op.
func (s *SQLiteDatabase) AppendHistory(ctx context.Context, e scanner.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_history (id, name, detected_at, location, outcome, kind, payload, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Name, e.DetectedAt.UTC(), e.Location, string(e.Outcome), string(e.Kind), string(e.Payload), e.Detail, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListHistory(ctx context.Context, limit int) ([]scanner.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, detected_at, location, outcome, kind, payload, detail
		FROM scan_history
		ORDER BY detected_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []scanner.HistoryEntry
	for rows.Next() {
		var e scanner.HistoryEntry
		var outcome, kind, payload string
		if err := rows.Scan(&e.ID, &e.Name, &e.DetectedAt, &e.Location, &outcome, &kind, &payload, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Outcome = scanner.Outcome(outcome)
		e.Kind = scanner.Kind(kind)
		e.Payload = scanner.RawPayload(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// Check-ins

// RecordCheckin inserts a check-in unless the same event ticket is already
// recorded, in which case the earlier record is returned with duplicate set.
// Tickets without a token are keyed by their payload.
func (s *SQLiteDatabase) RecordCheckin(ctx context.Context, c scanner.Checkin) (scanner.Checkin, bool, error) {
	if c.EventID == "" {
		return scanner.Checkin{}, false, fmt.Errorf("recording check-in: missing event id")
	}
	key := dedupeKey(c)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return scanner.Checkin{}, false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO checkins (id, event_id, token, payload, device_id, checked_in_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, token) DO NOTHING`,
		c.ID, c.EventID, key, string(c.Payload), c.DeviceID, c.CheckedInAt.UTC(),
	)
	if err != nil {
		return scanner.Checkin{}, false, fmt.Errorf("inserting check-in: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return scanner.Checkin{}, false, fmt.Errorf("inserting check-in: %w", err)
	}

	if n == 1 {
		if err := tx.Commit(); err != nil {
			return scanner.Checkin{}, false, fmt.Errorf("committing transaction: %w", err)
		}
		return c, false, nil
	}

	existing, err := scanCheckin(tx.QueryRowContext(ctx, `
		SELECT id, event_id, token, payload, device_id, checked_in_at
		FROM checkins
		WHERE event_id = ? AND token = ?`, c.EventID, key))
	if err != nil {
		return scanner.Checkin{}, false, fmt.Errorf("loading existing check-in: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return scanner.Checkin{}, false, fmt.Errorf("committing transaction: %w", err)
	}
	return existing, true, nil
}

func (s *SQLiteDatabase) ListCheckins(ctx context.Context, eventID string) ([]scanner.Checkin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, token, payload, device_id, checked_in_at
		FROM checkins
		WHERE event_id = ?
		ORDER BY checked_in_at, rowid`, eventID)
	if err != nil {
		return nil, fmt.Errorf("listing check-ins: %w", err)
	}
	defer rows.Close()

	var out []scanner.Checkin
	for rows.Next() {
		c, err := scanCheckin(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning check-in row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing check-ins: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckin(r rowScanner) (scanner.Checkin, error) {
	var c scanner.Checkin
	var payload string
	var at time.Time
	if err := r.Scan(&c.ID, &c.EventID, &c.Token, &payload, &c.DeviceID, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scanner.Checkin{}, fmt.Errorf("check-in not found: %w", err)
		}
		return scanner.Checkin{}, err
	}
	c.Payload = scanner.RawPayload(payload)
	c.CheckedInAt = at
	return c, nil
}

func dedupeKey(c scanner.Checkin) string {
	if c.Token != "" {
		return c.Token
	}
	return string(c.Payload)
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate applies any pending migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// MigrationStatus reports the applied and available schema versions.
func (s *SQLiteDatabase) MigrationStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements scanner.Database interface
var _ scanner.Database = (*SQLiteDatabase)(nil)
