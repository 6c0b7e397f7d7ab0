package scanner

import "context"

// Database is the durable store behind the ledger and the check-in flow.
type Database interface {
	HistorySink
	CheckinStore

	// ListHistory returns up to limit entries, most recent first. A
	// non-positive limit returns everything.
	ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
	// ListCheckins returns the check-ins recorded for an event, oldest first.
	ListCheckins(ctx context.Context, eventID string) ([]Checkin, error)

	// CheckMigrations verifies the schema is current.
	CheckMigrations() error
	// Migrate applies pending schema migrations.
	Migrate() error
	Close() error
}
