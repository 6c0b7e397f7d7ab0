package scanner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"
)

// Outcome is the result of one completed scan attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// HistoryEntry is one row of the scan history.
type HistoryEntry struct {
	ID         string
	Name       string
	DetectedAt time.Time
	Location   string
	Outcome    Outcome
	Kind       Kind
	Payload    RawPayload
	Detail     string
}

// NewHistoryEntry derives the history row for a result.
func NewHistoryEntry(r ScanResult, outcome Outcome, detail string) HistoryEntry {
	return HistoryEntry{
		ID:         r.ID,
		Name:       r.DisplayName(),
		DetectedAt: r.DetectedAt,
		Location:   r.Location,
		Outcome:    outcome,
		Kind:       r.Kind,
		Payload:    r.Payload,
		Detail:     detail,
	}
}

// HistorySink receives every appended entry. It is the hook for durable
// storage owned by the surrounding application.
type HistorySink interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
}

// HistoryLedger is an append-only, most-recent-first list of scans.
type HistoryLedger struct {
	mu      sync.RWMutex
	entries []HistoryEntry // oldest first
	limit   int
	sinks   []HistorySink
}

// NewHistoryLedger creates a ledger. limit caps the in-memory view; zero
// means unbounded. Sinks still see every entry.
func NewHistoryLedger(limit int, sinks ...HistorySink) *HistoryLedger {
	return &HistoryLedger{limit: limit, sinks: sinks}
}

// Append inserts e at the head and forwards it to every sink. Sink failures
// are returned but the in-memory append is kept.
func (l *HistoryLedger) Append(ctx context.Context, e HistoryEntry) error {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if l.limit > 0 && len(l.entries) > l.limit {
		l.entries = slices.Clone(l.entries[len(l.entries)-l.limit:])
	}
	sinks := l.sinks
	l.mu.Unlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.AppendHistory(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("appending history entry %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// List returns the entries most recent first. Each iteration reads a
// snapshot taken when it starts, so the sequence is restartable and finite.
func (l *HistoryLedger) List() iter.Seq[HistoryEntry] {
	return func(yield func(HistoryEntry) bool) {
		l.mu.RLock()
		snapshot := l.entries[:len(l.entries):len(l.entries)]
		l.mu.RUnlock()

		for i := len(snapshot) - 1; i >= 0; i-- {
			if !yield(snapshot[i]) {
				return
			}
		}
	}
}

// Len returns the number of entries held in memory.
func (l *HistoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
