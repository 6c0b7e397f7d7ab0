package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"checkin-go/internal/scanner"
)

// ErrNothingToExport is returned by Export when the history is empty.
var ErrNothingToExport = errors.New("no scan history to export")

// HistorySource supplies the rows to export, newest first.
type HistorySource interface {
	ListHistory(ctx context.Context, limit int) ([]scanner.HistoryEntry, error)
}

// record is one JSON line of an archive.
type record struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DetectedAt time.Time `json:"detected_at"`
	Location   string    `json:"location,omitempty"`
	Outcome    string    `json:"outcome"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Detail     string    `json:"detail,omitempty"`
}

// Manifest describes a stored export.
type Manifest struct {
	Key     string
	Entries int
	Size    int64
}

// Exporter seals the scan history and writes it to a Store.
type Exporter struct {
	source   HistorySource
	store    Store
	enc      Encryptor
	clock    scanner.Clock
	deviceID string
	logger   scanner.Logger
}

func NewExporter(source HistorySource, store Store, enc Encryptor, clock scanner.Clock, deviceID string, logger scanner.Logger) *Exporter {
	return &Exporter{source: source, store: store, enc: enc, clock: clock, deviceID: deviceID, logger: logger}
}

// KeyPrefix returns the key prefix that holds a device's exports.
func KeyPrefix(deviceID string) string {
	return "history/" + deviceID + "/"
}

// Export writes the full history, oldest entry first, as one encrypted
// object keyed by device and time.
func (e *Exporter) Export(ctx context.Context) (Manifest, error) {
	entries, err := e.source.ListHistory(ctx, 0)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading history: %w", err)
	}
	if len(entries) == 0 {
		return Manifest{}, ErrNothingToExport
	}
	slices.Reverse(entries)

	var plain bytes.Buffer
	jw := json.NewEncoder(&plain)
	for _, h := range entries {
		if err := jw.Encode(record{
			ID:         h.ID,
			Name:       h.Name,
			DetectedAt: h.DetectedAt.UTC(),
			Location:   h.Location,
			Outcome:    string(h.Outcome),
			Kind:       string(h.Kind),
			Payload:    string(h.Payload),
			Detail:     h.Detail,
		}); err != nil {
			return Manifest{}, fmt.Errorf("encoding entry %s: %w", h.ID, err)
		}
	}

	var sealed bytes.Buffer
	if err := e.enc.Encrypt(&plain, &sealed); err != nil {
		return Manifest{}, fmt.Errorf("encrypting export: %w", err)
	}

	m := Manifest{
		Key:     KeyPrefix(e.deviceID) + e.clock.Now().UTC().Format("20060102T150405Z") + ".jsonl.age",
		Entries: len(entries),
		Size:    int64(sealed.Len()),
	}
	if err := e.store.Put(ctx, m.Key, &sealed, m.Size); err != nil {
		return Manifest{}, fmt.Errorf("storing export in %s: %w", e.store.Name(), err)
	}

	e.logger.Info("history exported", "archive", e.store.Name(), "key", m.Key, "entries", m.Entries)
	return m, nil
}

// Import fetches and decrypts one export.
func Import(ctx context.Context, store Store, key string, dc DecryptionContext) ([]scanner.HistoryEntry, error) {
	var sealed bytes.Buffer
	if err := store.Get(ctx, key, &sealed); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}

	var plain bytes.Buffer
	if err := dc.Decrypt(&sealed, &plain); err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", key, err)
	}

	var out []scanner.HistoryEntry
	sc := bufio.NewScanner(&plain)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", key, line, err)
		}
		out = append(out, scanner.HistoryEntry{
			ID:         r.ID,
			Name:       r.Name,
			DetectedAt: r.DetectedAt,
			Location:   r.Location,
			Outcome:    scanner.Outcome(r.Outcome),
			Kind:       scanner.Kind(r.Kind),
			Payload:    scanner.RawPayload(r.Payload),
			Detail:     r.Detail,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return out, nil
}
