package scanner

import (
	"context"
	"time"
)

// Kind classifies a resolved payload.
type Kind string

const (
	KindEventCheckin     Kind = "event-checkin"
	KindResourceLink     Kind = "resource-link"
	KindEmergencyContact Kind = "emergency-contact"
	KindText             Kind = "text"
	KindUnknown          Kind = "unknown"
)

// Resolution is the metadata a Resolver derives from a payload.
type Resolution struct {
	Kind        Kind
	Title       string
	Description string
	Location    string
	Date        string
	Target      string
	EventID     string
	Token       string
}

// Resolver classifies raw payloads. The core treats the classification as
// opaque metadata.
type Resolver interface {
	Resolve(ctx context.Context, payload RawPayload) (Resolution, error)
}

// ScanResult is the structured record of one successful decode. It is a
// value type and is never modified after the scan completes.
type ScanResult struct {
	ID          string
	Payload     RawPayload
	Kind        Kind
	Title       string
	Description string
	Location    string
	Date        string
	Target      string
	EventID     string
	Token       string
	DetectedAt  time.Time
	// Duplicate is set when the check-in had already been recorded.
	Duplicate   bool
}

// DisplayName returns the title, falling back to a shortened payload.
func (r ScanResult) DisplayName() string {
	if r.Title != "" {
		return r.Title
	}
	const max = 48
	p := []rune(string(r.Payload))
	if len(p) > max {
		return string(p[:max-1]) + "…"
	}
	return string(p)
}

// Checkin is the durable record produced from an event check-in result.
type Checkin struct {
	ID          string
	EventID     string
	Token       string
	Payload     RawPayload
	DeviceID    string
	CheckedInAt time.Time
}

// CheckinStore records check-ins. duplicate is true when the same event
// ticket had already been recorded; the stored record is returned either way.
type CheckinStore interface {
	RecordCheckin(ctx context.Context, c Checkin) (stored Checkin, duplicate bool, err error)
}
