package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Opener hands a target to the platform's default handler.
type Opener interface {
	Open(ctx context.Context, target string) error
}

// Clipboard copies text to the system clipboard.
type Clipboard interface {
	Copy(ctx context.Context, text string) error
}

// Sharer invokes the platform share capability.
type Sharer interface {
	Share(ctx context.Context, card ShareCard) error
}

// ShareCard is the content handed to a Sharer.
type ShareCard struct {
	Title       string
	Description string
	Target      string
}

// Action names a post-scan action.
type Action string

const (
	ActionOpen  Action = "open"
	ActionCopy  Action = "copy"
	ActionShare Action = "share"
)

// ActionReport is the outcome of a post-scan action.
type ActionReport struct {
	Action Action
	OK     bool
	Err    error
}

// ScanResultHandler validates decoded payloads, materializes ScanResults and
// runs the post-scan actions. Actions never panic past the handler.
type ScanResultHandler struct {
	resolver  Resolver
	ids       IDGenerator
	logger    Logger
	opener    Opener
	clipboard Clipboard
	sharer    Sharer
}

// HandlerOption configures optional platform capabilities.
type HandlerOption func(*ScanResultHandler)

func WithOpener(o Opener) HandlerOption       { return func(h *ScanResultHandler) { h.opener = o } }
func WithClipboard(c Clipboard) HandlerOption { return func(h *ScanResultHandler) { h.clipboard = c } }
func WithSharer(s Sharer) HandlerOption       { return func(h *ScanResultHandler) { h.sharer = s } }

// NewScanResultHandler creates a handler. A nil resolver classifies every
// payload as text.
func NewScanResultHandler(resolver Resolver, ids IDGenerator, logger Logger, opts ...HandlerOption) *ScanResultHandler {
	h := &ScanResultHandler{resolver: resolver, ids: ids, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Resolve builds the ScanResult for a payload. On a resolver failure the
// returned result carries KindUnknown alongside the error, so callers can
// still record the attempt.
func (h *ScanResultHandler) Resolve(ctx context.Context, payload RawPayload, detectedAt time.Time) (ScanResult, error) {
	if strings.TrimSpace(string(payload)) == "" {
		return ScanResult{}, ErrEmptyPayload
	}

	result := ScanResult{
		ID:         h.ids.New(),
		Payload:    payload,
		Kind:       KindText,
		DetectedAt: detectedAt,
	}
	if h.resolver == nil {
		return result, nil
	}

	res, err := h.resolver.Resolve(ctx, payload)
	if err != nil {
		result.Kind = KindUnknown
		return result, fmt.Errorf("resolving payload: %w", err)
	}

	result.Kind = res.Kind
	result.Title = res.Title
	result.Description = res.Description
	result.Location = res.Location
	result.Date = res.Date
	result.Target = res.Target
	result.EventID = res.EventID
	result.Token = res.Token
	return result, nil
}

// Open hands the result's target to the platform opener.
func (h *ScanResultHandler) Open(ctx context.Context, r ScanResult) ActionReport {
	return h.run(ActionOpen, func() error {
		if h.opener == nil {
			return ErrActionUnavailable
		}
		if r.Target == "" {
			return ErrNoTarget
		}
		return h.opener.Open(ctx, r.Target)
	})
}

// Copy places the raw payload on the clipboard.
func (h *ScanResultHandler) Copy(ctx context.Context, r ScanResult) ActionReport {
	return h.run(ActionCopy, func() error {
		if h.clipboard == nil {
			return ErrActionUnavailable
		}
		return h.clipboard.Copy(ctx, string(r.Payload))
	})
}

// Share invokes the share capability with the result's title, description
// and target.
func (h *ScanResultHandler) Share(ctx context.Context, r ScanResult) ActionReport {
	return h.run(ActionShare, func() error {
		if h.sharer == nil {
			return ErrActionUnavailable
		}
		target := r.Target
		if target == "" {
			target = string(r.Payload)
		}
		return h.sharer.Share(ctx, ShareCard{
			Title:       r.DisplayName(),
			Description: r.Description,
			Target:      target,
		})
	})
}

// Run dispatches an action by name.
func (h *ScanResultHandler) Run(ctx context.Context, action Action, r ScanResult) ActionReport {
	switch action {
	case ActionOpen:
		return h.Open(ctx, r)
	case ActionCopy:
		return h.Copy(ctx, r)
	case ActionShare:
		return h.Share(ctx, r)
	default:
		return ActionReport{Action: action, Err: fmt.Errorf("unknown action %q: %w", action, ErrActionUnavailable)}
	}
}

func (h *ScanResultHandler) run(action Action, fn func() error) (report ActionReport) {
	report.Action = action
	defer func() {
		if p := recover(); p != nil {
			report.OK = false
			report.Err = fmt.Errorf("%s action panicked: %v", action, p)
			h.logger.Error("post-scan action panicked", "action", string(action), "panic", p)
		}
	}()

	if err := fn(); err != nil {
		report.Err = err
		h.logger.Warn("post-scan action failed", "action", string(action), "error", err)
		return report
	}
	report.OK = true
	return report
}
