// Package actions provides the platform capabilities behind the post-scan
// actions: open a target, copy to the clipboard, share.
package actions

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/atotto/clipboard"

	"checkin-go/internal/scanner"
)

// SystemOpener hands targets to the OS default handler.
type SystemOpener struct {
	goos string
}

var _ scanner.Opener = (*SystemOpener)(nil)

func NewSystemOpener() *SystemOpener { return &SystemOpener{goos: runtime.GOOS} }

func (o *SystemOpener) Open(ctx context.Context, target string) error {
	name, args := openCommand(o.goos, target)
	if err := exec.CommandContext(ctx, name, args...).Run(); err != nil {
		return fmt.Errorf("opening %s with %s: %w", target, name, err)
	}
	return nil
}

func openCommand(goos, target string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		return "xdg-open", []string{target}
	}
}

// SystemClipboard writes to the desktop clipboard.
type SystemClipboard struct{}

var _ scanner.Clipboard = (*SystemClipboard)(nil)

func NewSystemClipboard() *SystemClipboard { return &SystemClipboard{} }

func (SystemClipboard) Copy(_ context.Context, text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("copying to clipboard: %w", scanner.ErrActionUnavailable)
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("copying to clipboard: %w", err)
	}
	return nil
}

// WriterSharer prints a share card to w. The CLI shares to stdout.
type WriterSharer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ scanner.Sharer = (*WriterSharer)(nil)

func NewWriterSharer(w io.Writer) *WriterSharer { return &WriterSharer{w: w} }

func (s *WriterSharer) Share(_ context.Context, card scanner.ShareCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, FormatCard(card)); err != nil {
		return fmt.Errorf("writing share card: %w", err)
	}
	return nil
}

// FormatCard renders a share card as plain text.
func FormatCard(card scanner.ShareCard) string {
	var b strings.Builder
	b.WriteString(card.Title)
	b.WriteByte('\n')
	if card.Description != "" {
		b.WriteString(card.Description)
		b.WriteByte('\n')
	}
	if card.Target != "" {
		b.WriteString(card.Target)
		b.WriteByte('\n')
	}
	return b.String()
}

// RecordingSharer keeps shared cards in memory so the kiosk API can hand
// the last one to the attached display.
type RecordingSharer struct {
	mu    sync.Mutex
	cards []scanner.ShareCard
}

var _ scanner.Sharer = (*RecordingSharer)(nil)

func NewRecordingSharer() *RecordingSharer { return &RecordingSharer{} }

func (s *RecordingSharer) Share(_ context.Context, card scanner.ShareCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, card)
	return nil
}

// Last returns the most recently shared card.
func (s *RecordingSharer) Last() (scanner.ShareCard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cards) == 0 {
		return scanner.ShareCard{}, false
	}
	return s.cards[len(s.cards)-1], true
}
