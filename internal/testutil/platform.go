package testutil

import (
	"context"
	"sync"

	"checkin-go/internal/scanner"
)

// FakePlatform records open, copy and share requests. Setting an error
// field makes that action fail; PanicOn makes it panic.
type FakePlatform struct {
	OpenErr  error
	CopyErr  error
	ShareErr error
	PanicOn  scanner.Action

	mu     sync.Mutex
	opened []string
	copied []string
	shared []scanner.ShareCard
}

var (
	_ scanner.Opener    = (*FakePlatform)(nil)
	_ scanner.Clipboard = (*FakePlatform)(nil)
	_ scanner.Sharer    = (*FakePlatform)(nil)
)

func (p *FakePlatform) Open(_ context.Context, target string) error {
	if p.PanicOn == scanner.ActionOpen {
		panic("open exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return p.OpenErr
	}
	p.opened = append(p.opened, target)
	return nil
}

func (p *FakePlatform) Copy(_ context.Context, text string) error {
	if p.PanicOn == scanner.ActionCopy {
		panic("copy exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CopyErr != nil {
		return p.CopyErr
	}
	p.copied = append(p.copied, text)
	return nil
}

func (p *FakePlatform) Share(_ context.Context, card scanner.ShareCard) error {
	if p.PanicOn == scanner.ActionShare {
		panic("share exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ShareErr != nil {
		return p.ShareErr
	}
	p.shared = append(p.shared, card)
	return nil
}

func (p *FakePlatform) Opened() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.opened...)
}

func (p *FakePlatform) Copied() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.copied...)
}

func (p *FakePlatform) Shared() []scanner.ShareCard {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scanner.ShareCard(nil), p.shared...)
}

// StubResolver resolves payloads from a fixed table. Unknown payloads are
// text; Err fails every call.
type StubResolver struct {
	Results map[scanner.RawPayload]scanner.Resolution
	Err     error
}

var _ scanner.Resolver = (*StubResolver)(nil)

func (r *StubResolver) Resolve(_ context.Context, payload scanner.RawPayload) (scanner.Resolution, error) {
	if r.Err != nil {
		return scanner.Resolution{}, r.Err
	}
	if res, ok := r.Results[payload]; ok {
		return res, nil
	}
	return scanner.Resolution{Kind: scanner.KindText}, nil
}
