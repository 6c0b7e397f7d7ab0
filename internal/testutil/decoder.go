package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"checkin-go/internal/scanner"
)

// DecodeStep is one scripted Decode outcome.
type DecodeStep struct {
	Payload scanner.RawPayload
	Matched bool
	Err     error
}

// Match scripts a successful decode of payload.
func Match(payload string) DecodeStep {
	return DecodeStep{Payload: scanner.RawPayload(payload), Matched: true}
}

// NoMatch scripts a frame with no code in it.
func NoMatch() DecodeStep { return DecodeStep{} }

// FakeDecoder replays scripted outcomes, then repeats the fallback. It
// tracks how many decodes ran at the same time.
type FakeDecoder struct {
	mu       sync.Mutex
	script   []DecodeStep
	fallback DecodeStep
	calls    int
	gate     chan struct{}
	entered  chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

var _ scanner.Decoder = (*FakeDecoder)(nil)

// NewFakeDecoder creates a decoder that plays steps in order and reports no
// match afterwards.
func NewFakeDecoder(steps ...DecodeStep) *FakeDecoder {
	return &FakeDecoder{script: steps, entered: make(chan struct{}, 64)}
}

// Always sets the outcome used once the script runs out.
func (d *FakeDecoder) Always(step DecodeStep) *FakeDecoder {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = step
	return d
}

// Hold makes Decode block until the returned function is called, like a
// slow decode would.
func (d *FakeDecoder) Hold() (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Entered receives once per Decode call, as soon as the call starts.
func (d *FakeDecoder) Entered() <-chan struct{} { return d.entered }

func (d *FakeDecoder) Decode(ctx context.Context, f scanner.Frame) (scanner.RawPayload, bool, error) {
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		m := d.maxActive.Load()
		if n <= m || d.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	d.mu.Lock()
	d.calls++
	gate := d.gate
	step := d.fallback
	if len(d.script) > 0 {
		step = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()

	select {
	case d.entered <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return step.Payload, step.Matched, step.Err
}

// Calls returns the number of Decode calls.
func (d *FakeDecoder) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// MaxConcurrent returns the highest number of overlapping Decode calls.
func (d *FakeDecoder) MaxConcurrent() int { return int(d.maxActive.Load()) }
