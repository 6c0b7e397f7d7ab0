package camera

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sync"

	"checkin-go/internal/scanner"
)

// MemoryOptions scripts a MemoryCamera.
type MemoryOptions struct {
	TorchCapable bool
	// WarmupTicks is the number of Ready calls that report false.
	WarmupTicks int
	// Payload is annotated onto every frame after PayloadAfter frames.
	Payload      string
	PayloadAfter int
	// Facings lists supported facings; empty accepts any.
	Facings []scanner.Facing
	// MaxWidth and MaxHeight reject larger resolution requests when set.
	MaxWidth  int
	MaxHeight int
	// IgnoreCancel keeps a held request blocked until Hold is released even
	// after its context ends, like a permission prompt that cannot be
	// dismissed.
	IgnoreCancel bool
}

// MemoryCamera is an in-memory camera with scripted behaviour. It counts
// acquisitions and releases, making it useful for testing and dry runs.
// This implementation is safe for concurrent use.
type MemoryCamera struct {
	opts MemoryOptions

	mu       sync.Mutex
	failures []error
	requests []scanner.Constraints
	streams  []*MemoryStream
	gate     chan struct{}
	waiting  int
}

var _ scanner.Camera = (*MemoryCamera)(nil)

// NewMemoryCamera creates a scripted camera.
func NewMemoryCamera(opts MemoryOptions) *MemoryCamera {
	return &MemoryCamera{opts: opts}
}

// FailNext queues errors returned by the next RequestStream calls, in order.
// A nil entry lets that call succeed.
func (c *MemoryCamera) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

// Hold makes RequestStream block, as a permission prompt would, until the
// returned function is called or the request's context ends.
func (c *MemoryCamera) Hold() (release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate := make(chan struct{})
	c.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.gate == gate {
				c.gate = nil
			}
			c.mu.Unlock()
			close(gate)
		})
	}
}

// Waiting returns the number of requests blocked by Hold.
func (c *MemoryCamera) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

// RequestStream opens a new scripted stream.
func (c *MemoryCamera) RequestStream(ctx context.Context, cons scanner.Constraints) (scanner.Stream, error) {
	c.mu.Lock()
	gate := c.gate
	if gate != nil {
		c.waiting++
	}
	c.mu.Unlock()

	held := gate != nil
	if held {
		if c.opts.IgnoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
			}
		}
		c.mu.Lock()
		c.waiting--
		c.mu.Unlock()
	}
	if err := ctx.Err(); err != nil && !(held && c.opts.IgnoreCancel) {
		return nil, fmt.Errorf("camera request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, cons)
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		if err != nil {
			return nil, err
		}
	}

	if cons.Facing != scanner.FacingAny && len(c.opts.Facings) > 0 && !slices.Contains(c.opts.Facings, cons.Facing) {
		return nil, fmt.Errorf("facing %q: %w", cons.Facing, scanner.ErrConstraintsUnsatisfiable)
	}
	if (c.opts.MaxWidth > 0 && cons.Width > c.opts.MaxWidth) || (c.opts.MaxHeight > 0 && cons.Height > c.opts.MaxHeight) {
		return nil, fmt.Errorf("resolution %dx%d: %w", cons.Width, cons.Height, scanner.ErrConstraintsUnsatisfiable)
	}

	s := &MemoryStream{
		warmup:       c.opts.WarmupTicks,
		payload:      c.opts.Payload,
		payloadAfter: c.opts.PayloadAfter,
		track:        newSimulatedTrack(c.opts.TorchCapable),
		done:         make(chan struct{}),
	}
	c.streams = append(c.streams, s)
	return s, nil
}

// Requests returns the constraints of every RequestStream call.
func (c *MemoryCamera) Requests() []scanner.Constraints {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.requests)
}

// Acquired returns the number of streams handed out.
func (c *MemoryCamera) Acquired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// Released returns the number of streams whose track has been stopped.
func (c *MemoryCamera) Released() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.streams {
		if s.track.Stopped() {
			n++
		}
	}
	return n
}

// TorchOn reports whether any stream's torch is lit.
func (c *MemoryCamera) TorchOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.streams {
		if s.track.TorchOn() {
			return true
		}
	}
	return false
}

// LastStream returns the most recent stream, or nil.
func (c *MemoryCamera) LastStream() *MemoryStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

// MemoryStream is the stream handed out by MemoryCamera.
type MemoryStream struct {
	mu           sync.Mutex
	warmup       int
	readyCalls   int
	frames       int
	payload      string
	payloadAfter int
	ended        bool
	track        *SimulatedTrack
	done         chan struct{}
}

var _ scanner.Stream = (*MemoryStream)(nil)

func (s *MemoryStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCalls++
	if s.ended || s.track.Stopped() {
		return false
	}
	return s.readyCalls > s.warmup
}

func (s *MemoryStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.track.Stopped() {
		return nil, scanner.ErrStreamEnded
	}
	s.frames++
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	if s.payload != "" && s.frames > s.payloadAfter {
		return NewAnnotatedFrame(img, s.payload), nil
	}
	return img, nil
}

func (s *MemoryStream) Tracks() []scanner.Track { return []scanner.Track{s.track} }

func (s *MemoryStream) Done() <-chan struct{} { return s.done }

// Disconnect simulates the device going away mid-stream.
func (s *MemoryStream) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.done)
	}
}

// Track returns the stream's only track.
func (s *MemoryStream) Track() *SimulatedTrack { return s.track }

// ReadyCalls returns how many times Ready was polled.
func (s *MemoryStream) ReadyCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyCalls
}

// Frames returns how many frames were rendered.
func (s *MemoryStream) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
