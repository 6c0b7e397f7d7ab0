package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Sampling interval bounds.
const (
	DefaultSampleInterval = 500 * time.Millisecond
	MinSampleInterval     = 200 * time.Millisecond
	MaxSampleInterval     = 750 * time.Millisecond
)

// ClampInterval returns d bounded to [MinSampleInterval, MaxSampleInterval].
// A non-positive d selects DefaultSampleInterval.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultSampleInterval
	case d < MinSampleInterval:
		return MinSampleInterval
	case d > MaxSampleInterval:
		return MaxSampleInterval
	}
	return d
}

// FrameFunc receives one sampled frame. It runs on the sampler goroutine and
// the next tick is not serviced until it returns.
type FrameFunc func(ctx context.Context, f Frame)

// ErrorFunc receives the error that ended the sampling loop.
type ErrorFunc func(err error)

// FrameSampler polls a session's stream at a fixed interval and hands
// frames to a FrameFunc one at a time.
type FrameSampler struct {
	interval time.Duration
	clock    Clock
	logger   Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inFlight atomic.Bool
	seq      atomic.Uint64
}

// NewFrameSampler creates a sampler. The interval is clamped with
// ClampInterval.
func NewFrameSampler(interval time.Duration, clock Clock, logger Logger) *FrameSampler {
	done := make(chan struct{})
	close(done)
	return &FrameSampler{
		interval: ClampInterval(interval),
		clock:    clock,
		logger:   logger,
		done:     done,
	}
}

// Interval returns the effective sampling interval.
func (s *FrameSampler) Interval() time.Duration { return s.interval }

// Start begins sampling the handle's stream. onError is called at most once,
// when the stream terminates; it is not called after Stop.
func (s *FrameSampler) Start(h *SessionHandle, onFrame FrameFunc, onError ErrorFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSamplerRunning
	}

	stream := h.Stream()
	if stream == nil {
		return &CameraError{Kind: ErrStreamUnrecoverable, Err: errors.New("session not active")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	ticker := s.clock.NewTicker(s.interval)
	go s.run(ctx, ticker, stream, onFrame, onError, done)

	s.logger.Debug("sampler started", "interval", s.interval)
	return nil
}

// Stop cancels the sampling loop. It does not wait for an in-flight frame,
// so it is safe to call from inside a FrameFunc. Stop is idempotent.
func (s *FrameSampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.logger.Debug("sampler stopped")
}

// Running reports whether a loop is active.
func (s *FrameSampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Done returns a channel closed when the most recent loop has exited.
func (s *FrameSampler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *FrameSampler) run(ctx context.Context, ticker Ticker, stream Stream, onFrame FrameFunc, onError ErrorFunc, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	defer s.finished(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Done():
			if ctx.Err() == nil {
				onError(&CameraError{Kind: ErrStreamUnrecoverable, Err: ErrStreamEnded})
			}
			return
		case <-ticker.C():
			if err := s.tick(ctx, stream, onFrame); err != nil {
				if ctx.Err() == nil {
					onError(err)
				}
				return
			}
		}
	}
}

// tick renders and delivers at most one frame. Not-ready streams and
// transient render failures skip the tick.
func (s *FrameSampler) tick(ctx context.Context, stream Stream, onFrame FrameFunc) error {
	if ctx.Err() != nil {
		return nil
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("skipping tick, frame in flight")
		return nil
	}
	defer s.inFlight.Store(false)

	if !stream.Ready() {
		s.logger.Debug("stream not ready, skipping tick")
		return nil
	}

	img, err := stream.Frame()
	if err != nil {
		if errors.Is(err, ErrStreamEnded) {
			return &CameraError{Kind: ErrStreamUnrecoverable, Err: err}
		}
		s.logger.Debug("frame render failed, skipping tick", "error", err)
		return nil
	}

	onFrame(ctx, Frame{
		Seq:        s.seq.Add(1),
		CapturedAt: s.clock.Now(),
		Image:      img,
	})
	return nil
}

// finished clears the running state when the loop exits on its own.
func (s *FrameSampler) finished(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
