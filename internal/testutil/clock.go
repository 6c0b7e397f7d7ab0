package testutil

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"checkin-go/internal/scanner"
)

// StubClock is a manual clock. Now only moves on Advance, tickers only fire
// on ManualTicker.Tick, and After timers fire when Advance passes their
// deadline. Safe for concurrent use.
type StubClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*stubTimer
	tickers []*ManualTicker
}

type stubTimer struct {
	at time.Time
	ch chan time.Time
}

var _ scanner.Clock = (*StubClock)(nil)

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and fires every timer that is due.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*stubTimer
	pending := c.timers[:0]
	for _, tm := range c.timers {
		if !tm.at.After(now) {
			due = append(due, tm)
		} else {
			pending = append(pending, tm)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, tm := range due {
		tm.ch <- now
	}
}

func (c *StubClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, &stubTimer{at: c.now.Add(d), ch: ch})
	return ch
}

// PendingTimers returns how many After timers have not fired.
func (c *StubClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// NextTimer returns the delay until the earliest pending timer.
func (c *StubClock) NextTimer() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return 0, false
	}
	next := c.timers[0].at
	for _, tm := range c.timers[1:] {
		if tm.at.Before(next) {
			next = tm.at
		}
	}
	return next.Sub(c.now), true
}

func (c *StubClock) NewTicker(d time.Duration) scanner.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &ManualTicker{
		clock:    c,
		interval: d,
		c:        make(chan time.Time),
		stop:     make(chan struct{}),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers returns the number of tickers created so far.
func (c *StubClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Ticker returns the most recently created ticker, or nil.
func (c *StubClock) Ticker() *ManualTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

// ManualTicker delivers a tick only when Tick is called.
type ManualTicker struct {
	clock    *StubClock
	interval time.Duration
	c        chan time.Time

	once    sync.Once
	stop    chan struct{}
	stopped bool
	mu      sync.Mutex
}

func (t *ManualTicker) C() <-chan time.Time { return t.c }

func (t *ManualTicker) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		close(t.stop)
	})
}

// Interval returns the period the ticker was created with.
func (t *ManualTicker) Interval() time.Duration { return t.interval }

// Stopped reports whether Stop has been called.
func (t *ManualTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Tick advances the clock by one interval and hands a tick to the reader.
// It returns false if the ticker was stopped or nobody read the tick within
// a second.
func (t *ManualTicker) Tick() bool {
	t.clock.Advance(t.interval)
	select {
	case t.c <- t.clock.Now():
		return true
	case <-t.stop:
		return false
	case <-time.After(time.Second):
		return false
	}
}

// StubIDGenerator returns sequential IDs: "id-1", "id-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}
