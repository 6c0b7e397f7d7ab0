package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// RetryPolicy is the exponential backoff applied before re-acquiring a
// camera that was reported unavailable.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy waits 500ms, doubling up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: 500 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}
}

// Delay returns the wait before retry attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Initial <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Options tunes a Machine.
type Options struct {
	Facing Facing
	// MaxSessionDuration returns a scan to Idle once exceeded. Zero means no
	// limit.
	MaxSessionDuration time.Duration
	Retry              RetryPolicy
	DeviceID           string
	// Checkins, when set, receives every event check-in result.
	Checkins CheckinStore
}

// Status is a point-in-time view of the machine.
type Status struct {
	State          State
	Session        uint64
	Since          time.Time
	Result         *ScanResult
	Err            error
	TorchAvailable bool
	TorchOn        bool
}

// Machine is the scanner state machine. It owns the camera session, the
// sampler, the torch controller, the result handler and the history ledger,
// and is the only component the UI talks to.
type Machine struct {
	session *CameraSession
	sampler *FrameSampler
	torch   *TorchController
	decoder Decoder
	handler *ScanResultHandler
	ledger  *HistoryLedger
	logger  Logger
	clock   Clock
	opts    Options

	mu            sync.Mutex
	state         State
	since         time.Time
	generation    uint64
	handle        *SessionHandle
	result        *ScanResult
	lastErr       error
	retryAttempt  int
	cancelAcquire context.CancelFunc
	// acquireDone is closed once the latest acquire has settled, including
	// the release of a handle granted after it was superseded.
	acquireDone   chan struct{}
	stopDeadline  chan struct{}
	changed       chan struct{}
}

// NewMachine wires a Machine in the Idle state.
func NewMachine(
	session *CameraSession,
	sampler *FrameSampler,
	decoder Decoder,
	handler *ScanResultHandler,
	ledger *HistoryLedger,
	logger Logger,
	clock Clock,
	opts Options,
) *Machine {
	if opts.Facing == FacingAny {
		opts.Facing = FacingRear
	}
	return &Machine{
		session: session,
		sampler: sampler,
		torch:   NewTorchController(logger),
		decoder: decoder,
		handler: handler,
		ledger:  ledger,
		logger:  logger,
		clock:   clock,
		opts:    opts,
		state:   Idle,
		since:   clock.Now(),
		changed: make(chan struct{}),
	}
}

// Start begins a scan session from Idle. It blocks until the camera has been
// granted or refused; the sampling itself runs in the background.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	to, err := m.next(eventStart)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.result = nil
	m.lastErr = nil
	m.retryAttempt = 0
	m.setState(to)
	return m.acquire(ctx, 0)
}

// Retry re-acquires the camera from Error. After a DeviceUnavailable error
// it first waits according to the retry policy.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	to, err := m.next(eventRetry)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	var delay time.Duration
	if errors.Is(m.lastErr, ErrDeviceUnavailable) {
		m.retryAttempt++
		delay = m.opts.Retry.Delay(m.retryAttempt)
	}
	m.lastErr = nil
	m.setState(to)
	return m.acquire(ctx, delay)
}

// Cancel stops a pending acquire or a running scan and returns to Idle. From
// Error it clears the error.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	to, err := m.next(eventCancel)
	if err != nil {
		return err
	}

	var releaseErr error
	switch from {
	case Acquiring:
		m.generation++
		if m.cancelAcquire != nil {
			m.cancelAcquire()
			m.cancelAcquire = nil
		}
	case Scanning:
		m.generation++
		releaseErr = m.releaseLocked()
	case Error:
		m.lastErr = nil
	}
	m.setState(to)
	m.logger.Info("scan cancelled", "from", from.String())

	if releaseErr != nil {
		return fmt.Errorf("releasing camera: %w", releaseErr)
	}
	return nil
}

// Dismiss clears the displayed result and returns to Idle.
func (m *Machine) Dismiss() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, err := m.next(eventDismiss)
	if err != nil {
		return err
	}
	m.result = nil
	m.setState(to)
	return nil
}

// ToggleTorch flips the torch while scanning. A *TorchError never ends the
// scan.
func (m *Machine) ToggleTorch() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Scanning {
		return false, fmt.Errorf("toggle torch while %s: %w", m.state, ErrInvalidTransition)
	}
	on, err := m.torch.Toggle(m.handle)
	m.notifyLocked()
	return on, err
}

// Teardown forces cleanup from any state: it stops the sampler, releases the
// camera, drops the result and returns to Idle. Call it when the scanner
// surface goes away.
func (m *Machine) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	if m.cancelAcquire != nil {
		m.cancelAcquire()
		m.cancelAcquire = nil
	}
	err := m.releaseLocked()
	m.result = nil
	m.lastErr = nil
	m.retryAttempt = 0
	if m.state != Idle {
		m.setState(Idle)
	}
	m.logger.Info("scanner torn down")

	if err != nil {
		return fmt.Errorf("releasing camera: %w", err)
	}
	return nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Result returns the displayed result, if any.
func (m *Machine) Result() (ScanResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return ScanResult{}, false
	}
	return *m.result, true
}

// RunAction runs a post-scan action on the displayed result.
func (m *Machine) RunAction(ctx context.Context, action Action) ActionReport {
	r, ok := m.Result()
	if !ok {
		return ActionReport{Action: action, Err: fmt.Errorf("no result to %s: %w", action, ErrInvalidTransition)}
	}
	return m.handler.Run(ctx, action, r)
}

// History returns the ledger of completed scans.
func (m *Machine) History() *HistoryLedger { return m.ledger }

// Changes returns a channel that is closed on the next state or torch change,
// or when a scan finishing after a cancel reaches the history.
func (m *Machine) Changes() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// Wait blocks until the machine is neither acquiring nor scanning.
func (m *Machine) Wait(ctx context.Context) (Status, error) {
	for {
		m.mu.Lock()
		st := m.statusLocked()
		ch := m.changed
		m.mu.Unlock()

		if st.State != Acquiring && st.State != Scanning {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// acquire is entered with m.mu held and releases it.
func (m *Machine) acquire(ctx context.Context, delay time.Duration) error {
	m.generation++
	gen := m.generation
	actx, cancel := context.WithCancel(ctx)
	m.cancelAcquire = cancel
	prev := m.acquireDone
	done := make(chan struct{})
	m.acquireDone = done
	m.mu.Unlock()
	defer close(done)
	defer cancel()

	// A cancelled acquire may still be waiting on the platform. The session
	// refuses a second request until it returns.
	if prev != nil {
		select {
		case <-prev:
		case <-actx.Done():
		}
	}

	if delay > 0 {
		m.logger.Info("waiting before camera retry", "delay", delay)
		select {
		case <-m.clock.After(delay):
		case <-actx.Done():
		}
	}

	var handle *SessionHandle
	var err error
	if cerr := actx.Err(); cerr != nil {
		err = classifyAcquireError(cerr)
	} else {
		handle, err = m.session.Acquire(actx, m.opts.Facing)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.state != Acquiring {
		if handle != nil {
			_ = handle.Release()
		}
		return ErrCancelled
	}
	m.cancelAcquire = nil

	if err != nil {
		m.fail(eventAcquireFailed, err)
		return m.lastErr
	}

	if err := m.sampler.Start(handle, m.onFrame(gen), m.onStreamError(gen)); err != nil {
		if rerr := handle.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		m.fail(eventAcquireFailed, err)
		return m.lastErr
	}

	m.handle = handle
	m.retryAttempt = 0
	to, _ := m.next(eventAcquired)
	m.setState(to)

	if d := m.opts.MaxSessionDuration; d > 0 {
		stop := make(chan struct{})
		m.stopDeadline = stop
		go m.watchDeadline(gen, d, stop)
	}
	return nil
}

func (m *Machine) onFrame(gen uint64) FrameFunc {
	return func(ctx context.Context, f Frame) {
		payload, ok, err := m.decoder.Decode(ctx, f)
		if err != nil {
			m.logger.Debug("no decode this tick", "seq", f.Seq, "error", err)
			return
		}
		if !ok {
			return
		}
		m.complete(gen, payload, f.CapturedAt)
	}
}

func (m *Machine) onStreamError(gen uint64) ErrorFunc {
	return func(err error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if gen != m.generation || m.state != Scanning {
			return
		}
		m.generation++
		if rerr := m.releaseLocked(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		m.fail(eventStreamFailed, err)
	}
}

// complete turns a positive decode into a result, a check-in and a history
// entry. Decodes from a stale session are dropped. The camera is released
// under the lock; resolving and the durable writes run outside it so slow
// storage never blocks Status or Cancel.
func (m *Machine) complete(gen uint64, payload RawPayload, detectedAt time.Time) {
	m.mu.Lock()
	if gen != m.generation || m.state != Scanning {
		m.mu.Unlock()
		m.logger.Debug("discarding late decode", "session", gen)
		return
	}
	if strings.TrimSpace(string(payload)) == "" {
		m.mu.Unlock()
		m.logger.Debug("ignoring empty payload")
		return
	}

	m.generation++
	decoded := m.generation
	if err := m.releaseLocked(); err != nil {
		m.logger.Error("releasing camera after decode", "error", err)
	}
	m.mu.Unlock()

	result, outcome := m.record(payload, detectedAt)

	m.mu.Lock()
	defer m.mu.Unlock()

	if decoded != m.generation || m.state != Scanning {
		m.logger.Info("scan recorded after cancel; result not shown", "kind", string(result.Kind))
		m.notifyLocked()
		return
	}
	m.result = &result
	to, _ := m.next(eventDecoded)
	m.setState(to)
	m.logger.Info("scan completed",
		"kind", string(result.Kind),
		"outcome", string(outcome),
		"duplicate", result.Duplicate,
	)
}

// record resolves a decoded payload, records the check-in it carries and
// appends the history entry.
func (m *Machine) record(payload RawPayload, detectedAt time.Time) (ScanResult, Outcome) {
	ctx := context.Background()
	outcome, detail := OutcomeSuccess, ""

	result, err := m.handler.Resolve(ctx, payload, detectedAt)
	if err != nil {
		outcome, detail = OutcomeFailure, err.Error()
		m.logger.Warn("payload resolution failed", "error", err)
	} else if result.Kind == KindEventCheckin && m.opts.Checkins != nil {
		_, dup, err := m.opts.Checkins.RecordCheckin(ctx, Checkin{
			ID:          result.ID,
			EventID:     result.EventID,
			Token:       result.Token,
			Payload:     result.Payload,
			DeviceID:    m.opts.DeviceID,
			CheckedInAt: result.DetectedAt,
		})
		switch {
		case err != nil:
			outcome, detail = OutcomeFailure, fmt.Sprintf("recording check-in: %v", err)
			m.logger.Error("recording check-in", "event", result.EventID, "error", err)
		case dup:
			result.Duplicate = true
			detail = "already checked in"
		}
	}

	if err := m.ledger.Append(ctx, NewHistoryEntry(result, outcome, detail)); err != nil {
		m.logger.Error("recording scan history", "error", err)
	}
	return result, outcome
}

func (m *Machine) watchDeadline(gen uint64, d time.Duration, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-m.clock.After(d):
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.state != Scanning {
		return
	}
	m.logger.Info("scan session exceeded max duration", "max", d)
	m.generation++
	if err := m.releaseLocked(); err != nil {
		m.logger.Error("releasing camera after timeout", "error", err)
	}
	to, _ := m.next(eventCancel)
	m.setState(to)
}

// fail records err and moves to Error. Anything but a session collision is
// surfaced as a *CameraError.
func (m *Machine) fail(ev event, err error) {
	var ce *CameraError
	if !errors.As(err, &ce) && !errors.Is(err, ErrSessionActive) {
		err = classifyAcquireError(err)
	}
	m.lastErr = err
	to, _ := m.next(ev)
	m.setState(to)
	m.logger.Error("scanner failed", "event", string(ev), "error", err)
}

// releaseLocked stops the sampler and releases the camera. The handle is
// cleared even if release fails.
func (m *Machine) releaseLocked() error {
	m.sampler.Stop()
	if m.stopDeadline != nil {
		close(m.stopDeadline)
		m.stopDeadline = nil
	}
	if m.handle == nil {
		return nil
	}
	h := m.handle
	m.handle = nil
	return h.Release()
}

func (m *Machine) next(ev event) (State, error) {
	to, ok := nextState(m.state, ev)
	if !ok {
		return m.state, fmt.Errorf("%s while %s: %w", ev, m.state, ErrInvalidTransition)
	}
	return to, nil
}

func (m *Machine) setState(to State) {
	from := m.state
	m.state = to
	m.since = m.clock.Now()
	m.notifyLocked()
	m.logger.Debug("scanner state changed", "from", from.String(), "to", to.String())
}

func (m *Machine) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Machine) statusLocked() Status {
	st := Status{
		State:   m.state,
		Session: m.generation,
		Since:   m.since,
		Err:     m.lastErr,
	}
	if m.result != nil {
		r := *m.result
		st.Result = &r
	}
	if m.handle != nil {
		st.TorchAvailable = m.torch.IsAvailable(m.handle)
		st.TorchOn = m.handle.TorchOn()
	}
	return st
}
