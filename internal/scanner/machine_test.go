package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkin-go/internal/camera"
	"checkin-go/internal/database"
	"checkin-go/internal/scanner"
	"checkin-go/internal/testutil"
)

const ticketPayload = "ticket-1"

var ticketResolution = scanner.Resolution{
	Kind:     scanner.KindEventCheckin,
	Title:    "Summer Gala",
	Location: "Main Hall",
	Target:   "https://example.org/events/gala/checkin",
	EventID:  "gala",
	Token:    "t-1",
}

type machineFixture struct {
	cam      *camera.MemoryCamera
	clock    *testutil.StubClock
	decoder  *testutil.FakeDecoder
	resolver *testutil.StubResolver
	platform *testutil.FakePlatform
	db       *database.SQLiteDatabase
	ledger   *scanner.HistoryLedger
	m        *scanner.Machine
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	camera []func(*camera.MemoryOptions)
	steps  []testutil.DecodeStep
	opts   scanner.Options
}

func withCamera(fn func(*camera.MemoryOptions)) fixtureOption {
	return func(c *fixtureConfig) { c.camera = append(c.camera, fn) }
}

func withDecodes(steps ...testutil.DecodeStep) fixtureOption {
	return func(c *fixtureConfig) { c.steps = steps }
}

func withOptions(fn func(*scanner.Options)) fixtureOption {
	return func(c *fixtureConfig) { fn(&c.opts) }
}

func newMachineFixture(t *testing.T, opts ...fixtureOption) *machineFixture {
	t.Helper()

	cfg := fixtureConfig{opts: scanner.Options{Retry: scanner.DefaultRetryPolicy(), DeviceID: "kiosk-1"}}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &machineFixture{
		cam:      testutil.NewTestCamera(cfg.camera...),
		clock:    testutil.FixedClock(),
		decoder:  testutil.NewFakeDecoder(cfg.steps...),
		resolver: &testutil.StubResolver{Results: map[scanner.RawPayload]scanner.Resolution{ticketPayload: ticketResolution}},
		platform: &testutil.FakePlatform{},
		db:       testutil.NewTestDatabase(t),
	}
	if cfg.opts.Checkins == nil {
		cfg.opts.Checkins = f.db
	}

	logger := scanner.NewNopLogger()
	f.ledger = scanner.NewHistoryLedger(0, f.db)
	f.m = scanner.NewMachine(
		scanner.NewCameraSession(f.cam, logger),
		scanner.NewFrameSampler(0, f.clock, logger),
		f.decoder,
		scanner.NewScanResultHandler(f.resolver, testutil.NewStubIDGenerator(), logger,
			scanner.WithOpener(f.platform), scanner.WithClipboard(f.platform), scanner.WithSharer(f.platform)),
		f.ledger,
		logger,
		f.clock,
		cfg.opts,
	)
	t.Cleanup(func() { f.m.Teardown() })
	return f
}

func (f *machineFixture) start(t *testing.T) {
	t.Helper()
	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.m.State(); got != scanner.Scanning {
		t.Fatalf("State() after Start() = %s, want scanning", got)
	}
}

// tick delivers one sampling tick to the running sampler.
func (f *machineFixture) tick(t *testing.T) {
	t.Helper()
	if !f.clock.Ticker().Tick() {
		t.Fatal("tick was not consumed")
	}
}

func (f *machineFixture) wait(t *testing.T) scanner.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := f.m.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v (state %s)", err, st.State)
	}
	return st
}

func (f *machineFixture) assertReleased(t *testing.T) {
	t.Helper()
	if acquired, released := f.cam.Acquired(), f.cam.Released(); acquired != released {
		t.Errorf("camera acquired %d streams but released %d", acquired, released)
	}
	if f.cam.TorchOn() {
		t.Error("torch left on")
	}
}

func TestMachine_SuccessfulCheckin(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, withDecodes(testutil.NoMatch(), testutil.Match(ticketPayload)))

	f.start(t)
	if on, err := f.m.ToggleTorch(); err != nil || !on {
		t.Fatalf("ToggleTorch() = %v, %v", on, err)
	}
	f.tick(t)
	f.tick(t)

	st := f.wait(t)
	if st.State != scanner.ResultPending {
		t.Fatalf("state = %s, want result-pending", st.State)
	}
	f.assertReleased(t)

	r, ok := f.m.Result()
	if !ok {
		t.Fatal("Result() returned no result")
	}
	if r.Kind != scanner.KindEventCheckin || r.EventID != "gala" || r.Duplicate {
		t.Errorf("Result() = %+v", r)
	}
	if !r.DetectedAt.Equal(f.clock.Now()) {
		t.Errorf("DetectedAt = %v, want %v", r.DetectedAt, f.clock.Now())
	}

	var entries []scanner.HistoryEntry
	for e := range f.m.History().List() {
		entries = append(entries, e)
	}
	if len(entries) != 1 || entries[0].Outcome != scanner.OutcomeSuccess || entries[0].Name != "Summer Gala" {
		t.Errorf("history = %+v", entries)
	}

	checkins, err := f.db.ListCheckins(ctx, "gala")
	if err != nil {
		t.Fatalf("ListCheckins() error = %v", err)
	}
	if len(checkins) != 1 || checkins[0].DeviceID != "kiosk-1" || checkins[0].Token != "t-1" {
		t.Errorf("checkins = %+v", checkins)
	}
	stored, err := f.db.ListHistory(ctx, 0)
	if err != nil || len(stored) != 1 {
		t.Errorf("ListHistory() = %d entries, %v", len(stored), err)
	}

	if rep := f.m.RunAction(ctx, scanner.ActionOpen); !rep.OK {
		t.Errorf("RunAction(open) = %+v", rep)
	}
	if got := f.platform.Opened(); len(got) != 1 || got[0] != ticketResolution.Target {
		t.Errorf("opened %v", got)
	}

	if err := f.m.Dismiss(); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	if f.m.State() != scanner.Idle {
		t.Errorf("State() after Dismiss() = %s", f.m.State())
	}
	if _, ok := f.m.Result(); ok {
		t.Error("result still displayed after Dismiss()")
	}
}

func TestMachine_DuplicateCheckin(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, withDecodes(testutil.Match(ticketPayload), testutil.Match(ticketPayload)))

	for i := 0; i < 2; i++ {
		f.start(t)
		f.tick(t)
		if st := f.wait(t); st.State != scanner.ResultPending {
			t.Fatalf("scan %d ended in %s", i+1, st.State)
		}
		r, _ := f.m.Result()
		if r.Duplicate != (i == 1) {
			t.Errorf("scan %d Duplicate = %v", i+1, r.Duplicate)
		}
		f.m.Dismiss()
	}

	checkins, _ := f.db.ListCheckins(ctx, "gala")
	if len(checkins) != 1 {
		t.Errorf("stored %d check-ins, want 1", len(checkins))
	}
	var details []string
	for e := range f.m.History().List() {
		details = append(details, e.Detail)
	}
	if len(details) != 2 || details[0] != "already checked in" || details[1] != "" {
		t.Errorf("history details = %q", details)
	}
}

func TestMachine_ResolveFailure(t *testing.T) {
	f := newMachineFixture(t, withDecodes(testutil.Match("{not a ticket")))
	f.resolver.Err = errors.New("malformed ticket")

	f.start(t)
	f.tick(t)
	st := f.wait(t)

	if st.State != scanner.ResultPending || st.Result == nil || st.Result.Kind != scanner.KindUnknown {
		t.Fatalf("status = %+v, want unknown result pending", st)
	}
	var entries []scanner.HistoryEntry
	for e := range f.ledger.List() {
		entries = append(entries, e)
	}
	if len(entries) != 1 || entries[0].Outcome != scanner.OutcomeFailure {
		t.Errorf("history = %+v, want one failure", entries)
	}
}

func TestMachine_IgnoresBlankPayloads(t *testing.T) {
	f := newMachineFixture(t, withDecodes(testutil.Match("   "), testutil.Match(ticketPayload)))

	f.start(t)
	f.tick(t)
	f.tick(t)
	f.wait(t)

	if r, _ := f.m.Result(); r.Payload != ticketPayload {
		t.Errorf("Result().Payload = %q, want %q", r.Payload, ticketPayload)
	}
	if f.ledger.Len() != 1 {
		t.Errorf("ledger has %d entries, want 1", f.ledger.Len())
	}
}

func TestMachine_PermissionDenied(t *testing.T) {
	f := newMachineFixture(t)
	f.cam.FailNext(scanner.ErrPermissionDenied)

	err := f.m.Start(context.Background())
	if !errors.Is(err, scanner.ErrPermissionDenied) {
		t.Fatalf("Start() error = %v, want ErrPermissionDenied", err)
	}
	st := f.m.Status()
	if st.State != scanner.Error || !errors.Is(st.Err, scanner.ErrPermissionDenied) {
		t.Errorf("Status() = %+v", st)
	}
	if f.ledger.Len() != 0 {
		t.Error("camera failure recorded in history")
	}
	if n := len(f.cam.Requests()); n != 1 {
		t.Errorf("camera requested %d times, want 1", n)
	}
	if f.cam.Released() != 0 {
		t.Errorf("camera released %d streams, want 0", f.cam.Released())
	}

	// Permission errors retry without backoff.
	if err := f.m.Retry(context.Background()); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if f.m.State() != scanner.Scanning {
		t.Errorf("State() after Retry() = %s", f.m.State())
	}
	if f.clock.PendingTimers() != 0 {
		t.Error("retry after permission error waited on a timer")
	}
	if n := len(f.cam.Requests()); n != 2 {
		t.Errorf("camera requested %d times after Retry(), want 2", n)
	}
}

func TestMachine_RetryBackoff(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.cam.FailNext(scanner.ErrDeviceUnavailable, scanner.ErrDeviceUnavailable, scanner.ErrDeviceUnavailable)

	if err := f.m.Start(ctx); !errors.Is(err, scanner.ErrDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want ErrDeviceUnavailable", err)
	}

	for _, want := range []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second} {
		done := make(chan error, 1)
		go func() { done <- f.m.Retry(ctx) }()

		testutil.WaitFor(t, "backoff timer", func() bool { return f.clock.PendingTimers() == 1 })
		if got, _ := f.clock.NextTimer(); got != want {
			t.Errorf("backoff = %v, want %v", got, want)
		}
		if f.m.State() != scanner.Acquiring {
			t.Errorf("State() during backoff = %s, want acquiring", f.m.State())
		}
		f.clock.Advance(want)

		err := <-done
		if want < 2*time.Second {
			if !errors.Is(err, scanner.ErrDeviceUnavailable) {
				t.Fatalf("Retry() error = %v, want ErrDeviceUnavailable", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("final Retry() error = %v", err)
		}
	}
	if f.m.State() != scanner.Scanning {
		t.Errorf("State() = %s, want scanning", f.m.State())
	}
}

func TestMachine_CancelWhileAcquiring(t *testing.T) {
	f := newMachineFixture(t)
	release := f.cam.Hold()
	defer release()

	done := make(chan error, 1)
	go func() { done <- f.m.Start(context.Background()) }()
	testutil.WaitFor(t, "camera prompt", func() bool { return f.cam.Waiting() == 1 })

	if err := f.m.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := <-done; !errors.Is(err, scanner.ErrCancelled) {
		t.Errorf("Start() error = %v, want ErrCancelled", err)
	}
	if f.m.State() != scanner.Idle {
		t.Errorf("State() = %s, want idle", f.m.State())
	}
	f.assertReleased(t)
}

func TestMachine_StartAfterCancelledPrompt(t *testing.T) {
	// The platform prompt outlives the cancel and grants a stream late.
	f := newMachineFixture(t, withCamera(func(o *camera.MemoryOptions) { o.IgnoreCancel = true }))
	release := f.cam.Hold()
	defer release()

	first := make(chan error, 1)
	go func() { first <- f.m.Start(context.Background()) }()
	testutil.WaitFor(t, "camera prompt", func() bool { return f.cam.Waiting() == 1 })

	if err := f.m.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	second := make(chan error, 1)
	go func() { second <- f.m.Start(context.Background()) }()
	testutil.WaitFor(t, "second start", func() bool { return f.m.State() == scanner.Acquiring })

	release()
	if err := <-first; !errors.Is(err, scanner.ErrCancelled) {
		t.Errorf("first Start() error = %v, want ErrCancelled", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if st := f.m.Status(); st.State != scanner.Scanning || st.Err != nil {
		t.Fatalf("Status() = %+v, want scanning", st)
	}
	if acquired, released := f.cam.Acquired(), f.cam.Released(); acquired != released+1 {
		t.Errorf("camera acquired %d streams and released %d, want one held", acquired, released)
	}
	if n := len(f.cam.Requests()); n != 2 {
		t.Errorf("camera requested %d times, want 2", n)
	}
}

func TestMachine_CancelWhileScanning(t *testing.T) {
	f := newMachineFixture(t, withDecodes(testutil.Match(ticketPayload)))
	release := f.decoder.Hold()

	f.start(t)
	if on, err := f.m.ToggleTorch(); err != nil || !on {
		t.Fatalf("ToggleTorch() = %v, %v", on, err)
	}
	ticker := f.clock.Ticker()
	f.tick(t)
	<-f.decoder.Entered()

	if err := f.m.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if f.m.State() != scanner.Idle {
		t.Fatalf("State() = %s, want idle", f.m.State())
	}
	f.assertReleased(t)

	// The decode that was in flight completes after the cancel.
	release()
	testutil.WaitFor(t, "ticker stop", ticker.Stopped)
	if f.m.State() != scanner.Idle {
		t.Errorf("late decode moved state to %s", f.m.State())
	}
	if _, ok := f.m.Result(); ok {
		t.Error("late decode produced a result")
	}
	if f.ledger.Len() != 0 {
		t.Error("late decode recorded history")
	}
}

func TestMachine_StreamDisconnect(t *testing.T) {
	f := newMachineFixture(t)
	f.start(t)

	f.cam.LastStream().Disconnect()
	st := f.wait(t)

	if st.State != scanner.Error || !errors.Is(st.Err, scanner.ErrStreamUnrecoverable) {
		t.Fatalf("Status() = %+v, want stream error", st)
	}
	f.assertReleased(t)

	if err := f.m.Cancel(); err != nil {
		t.Fatalf("Cancel() from error = %v", err)
	}
	if st := f.m.Status(); st.State != scanner.Idle || st.Err != nil {
		t.Errorf("Status() after Cancel() = %+v", st)
	}
}

func TestMachine_MaxSessionDuration(t *testing.T) {
	f := newMachineFixture(t, withOptions(func(o *scanner.Options) { o.MaxSessionDuration = 30 * time.Second }))
	f.start(t)

	testutil.WaitFor(t, "deadline timer", func() bool { return f.clock.PendingTimers() == 1 })
	f.clock.Advance(30 * time.Second)

	st := f.wait(t)
	if st.State != scanner.Idle {
		t.Errorf("state = %s, want idle", st.State)
	}
	f.assertReleased(t)
}

func TestMachine_TorchUnsupported(t *testing.T) {
	f := newMachineFixture(t, withCamera(func(o *camera.MemoryOptions) { o.TorchCapable = false }))
	f.start(t)

	if f.m.Status().TorchAvailable {
		t.Error("TorchAvailable = true on a torchless camera")
	}
	if _, err := f.m.ToggleTorch(); !errors.Is(err, scanner.ErrTorchUnsupported) {
		t.Errorf("ToggleTorch() error = %v, want ErrTorchUnsupported", err)
	}
	if f.m.State() != scanner.Scanning {
		t.Errorf("torch failure changed state to %s", f.m.State())
	}
}

func TestMachine_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	idle := []struct {
		name string
		call func() error
	}{
		{"cancel", f.m.Cancel},
		{"dismiss", f.m.Dismiss},
		{"retry", func() error { return f.m.Retry(ctx) }},
		{"torch", func() error { _, err := f.m.ToggleTorch(); return err }},
	}
	for _, tt := range idle {
		if err := tt.call(); !errors.Is(err, scanner.ErrInvalidTransition) {
			t.Errorf("%s from idle = %v, want ErrInvalidTransition", tt.name, err)
		}
	}

	f.start(t)
	if err := f.m.Start(ctx); !errors.Is(err, scanner.ErrInvalidTransition) {
		t.Errorf("Start() while scanning = %v, want ErrInvalidTransition", err)
	}
	if err := f.m.Dismiss(); !errors.Is(err, scanner.ErrInvalidTransition) {
		t.Errorf("Dismiss() while scanning = %v, want ErrInvalidTransition", err)
	}
	if rep := f.m.RunAction(ctx, scanner.ActionCopy); !errors.Is(rep.Err, scanner.ErrInvalidTransition) {
		t.Errorf("RunAction() without result = %+v", rep)
	}
	if f.cam.Acquired() != 1 {
		t.Errorf("camera acquired %d times, want 1", f.cam.Acquired())
	}
}

func TestMachine_Teardown(t *testing.T) {
	t.Run("from scanning", func(t *testing.T) {
		f := newMachineFixture(t)
		f.start(t)
		f.m.ToggleTorch()

		if err := f.m.Teardown(); err != nil {
			t.Fatalf("Teardown() error = %v", err)
		}
		if f.m.State() != scanner.Idle {
			t.Errorf("State() = %s", f.m.State())
		}
		f.assertReleased(t)
		if err := f.m.Teardown(); err != nil {
			t.Errorf("second Teardown() error = %v", err)
		}
	})

	t.Run("from result pending", func(t *testing.T) {
		f := newMachineFixture(t, withDecodes(testutil.Match(ticketPayload)))
		f.start(t)
		f.tick(t)
		f.wait(t)

		f.m.Teardown()
		if _, ok := f.m.Result(); ok {
			t.Error("result kept after Teardown()")
		}
		if f.ledger.Len() != 1 {
			t.Error("Teardown() dropped history")
		}
	})
}

func TestMachine_Changes(t *testing.T) {
	f := newMachineFixture(t)
	ch := f.m.Changes()

	f.start(t)
	select {
	case <-ch:
	default:
		t.Error("Changes() channel not closed after a transition")
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := scanner.DefaultRetryPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{4, 4 * time.Second},
		{5, 5 * time.Second},
		{50, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestMachine_Scenarios(t *testing.T) {
	t.Run("decode after warmup", func(t *testing.T) {
		f := newMachineFixture(t,
			withCamera(func(o *camera.MemoryOptions) { o.WarmupTicks = 3 }),
			withDecodes(testutil.Match(ticketPayload)),
		)

		f.start(t)
		if !f.m.Status().TorchAvailable {
			t.Error("torch not reported available")
		}
		for range 4 {
			f.tick(t)
		}

		st := f.wait(t)
		if st.State != scanner.ResultPending {
			t.Fatalf("state = %s, want result-pending", st.State)
		}
		if got := f.decoder.Calls(); got != 1 {
			t.Errorf("decoder ran %d times, want 1 (warmup frames skipped)", got)
		}
		f.assertReleased(t)

		var outcomes []scanner.Outcome
		for e := range f.m.History().List() {
			outcomes = append(outcomes, e.Outcome)
		}
		if len(outcomes) != 1 || outcomes[0] != scanner.OutcomeSuccess {
			t.Errorf("history outcomes = %v, want [success]", outcomes)
		}
	})

	t.Run("no match then cancel", func(t *testing.T) {
		f := newMachineFixture(t)

		f.start(t)
		ticker := f.clock.Ticker()
		for range 5 {
			f.tick(t)
		}
		testutil.WaitFor(t, "five decodes", func() bool { return f.decoder.Calls() == 5 })

		if err := f.m.Cancel(); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		testutil.WaitFor(t, "ticker stop", ticker.Stopped)

		if f.m.State() != scanner.Idle {
			t.Errorf("State() = %s, want idle", f.m.State())
		}
		if f.ledger.Len() != 0 {
			t.Errorf("history has %d entries, want 0", f.ledger.Len())
		}
		f.assertReleased(t)
	})
}

// gatedCheckins blocks RecordCheckin until gate is closed.
type gatedCheckins struct {
	entered chan struct{}
	gate    chan struct{}
}

func newGatedCheckins() *gatedCheckins {
	return &gatedCheckins{entered: make(chan struct{}, 1), gate: make(chan struct{})}
}

func (g *gatedCheckins) RecordCheckin(_ context.Context, c scanner.Checkin) (scanner.Checkin, bool, error) {
	g.entered <- struct{}{}
	<-g.gate
	return c, false, nil
}

func TestMachine_SlowCheckinStore(t *testing.T) {
	setup := func(t *testing.T) (*machineFixture, *gatedCheckins) {
		t.Helper()
		store := newGatedCheckins()
		f := newMachineFixture(t,
			withDecodes(testutil.Match(ticketPayload)),
			withOptions(func(o *scanner.Options) { o.Checkins = store }),
		)
		f.start(t)
		f.tick(t)
		select {
		case <-store.entered:
		case <-time.After(time.Second):
			t.Fatal("check-in was never recorded")
		}
		return f, store
	}

	t.Run("status stays responsive", func(t *testing.T) {
		f, store := setup(t)

		got := make(chan scanner.Status, 1)
		go func() { got <- f.m.Status() }()
		select {
		case st := <-got:
			if st.State != scanner.Scanning {
				t.Errorf("State during check-in = %s, want scanning", st.State)
			}
		case <-time.After(time.Second):
			t.Fatal("Status() blocked behind the check-in store")
		}
		f.assertReleased(t)

		close(store.gate)
		if st := f.wait(t); st.State != scanner.ResultPending || st.Result == nil {
			t.Fatalf("Status() = %+v, want result", st)
		}
		if f.ledger.Len() != 1 {
			t.Errorf("ledger has %d entries, want 1", f.ledger.Len())
		}
	})

	t.Run("cancel while recording hides the result", func(t *testing.T) {
		f, store := setup(t)

		if err := f.m.Cancel(); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		close(store.gate)
		testutil.WaitFor(t, "history entry", func() bool { return f.ledger.Len() == 1 })

		if f.m.State() != scanner.Idle {
			t.Errorf("State() = %s, want idle", f.m.State())
		}
		if _, ok := f.m.Result(); ok {
			t.Error("cancelled scan shows a result")
		}
	})
}
