package camera

import (
	"fmt"
	"image"
	"sync"

	"checkin-go/internal/scanner"
)

// AnnotatedFrame is a frame image that carries the payload a real decoder
// would have found in it. Simulated backends produce these so the
// "annotated" decoder can run without an optical pattern.
type AnnotatedFrame struct {
	image.Image
	payload string
}

// NewAnnotatedFrame wraps img with a payload.
func NewAnnotatedFrame(img image.Image, payload string) AnnotatedFrame {
	return AnnotatedFrame{Image: img, payload: payload}
}

func (f AnnotatedFrame) Payload() string { return f.payload }

// SimulatedTrack is a media track with a software torch. Both simulated
// backends use it.
type SimulatedTrack struct {
	mu             sync.Mutex
	torchSupported bool
	torchOn        bool
	stops          int
	applyErr       error
	stopErr        error
}

var _ scanner.Track = (*SimulatedTrack)(nil)

func newSimulatedTrack(torch bool) *SimulatedTrack {
	return &SimulatedTrack{torchSupported: torch}
}

func (t *SimulatedTrack) Capabilities() scanner.TrackCapabilities {
	t.mu.Lock()
	defer t.mu.Unlock()
	return scanner.TrackCapabilities{Torch: t.torchSupported}
}

func (t *SimulatedTrack) ApplyTorch(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.torchSupported {
		return fmt.Errorf("applying torch: %w", scanner.ErrTorchUnsupported)
	}
	if t.applyErr != nil {
		return t.applyErr
	}
	t.torchOn = on
	return nil
}

// Stop marks the track stopped. Stopping does not touch the torch; that is
// the session's job.
func (t *SimulatedTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return t.stopErr
}

// SetTorchSupported changes the capability mid-session, as a facing switch
// would.
func (t *SimulatedTrack) SetTorchSupported(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.torchSupported = v
}

// FailApply makes subsequent ApplyTorch calls return err.
func (t *SimulatedTrack) FailApply(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyErr = err
}

// FailStop makes subsequent Stop calls return err.
func (t *SimulatedTrack) FailStop(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopErr = err
}

func (t *SimulatedTrack) TorchOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.torchOn
}

// Stops returns how many times Stop was called.
func (t *SimulatedTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

func (t *SimulatedTrack) Stopped() bool { return t.Stops() > 0 }
