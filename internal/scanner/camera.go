package scanner

import (
	"context"
	"image"
	"time"
)

// Facing selects which physical sensor a stream should come from.
type Facing string

const (
	FacingRear  Facing = "rear"
	FacingFront Facing = "front"
	FacingAny   Facing = ""
)

// Constraints describe the stream requested from a Camera.
// A zero Width or Height means any resolution.
type Constraints struct {
	Facing Facing
	Width  int
	Height int
}

// PreferredConstraints returns the first-attempt constraints: the given
// facing at 1280x720.
func PreferredConstraints(facing Facing) Constraints {
	return Constraints{Facing: facing, Width: 1280, Height: 720}
}

// Relaxed drops the facing and resolution requirements.
func (c Constraints) Relaxed() Constraints {
	return Constraints{Facing: FacingAny}
}

// Camera is the platform capture capability. RequestStream may block until
// the platform grants or denies access.
type Camera interface {
	RequestStream(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live video stream. It is owned by exactly one SessionHandle.
type Stream interface {
	// Ready reports whether enough data is buffered to produce a frame.
	Ready() bool
	// Frame renders the current frame. It returns ErrStreamEnded once the
	// stream has terminated.
	Frame() (image.Image, error)
	// Tracks returns the stream's media tracks.
	Tracks() []Track
	// Done is closed when the stream terminates unexpectedly.
	Done() <-chan struct{}
}

// Track is a single media track of a Stream.
type Track interface {
	Capabilities() TrackCapabilities
	ApplyTorch(on bool) error
	Stop() error
}

// TrackCapabilities lists the optional features a track supports.
type TrackCapabilities struct {
	Torch bool
}

// Frame is one still image rendered from the stream at a sampling tick.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Image      image.Image
}
