package scanner

import (
	"errors"
	"fmt"
)

// Camera error kinds. A *CameraError matches its kind with errors.Is.
var (
	ErrPermissionDenied         = errors.New("camera permission denied")
	ErrDeviceUnavailable        = errors.New("camera device unavailable")
	ErrConstraintsUnsatisfiable = errors.New("camera constraints unsatisfiable")
	ErrStreamUnrecoverable      = errors.New("camera stream unrecoverable")
)

var (
	// ErrStreamEnded is returned by Stream.Frame once the stream has terminated.
	ErrStreamEnded = errors.New("stream ended")

	ErrTorchUnsupported  = errors.New("torch unsupported")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrSessionActive     = errors.New("camera session already active")
	ErrSamplerRunning    = errors.New("frame sampler already running")
	ErrEmptyPayload      = errors.New("empty payload")
	ErrActionUnavailable = errors.New("action unavailable")
	ErrNoTarget          = errors.New("result has no target")
	ErrCancelled         = errors.New("scan session cancelled")
)

// CameraError is the error surfaced by CameraSession and the sampler.
type CameraError struct {
	Kind error
	Err  error
}

func (e *CameraError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CameraError) Unwrap() error { return e.Err }

func (e *CameraError) Is(target error) bool { return target == e.Kind }

// Retryable reports whether a retry may succeed without new user consent.
func (e *CameraError) Retryable() bool {
	return e.Kind == ErrDeviceUnavailable || e.Kind == ErrStreamUnrecoverable
}

// classifyAcquireError maps a platform error onto a camera error kind.
// Unknown errors are treated as the device being unavailable.
func classifyAcquireError(err error) *CameraError {
	var ce *CameraError
	if errors.As(err, &ce) {
		return ce
	}
	for _, kind := range []error{ErrPermissionDenied, ErrConstraintsUnsatisfiable, ErrDeviceUnavailable} {
		if errors.Is(err, kind) {
			return &CameraError{Kind: kind, Err: err}
		}
	}
	return &CameraError{Kind: ErrDeviceUnavailable, Err: err}
}

// TorchError reports a failed torch toggle. It is never fatal to a scan.
type TorchError struct {
	Unsupported bool
	Err         error
}

func (e *TorchError) Error() string {
	if e.Unsupported {
		return ErrTorchUnsupported.Error()
	}
	return fmt.Sprintf("toggling torch: %v", e.Err)
}

func (e *TorchError) Unwrap() error { return e.Err }

func (e *TorchError) Is(target error) bool {
	return e.Unsupported && target == ErrTorchUnsupported
}
