package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SessionHandle is the guard returned by CameraSession.Acquire. It owns the
// stream until Release, which always turns the torch off and stops every
// track. Release is idempotent and safe to defer on every exit path.
type SessionHandle struct {
	mu           sync.Mutex
	stream       Stream
	constraints  Constraints
	torchCapable bool
	torchOn      bool
	released     bool
	onRelease    func()
	logger       Logger
}

// Active reports whether the handle still owns a stream.
func (h *SessionHandle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.released && h.stream != nil
}

// TorchCapable reports whether the acquired track supports the torch.
func (h *SessionHandle) TorchCapable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.released && h.torchCapable
}

// TorchOn reports the last torch state applied through this handle.
func (h *SessionHandle) TorchOn() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.torchOn
}

// Constraints returns the constraints the stream was acquired with.
func (h *SessionHandle) Constraints() Constraints {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.constraints
}

// Stream returns the live stream, or nil once released. Callers must treat
// the stream as read-only and must not stop it.
func (h *SessionHandle) Stream() Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	return h.stream
}

// Release turns the torch off, stops all tracks and clears the handle.
// The handle is cleared even when a step fails; the failures are returned
// joined.
func (h *SessionHandle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	stream := h.stream
	h.stream = nil
	torchWasOn := h.torchOn
	h.torchOn = false
	h.torchCapable = false
	onRelease := h.onRelease
	h.mu.Unlock()

	var errs []error
	if stream != nil {
		for _, track := range stream.Tracks() {
			if torchWasOn || track.Capabilities().Torch {
				if err := track.ApplyTorch(false); err != nil {
					errs = append(errs, fmt.Errorf("turning torch off: %w", err))
				}
			}
			if err := track.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stopping track: %w", err))
			}
		}
	}

	if onRelease != nil {
		onRelease()
	}

	err := errors.Join(errs...)
	if err != nil && h.logger != nil {
		h.logger.Error("camera release incomplete", "error", err)
	}
	return err
}

// toggleTorch flips the torch on the first torch-capable track.
func (h *SessionHandle) toggleTorch() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released || h.stream == nil {
		return false, &TorchError{Unsupported: true}
	}

	var torchTrack Track
	for _, track := range h.stream.Tracks() {
		if track.Capabilities().Torch {
			torchTrack = track
			break
		}
	}
	if torchTrack == nil {
		h.torchCapable = false
		h.torchOn = false
		return false, &TorchError{Unsupported: true}
	}

	next := !h.torchOn
	if err := torchTrack.ApplyTorch(next); err != nil {
		return h.torchOn, &TorchError{Err: err}
	}
	h.torchOn = next
	return next, nil
}

// CameraSession acquires and releases the capture device. It holds at most
// one active SessionHandle.
type CameraSession struct {
	camera Camera
	logger Logger

	mu        sync.Mutex
	handle    *SessionHandle
	acquiring bool
}

// NewCameraSession creates a session manager for the given camera.
func NewCameraSession(camera Camera, logger Logger) *CameraSession {
	return &CameraSession{camera: camera, logger: logger}
}

// Acquire requests a live stream, preferring the given facing at 1280x720.
// When the platform rejects the constraints it retries once with relaxed
// constraints. Platform errors are returned as *CameraError. A call made
// while another is pending or a handle is held fails with ErrSessionActive
// without touching the camera.
func (s *CameraSession) Acquire(ctx context.Context, facing Facing) (*SessionHandle, error) {
	s.mu.Lock()
	if s.acquiring || s.handle != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("acquiring camera: %w", ErrSessionActive)
	}
	s.acquiring = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.acquiring = false
		s.mu.Unlock()
	}()

	constraints := PreferredConstraints(facing)
	stream, err := s.camera.RequestStream(ctx, constraints)
	if err != nil && errors.Is(err, ErrConstraintsUnsatisfiable) {
		s.logger.Info("retrying camera with relaxed constraints", "facing", string(facing), "error", err)
		constraints = constraints.Relaxed()
		stream, err = s.camera.RequestStream(ctx, constraints)
	}
	if err != nil {
		ce := classifyAcquireError(err)
		s.logger.Warn("camera acquire failed", "kind", ce.Kind, "error", err)
		return nil, ce
	}

	torchCapable := false
	for _, track := range stream.Tracks() {
		if track.Capabilities().Torch {
			torchCapable = true
			break
		}
	}

	handle := &SessionHandle{
		stream:       stream,
		constraints:  constraints,
		torchCapable: torchCapable,
		logger:       s.logger,
	}
	handle.onRelease = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.handle == handle {
			s.handle = nil
		}
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	s.logger.Info("camera acquired",
		"facing", string(constraints.Facing),
		"width", constraints.Width,
		"height", constraints.Height,
		"torch", torchCapable,
	)
	return handle, nil
}

// Release releases the active handle, if any. Calling it when nothing is
// held is a no-op.
func (s *CameraSession) Release() error {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()

	if handle == nil {
		return nil
	}
	if err := handle.Release(); err != nil {
		return err
	}
	s.logger.Info("camera released")
	return nil
}

// Active reports whether a handle is currently held.
func (s *CameraSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}
