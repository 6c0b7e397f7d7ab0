//go:build gocv

package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"checkin-go/internal/config"
	"checkin-go/internal/scanner"
)

// maxReadFailures is the number of consecutive failed reads after which the
// device is considered gone.
const maxReadFailures = 10

var errEmptyFrame = errors.New("empty frame")

// OpenCVCamera captures from a V4L/AVFoundation/DirectShow device through
// OpenCV. Webcams expose no facing or torch, so both are ignored.
type OpenCVCamera struct {
	device int
}

var _ scanner.Camera = (*OpenCVCamera)(nil)

func newOpenCVCamera(cfg config.CameraConfig) (scanner.Camera, error) {
	return &OpenCVCamera{device: cfg.Device}, nil
}

func (c *OpenCVCamera) RequestStream(ctx context.Context, cons scanner.Constraints) (scanner.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return nil, &scanner.CameraError{Kind: scanner.ErrDeviceUnavailable, Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &scanner.CameraError{Kind: scanner.ErrDeviceUnavailable, Err: fmt.Errorf("device %d did not open", c.device)}
	}

	if cons.Width > 0 && cons.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cons.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cons.Height))
		w := int(vc.Get(gocv.VideoCaptureFrameWidth))
		h := int(vc.Get(gocv.VideoCaptureFrameHeight))
		if w != cons.Width || h != cons.Height {
			vc.Close()
			return nil, fmt.Errorf("device %d gave %dx%d: %w", c.device, w, h, scanner.ErrConstraintsUnsatisfiable)
		}
	}

	s := &openCVStream{vc: vc, mat: gocv.NewMat(), done: make(chan struct{})}
	return s, nil
}

type openCVStream struct {
	mu       sync.Mutex
	vc       *gocv.VideoCapture
	mat      gocv.Mat
	failures int
	stopped  bool
	done     chan struct{}
}

func (s *openCVStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && s.vc.IsOpened()
}

func (s *openCVStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, scanner.ErrStreamEnded
	}
	if ok := s.vc.Read(&s.mat); !ok {
		s.failures++
		if s.failures >= maxReadFailures {
			close(s.done)
			s.stopLocked()
			return nil, scanner.ErrStreamEnded
		}
		return nil, errEmptyFrame
	}
	if s.mat.Empty() {
		return nil, errEmptyFrame
	}
	s.failures = 0
	return s.mat.ToImage()
}

func (s *openCVStream) Tracks() []scanner.Track { return []scanner.Track{openCVTrack{s}} }

func (s *openCVStream) Done() <-chan struct{} { return s.done }

func (s *openCVStream) stopLocked() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.mat.Close()
	return s.vc.Close()
}

type openCVTrack struct{ s *openCVStream }

func (openCVTrack) Capabilities() scanner.TrackCapabilities { return scanner.TrackCapabilities{} }

func (openCVTrack) ApplyTorch(bool) error { return scanner.ErrTorchUnsupported }

func (t openCVTrack) Stop() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.stopLocked()
}
