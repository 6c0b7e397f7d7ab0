package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // GIF frames
	_ "image/jpeg" // JPEG frames
	_ "image/png"  // PNG frames
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"checkin-go/internal/scanner"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// ImageDirCamera replays still images from a directory as a live stream,
// cycling through them in name order. A sidecar "<name>.txt" file annotates
// its image with a payload for the annotated decoder.
type ImageDirCamera struct {
	dir          string
	warmup       int
	torchCapable bool
}

var _ scanner.Camera = (*ImageDirCamera)(nil)

// NewImageDirCamera creates a camera over dir.
func NewImageDirCamera(dir string, warmupTicks int, torchCapable bool) *ImageDirCamera {
	return &ImageDirCamera{dir: dir, warmup: warmupTicks, torchCapable: torchCapable}
}

// RequestStream lists the directory and opens a stream over its images.
// Resolution constraints are advisory; any facing is accepted.
func (c *ImageDirCamera) RequestStream(ctx context.Context, cons scanner.Constraints) (scanner.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("reading %s: %w", c.dir, scanner.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("reading %s: %w", c.dir, scanner.ErrDeviceUnavailable)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(c.dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s: %w", c.dir, scanner.ErrDeviceUnavailable)
	}
	slices.Sort(paths)

	return &imageDirStream{
		paths:  paths,
		warmup: c.warmup,
		track:  newSimulatedTrack(c.torchCapable),
		done:   make(chan struct{}),
	}, nil
}

type imageDirStream struct {
	mu         sync.Mutex
	paths      []string
	next       int
	warmup     int
	readyCalls int
	track      *SimulatedTrack
	done       chan struct{}
	ended      bool
}

func (s *imageDirStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCalls++
	return !s.ended && !s.track.Stopped() && s.readyCalls > s.warmup
}

// Frame decodes the next image. A file that vanished ends the stream, the
// way an unplugged device would; an undecodable file only skips the tick.
func (s *imageDirStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.track.Stopped() {
		return nil, scanner.ErrStreamEnded
	}

	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)

	f, err := os.Open(path)
	if err != nil {
		s.ended = true
		close(s.done)
		return nil, fmt.Errorf("opening frame %s: %w", path, scanner.ErrStreamEnded)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding frame %s: %w", path, err)
	}

	sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
	if data, err := os.ReadFile(sidecar); err == nil {
		if payload := strings.TrimSpace(string(data)); payload != "" {
			return NewAnnotatedFrame(img, payload), nil
		}
	}
	return img, nil
}

func (s *imageDirStream) Tracks() []scanner.Track { return []scanner.Track{s.track} }

func (s *imageDirStream) Done() <-chan struct{} { return s.done }
