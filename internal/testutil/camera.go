package testutil

import (
	"checkin-go/internal/camera"
	"checkin-go/internal/scanner"
)

// NewTestCamera creates a rear-and-front memory camera with a torch and no
// warmup. Pass opts to override.
func NewTestCamera(opts ...func(*camera.MemoryOptions)) *camera.MemoryCamera {
	o := camera.MemoryOptions{
		TorchCapable: true,
		Facings:      []scanner.Facing{scanner.FacingRear, scanner.FacingFront},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return camera.NewMemoryCamera(o)
}
