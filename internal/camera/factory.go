package camera

import (
	"fmt"

	"checkin-go/internal/config"
	"checkin-go/internal/scanner"
)

// NewCameraFromConfig creates a Camera implementation based on the camera config type.
func NewCameraFromConfig(cfg config.CameraConfig) (scanner.Camera, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryCamera(MemoryOptions{
			TorchCapable: cfg.TorchCapable,
			WarmupTicks:  cfg.WarmupTicks,
			Payload:      cfg.Payload,
			PayloadAfter: cfg.PayloadAfter,
		}), nil
	case "imagedir":
		if cfg.ImageDir == "" {
			return nil, fmt.Errorf("imagedir camera requires image_dir to be set")
		}
		return NewImageDirCamera(cfg.ImageDir, cfg.WarmupTicks, cfg.TorchCapable), nil
	case "opencv":
		return newOpenCVCamera(cfg)
	default:
		return nil, fmt.Errorf("unknown camera type: %s", cfg.Type)
	}
}

// ParseFacing maps a config facing onto a scanner.Facing.
func ParseFacing(s string) (scanner.Facing, error) {
	switch s {
	case "rear", "":
		return scanner.FacingRear, nil
	case "front":
		return scanner.FacingFront, nil
	case "any":
		return scanner.FacingAny, nil
	default:
		return "", fmt.Errorf("unknown camera facing: %s", s)
	}
}
