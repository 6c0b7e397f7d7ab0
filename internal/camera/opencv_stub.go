//go:build !gocv

package camera

import (
	"errors"

	"checkin-go/internal/config"
	"checkin-go/internal/scanner"
)

func newOpenCVCamera(config.CameraConfig) (scanner.Camera, error) {
	return nil, errors.New("opencv camera requires a build with -tags gocv")
}
