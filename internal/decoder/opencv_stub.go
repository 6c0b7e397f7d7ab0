//go:build !gocv

package decoder

import (
	"errors"

	"checkin-go/internal/scanner"
)

func newOpenCVDecoder() (scanner.Decoder, error) {
	return nil, errors.New("opencv decoder requires a build with -tags gocv")
}
