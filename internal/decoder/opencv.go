//go:build gocv

package decoder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"checkin-go/internal/scanner"
)

// OpenCVDecoder uses OpenCV's QR detector. The detector is not safe for
// concurrent use; the sampler never overlaps decodes, the mutex covers
// direct callers.
type OpenCVDecoder struct {
	mu  sync.Mutex
	det gocv.QRCodeDetector
}

var _ scanner.Decoder = (*OpenCVDecoder)(nil)

func newOpenCVDecoder() (scanner.Decoder, error) {
	return &OpenCVDecoder{det: gocv.NewQRCodeDetector()}, nil
}

func (d *OpenCVDecoder) Decode(ctx context.Context, f scanner.Frame) (scanner.RawPayload, bool, error) {
	if f.Image == nil {
		return "", false, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	mat, err := gocv.ImageToMatRGB(f.Image)
	if err != nil {
		return "", false, fmt.Errorf("converting frame %d: %w", f.Seq, err)
	}
	defer mat.Close()

	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	d.mu.Lock()
	text := d.det.DetectAndDecode(mat, &points, &straight)
	d.mu.Unlock()

	if text = strings.TrimSpace(text); text == "" {
		return "", false, nil
	}
	return scanner.RawPayload(text), true, nil
}
