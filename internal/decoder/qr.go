package decoder

import (
	"context"
	"fmt"
	"strings"

	"github.com/liyue201/goqr"

	"checkin-go/internal/scanner"
)

// QRDecoder recognizes QR codes with goqr. Frames without a code, and codes
// that fail error correction, are reported as no match.
type QRDecoder struct{}

var _ scanner.Decoder = (*QRDecoder)(nil)

func NewQRDecoder() *QRDecoder { return &QRDecoder{} }

func (d *QRDecoder) Decode(ctx context.Context, f scanner.Frame) (payload scanner.RawPayload, ok bool, err error) {
	if f.Image == nil {
		return "", false, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	// goqr panics on some degenerate grids.
	defer func() {
		if p := recover(); p != nil {
			payload, ok, err = "", false, fmt.Errorf("recognizing frame %d: %v", f.Seq, p)
		}
	}()

	codes, rerr := goqr.Recognize(f.Image)
	if rerr != nil {
		return "", false, nil
	}
	for _, code := range codes {
		if text := strings.TrimSpace(string(code.Payload)); text != "" {
			return scanner.RawPayload(text), true, nil
		}
	}
	return "", false, nil
}
