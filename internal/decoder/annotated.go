package decoder

import (
	"context"

	"checkin-go/internal/scanner"
)

// annotated is implemented by frames from the simulated camera backends.
type annotated interface {
	Payload() string
}

// AnnotatedDecoder reads the payload simulated cameras attach to frames.
// Plain frames are no match.
type AnnotatedDecoder struct{}

var _ scanner.Decoder = (*AnnotatedDecoder)(nil)

func NewAnnotatedDecoder() *AnnotatedDecoder { return &AnnotatedDecoder{} }

func (d *AnnotatedDecoder) Decode(_ context.Context, f scanner.Frame) (scanner.RawPayload, bool, error) {
	a, ok := f.Image.(annotated)
	if !ok || a.Payload() == "" {
		return "", false, nil
	}
	return scanner.RawPayload(a.Payload()), true, nil
}
