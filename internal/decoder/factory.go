package decoder

import (
	"fmt"

	"checkin-go/internal/config"
	"checkin-go/internal/scanner"
)

// NewDecoderFromConfig creates a Decoder based on the decoder config type.
func NewDecoderFromConfig(cfg config.DecoderConfig) (scanner.Decoder, error) {
	switch cfg.Type {
	case "qr", "":
		return NewQRDecoder(), nil
	case "annotated":
		return NewAnnotatedDecoder(), nil
	case "opencv":
		return newOpenCVDecoder()
	default:
		return nil, fmt.Errorf("unknown decoder type: %q", cfg.Type)
	}
}
