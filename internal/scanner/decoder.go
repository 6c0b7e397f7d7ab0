package scanner

import "context"

// RawPayload is the undecorated text a Decoder extracted from a frame.
type RawPayload string

// Decoder turns one frame into a payload. ok is false when the frame holds
// no decodable pattern. A non-nil error is a transient per-frame failure:
// the sampler keeps going and the error is never treated as fatal.
type Decoder interface {
	Decode(ctx context.Context, f Frame) (payload RawPayload, ok bool, err error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, f Frame) (RawPayload, bool, error)

func (fn DecoderFunc) Decode(ctx context.Context, f Frame) (RawPayload, bool, error) {
	return fn(ctx, f)
}
