package stream

import (
	"errors"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned by DecodeUTF8 for chunks that are not valid text.
var ErrInvalidUTF8 = errors.New("chunk is not valid UTF-8")

// Decoder turns the raw bytes of one chunk into the payload that is
// published. A decode error skips the chunk; the stream continues.
type Decoder func(raw []byte) ([]byte, error)

// DecodeUTF8 accepts chunks that are valid UTF-8 text and passes them
// through unchanged. It is the default Decoder.
func DecodeUTF8(raw []byte) ([]byte, error) {
	if !utf8.Valid(raw) {
		return nil, ErrInvalidUTF8
	}
	return raw, nil
}

// DecodeRaw accepts every chunk.
func DecodeRaw(raw []byte) ([]byte, error) {
	return raw, nil
}
