package protocol

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// compressThreshold is the minimum encoded size before compression is even
// attempted. Small payloads expand under compression, so they are always
// sent raw.
const compressThreshold = 512

// Marker byte prefixed to every payload so decoding is self-describing.
const (
	markerRaw byte = 0x00
	markerS2  byte = 0x01
)

// pack prefixes body with a marker byte, compressing with s2 when the body
// is large enough and compression actually shrinks it.
func pack(body []byte) []byte {
	if len(body) >= compressThreshold {
		packed := s2.Encode(nil, body)
		if len(packed) < len(body) {
			return append([]byte{markerS2}, packed...)
		}
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, markerRaw)
	return append(out, body...)
}

// unpack is the inverse of pack.
func unpack(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrMalformed
	}
	switch data[0] {
	case markerRaw:
		return data[1:], nil
	case markerS2:
		body, err := s2.Decode(nil, data[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return body, nil
	default:
		return nil, ErrMalformed
	}
}
