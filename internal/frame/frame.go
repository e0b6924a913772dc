// Package frame moves opaque length-prefixed payloads over a byte stream.
// It knows nothing about what the payloads contain.
//
// Wire layout: [length: u64 big-endian][payload: length bytes].
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload. Enforced symmetrically:
// the writer refuses to emit a larger frame, the reader refuses to read one
// before allocating anything.
const MaxFrameSize = 16 << 20

const prefixLen = 8

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// MaxFrameSize. The connection is no longer parseable past this point.
	ErrFrameTooLarge = errors.New("frame: payload exceeds maximum size")

	// ErrTruncatedFrame is returned when the stream ends partway through a
	// frame. A clean end-of-stream at a frame boundary is io.EOF instead.
	ErrTruncatedFrame = errors.New("frame: stream ended mid-frame")
)

// WriteFrame writes one frame to w. The prefix and payload go out as a
// single buffer so a frame is never interleaved with another writer's bytes
// at the io.Writer boundary.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, prefixLen+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(len(payload)))
	copy(buf[prefixLen:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("frame: write: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r. It returns io.EOF only when the
// stream ends cleanly between frames; a stream that ends mid-prefix or
// mid-payload yields ErrTruncatedFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [prefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}

	length := binary.BigEndian.Uint64(prefix[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, fmt.Errorf("frame: read payload: %w", err)
	}
	return payload, nil
}
