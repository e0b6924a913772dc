// Package chat provides the core connection and broadcast logic shared by
// all transports.
package chat

import "context"

// Conn abstracts one bidirectional peer connection. A transport adapter owns
// the framing: Read returns exactly one frame's payload, Write sends exactly
// one. The read and write halves may be driven by different goroutines, but
// each half by at most one at a time.
type Conn interface {
	// Read returns the next frame payload. Returns io.EOF when the peer
	// closed cleanly at a frame boundary. A deadline carried by ctx bounds
	// the read; an already-canceled ctx returns its error immediately.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame payload, bounded by ctx's deadline the
	// same way Read is.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection, unblocking any in-flight Read or Write.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
