// Package protocol defines the wire operations exchanged between client and
// server and their binary codec. The codec is deterministic: identical
// operations always encode to identical bytes.
package protocol

// Operation is the closed set of protocol messages. Either peer may send an
// operation at any time; a frame's payload carries exactly one operation.
type Operation interface {
	isOperation()
}

// Connect announces a joining peer. It must be the first operation a client
// sends on a fresh connection; the server replies with Ack and relays the
// Connect to other peers as a join notification.
type Connect struct {
	ClientID string
}

// SendText carries a chat message from a client to the server.
type SendText struct {
	Body string
}

// Broadcast carries another peer's message from the server to a client.
type Broadcast struct {
	From string
	Body string
}

// Disconnect announces a leaving peer. Sent by a client before closing, and
// relayed by the server to other peers as a leave notification.
type Disconnect struct {
	ClientID string
}

// Ack confirms a handshake.
type Ack struct{}

func (Connect) isOperation()    {}
func (SendText) isOperation()   {}
func (Broadcast) isOperation()  {}
func (Disconnect) isOperation() {}
func (Ack) isOperation()        {}
