package wire

import "github.com/miknet/miknet/pkg/cookie"

// Segment is a payload carrying a per-stream sequence number, the unit that
// the sequence window retransmits and reassembles.
type Segment struct {
	Seq     uint32
	Payload []byte
}

// Chunk is one typed control or data element. Gram carries zero or more of
// them. Concrete variants below are the exhaustive set the wire codec knows
// how to encode and decode; a type switch over Chunk is expected to be
// exhaustive everywhere a Chunk is consumed.
type Chunk interface {
	isChunk()
}

// Init opens a handshake, proposing the sender's token and initial sequence
// number.
type Init struct {
	Token uint32
	TSN   uint32
}

// InitAck answers an Init with the responder's own token/tsn and a state
// cookie binding both sides' numbers without the responder keeping state.
type InitAck struct {
	Token  uint32
	TSN    uint32
	Cookie cookie.StateCookie
}

// CookieEcho returns the state cookie to the listener, proving the
// initiator received the InitAck.
type CookieEcho struct {
	Cookie cookie.StateCookie
}

// CookieAck confirms the handshake is complete.
type CookieAck struct{}

// Shutdown begins a graceful close.
type Shutdown struct{}

// ShutdownAck answers a Shutdown.
type ShutdownAck struct{}

// ShutdownComplete answers a ShutdownAck, ending the association.
type ShutdownComplete struct{}

// CfgMismatch tells an initiator that its Init proposed configuration the
// listener will not accept (e.g. an unsupported protocol version).
type CfgMismatch struct{}

// Data carries one reliable segment on one stream.
type Data struct {
	StreamID uint8
	Segment  Segment
}

// DataAck acknowledges receipt of one segment on one stream.
type DataAck struct {
	StreamID uint8
	Seq      uint32
}

func (Init) isChunk()             {}
func (InitAck) isChunk()          {}
func (CookieEcho) isChunk()       {}
func (CookieAck) isChunk()        {}
func (Shutdown) isChunk()         {}
func (ShutdownAck) isChunk()      {}
func (ShutdownComplete) isChunk() {}
func (CfgMismatch) isChunk()      {}
func (Data) isChunk()             {}
func (DataAck) isChunk()          {}

// Gram is the atomic unit of the wire protocol: all transmissions are
// represented as a Gram before they are written to the network. Token is the
// sender's belief about the receiver's expected token (i.e. the sender
// transmits its peer's token, not its own).
type Gram struct {
	Token  uint32
	Chunks []Chunk
}
