// Package conn implements the per-peer connection state machine: the
// handshake, established data transfer, and graceful shutdown sequence
// layered on top of the wire codec, cookie validator, and sequence window.
package conn

import (
	"github.com/miknet/miknet/pkg/cookie"
	"github.com/miknet/miknet/pkg/sequence"
)

// State is one variant of a connection's lifecycle. Step returns a nil
// State to signal the peer entry should be removed from the dispatcher's
// connection table.
type State interface {
	// ExpectedToken reports the Gram.Token an inbound datagram for this
	// peer must carry to be accepted. ok is false for Listen, which has no
	// single peer yet and accepts a Gram from anyone.
	ExpectedToken() (token uint32, ok bool)
	// ShouldPersist reports whether the dispatcher may keep a connection
	// table entry in this state. Only Listen answers false: it is a valid,
	// non-nil State returned to mean "stay in Listen", not a signal to
	// persist per-peer state for an unauthenticated sender.
	ShouldPersist() bool
	isState()
}

// Listen is the default, unpersisted state: it exists only long enough to
// react to one event, never stored against a specific peer in the
// connection table once that reaction completes. Receiving an Init does not
// make the listener remember the sender; the state needed to accept the
// matching CookieEcho travels inside the signed cookie instead.
type Listen struct{}

func (Listen) ExpectedToken() (uint32, bool) { return 0, false }
func (Listen) ShouldPersist() bool           { return false }
func (Listen) isState()                      {}

// InitSent is entered by the initiating side after Api(Connect): our token
// and initial sequence number are chosen, Init is on the wire, and
// InitTimer is running. Queue holds API calls made before the handshake
// completes; they are not dropped, only held.
type InitSent struct {
	OurToken uint32
	TSN      uint32
	Queue    []ApiCall
}

func (s InitSent) ExpectedToken() (uint32, bool) { return s.OurToken, true }
func (InitSent) ShouldPersist() bool             { return true }
func (InitSent) isState()                        {}

// CookieEchoed is entered once both sides' tokens and sequence numbers are
// known (from the InitAck) and CookieEcho has been sent. Queue is carried
// over unchanged from InitSent and replayed once CookieAck arrives.
type CookieEchoed struct {
	Tcb   cookie.Tcb
	Queue []ApiCall
}

func (s CookieEchoed) ExpectedToken() (uint32, bool) { return s.Tcb.OurToken, true }
func (CookieEchoed) ShouldPersist() bool             { return true }
func (CookieEchoed) isState()                        {}

// Established is the steady-state data-transfer state: one Sequence per
// stream, created lazily on first use in either direction.
type Established struct {
	Tcb     cookie.Tcb
	Streams map[uint8]*sequence.Sequence
}

func (s Established) ExpectedToken() (uint32, bool) { return s.Tcb.OurToken, true }
func (Established) ShouldPersist() bool             { return true }
func (Established) isState()                        {}

func (s Established) stream(id uint8) *sequence.Sequence {
	sq, ok := s.Streams[id]
	if !ok {
		sq = sequence.New(s.Tcb.TheirTSN, s.Tcb.OurTSN)
		s.Streams[id] = sq
	}
	return sq
}

// ShutdownSent is entered after Api(Disconnect) from Established: our side
// initiated a graceful close and is waiting for the peer's ShutdownAck.
type ShutdownSent struct {
	OurToken  uint32
	PeerToken uint32
}

func (s ShutdownSent) ExpectedToken() (uint32, bool) { return s.OurToken, true }
func (ShutdownSent) ShouldPersist() bool             { return true }
func (ShutdownSent) isState()                        {}

// ShutdownAckSent is entered after acking a peer-initiated Shutdown, or
// after cross-shutdown (both sides sent Shutdown at once); it is waiting
// for ShutdownComplete (or a duplicate ShutdownAck, handled the same way).
type ShutdownAckSent struct {
	OurToken  uint32
	PeerToken uint32
}

func (s ShutdownAckSent) ExpectedToken() (uint32, bool) { return s.OurToken, true }
func (ShutdownAckSent) ShouldPersist() bool             { return true }
func (ShutdownAckSent) isState()                        {}

// ApiCall is one user-initiated request fed into the machine as Event::Api.
type ApiCall interface {
	isApiCall()
}

// ConnectCall requests a handshake be initiated toward the peer this
// connection entry is keyed by.
type ConnectCall struct{}

// SendCall stages payload for reliable delivery on StreamID.
type SendCall struct {
	StreamID uint8
	Payload  []byte
}

// DisconnectCall requests a graceful shutdown of this connection.
type DisconnectCall struct{}

func (ConnectCall) isApiCall()    {}
func (SendCall) isApiCall()       {}
func (DisconnectCall) isApiCall() {}
