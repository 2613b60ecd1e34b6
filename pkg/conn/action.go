package conn

import (
	"github.com/miknet/miknet/pkg/timer"
	"github.com/miknet/miknet/pkg/wire"
)

// Action is one effect Step asks the caller to carry out.
type Action interface {
	isAction()
}

// ChunkAction asks the dispatcher to pack Chunk into an outbound Gram
// addressed with Token. Every ChunkAction produced by a single Step call
// shares the same Token and is coalesced into one Gram.
type ChunkAction struct {
	Token uint32
	Chunk wire.Chunk
}

// SetTimerAction asks the dispatcher to (re)start the named timer for this
// peer, using the duration Config assigns to Kind.
type SetTimerAction struct {
	Kind timer.Kind
}

// CancelTimerAction asks the dispatcher to stop the named timer for this
// peer; emitted on every transition that leaves a state owning that timer.
type CancelTimerAction struct {
	Kind timer.Kind
}

// NotifyAction asks the dispatcher to deliver a UserEvent on the node's
// event stream.
type NotifyAction struct {
	Event UserEvent
}

// UpstreamAction asks the dispatcher to deliver Payload to the user as data
// received on StreamID.
type UpstreamAction struct {
	StreamID uint8
	Payload  []byte
}

func (ChunkAction) isAction()       {}
func (SetTimerAction) isAction()    {}
func (CancelTimerAction) isAction() {}
func (NotifyAction) isAction()      {}
func (UpstreamAction) isAction()    {}

// UserEvent is a connection-level outcome the dispatcher attaches a peer
// address to before placing it on the node's public event stream.
type UserEvent interface {
	isUserEvent()
}

// Connected reports that the handshake completed.
type Connected struct{}

// Disconnected reports that the shutdown handshake completed.
type Disconnected struct{}

// ConnectTimeout reports that InitTimer fired while waiting for InitAck.
type ConnectTimeout struct{}

// CfgMismatch reports that the peer rejected our Init's configuration.
type CfgMismatch struct{}

// Error reports a recoverable failure; the connection may or may not
// continue depending on where it originated.
type Error struct {
	Msg string
}

func (Connected) isUserEvent()      {}
func (Disconnected) isUserEvent()   {}
func (ConnectTimeout) isUserEvent() {}
func (CfgMismatch) isUserEvent()    {}
func (Error) isUserEvent()          {}
