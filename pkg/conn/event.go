package conn

import (
	"github.com/miknet/miknet/pkg/timer"
	"github.com/miknet/miknet/pkg/wire"
)

// Event is one input to the state machine.
type Event interface {
	isEvent()
}

// GramEvent is a decoded datagram that arrived from the peer. Step checks
// its token against the current state's ExpectedToken before unpacking its
// chunks, rewriting a mismatch to a silent no-op rather than processing any
// chunk inside it.
type GramEvent struct {
	Gram wire.Gram
}

// ChunkEvent is a single chunk fed into the machine, either produced by
// unpacking a GramEvent or, in tests, supplied directly.
type ChunkEvent struct {
	Chunk wire.Chunk
}

// ApiEvent carries a user-initiated call.
type ApiEvent struct {
	Call ApiCall
}

// TimerEvent reports that a scheduled timer elapsed.
type TimerEvent struct {
	Kind timer.Kind
}

// InvalidGramEvent is always a no-op; it exists so callers that detect a
// wire-level problem (decode failure, bad token) before constructing a
// GramEvent can still route it through Step uniformly.
type InvalidGramEvent struct{}

func (GramEvent) isEvent()        {}
func (ChunkEvent) isEvent()       {}
func (ApiEvent) isEvent()         {}
func (TimerEvent) isEvent()       {}
func (InvalidGramEvent) isEvent() {}
