package node

import "github.com/miknet/miknet/pkg/conn"

type apiCallKind int

const (
	callConnect apiCallKind = iota
	callSend
	callDisconnect
)

// apiCallEnvelope is the wire format for a user API call between the
// calling goroutine and the dispatcher: a conn.ApiCall without the
// interface-typed allocation on every Send.
type apiCallEnvelope struct {
	kind     apiCallKind
	streamID uint8
	payload  []byte
}

func (e apiCallEnvelope) toConnCall() conn.ApiCall {
	switch e.kind {
	case callConnect:
		return conn.ConnectCall{}
	case callSend:
		return conn.SendCall{StreamID: e.streamID, Payload: e.payload}
	case callDisconnect:
		return conn.DisconnectCall{}
	default:
		return nil
	}
}
