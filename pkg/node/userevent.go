package node

// UserEventKind enumerates the control and data notifications a Node
// surfaces on its event channel.
type UserEventKind int

const (
	// Connected reports that the handshake with Peer completed.
	Connected UserEventKind = iota
	// Disconnected reports that the shutdown handshake with Peer completed.
	Disconnected
	// ConnectTimeout reports that InitTimer fired while connecting to Peer.
	ConnectTimeout
	// CfgMismatch reports that Peer rejected our Init's configuration.
	CfgMismatch
	// Received carries payload bytes delivered in order on StreamID.
	Received
	// Error reports a recoverable failure described by Msg.
	Error
	// Shutdown reports that the node has finished tearing down; it is
	// always the final event before the channel closes.
	Shutdown
)

func (k UserEventKind) String() string {
	switch k {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case ConnectTimeout:
		return "ConnectTimeout"
	case CfgMismatch:
		return "CfgMismatch"
	case Received:
		return "Received"
	case Error:
		return "Error"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// UserEvent is one notification delivered on the channel Bind returns.
// Peer is empty for the node-level Shutdown event; StreamID and Payload are
// only meaningful when Kind is Received; Msg is only meaningful when Kind
// is Error.
type UserEvent struct {
	Peer     string
	Kind     UserEventKind
	StreamID uint8
	Payload  []byte
	Msg      string
}
