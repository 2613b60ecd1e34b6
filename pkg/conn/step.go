package conn

import (
	"math/rand"

	"github.com/miknet/miknet/pkg/cookie"
	"github.com/miknet/miknet/pkg/sequence"
	"github.com/miknet/miknet/pkg/timer"
	"github.com/miknet/miknet/pkg/wire"
)

// Step advances s by one Event, returning the next state (nil to remove
// this peer entirely) and the actions the caller must carry out. key signs
// and verifies state cookies; rnd supplies the handshake's token and
// sequence-number draws and need not be cryptographically strong, since the
// cookie — not the token's unguessability — is what authenticates a peer.
func Step(s State, ev Event, key cookie.Key, rnd *rand.Rand) (State, []Action) {
	switch e := ev.(type) {
	case GramEvent:
		return stepGram(s, e.Gram, key, rnd)
	case ChunkEvent:
		return stepChunk(s, e.Chunk, key, rnd)
	case ApiEvent:
		return stepApi(s, e.Call, key, rnd)
	case TimerEvent:
		return stepTimer(s, e.Kind)
	case InvalidGramEvent:
		return s, nil
	default:
		return s, nil
	}
}

func stepGram(s State, g wire.Gram, key cookie.Key, rnd *rand.Rand) (State, []Action) {
	if expected, ok := s.ExpectedToken(); ok && g.Token != expected {
		return s, nil
	}

	cur := s
	var actions []Action
	for _, c := range g.Chunks {
		if cur == nil {
			break
		}
		next, as := stepChunk(cur, c, key, rnd)
		cur = next
		actions = append(actions, as...)
	}
	return cur, actions
}

func stepChunk(s State, c wire.Chunk, key cookie.Key, rnd *rand.Rand) (State, []Action) {
	switch st := s.(type) {
	case Listen:
		return listenChunk(st, c, key, rnd)
	case InitSent:
		return initSentChunk(st, c)
	case CookieEchoed:
		return cookieEchoedChunk(st, c, key, rnd)
	case Established:
		return establishedChunk(st, c)
	case ShutdownSent:
		return shutdownSentChunk(st, c)
	case ShutdownAckSent:
		return shutdownAckSentChunk(st, c)
	default:
		return s, nil
	}
}

func stepApi(s State, call ApiCall, key cookie.Key, rnd *rand.Rand) (State, []Action) {
	switch st := s.(type) {
	case Listen:
		return listenApi(st, call, rnd)
	case InitSent:
		return initSentApi(st, call)
	case CookieEchoed:
		return cookieEchoedApi(st, call)
	case Established:
		return establishedApi(st, call)
	default:
		// ShutdownSent/ShutdownAckSent: a call arriving during teardown is
		// dropped; there is nothing left to act on it.
		return s, nil
	}
}

func stepTimer(s State, kind timer.Kind) (State, []Action) {
	switch st := s.(type) {
	case InitSent:
		return initSentTimer(st, kind)
	case CookieEchoed:
		return cookieEchoedTimer(st, kind)
	default:
		return s, nil
	}
}

// --- Listen ---

func listenChunk(st Listen, c wire.Chunk, key cookie.Key, rnd *rand.Rand) (State, []Action) {
	switch v := c.(type) {
	case wire.Init:
		ourTSN := rnd.Uint32()
		ourToken := rnd.Uint32()
		tcb := cookie.Tcb{OurTSN: ourTSN, OurToken: ourToken, TheirTSN: v.TSN, TheirToken: v.Token}
		sc := cookie.Sign(tcb, key)
		return st, []Action{
			ChunkAction{Token: v.Token, Chunk: wire.InitAck{Token: ourToken, TSN: ourTSN, Cookie: sc}},
		}
	case wire.CookieEcho:
		if !cookie.Verify(v.Cookie, key) {
			return st, nil
		}
		tcb := v.Cookie.Tcb
		next := Established{Tcb: tcb, Streams: make(map[uint8]*sequence.Sequence)}
		return next, []Action{
			ChunkAction{Token: tcb.TheirToken, Chunk: wire.CookieAck{}},
			NotifyAction{Event: Connected{}},
		}
	default:
		return st, nil
	}
}

func listenApi(st Listen, call ApiCall, rnd *rand.Rand) (State, []Action) {
	switch call.(type) {
	case ConnectCall:
		ourToken := rnd.Uint32()
		tsn := rnd.Uint32()
		next := InitSent{OurToken: ourToken, TSN: tsn}
		return next, []Action{
			ChunkAction{Token: 0, Chunk: wire.Init{Token: ourToken, TSN: tsn}},
			SetTimerAction{Kind: timer.InitTimer},
		}
	default:
		return st, nil
	}
}

// --- InitSent ---

func initSentChunk(st InitSent, c wire.Chunk) (State, []Action) {
	switch v := c.(type) {
	case wire.InitAck:
		tcb := cookie.Tcb{OurTSN: st.TSN, OurToken: st.OurToken, TheirTSN: v.TSN, TheirToken: v.Token}
		next := CookieEchoed{Tcb: tcb, Queue: st.Queue}
		return next, []Action{
			CancelTimerAction{Kind: timer.InitTimer},
			ChunkAction{Token: tcb.TheirToken, Chunk: wire.CookieEcho{Cookie: v.Cookie}},
			SetTimerAction{Kind: timer.CookieSentTimer},
		}
	case wire.CfgMismatch:
		return nil, []Action{
			CancelTimerAction{Kind: timer.InitTimer},
			NotifyAction{Event: CfgMismatch{}},
		}
	default:
		return st, nil
	}
}

func initSentApi(st InitSent, call ApiCall) (State, []Action) {
	st.Queue = append(st.Queue, call)
	return st, nil
}

func initSentTimer(st InitSent, kind timer.Kind) (State, []Action) {
	if kind != timer.InitTimer {
		return st, nil
	}
	return nil, []Action{NotifyAction{Event: ConnectTimeout{}}}
}

// --- CookieEchoed ---

func cookieEchoedChunk(st CookieEchoed, c wire.Chunk, key cookie.Key, rnd *rand.Rand) (State, []Action) {
	switch c.(type) {
	case wire.CookieAck:
		var cur State = Established{Tcb: st.Tcb, Streams: make(map[uint8]*sequence.Sequence)}
		actions := []Action{CancelTimerAction{Kind: timer.CookieSentTimer}}
		for _, call := range st.Queue {
			if cur == nil {
				break
			}
			next, as := stepApi(cur, call, key, rnd)
			cur = next
			actions = append(actions, as...)
		}
		actions = append(actions, NotifyAction{Event: Connected{}})
		return cur, actions
	default:
		return st, nil
	}
}

func cookieEchoedApi(st CookieEchoed, call ApiCall) (State, []Action) {
	st.Queue = append(st.Queue, call)
	return st, nil
}

func cookieEchoedTimer(st CookieEchoed, kind timer.Kind) (State, []Action) {
	if kind != timer.CookieSentTimer {
		return st, nil
	}
	return nil, []Action{NotifyAction{Event: Error{Msg: "peer never acked our cookie echo"}}}
}

// --- Established ---

func establishedChunk(st Established, c wire.Chunk) (State, []Action) {
	switch v := c.(type) {
	case wire.Shutdown:
		next := ShutdownAckSent{OurToken: st.Tcb.OurToken, PeerToken: st.Tcb.TheirToken}
		return next, []Action{ChunkAction{Token: st.Tcb.TheirToken, Chunk: wire.ShutdownAck{}}}
	case wire.Data:
		st.stream(v.StreamID).Rx(v.Segment)
		return st, nil
	case wire.DataAck:
		st.stream(v.StreamID).Ack(v.Seq)
		return st, nil
	default:
		return st, nil
	}
}

func establishedApi(st Established, call ApiCall) (State, []Action) {
	switch v := call.(type) {
	case SendCall:
		st.stream(v.StreamID).Tx(v.Payload)
		return st, nil
	case DisconnectCall:
		next := ShutdownSent{OurToken: st.Tcb.OurToken, PeerToken: st.Tcb.TheirToken}
		return next, []Action{ChunkAction{Token: st.Tcb.TheirToken, Chunk: wire.Shutdown{}}}
	default:
		return st, nil
	}
}

// --- ShutdownSent ---

func shutdownSentChunk(st ShutdownSent, c wire.Chunk) (State, []Action) {
	switch c.(type) {
	case wire.Shutdown:
		next := ShutdownAckSent{OurToken: st.OurToken, PeerToken: st.PeerToken}
		return next, []Action{ChunkAction{Token: st.PeerToken, Chunk: wire.ShutdownAck{}}}
	case wire.ShutdownAck:
		return nil, []Action{
			NotifyAction{Event: Disconnected{}},
			ChunkAction{Token: st.PeerToken, Chunk: wire.ShutdownComplete{}},
		}
	default:
		return st, nil
	}
}

// --- ShutdownAckSent ---

func shutdownAckSentChunk(st ShutdownAckSent, c wire.Chunk) (State, []Action) {
	switch c.(type) {
	case wire.ShutdownComplete:
		return nil, []Action{NotifyAction{Event: Disconnected{}}}
	case wire.ShutdownAck:
		return nil, []Action{
			NotifyAction{Event: Disconnected{}},
			ChunkAction{Token: st.PeerToken, Chunk: wire.ShutdownComplete{}},
		}
	default:
		return st, nil
	}
}
