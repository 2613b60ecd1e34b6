package node

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/miknet/miknet/pkg/conn"
	"github.com/miknet/miknet/pkg/config"
	"github.com/miknet/miknet/pkg/sequence"
	"github.com/miknet/miknet/pkg/timer"
	"github.com/miknet/miknet/pkg/wire"
)

// gramFromWire is what the reader goroutine hands to the dispatcher: either
// a decoded Gram from a peer, or nothing (decode/read failures are handled
// at the point they occur, since only the reader knows whether a read
// failure is recoverable or fatal to the socket).
type gramFromWire struct {
	peer net.Addr
	gram wire.Gram
}

type readError struct {
	err error
}

// dispatcher is the sole owner of the connection table, the timer service,
// and every byte written to the socket. Everything else only ever talks to
// it over channels.
type dispatcher struct {
	node *Node
	rnd  *rand.Rand

	conns   map[string]conn.State
	peers   map[string]net.Addr
	timers  *timer.Service[string]
	limiter *rate.Limiter

	gramCh chan gramFromWire
	errCh  chan readError
	tickCh chan struct{}
}

func newDispatcher(n *Node, rnd *rand.Rand) *dispatcher {
	ticksPerSecond := time.Second.Seconds() / n.cfg.RetransmitTick.Seconds()
	limiter := rate.NewLimiter(rate.Limit(float64(n.cfg.BandwidthBudgetPerTick)*ticksPerSecond), n.cfg.BandwidthBudgetPerTick)

	return &dispatcher{
		node:    n,
		rnd:     rnd,
		conns:   make(map[string]conn.State),
		peers:   make(map[string]net.Addr),
		timers:  timer.NewService[string](256),
		limiter: limiter,
		gramCh:  make(chan gramFromWire, 64),
		errCh:   make(chan readError, 1),
		tickCh:  make(chan struct{}, 1),
	}
}

func (d *dispatcher) run(g *dgroup.Group) {
	// Closing node.shutdownCh ends this goroutine, which the group treats
	// as a signal to soft-cancel every other goroutine it supervises —
	// the same bridge the teacher's "quit" goroutine provides.
	g.Go("shutdown-trigger", func(ctx context.Context) error {
		select {
		case <-d.node.shutdownCh:
		case <-ctx.Done():
		}
		return nil
	})
	g.Go("udp-reader", d.readLoop)
	g.Go("retransmit-ticker", d.tickLoop)
	g.Go("dispatch", d.dispatchLoop)
}

// readLoop has no context-aware way to interrupt a blocking ReadFromUDP:
// net.PacketConn ignores context cancellation entirely. A soft shutdown is
// instead turned into a socket close by the goroutine below, which is what
// actually unblocks the read.
func (d *dispatcher) readLoop(ctx context.Context) error {
	buf := make([]byte, d.node.cfg.MaxDatagramSize)
	defer close(d.gramCh)

	go func() {
		<-ctx.Done()
		_ = d.node.socket.Close()
	}()

	for {
		n, addr, err := d.node.socket.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil // expected: the socket was closed to end this loop
			}
			select {
			case d.errCh <- readError{err: err}:
			default:
			}
			return nil
		}
		g, err := wire.Decode(buf[:n])
		if err != nil {
			continue // transient wire error: silently dropped
		}
		select {
		case d.gramCh <- gramFromWire{peer: addr, gram: g}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *dispatcher) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.node.cfg.RetransmitTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case d.tickCh <- struct{}{}:
			default: // previous tick still being processed; skip this one
			}
		}
	}
}

func (d *dispatcher) dispatchLoop(ctx context.Context) (err error) {
	var errs *multierror.Error
	defer func() {
		if perr := derror.PanicToError(recover()); perr != nil {
			dlog.Errorf(ctx, "dispatch: recovered panic: %+v", perr)
			d.emit(UserEvent{Kind: Error, Msg: perr.Error()})
			err = multierror.Append(errs, perr).ErrorOrNil()
		}
	}()

	for {
		select {
		case <-d.node.shutdownCh:
			d.teardown(ctx)
			return errs.ErrorOrNil()

		case rerr, ok := <-d.errCh:
			if !ok {
				continue
			}
			d.emit(UserEvent{Kind: Error, Msg: rerr.err.Error()})
			d.emit(UserEvent{Kind: Shutdown})
			close(d.node.events)
			errs = multierror.Append(errs, rerr.err)
			return errs.ErrorOrNil()

		case gfw, ok := <-d.gramCh:
			if !ok {
				continue
			}
			d.handleGram(ctx, gfw)

		case msg := <-d.node.apiCh:
			d.handleAPI(ctx, msg)

		case fired := <-d.timers.Events():
			d.handleTimer(ctx, fired)

		case <-d.tickCh:
			d.handleTick(ctx)
		}
	}
}

func (d *dispatcher) teardown(ctx context.Context) {
	for peer := range d.conns {
		d.timers.CancelAll(peer)
	}
	_ = d.node.socket.Close()
	d.emit(UserEvent{Kind: Shutdown})
	close(d.node.events)
}

func (d *dispatcher) emit(ev UserEvent) {
	select {
	case d.node.events <- ev:
	default:
		// the user-event queue is sized for normal operation; a full
		// queue means the consumer stopped reading, and blocking the
		// dispatcher here would stall every connection. Drop instead.
	}
}

func (d *dispatcher) stateFor(peer string) conn.State {
	if s, ok := d.conns[peer]; ok {
		return s
	}
	return conn.Listen{}
}

// applyStep commits the result of a conn.Step call. next == nil means the
// connection ended; a non-nil next that answers ShouldPersist() false (only
// conn.Listen does) means "stay in Listen", not "persist per-peer state" —
// an unauthenticated Init must never grow the connection table.
func (d *dispatcher) applyStep(ctx context.Context, peer string, addr net.Addr, next conn.State, actions []conn.Action) {
	if next == nil || !next.ShouldPersist() {
		delete(d.conns, peer)
		delete(d.peers, peer)
		d.timers.CancelAll(peer)
	} else {
		d.conns[peer] = next
		d.peers[peer] = addr
	}

	var chunks []wire.Chunk
	var token uint32
	for _, a := range actions {
		switch act := a.(type) {
		case conn.ChunkAction:
			chunks = append(chunks, act.Chunk)
			token = act.Token
		case conn.SetTimerAction:
			d.timers.Set(ctx, peer, act.Kind, durationFor(d.node.cfg, act.Kind))
		case conn.CancelTimerAction:
			d.timers.Cancel(peer, act.Kind)
		case conn.NotifyAction:
			d.emit(toUserEvent(peer, act.Event))
		case conn.UpstreamAction:
			d.emit(UserEvent{Peer: peer, Kind: Received, StreamID: act.StreamID, Payload: act.Payload})
		}
	}
	if len(chunks) > 0 {
		d.sendGram(ctx, addr, token, chunks)
	}
}

func (d *dispatcher) sendGram(ctx context.Context, addr net.Addr, token uint32, chunks []wire.Chunk) {
	buf, err := wire.Encode(wire.Gram{Token: token, Chunks: chunks})
	if err != nil {
		dlog.Errorf(ctx, "dispatch: encoding outbound gram: %+v", err)
		return
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return
	}
	if _, err := d.node.socket.WriteToUDP(buf, udpAddr); err != nil {
		d.emit(UserEvent{Kind: Error, Msg: err.Error()})
	}
}

func (d *dispatcher) handleGram(ctx context.Context, gfw gramFromWire) {
	peer := gfw.peer.String()
	ctx = dlog.WithField(ctx, "peer", peer)
	state := d.stateFor(peer)
	next, actions := conn.Step(state, conn.GramEvent{Gram: gfw.gram}, d.node.key, d.rnd)
	dlog.Debugf(ctx, "gram: %d chunk(s), state %T -> %T", len(gfw.gram.Chunks), state, next)
	d.applyStep(ctx, peer, gfw.peer, next, actions)
}

func (d *dispatcher) handleAPI(ctx context.Context, msg apiMsg) {
	ctx = dlog.WithField(ctx, "peer", msg.peer)
	state := d.stateFor(msg.peer)
	addr, ok := d.peers[msg.peer]
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", msg.peer)
		if err != nil {
			d.emit(UserEvent{Peer: msg.peer, Kind: Error, Msg: err.Error()})
			return
		}
		addr = resolved
	}
	next, actions := conn.Step(state, conn.ApiEvent{Call: msg.call.toConnCall()}, d.node.key, d.rnd)
	dlog.Debugf(ctx, "api call: state %T -> %T", state, next)
	d.applyStep(ctx, msg.peer, addr, next, actions)
}

func (d *dispatcher) handleTimer(ctx context.Context, fired timer.Fired[string]) {
	if !d.timers.IsCurrent(fired) {
		return
	}
	ctx = dlog.WithField(ctx, "peer", fired.Key)
	state := d.stateFor(fired.Key)
	addr := d.peers[fired.Key]
	next, actions := conn.Step(state, conn.TimerEvent{Kind: fired.Kind}, d.node.key, d.rnd)
	dlog.Debugf(ctx, "timer %s fired: state %T -> %T", fired.Kind, state, next)
	d.applyStep(ctx, fired.Key, addr, next, actions)
}

func (d *dispatcher) handleTick(ctx context.Context) {
	budget := d.nextBandwidthBudget()
	for peer, state := range d.conns {
		established, ok := state.(conn.Established)
		if !ok {
			continue
		}
		addr := d.peers[peer]
		var chunks []wire.Chunk
		for streamID, seq := range established.Streams {
			var acts []sequence.Action
			budget, acts = seq.Service(d.node.cfg.RoundTrip(), budget)
			for _, a := range acts {
				switch a.Kind {
				case sequence.TxSegment:
					chunks = append(chunks, wire.Data{StreamID: streamID, Segment: a.Segment})
				case sequence.RxSegment:
					d.emit(UserEvent{Peer: peer, Kind: Received, StreamID: streamID, Payload: a.Segment.Payload})
					chunks = append(chunks, wire.DataAck{StreamID: streamID, Seq: a.Segment.Seq})
				case sequence.DroppedReliable:
					d.emit(UserEvent{Peer: peer, Kind: Error, Msg: "dropped reliable segment"})
				}
			}
		}
		if len(chunks) > 0 {
			d.sendGram(ctx, addr, established.Tcb.TheirToken, chunks)
		}
	}
}

func (d *dispatcher) nextBandwidthBudget() int {
	maxBudget := d.node.cfg.BandwidthBudgetPerTick
	tokens := int(d.limiter.Tokens())
	if tokens > maxBudget {
		tokens = maxBudget
	}
	if tokens <= 0 {
		return 0
	}
	d.limiter.AllowN(time.Now(), tokens)
	return tokens
}

func durationFor(cfg config.Config, kind timer.Kind) time.Duration {
	switch kind {
	case timer.InitTimer:
		return cfg.InitTimer
	case timer.CookieSentTimer:
		return cfg.CookieSentTimer
	case timer.RetransmitTick:
		return cfg.RetransmitTick
	default:
		return cfg.RetransmitTick
	}
}

func toUserEvent(peer string, ev conn.UserEvent) UserEvent {
	switch v := ev.(type) {
	case conn.Connected:
		return UserEvent{Peer: peer, Kind: Connected}
	case conn.Disconnected:
		return UserEvent{Peer: peer, Kind: Disconnected}
	case conn.ConnectTimeout:
		return UserEvent{Peer: peer, Kind: ConnectTimeout}
	case conn.CfgMismatch:
		return UserEvent{Peer: peer, Kind: CfgMismatch}
	case conn.Error:
		return UserEvent{Peer: peer, Kind: Error, Msg: v.Msg}
	default:
		return UserEvent{Peer: peer, Kind: Error, Msg: "unknown user event"}
	}
}
