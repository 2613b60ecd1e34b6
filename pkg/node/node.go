// Package node implements the per-node UDP dispatcher: the single-writer
// event loop that multiplexes one socket across many peer connection state
// machines, and the user-facing connect/send/disconnect/shutdown API.
package node

import (
	"context"
	"encoding/binary"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/miknet/miknet/pkg/config"
	"github.com/miknet/miknet/pkg/cookie"
)

// Option customizes Bind.
type Option func(*options)

type options struct {
	cfg       config.Config
	cfgIsUser bool
}

// WithConfig overrides the environment-loaded Config with cfg.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
		o.cfgIsUser = true
	}
}

// Node owns one UDP socket and every peer connection state machine bound to
// it. All exported methods are safe to call concurrently; they hand
// requests to the single dispatch goroutine rather than touching any
// dispatcher state directly.
type Node struct {
	socket *net.UDPConn
	cfg    config.Config
	key    cookie.Key

	apiCh      chan apiMsg
	shutdownCh chan struct{}
	events     chan UserEvent

	group *dgroup.Group

	closeOnce sync.Once
}

type apiMsg struct {
	peer string
	call apiCallEnvelope
}

// Bind opens a UDP socket on localAddr and starts the dispatcher. The
// returned channel is closed once Shutdown has fully drained.
func Bind(ctx context.Context, localAddr string, opts ...Option) (*Node, <-chan UserEvent, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.cfgIsUser {
		cfg, err := config.Load(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "node: loading config")
		}
		o.cfg = cfg
	}

	key, err := cookie.NewKey()
	if err != nil {
		return nil, nil, errors.Wrap(err, "node: generating node key")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "node: resolving local address %q", localAddr)
	}
	socket, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "node: binding %q", localAddr)
	}
	tuneSocketBuffers(ctx, socket, o.cfg.BandwidthBudgetPerTick)

	n := &Node{
		socket:     socket,
		cfg:        o.cfg,
		key:        key,
		apiCh:      make(chan apiMsg),
		shutdownCh: make(chan struct{}),
		events:     make(chan UserEvent, 64),
	}

	ctx = dlog.WithField(ctx, "node_id", uuid.New().String())
	ctx = dlog.WithField(ctx, "local_addr", socket.LocalAddr().String())
	ctx = dgroup.WithGoroutineName(ctx, "/"+localAddr)
	n.group = dgroup.NewGroup(ctx, dgroup.GroupConfig{
		SoftShutdownTimeout:  2 * time.Second,
		EnableSignalHandling: false,
		ShutdownOnNonError:   true,
	})

	rnd := rand.New(rand.NewSource(seedFromKey(key)))
	d := newDispatcher(n, rnd)
	d.run(n.group)

	return n, n.events, nil
}

// seedFromKey derives a math/rand seed from the node's already-secure key
// rather than drawing a second value from the OS RNG.
func seedFromKey(key cookie.Key) int64 {
	return int64(binary.BigEndian.Uint64(key[:8]))
}

func tuneSocketBuffers(ctx context.Context, socket *net.UDPConn, bandwidthBudget int) {
	raw, err := socket.SyscallConn()
	if err != nil {
		dlog.Warnf(ctx, "node: could not access socket fd to tune buffers: %v", err)
		return
	}
	// A few ticks' worth of headroom absorbs a burst without the kernel
	// dropping datagrams before the dispatcher can read them.
	size := bandwidthBudget * 4
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
			dlog.Warnf(ctx, "node: SO_RCVBUF: %v", err)
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size); err != nil {
			dlog.Warnf(ctx, "node: SO_SNDBUF: %v", err)
		}
	})
	if ctrlErr != nil {
		dlog.Warnf(ctx, "node: tuning socket buffers: %v", ctrlErr)
	}
}

// LocalAddr returns the address the node's socket is bound to.
func (n *Node) LocalAddr() net.Addr {
	return n.socket.LocalAddr()
}

// Connect enqueues a request to begin the handshake with peerAddr.
func (n *Node) Connect(peerAddr string) error {
	return n.sendAPI(peerAddr, apiCallEnvelope{kind: callConnect})
}

// Send enqueues payload for reliable delivery to peerAddr on streamID.
func (n *Node) Send(peerAddr string, streamID uint8, payload []byte) error {
	return n.sendAPI(peerAddr, apiCallEnvelope{kind: callSend, streamID: streamID, payload: payload})
}

// Disconnect enqueues a graceful shutdown request for peerAddr.
func (n *Node) Disconnect(peerAddr string) error {
	return n.sendAPI(peerAddr, apiCallEnvelope{kind: callDisconnect})
}

func (n *Node) sendAPI(peerAddr string, call apiCallEnvelope) error {
	addr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return errors.Wrapf(err, "node: resolving peer address %q", peerAddr)
	}
	select {
	case n.apiCh <- apiMsg{peer: addr.String(), call: call}:
		return nil
	case <-n.shutdownCh:
		return errors.New("node: closed")
	}
}

// Shutdown signals the dispatcher to end gracefully: new API calls are
// refused and the dispatcher closes the socket. It returns without waiting
// for the goroutines to exit; Wait does that. It is safe to call more than
// once.
func (n *Node) Shutdown() {
	n.closeOnce.Do(func() {
		close(n.shutdownCh)
	})
}

// Wait blocks until the dispatcher has fully stopped, returning the
// aggregated error (if any) from its supervised goroutines.
func (n *Node) Wait() error {
	return n.group.Wait()
}
