package node

import (
	"context"
	"math/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miknet/miknet/pkg/config"
	"github.com/miknet/miknet/pkg/conn"
	"github.com/miknet/miknet/pkg/cookie"
	"github.com/miknet/miknet/pkg/wire"
)

func testDispatcher(t *testing.T) *dispatcher {
	t.Helper()
	socket, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = socket.Close() })

	key, err := cookie.NewKey()
	require.NoError(t, err)

	n := &Node{
		socket: socket,
		cfg:    config.Default(),
		key:    key,
		events: make(chan UserEvent, 64),
	}
	return newDispatcher(n, rand.New(rand.NewSource(1)))
}

// A forged Init from an address this node never dials must not grow the
// connection table: Listen is a legitimate non-nil State (listenChunk
// returns it to mean "stay in Listen"), not a request to persist state for
// an unauthenticated sender.
func TestApplyStepDoesNotPersistListenState(t *testing.T) {
	d := testDispatcher(t)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 20000 + i}
		next, actions := conn.Step(conn.Listen{}, conn.ChunkEvent{Chunk: wire.Init{Token: uint32(i), TSN: uint32(i)}}, d.node.key, d.rnd)
		d.applyStep(ctx, addr.String(), addr, next, actions)
	}

	assert.Empty(t, d.conns, "an unauthenticated Init must never grow the connection table")
	assert.Empty(t, d.peers)
}

func TestApplyStepPersistsNonListenState(t *testing.T) {
	d := testDispatcher(t)
	ctx := context.Background()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30000}

	next, actions := conn.Step(conn.Listen{}, conn.ApiEvent{Call: conn.ConnectCall{}}, d.node.key, d.rnd)
	d.applyStep(ctx, addr.String(), addr, next, actions)

	require.Len(t, d.conns, 1)
	require.IsType(t, conn.InitSent{}, d.conns[addr.String()])
}

func TestShouldPersistIsFalseOnlyForListen(t *testing.T) {
	assert.False(t, conn.Listen{}.ShouldPersist())
	assert.True(t, conn.InitSent{}.ShouldPersist())
	assert.True(t, conn.CookieEchoed{}.ShouldPersist())
	assert.True(t, conn.Established{}.ShouldPersist())
	assert.True(t, conn.ShutdownSent{}.ShouldPersist())
	assert.True(t, conn.ShutdownAckSent{}.ShouldPersist())
}
