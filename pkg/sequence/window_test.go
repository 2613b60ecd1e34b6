package sequence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miknet/miknet/pkg/sequence"
	"github.com/miknet/miknet/pkg/wire"
)

func txKinds(actions []sequence.Action, kind sequence.ActionKind) []sequence.Action {
	var out []sequence.Action
	for _, a := range actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestTxAssignsMonotonicSeqs(t *testing.T) {
	seq := sequence.New(0, 100)
	a := seq.Tx([]byte("a"))
	b := seq.Tx([]byte("b"))
	c := seq.Tx([]byte("c"))

	assert.Equal(t, uint32(100), a)
	assert.Equal(t, uint32(101), b)
	assert.Equal(t, uint32(102), c)
}

func TestServiceSendsStagedSegmentOnFirstTick(t *testing.T) {
	seq := sequence.New(0, 0)
	seq.Tx([]byte("payload"))

	_, actions := seq.Service(50*time.Millisecond, 4096)

	txs := txKinds(actions, sequence.TxSegment)
	require.Len(t, txs, 1)
	assert.Equal(t, []byte("payload"), txs[0].Segment.Payload)
}

func TestServiceDoesNotResendWithinRoundTrip(t *testing.T) {
	seq := sequence.New(0, 0)
	seq.Tx([]byte("payload"))

	_, first := seq.Service(time.Hour, 4096)
	require.Len(t, txKinds(first, sequence.TxSegment), 1)

	// round trip has not elapsed: no retransmission yet.
	_, second := seq.Service(time.Hour, 4096)
	assert.Empty(t, txKinds(second, sequence.TxSegment))
}

func TestAckRemovesSegmentFromRetransmission(t *testing.T) {
	seq := sequence.New(0, 0)
	s := seq.Tx([]byte("payload"))
	seq.Service(0, 4096)

	seq.Ack(s)

	_, actions := seq.Service(0, 4096)
	assert.Empty(t, txKinds(actions, sequence.TxSegment))
}

func TestServiceDropsReliableSegmentAfterMaxTries(t *testing.T) {
	seq := sequence.New(0, 0)
	seq.Tx([]byte("payload"))

	var dropped []sequence.Action
	for i := 0; i < sequence.MaxTries; i++ {
		_, actions := seq.Service(0, 4096)
		dropped = append(dropped, txKinds(actions, sequence.DroppedReliable)...)
	}
	assert.Empty(t, dropped, "should not give up before MaxTries attempts")

	_, actions := seq.Service(0, 4096)
	drops := txKinds(actions, sequence.DroppedReliable)
	require.Len(t, drops, 1)

	// once failed, it is gone for good: no further tx or drop events.
	_, after := seq.Service(0, 4096)
	assert.Empty(t, after)
}

func TestServiceRespectsBandwidthBudget(t *testing.T) {
	seq := sequence.New(0, 0)
	seq.Tx([]byte("aaaa")) // 4 + 4 = 8 bytes
	seq.Tx([]byte("bbbb"))

	remaining, actions := seq.Service(0, 8)

	require.Len(t, txKinds(actions, sequence.TxSegment), 1, "only one segment should fit the budget")
	assert.Equal(t, 0, remaining)
}

func TestRxDeliversInOrderOnly(t *testing.T) {
	seq := sequence.New(0, 0)
	seq.Rx(wire.Segment{Seq: 1, Payload: []byte("b")})

	_, actions := seq.Service(0, 4096)
	assert.Empty(t, txKinds(actions, sequence.RxSegment), "seq 1 cannot be delivered before seq 0 arrives")

	seq.Rx(wire.Segment{Seq: 0, Payload: []byte("a")})
	_, actions = seq.Service(0, 4096)
	rx := txKinds(actions, sequence.RxSegment)
	require.Len(t, rx, 2)
	assert.Equal(t, uint32(0), rx[0].Segment.Seq)
	assert.Equal(t, uint32(1), rx[1].Segment.Seq)
}

func TestRxIgnoresDuplicateBelowDeliveredCursor(t *testing.T) {
	seq := sequence.New(0, 0)
	seq.Rx(wire.Segment{Seq: 0, Payload: []byte("a")})
	seq.Service(0, 4096)

	// redelivering seq 0 must not surface it again.
	seq.Rx(wire.Segment{Seq: 0, Payload: []byte("a")})
	_, actions := seq.Service(0, 4096)
	assert.Empty(t, txKinds(actions, sequence.RxSegment))
}
