// Package sequence implements the per-stream sliding-window sequenced
// reliable delivery channel: in-order buffering on receive, retransmission
// with a bounded retry budget on send, and give-up once that budget is
// exhausted.
package sequence

import (
	"time"

	"github.com/miknet/miknet/pkg/wire"
)

// MaxTries is the retransmission budget for one segment. A segment
// transmitted MaxTries times without being acked is abandoned.
const MaxTries = 5

// ActionKind distinguishes the three things a Service pass can ask the
// owner to do.
type ActionKind int

const (
	// TxSegment asks the owner to transmit Segment as a Data chunk.
	TxSegment ActionKind = iota
	// RxSegment asks the owner to deliver Segment's payload upstream.
	RxSegment
	// DroppedReliable reports that Seq was abandoned after MaxTries.
	DroppedReliable
)

// Action is one unit of work produced by Service.
type Action struct {
	Kind    ActionKind
	Segment wire.Segment
	Seq     uint32 // valid when Kind == DroppedReliable
}

// segState is the lifecycle of one outgoing segment.
type segState int

const (
	segStaged segState = iota
	segOnline
	segFailed
)

type outgoingSlot struct {
	state      segState
	txs        int
	lastSentAt time.Time
	segment    wire.Segment
}

func (s outgoingSlot) bytes() int {
	return 4 + len(s.segment.Payload)
}

func (s outgoingSlot) shouldSend(roundTrip time.Duration, bandwidthAllowed int, now time.Time) bool {
	switch s.state {
	case segStaged:
		return s.bytes() <= bandwidthAllowed
	case segOnline:
		return now.Sub(s.lastSentAt) >= roundTrip && s.bytes() <= bandwidthAllowed
	default:
		return false
	}
}

// Sequence manages sequenced reliable delivery and reception of data
// segments on one stream. Outgoing segments are retried up to MaxTries;
// incoming segments can only be dequeued once the next-in-order segment has
// arrived.
type Sequence struct {
	outNext  uint32
	outSlots map[uint32]*outgoingSlot
	outOrder []uint32 // ascending seqs currently in outSlots, kept sorted

	// inDelivered is the next seq Service will hand upstream; inSlots holds
	// everything received at or after it that hasn't been dequeued yet.
	inDelivered uint32
	inSlots     map[uint32]wire.Segment
}

// New returns a Sequence that starts counting from the given initial
// sequence numbers, matching the tsn values negotiated at handshake.
func New(inSeq, outSeq uint32) *Sequence {
	return &Sequence{
		outNext:     outSeq,
		outSlots:    make(map[uint32]*outgoingSlot),
		inDelivered: inSeq,
		inSlots:     make(map[uint32]wire.Segment),
	}
}

// Tx stages payload for transmission and returns the sequence number
// assigned to it. outgoing.next_seq is strictly monotonic: it is never
// reused, even for a segment that is later marked Failed.
func (s *Sequence) Tx(payload []byte) uint32 {
	seq := s.outNext
	s.outNext++
	s.outSlots[seq] = &outgoingSlot{state: segStaged, segment: wire.Segment{Seq: seq, Payload: payload}}
	s.outOrder = insertSorted(s.outOrder, seq)
	return seq
}

// Rx stages a received segment for delivery. Service surfaces it upstream
// once every lower seq has also arrived.
func (s *Sequence) Rx(seg wire.Segment) {
	if seg.Seq < s.inDelivered {
		return // already surfaced upstream; at-most-one delivery per seq
	}
	s.inSlots[seg.Seq] = seg
}

// Ack removes seq from the outgoing window; it will never be retransmitted.
func (s *Sequence) Ack(seq uint32) {
	if _, ok := s.outSlots[seq]; !ok {
		return
	}
	delete(s.outSlots, seq)
	s.outOrder = removeSorted(s.outOrder, seq)
}

// Service runs one retransmit-tick pass: it transmits or retransmits
// eligible outgoing segments within bandwidthBudget, gives up on any segment
// that has exhausted MaxTries, and dequeues any contiguous run of received
// segments. It returns the unspent budget and the actions the owner must
// execute, in the order the spec defines: tx/retry/drop pass in ascending
// seq, then the rx-dequeue pass.
func (s *Sequence) Service(roundTrip time.Duration, bandwidthBudget int) (int, []Action) {
	return s.service(roundTrip, bandwidthBudget, time.Now())
}

func (s *Sequence) service(roundTrip time.Duration, bandwidthBudget int, now time.Time) (int, []Action) {
	var actions []Action

	for _, seq := range append([]uint32(nil), s.outOrder...) {
		slot := s.outSlots[seq]
		if slot == nil || !slot.shouldSend(roundTrip, bandwidthBudget, now) {
			continue
		}
		switch slot.state {
		case segStaged:
			slot.state = segOnline
			slot.txs = 1
			slot.lastSentAt = now
			bandwidthBudget -= slot.bytes()
			actions = append(actions, Action{Kind: TxSegment, Segment: slot.segment})
		case segOnline:
			if slot.txs >= MaxTries {
				slot.state = segFailed
				delete(s.outSlots, seq)
				s.outOrder = removeSorted(s.outOrder, seq)
				actions = append(actions, Action{Kind: DroppedReliable, Seq: seq})
				continue
			}
			slot.txs++
			slot.lastSentAt = now
			bandwidthBudget -= slot.bytes()
			actions = append(actions, Action{Kind: TxSegment, Segment: slot.segment})
		}
	}

	for {
		seg, ok := s.inSlots[s.inDelivered]
		if !ok {
			break
		}
		delete(s.inSlots, seg.Seq)
		actions = append(actions, Action{Kind: RxSegment, Segment: seg})
		s.inDelivered++
	}

	return bandwidthBudget, actions
}

func insertSorted(order []uint32, seq uint32) []uint32 {
	i := 0
	for i < len(order) && order[i] < seq {
		i++
	}
	order = append(order, 0)
	copy(order[i+1:], order[i:])
	order[i] = seq
	return order
}

func removeSorted(order []uint32, seq uint32) []uint32 {
	for i, v := range order {
		if v == seq {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
