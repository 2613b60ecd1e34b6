package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/miknet/miknet/pkg/cookie"
)

// ErrInvalidGram is returned by Decode for any buffer that does not decode
// to a well-formed Gram. It is always non-fatal to a caller: a transient
// wire error is dropped, never propagated as a connection failure.
var ErrInvalidGram = errors.New("wire: invalid gram")

const (
	tagInit = iota + 1
	tagInitAck
	tagCookieEcho
	tagCookieAck
	tagShutdown
	tagShutdownAck
	tagShutdownComplete
	tagCfgMismatch
	tagData
	tagDataAck
)

// Encode produces the deterministic binary encoding of g. Decode(Encode(g))
// reproduces g for every Gram Encode accepts.
func Encode(g Gram) ([]byte, error) {
	if len(g.Chunks) > 0xff {
		return nil, errors.Errorf("wire: gram carries %d chunks, more than 255 fit the wire format", len(g.Chunks))
	}

	var buf bytes.Buffer
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], g.Token)
	buf.Write(tmp[:])
	buf.WriteByte(byte(len(g.Chunks)))

	for _, c := range g.Chunks {
		if err := encodeChunk(&buf, c); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeChunk(buf *bytes.Buffer, c Chunk) error {
	var tmp [4]byte
	switch v := c.(type) {
	case Init:
		buf.WriteByte(tagInit)
		binary.BigEndian.PutUint32(tmp[:], v.Token)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint32(tmp[:], v.TSN)
		buf.Write(tmp[:])
	case InitAck:
		buf.WriteByte(tagInitAck)
		binary.BigEndian.PutUint32(tmp[:], v.Token)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint32(tmp[:], v.TSN)
		buf.Write(tmp[:])
		writeCookie(buf, v.Cookie)
	case CookieEcho:
		buf.WriteByte(tagCookieEcho)
		writeCookie(buf, v.Cookie)
	case CookieAck:
		buf.WriteByte(tagCookieAck)
	case Shutdown:
		buf.WriteByte(tagShutdown)
	case ShutdownAck:
		buf.WriteByte(tagShutdownAck)
	case ShutdownComplete:
		buf.WriteByte(tagShutdownComplete)
	case CfgMismatch:
		buf.WriteByte(tagCfgMismatch)
	case Data:
		if len(v.Segment.Payload) > 0xffff {
			return errors.Errorf("wire: segment payload of %d bytes exceeds the 16-bit length prefix", len(v.Segment.Payload))
		}
		buf.WriteByte(tagData)
		buf.WriteByte(v.StreamID)
		binary.BigEndian.PutUint32(tmp[:], v.Segment.Seq)
		buf.Write(tmp[:])
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(v.Segment.Payload)))
		buf.Write(lenBuf[:])
		buf.Write(v.Segment.Payload)
	case DataAck:
		buf.WriteByte(tagDataAck)
		buf.WriteByte(v.StreamID)
		binary.BigEndian.PutUint32(tmp[:], v.Seq)
		buf.Write(tmp[:])
	default:
		return errors.Errorf("wire: unknown chunk type %T", c)
	}
	return nil
}

func writeCookie(buf *bytes.Buffer, sc cookie.StateCookie) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], sc.Tcb.OurTSN)
	buf.Write(tmp[:])
	binary.BigEndian.PutUint32(tmp[:], sc.Tcb.OurToken)
	buf.Write(tmp[:])
	binary.BigEndian.PutUint32(tmp[:], sc.Tcb.TheirTSN)
	buf.Write(tmp[:])
	binary.BigEndian.PutUint32(tmp[:], sc.Tcb.TheirToken)
	buf.Write(tmp[:])
	buf.Write(sc.HMAC[:])
}

// Decode parses buf into a Gram. Any malformed input yields ErrInvalidGram
// wrapping the specific cause; the caller is expected to drop it silently.
func Decode(buf []byte) (Gram, error) {
	r := &cursor{buf: buf}
	token, ok := r.uint32()
	if !ok {
		return Gram{}, errors.Wrap(ErrInvalidGram, "truncated token")
	}
	count, ok := r.byte()
	if !ok {
		return Gram{}, errors.Wrap(ErrInvalidGram, "truncated chunk count")
	}

	chunks := make([]Chunk, 0, count)
	for i := 0; i < int(count); i++ {
		c, err := decodeChunk(r)
		if err != nil {
			return Gram{}, err
		}
		chunks = append(chunks, c)
	}
	if !r.exhausted() {
		return Gram{}, errors.Wrap(ErrInvalidGram, "trailing bytes after last chunk")
	}
	return Gram{Token: token, Chunks: chunks}, nil
}

func decodeChunk(r *cursor) (Chunk, error) {
	tag, ok := r.byte()
	if !ok {
		return nil, errors.Wrap(ErrInvalidGram, "truncated chunk tag")
	}
	switch tag {
	case tagInit:
		token, ok1 := r.uint32()
		tsn, ok2 := r.uint32()
		if !ok1 || !ok2 {
			return nil, errors.Wrap(ErrInvalidGram, "truncated init chunk")
		}
		return Init{Token: token, TSN: tsn}, nil
	case tagInitAck:
		token, ok1 := r.uint32()
		tsn, ok2 := r.uint32()
		sc, ok3 := readCookie(r)
		if !ok1 || !ok2 || !ok3 {
			return nil, errors.Wrap(ErrInvalidGram, "truncated init-ack chunk")
		}
		return InitAck{Token: token, TSN: tsn, Cookie: sc}, nil
	case tagCookieEcho:
		sc, ok := readCookie(r)
		if !ok {
			return nil, errors.Wrap(ErrInvalidGram, "truncated cookie-echo chunk")
		}
		return CookieEcho{Cookie: sc}, nil
	case tagCookieAck:
		return CookieAck{}, nil
	case tagShutdown:
		return Shutdown{}, nil
	case tagShutdownAck:
		return ShutdownAck{}, nil
	case tagShutdownComplete:
		return ShutdownComplete{}, nil
	case tagCfgMismatch:
		return CfgMismatch{}, nil
	case tagData:
		streamID, ok1 := r.byte()
		seq, ok2 := r.uint32()
		n, ok3 := r.uint16()
		if !ok1 || !ok2 || !ok3 {
			return nil, errors.Wrap(ErrInvalidGram, "truncated data chunk header")
		}
		payload, ok4 := r.bytes(int(n))
		if !ok4 {
			return nil, errors.Wrap(ErrInvalidGram, "truncated data chunk payload")
		}
		// Copy out of the shared decode buffer: callers may reuse it.
		owned := make([]byte, len(payload))
		copy(owned, payload)
		return Data{StreamID: streamID, Segment: Segment{Seq: seq, Payload: owned}}, nil
	case tagDataAck:
		streamID, ok1 := r.byte()
		seq, ok2 := r.uint32()
		if !ok1 || !ok2 {
			return nil, errors.Wrap(ErrInvalidGram, "truncated data-ack chunk")
		}
		return DataAck{StreamID: streamID, Seq: seq}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidGram, "unknown chunk tag %d", tag)
	}
}

func readCookie(r *cursor) (cookie.StateCookie, bool) {
	ourTSN, ok1 := r.uint32()
	ourToken, ok2 := r.uint32()
	theirTSN, ok3 := r.uint32()
	theirToken, ok4 := r.uint32()
	hmacBytes, ok5 := r.bytes(cookie.KeySize)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return cookie.StateCookie{}, false
	}
	var sc cookie.StateCookie
	sc.Tcb = cookie.Tcb{OurTSN: ourTSN, OurToken: ourToken, TheirTSN: theirTSN, TheirToken: theirToken}
	copy(sc.HMAC[:], hmacBytes)
	return sc, true
}

// cursor is a small bounds-checked reader over a byte slice.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) byte() (byte, bool) {
	if c.pos+1 > len(c.buf) {
		return 0, false
	}
	b := c.buf[c.pos]
	c.pos++
	return b, true
}

func (c *cursor) uint16() (uint16, bool) {
	b, ok := c.bytes(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (c *cursor) uint32() (uint32, bool) {
	b, ok := c.bytes(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

func (c *cursor) bytes(n int) ([]byte, bool) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, false
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

func (c *cursor) exhausted() bool {
	return c.pos == len(c.buf)
}
