package cookie

import (
	"crypto/hmac"
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Tcb (Transmission Control Block) is the four-tuple of sequence numbers and
// tokens that defines an association. It is created at handshake time and
// carried forward by the Established state and the shutdown states.
type Tcb struct {
	OurTSN     uint32
	OurToken   uint32
	TheirTSN   uint32
	TheirToken uint32
}

// bytes returns the deterministic, fixed-width encoding of the Tcb used as
// the HMAC input. It intentionally does not reuse the wire codec: the cookie
// package must not depend on pkg/wire, and the encoding only ever needs to
// be self-consistent between Sign and Verify on this node.
func (t Tcb) bytes() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], t.OurTSN)
	binary.BigEndian.PutUint32(buf[4:8], t.OurToken)
	binary.BigEndian.PutUint32(buf[8:12], t.TheirTSN)
	binary.BigEndian.PutUint32(buf[12:16], t.TheirToken)
	return buf
}

// StateCookie is the HMAC-signed Tcb shipped to the initiator during the
// handshake and round-tripped back as CookieEcho. It lets a listener respond
// to an Init and later accept the matching CookieEcho without ever having
// persisted per-initiator state in between.
type StateCookie struct {
	Tcb  Tcb
	HMAC [KeySize]byte
}

// Sign returns a StateCookie binding tcb to key.
func Sign(tcb Tcb, key Key) StateCookie {
	return StateCookie{Tcb: tcb, HMAC: mac(tcb, key)}
}

// Verify reports whether cookie was signed by key, using a constant-time MAC
// comparison.
func Verify(c StateCookie, key Key) bool {
	return hmac.Equal(c.HMAC[:], mac(c.Tcb, key)[:])
}

func mac(tcb Tcb, key Key) [KeySize]byte {
	h := hmac.New(sha3.New256, key[:])
	h.Write(tcb.bytes())
	var sum [KeySize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
