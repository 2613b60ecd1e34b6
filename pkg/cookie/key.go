// Package cookie implements the DoS-resistant state-cookie handshake
// primitives: the per-node signing key and the signed transmission control
// block that lets a listener respond to an Init without keeping any state.
package cookie

import (
	"crypto/rand"

	"github.com/pkg/errors"
)

// KeySize is the length in bytes of a node's signing key.
const KeySize = 32

// Key authenticates state cookies minted by one node. It is generated once
// at node start from the OS CSPRNG and never transmitted.
type Key [KeySize]byte

// NewKey returns a Key filled with KeySize bytes from the OS CSPRNG.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, errors.Wrap(err, "cookie: rng failure generating key")
	}
	return k, nil
}
