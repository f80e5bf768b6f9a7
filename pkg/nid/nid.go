// Package nid defines the node identifier used throughout the mesh: a
// compressed secp256k1 public key naming a peer. It is comparable and
// hashable so it can be used directly as a map key in the routing table
// and session registry.
package nid

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
)

// Size is the length in bytes of a compressed secp256k1 public key.
const Size = 33

// ID is a Node Identifier: a public key uniquely naming a peer.
type ID [Size]byte

// Empty reports whether id is the zero value.
func (id ID) Empty() bool {
	return id == ID{}
}

// Less defines a total lexicographic ordering over identifiers, used to
// resolve which side of a simultaneous inbound/outbound dial yields.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// String renders the NID as base58 for CLI and log display.
func (id ID) String() string {
	return base58.Encode(id[:])
}

// Hex renders the NID as a hex string, convenient for JSON control-socket
// responses that need to round-trip exactly.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// FromPublicKey derives a NID from a secp256k1 public key.
func FromPublicKey(pub *secp256k1.PublicKey) ID {
	var id ID
	copy(id[:], pub.SerializeCompressed())
	return id
}

// PublicKey parses the NID back into a secp256k1 public key, e.g. to
// verify a Hello handshake signature or a RefsAnnouncement signature.
func (id ID) PublicKey() (*secp256k1.PublicKey, error) {
	return secp256k1.ParsePubKey(id[:])
}

// Parse decodes a base58-encoded NID, as accepted from CLI flags
// (--seed NID) and control-socket command arguments.
func Parse(s string) (ID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return ID{}, fmt.Errorf("nid: invalid base58: %w", err)
	}
	if len(b) != Size {
		return ID{}, errors.New("nid: wrong length")
	}
	var id ID
	copy(id[:], b)
	return id, nil
}
