// Package pid defines the Project Identifier: a stable opaque identifier
// for a repository, carried throughout the routing table, inventory
// gossip, and sync orchestrator.
package pid

import (
	"encoding/hex"
	"errors"

	"github.com/holiman/uint256"
)

// Size is the length in bytes of a project identifier (a content hash).
const Size = 32

// ID is a content-addressed Project Identifier. Ordering (Less) goes
// through uint256 rather than a byte-by-byte loop.
type ID [Size]byte

// Empty reports whether id is the zero value.
func (id ID) Empty() bool {
	return id == ID{}
}

// Int returns the big-endian numeric interpretation of id, used by
// Less.
func (id ID) Int() *uint256.Int {
	return new(uint256.Int).SetBytes(id[:])
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Int().Lt(other.Int())
}

// String renders the PID as hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Parse decodes a hex-encoded PID.
func Parse(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, err
	}
	if len(b) != Size {
		return ID{}, errors.New("pid: wrong length")
	}
	var id ID
	copy(id[:], b)
	return id, nil
}
