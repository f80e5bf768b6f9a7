// Package identity provides a development keypair and a store.Verifier
// implementation over it, enough to exercise the Hello handshake and
// RefsAnnouncement signature checks in tests and single-node runs
// without a real signer/identity-document service attached.
package identity

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/driftmesh/node/pkg/nid"
)

// LocalKey is a development keypair: a NID plus the private key that
// names it.
type LocalKey struct {
	priv *secp256k1.PrivateKey
}

// Generate creates a fresh development keypair.
func Generate() (*LocalKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &LocalKey{priv: priv}, nil
}

// NID derives this key's Node Identifier.
func (k *LocalKey) NID() nid.ID {
	return nid.FromPublicKey(k.priv.PubKey())
}

// Sign produces a deterministic (RFC 6979) ECDSA signature over
// message, serialized in DER form, the encoding Verify parses.
func (k *LocalKey) Sign(message []byte) []byte {
	sig := ecdsa.Sign(k.priv, message)
	return sig.Serialize()
}

// Verifier implements store.Verifier against the secp256k1 public key
// embedded in each NID: no private key material is needed to check a
// signature, so this type carries no state.
type Verifier struct{}

// Verify reports whether signature is a valid ECDSA signature over
// message under n's public key.
func (Verifier) Verify(n nid.ID, message, signature []byte) bool {
	pub, err := n.PublicKey()
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(message, pub)
}
