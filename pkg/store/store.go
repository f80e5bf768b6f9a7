// Package store names the external collaborators the core consumes by
// interface only: the content-addressed object store, the
// signer/verifier, and the identity document. Nothing in this package
// persists anything itself; concrete implementations live outside the
// core and are injected at the engine's construction.
package store

import (
	"context"

	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
)

// ObjectStore is the git-like content-addressed repository store. The
// core only needs to know whether a project is present locally, what
// its current head is, and how to fetch/put raw refs data for an
// already-negotiated Fetch exchange.
type ObjectStore interface {
	// Has reports whether p is present locally and returns its current
	// head reference.
	Has(ctx context.Context, p pid.ID) (head string, ok bool, err error)
	// IsPublic reports whether p's visibility allows announcing to any
	// connected peer rather than only identity-document-visible ones.
	IsPublic(ctx context.Context, p pid.ID) (bool, error)
	// Fetch pulls p's repository state from a remote peer, used by the
	// Sync Orchestrator's fetch loop once a FetchResponse succeeds.
	Fetch(ctx context.Context, p pid.ID, from nid.ID) error
}

// Verifier checks a RefsAnnouncement signature and a Hello handshake's
// identity proof. Signing itself (producing a Signature) is entirely
// external to the core — the engine only ever verifies what it's handed.
type Verifier interface {
	Verify(n nid.ID, message, signature []byte) bool
}

// IdentityDocument exposes the visibility rules a private project's
// announce loop must respect: which NIDs are allowed to receive an
// announcement for a given project.
type IdentityDocument interface {
	VisibleTo(p pid.ID) (map[nid.ID]struct{}, error)
}
