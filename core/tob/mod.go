// Package tob defines the total-order broadcast abstraction used by the
// replicated notary.
//
// Every replica registers an applier; a proposal is delivered to every
// applier in the same global order, so that all replicas take the identical
// sequence of decisions. The transport keeping the replicas in sync is an
// external concern: implementations may rely on a consensus protocol, the
// direct subpackage provides an in-process one.
package tob

import (
	"context"

	"golang.org/x/xerrors"
)

// ErrNoQuorum is returned by a proposal when the broadcast cannot reach
// enough replicas to establish an order, typically because of a network
// partition. The caller may safely retry the proposal later.
var ErrNoQuorum = xerrors.New("no quorum")

// Applier processes the proposals once they are ordered. Appliers of all the
// replicas observe the same proposals in the same order and must therefore be
// deterministic.
type Applier interface {
	// Apply processes an ordered proposal and returns the resulting payload.
	Apply(data []byte) ([]byte, error)
}

// Actor provides the primitive to propose to the broadcast, afterwards the
// handler through Listen.
type Actor interface {
	// Propose submits the data to the broadcast and blocks until it has been
	// applied, returning the result of the local applier. It fails with an
	// error wrapping ErrNoQuorum when the order cannot be established.
	Propose(ctx context.Context, data []byte) ([]byte, error)
}

// Broadcast is the interface to join a total-order broadcast.
type Broadcast interface {
	// Listen registers the applier of this replica and returns the actor to
	// make proposals.
	Listen(Applier) (Actor, error)
}
