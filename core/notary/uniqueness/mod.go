// Package uniqueness defines the state consumption ledger, which is the
// source of truth for double-spend detection.
//
// The ledger records at most one consumption per state reference, ever. All
// mutation goes through the atomic TryReserve operation: either every state
// of a reservation gets a record pointing at the transaction, or none does
// and the full set of conflicts is reported.
package uniqueness

import (
	"context"
	"sort"
	"time"

	"github.com/mvdbos/corda/core/notary/types"
)

// Claim pairs a state reference with the way the transaction consumes it.
type Claim struct {
	Ref  types.StateRef
	Type types.ConsumptionType
}

// Reservation is the atomic batch of claims of a single transaction, along
// with the request evidence that is persisted with the records so that an
// idempotent replay can be audited.
type Reservation struct {
	// TxID is the raw identifier of the transaction claiming the states.
	TxID types.Digest

	// Inputs are the states the transaction spends.
	Inputs []types.StateRef

	// References are the states the transaction reads without spending.
	References []types.StateRef

	// Requester is the text form of the identity that signed the request.
	Requester string

	// SignatureDigest is the digest of the request signature.
	SignatureDigest types.Digest

	// Now is the time at which the commit algorithm admitted the request.
	Now time.Time
}

// Claims returns the union of the input and reference claims, deduplicated
// and sorted by state reference. The stable order lets implementations take
// per-key locks without risking a deadlock between overlapping reservations.
// A reference claimed both ways keeps the input type; the commit algorithm
// rejects such requests before they ever reach the ledger.
func (res Reservation) Claims() []Claim {
	seen := make(map[types.StateRef]struct{}, len(res.Inputs)+len(res.References))
	claims := make([]Claim, 0, len(res.Inputs)+len(res.References))

	for _, ref := range res.Inputs {
		if _, ok := seen[ref]; ok {
			continue
		}

		seen[ref] = struct{}{}
		claims = append(claims, Claim{Ref: ref, Type: types.Input})
	}

	for _, ref := range res.References {
		if _, ok := seen[ref]; ok {
			continue
		}

		seen[ref] = struct{}{}
		claims = append(claims, Claim{Ref: ref, Type: types.ReferenceInput})
	}

	sort.Slice(claims, func(i, j int) bool {
		return claims[i].Ref.Compare(claims[j].Ref) < 0
	})

	return claims
}

// RequestEntry is the evidence of a notarization request kept alongside the
// records, so that a replayed commit can be audited against the original
// request.
type RequestEntry struct {
	Requester       string
	SignatureDigest types.Digest
	RecordedAt      time.Time
}

// Ledger is a persistent mapping from state reference to the record of its
// consumption.
type Ledger interface {
	// TryReserve attempts to record the consumption of every state of the
	// reservation in one atomic operation. It returns the full list of
	// conflicting states when at least one of them is already consumed by a
	// different transaction, in which case nothing is written. A state
	// already consumed by the same transaction is not a conflict, so that a
	// retry of a committed transaction succeeds again.
	//
	// An error means the storage failed and nothing can be said about the
	// states; the caller may safely retry.
	TryReserve(ctx context.Context, res Reservation) ([]types.Conflict, error)

	// ConsumedBy returns the state references recorded as consumed by the
	// given transaction, sorted by reference. It exists for audit and
	// debugging purposes.
	ConsumedBy(ctx context.Context, txID types.Digest) ([]types.StateRef, error)

	// GetRequest returns the evidence of the request that committed the
	// given transaction, or nil when the transaction is unknown.
	GetRequest(ctx context.Context, txID types.Digest) (*RequestEntry, error)
}
