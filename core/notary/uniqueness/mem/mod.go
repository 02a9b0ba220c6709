// Package mem implements an in-memory state consumption ledger.
//
// Reservations serialize per state reference, not globally: each reference
// has its own lock and a reservation takes the locks of its claims in sorted
// order, so that two overlapping reservations cannot deadlock while two
// disjoint ones proceed fully in parallel.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"golang.org/x/xerrors"
)

// Ledger is an in-memory implementation of the state consumption ledger.
//
// - implements uniqueness.Ledger
type Ledger struct {
	locks   sync.Map // types.StateRef => *sync.Mutex
	records sync.Map // types.StateRef => types.Record

	mu       sync.Mutex
	byTx     map[types.Digest][]types.StateRef
	requests map[types.Digest]uniqueness.RequestEntry
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byTx:     make(map[types.Digest][]types.StateRef),
		requests: make(map[types.Digest]uniqueness.RequestEntry),
	}
}

// TryReserve implements uniqueness.Ledger. It records the consumption of
// every claim of the reservation, or none of them when at least one state is
// already consumed by a different transaction.
func (l *Ledger) TryReserve(ctx context.Context,
	res uniqueness.Reservation) ([]types.Conflict, error) {

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("context done: %v", err)
	}

	claims := res.Claims()

	// Claims come sorted by reference, which makes the lock acquisition
	// order deterministic across overlapping reservations.
	for _, claim := range claims {
		lock, _ := l.locks.LoadOrStore(claim.Ref, &sync.Mutex{})
		lock.(*sync.Mutex).Lock()
	}

	defer func() {
		for i := len(claims) - 1; i >= 0; i-- {
			lock, _ := l.locks.Load(claims[i].Ref)
			lock.(*sync.Mutex).Unlock()
		}
	}()

	var conflicts []types.Conflict
	var fresh []uniqueness.Claim

	for _, claim := range claims {
		value, ok := l.records.Load(claim.Ref)
		if !ok {
			fresh = append(fresh, claim)
			continue
		}

		record := value.(types.Record)
		if record.GetTxID() == res.TxID {
			// Idempotent replay of the transaction that owns the record.
			continue
		}

		if claim.Type == types.ReferenceInput && record.GetType() == types.ReferenceInput {
			// Reading a state already read by another transaction is allowed.
			// The existing record keeps standing for the reference.
			continue
		}

		conflicts = append(conflicts, types.Conflict{
			Ref:        claim.Ref,
			Type:       record.GetType(),
			HashOfTxID: record.GetTxID().Rehash(),
		})
	}

	if len(conflicts) > 0 {
		return conflicts, nil
	}

	refs := make([]types.StateRef, 0, len(fresh))
	for _, claim := range fresh {
		l.records.Store(claim.Ref, types.NewRecord(res.TxID, claim.Type, res.Now))
		refs = append(refs, claim.Ref)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.byTx[res.TxID] = append(l.byTx[res.TxID], refs...)

	if _, ok := l.requests[res.TxID]; !ok {
		l.requests[res.TxID] = uniqueness.RequestEntry{
			Requester:       res.Requester,
			SignatureDigest: res.SignatureDigest,
			RecordedAt:      res.Now,
		}
	}

	return nil, nil
}

// ConsumedBy implements uniqueness.Ledger. It returns the references consumed
// by the transaction, sorted by reference.
func (l *Ledger) ConsumedBy(ctx context.Context,
	txID types.Digest) ([]types.StateRef, error) {

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("context done: %v", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	refs := make([]types.StateRef, len(l.byTx[txID]))
	copy(refs, l.byTx[txID])

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Compare(refs[j]) < 0
	})

	return refs, nil
}

// GetRequest implements uniqueness.Ledger. It returns the evidence of the
// request that committed the transaction, or nil when unknown.
func (l *Ledger) GetRequest(ctx context.Context,
	txID types.Digest) (*uniqueness.RequestEntry, error) {

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("context done: %v", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.requests[txID]
	if !ok {
		return nil, nil
	}

	return &entry, nil
}
