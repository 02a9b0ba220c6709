// Package replicated is the clustered implementation of the notary
// uniqueness provider.
//
// It shares the commit algorithm with the simple provider but routes every
// reservation through a total-order broadcast: the batch is serialized,
// proposed, and applied by every replica against its own ledger in the same
// global order, so that all replicas take the identical sequence of
// commit/reject decisions. The applier runs the full conflict check again, so
// a proposal arriving out of the expected order is rejected rather than
// silently skipped.
//
// Reads do not need ordering and are served from the local ledger.
package replicated

import (
	"context"

	"github.com/mvdbos/corda/core/notary"
	"github.com/mvdbos/corda/core/notary/simple"
	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"github.com/mvdbos/corda/core/tob"
	"github.com/mvdbos/corda/crypto"
	"golang.org/x/xerrors"
)

// Provider is a replica of the clustered notary uniqueness provider.
//
// - implements notary.Provider
type Provider struct {
	inner  *simple.Provider
	ledger *Ledger
}

// NewProvider creates a replica applying its decisions to the given local
// ledger and joining the given broadcast.
func NewProvider(bcast tob.Broadcast, local uniqueness.Ledger,
	signer crypto.Signer, opts ...simple.ProviderOption) (*Provider, error) {

	actor, err := bcast.Listen(applier{local: local})
	if err != nil {
		return nil, xerrors.Errorf("couldn't listen: %v", err)
	}

	ledger := &Ledger{actor: actor, local: local}

	p := &Provider{
		inner:  simple.NewProvider(ledger, signer, opts...),
		ledger: ledger,
	}

	return p, nil
}

// Commit implements notary.Provider. It notarizes the transaction of the
// request, with the reservation decided through the broadcast.
func (p *Provider) Commit(ctx context.Context,
	req notary.Request) (notary.Receipt, error) {

	return p.inner.Commit(ctx, req)
}

// GetLedger returns the ordered ledger of the replica, for audit lookups.
func (p *Provider) GetLedger() uniqueness.Ledger {
	return p.ledger
}

// applier applies the ordered reservations to the local ledger of the
// replica. It must stay deterministic: its only input is the serialized
// reservation and the state of the ledger, which the ordering keeps identical
// across replicas.
//
// - implements tob.Applier
type applier struct {
	local uniqueness.Ledger
}

// Apply implements tob.Applier. It decodes the reservation, runs it against
// the local ledger and returns the encoded decision.
func (a applier) Apply(data []byte) ([]byte, error) {
	res, err := decodeReservation(data)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode reservation: %v", err)
	}

	conflicts, err := a.local.TryReserve(context.Background(), res)
	if err != nil {
		return nil, xerrors.Errorf("ledger failed: %v", err)
	}

	decision, err := encodeDecision(conflicts)
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode decision: %v", err)
	}

	return decision, nil
}

// Ledger is the view of the replicated ledger: writes go through the
// broadcast, reads are local.
//
// - implements uniqueness.Ledger
type Ledger struct {
	actor tob.Actor
	local uniqueness.Ledger
}

// TryReserve implements uniqueness.Ledger. It proposes the reservation to the
// broadcast and returns the decision of the local applier.
func (l *Ledger) TryReserve(ctx context.Context,
	res uniqueness.Reservation) ([]types.Conflict, error) {

	data, err := encodeReservation(res)
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode reservation: %v", err)
	}

	decision, err := l.actor.Propose(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("proposal failed: %w", err)
	}

	conflicts, err := decodeDecision(decision)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode decision: %v", err)
	}

	return conflicts, nil
}

// ConsumedBy implements uniqueness.Ledger. It reads from the local ledger.
func (l *Ledger) ConsumedBy(ctx context.Context,
	txID types.Digest) ([]types.StateRef, error) {

	return l.local.ConsumedBy(ctx, txID)
}

// GetRequest implements uniqueness.Ledger. It reads from the local ledger.
func (l *Ledger) GetRequest(ctx context.Context,
	txID types.Digest) (*uniqueness.RequestEntry, error) {

	return l.local.GetRequest(ctx, txID)
}
