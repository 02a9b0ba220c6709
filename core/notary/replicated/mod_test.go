package replicated

import (
	"context"
	"testing"
	"time"

	"github.com/mvdbos/corda/core/notary"
	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"github.com/mvdbos/corda/core/notary/uniqueness/mem"
	"github.com/mvdbos/corda/core/tob"
	"github.com/mvdbos/corda/core/tob/direct"
	"github.com/mvdbos/corda/crypto/schnorr"
	"github.com/mvdbos/corda/internal/testing/fake"
	"github.com/stretchr/testify/require"
)

func TestProvider_Commit(t *testing.T) {
	manager := direct.NewManager()

	replicas := make([]*Provider, 3)
	for i := range replicas {
		p, err := NewProvider(direct.NewBroadcast(manager), mem.NewLedger(), schnorr.NewSigner())
		require.NoError(t, err)

		replicas[i] = p
	}

	s1 := types.NewStateRef(types.DigestOf([]byte("s1")), 0)

	req := makeRequest(t, "t1", []types.StateRef{s1})

	_, err := replicas[0].Commit(context.Background(), req)
	require.NoError(t, err)

	// Every replica applied the identical decision.
	for _, replica := range replicas {
		refs, err := replica.GetLedger().ConsumedBy(context.Background(), req.TxID)
		require.NoError(t, err)
		require.Equal(t, []types.StateRef{s1}, refs)
	}

	// A conflicting transaction is rejected on any replica.
	_, err = replicas[1].Commit(context.Background(), makeRequest(t, "t2", []types.StateRef{s1}))
	conflictErr := &notary.ConflictError{}
	require.ErrorAs(t, err, &conflictErr)
	require.Equal(t, req.TxID.Rehash(), conflictErr.Conflicts[0].HashOfTxID)

	// Retrying the winner on another replica succeeds.
	_, err = replicas[2].Commit(context.Background(), req)
	require.NoError(t, err)
}

func TestProvider_Commit_Partitioned(t *testing.T) {
	manager := direct.NewManager()

	bcast := direct.NewBroadcast(manager)

	p, err := NewProvider(bcast, mem.NewLedger(), schnorr.NewSigner())
	require.NoError(t, err)

	manager.Partition(bcast)

	_, err = p.Commit(context.Background(), makeRequest(t, "t1", nil))
	unavailableErr := &notary.UnavailableError{}
	require.ErrorAs(t, err, &unavailableErr)
	require.ErrorIs(t, err, tob.ErrNoQuorum)
}

func TestProvider_New_ListenFailure(t *testing.T) {
	_, err := NewProvider(fake.NewBadBroadcast(), mem.NewLedger(), schnorr.NewSigner())
	require.EqualError(t, err, "couldn't listen: fake error")
}

func TestApplier_Apply(t *testing.T) {
	ledger := mem.NewLedger()

	a := applier{local: ledger}

	res := uniqueness.Reservation{
		TxID:   types.DigestOf([]byte("t1")),
		Inputs: []types.StateRef{types.NewStateRef(types.DigestOf([]byte("s1")), 0)},
		Now:    time.Now(),
	}

	data, err := encodeReservation(res)
	require.NoError(t, err)

	decision, err := a.Apply(data)
	require.NoError(t, err)

	conflicts, err := decodeDecision(decision)
	require.NoError(t, err)
	require.Empty(t, conflicts)

	// A proposal arriving against an already consumed state is rejected at
	// apply time, not silently skipped.
	res.TxID = types.DigestOf([]byte("t2"))

	data, err = encodeReservation(res)
	require.NoError(t, err)

	decision, err = a.Apply(data)
	require.NoError(t, err)

	conflicts, err = decodeDecision(decision)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
}

func TestApplier_Apply_Malformed(t *testing.T) {
	a := applier{local: mem.NewLedger()}

	_, err := a.Apply([]byte("not json"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't decode reservation: ")
}

func TestApplier_Apply_LedgerFailure(t *testing.T) {
	a := applier{local: fake.NewBadLedger()}

	data, err := encodeReservation(uniqueness.Reservation{})
	require.NoError(t, err)

	_, err = a.Apply(data)
	require.EqualError(t, err, "ledger failed: fake error")
}

func TestLedger_TryReserve_BadDecision(t *testing.T) {
	ledger := &Ledger{actor: badActor{}, local: mem.NewLedger()}

	_, err := ledger.TryReserve(context.Background(), uniqueness.Reservation{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't decode decision: ")
}

func TestReservation_Roundtrip(t *testing.T) {
	res := uniqueness.Reservation{
		TxID: types.DigestOf([]byte("t1")),
		Inputs: []types.StateRef{
			types.NewStateRef(types.DigestOf([]byte("s1")), 2),
		},
		References: []types.StateRef{
			types.NewStateRef(types.DigestOf([]byte("s2")), 0),
		},
		Requester:       "schnorr:deadbeef",
		SignatureDigest: types.DigestOf([]byte("sig")),
		Now:             time.Now().UTC(),
	}

	data, err := encodeReservation(res)
	require.NoError(t, err)

	decoded, err := decodeReservation(data)
	require.NoError(t, err)
	require.Equal(t, res.TxID, decoded.TxID)
	require.Equal(t, res.Inputs, decoded.Inputs)
	require.Equal(t, res.References, decoded.References)
	require.Equal(t, res.Requester, decoded.Requester)
	require.Equal(t, res.SignatureDigest, decoded.SignatureDigest)
	require.True(t, res.Now.Equal(decoded.Now))

	_, err = decodeReservation([]byte("not json"))
	require.Error(t, err)
}

// -----------------------------------------------------------------------------
// Utility functions

type badActor struct{}

func (badActor) Propose(context.Context, []byte) ([]byte, error) {
	return []byte("not json"), nil
}

func makeRequest(t *testing.T, txID string, inputs []types.StateRef) notary.Request {
	t.Helper()

	signer := schnorr.NewSigner()
	id := types.DigestOf([]byte(txID))

	sig, err := signer.Sign(id.Bytes())
	require.NoError(t, err)

	return notary.Request{
		TxID:      id,
		Requester: signer.GetPublicKey(),
		Signature: sig,
		Inputs:    inputs,
	}
}
