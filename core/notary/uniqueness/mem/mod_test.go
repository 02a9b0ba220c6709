package mem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"github.com/stretchr/testify/require"
)

func TestLedger_TryReserve(t *testing.T) {
	ledger := NewLedger()

	s1 := makeRef(t, "s1")

	conflicts, err := ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, nil))
	require.NoError(t, err)
	require.Empty(t, conflicts)

	// A different transaction conflicts and learns only the rehashed id.
	conflicts, err = ledger.TryReserve(context.Background(), reservation("t2", []types.StateRef{s1}, nil))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, s1, conflicts[0].Ref)
	require.Equal(t, types.Input, conflicts[0].Type)
	require.Equal(t, types.DigestOf([]byte("t1")).Rehash(), conflicts[0].HashOfTxID)

	// The owner of the record can replay it.
	conflicts, err = ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, nil))
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestLedger_TryReserve_AllOrNothing(t *testing.T) {
	ledger := NewLedger()

	s1 := makeRef(t, "s1")
	s2 := makeRef(t, "s2")

	_, err := ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, nil))
	require.NoError(t, err)

	// B overlaps on s1 so it must fail entirely, leaving s2 unreserved.
	conflicts, err := ledger.TryReserve(context.Background(), reservation("t2", []types.StateRef{s1, s2}, nil))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, s1, conflicts[0].Ref)

	// A third transaction can still win s2.
	conflicts, err = ledger.TryReserve(context.Background(), reservation("t3", []types.StateRef{s2}, nil))
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestLedger_TryReserve_References(t *testing.T) {
	ledger := NewLedger()

	s2 := makeRef(t, "s2")

	conflicts, err := ledger.TryReserve(context.Background(), reservation("t3", nil, []types.StateRef{s2}))
	require.NoError(t, err)
	require.Empty(t, conflicts)

	// Reading a state does not prevent another read.
	conflicts, err = ledger.TryReserve(context.Background(), reservation("t5", nil, []types.StateRef{s2}))
	require.NoError(t, err)
	require.Empty(t, conflicts)

	// The second reader does not take over the record.
	refs, err := ledger.ConsumedBy(context.Background(), types.DigestOf([]byte("t5")))
	require.NoError(t, err)
	require.Empty(t, refs)

	// Spending a state that has been read conflicts, and the disclosed record
	// is still the one of the first reader.
	conflicts, err = ledger.TryReserve(context.Background(), reservation("t4", []types.StateRef{s2}, nil))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, types.ReferenceInput, conflicts[0].Type)
	require.Equal(t, types.DigestOf([]byte("t3")).Rehash(), conflicts[0].HashOfTxID)
}

func TestLedger_TryReserve_PartialSelfMatch(t *testing.T) {
	ledger := NewLedger()

	s1 := makeRef(t, "s1")
	s2 := makeRef(t, "s2")

	_, err := ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, nil))
	require.NoError(t, err)

	_, err = ledger.TryReserve(context.Background(), reservation("t2", []types.StateRef{s2}, nil))
	require.NoError(t, err)

	// Some refs match t1 but s2 belongs to t2: the latter is a genuine
	// conflict and must be surfaced.
	conflicts, err := ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1, s2}, nil))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, s2, conflicts[0].Ref)
}

func TestLedger_TryReserve_Empty(t *testing.T) {
	ledger := NewLedger()

	conflicts, err := ledger.TryReserve(context.Background(), reservation("t1", nil, nil))
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestLedger_TryReserve_ContextDone(t *testing.T) {
	ledger := NewLedger()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ledger.TryReserve(ctx, reservation("t1", nil, nil))
	require.EqualError(t, err, "context done: context canceled")
}

func TestLedger_TryReserve_Concurrent(t *testing.T) {
	ledger := NewLedger()

	shared := makeRef(t, "shared")

	n := 20

	wg := sync.WaitGroup{}
	wg.Add(n)

	winners := make(chan types.Digest, n)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()

			txID := types.DigestOf([]byte{byte(i)})
			own := types.NewStateRef(txID, 0)

			res := uniqueness.Reservation{
				TxID:   txID,
				Inputs: []types.StateRef{shared, own},
				Now:    time.Now(),
			}

			conflicts, err := ledger.TryReserve(context.Background(), res)
			require.NoError(t, err)

			if len(conflicts) == 0 {
				winners <- txID
			}
		}(i)
	}

	wg.Wait()
	close(winners)

	// Exactly one reservation observed itself as the winner of the shared
	// state.
	require.Len(t, winners, 1)

	winner := <-winners

	refs, err := ledger.ConsumedBy(context.Background(), winner)
	require.NoError(t, err)
	require.Len(t, refs, 2)
}

func TestLedger_TryReserve_DisjointInParallel(t *testing.T) {
	ledger := NewLedger()

	n := 50

	wg := sync.WaitGroup{}
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()

			txID := types.DigestOf([]byte{byte(i)})

			res := uniqueness.Reservation{
				TxID:   txID,
				Inputs: []types.StateRef{types.NewStateRef(txID, 0)},
				Now:    time.Now(),
			}

			conflicts, err := ledger.TryReserve(context.Background(), res)
			require.NoError(t, err)
			require.Empty(t, conflicts)
		}(i)
	}

	wg.Wait()
}

func TestLedger_ConsumedBy(t *testing.T) {
	ledger := NewLedger()

	s1 := makeRef(t, "s1")
	s2 := makeRef(t, "s2")

	_, err := ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, []types.StateRef{s2}))
	require.NoError(t, err)

	refs, err := ledger.ConsumedBy(context.Background(), types.DigestOf([]byte("t1")))
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.True(t, refs[0].Compare(refs[1]) < 0)

	refs, err = ledger.ConsumedBy(context.Background(), types.DigestOf([]byte("unknown")))
	require.NoError(t, err)
	require.Empty(t, refs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ledger.ConsumedBy(ctx, types.DigestOf([]byte("t1")))
	require.Error(t, err)
}

func TestLedger_GetRequest(t *testing.T) {
	ledger := NewLedger()

	res := reservation("t1", []types.StateRef{makeRef(t, "s1")}, nil)
	res.Requester = "schnorr:deadbeef"

	_, err := ledger.TryReserve(context.Background(), res)
	require.NoError(t, err)

	entry, err := ledger.GetRequest(context.Background(), res.TxID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "schnorr:deadbeef", entry.Requester)

	entry, err = ledger.GetRequest(context.Background(), types.DigestOf([]byte("unknown")))
	require.NoError(t, err)
	require.Nil(t, entry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ledger.GetRequest(ctx, res.TxID)
	require.Error(t, err)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeRef(t *testing.T, name string) types.StateRef {
	t.Helper()

	return types.NewStateRef(types.DigestOf([]byte(name)), 0)
}

func reservation(txID string, inputs, refs []types.StateRef) uniqueness.Reservation {
	return uniqueness.Reservation{
		TxID:       types.DigestOf([]byte(txID)),
		Inputs:     inputs,
		References: refs,
		Now:        time.Now(),
	}
}
