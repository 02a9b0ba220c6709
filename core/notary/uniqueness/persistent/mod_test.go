package persistent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"github.com/mvdbos/corda/core/store/kv"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestLedger_TryReserve(t *testing.T) {
	ledger, closer := makeLedger(t)
	defer closer()

	s1 := types.NewStateRef(types.DigestOf([]byte("s1")), 0)

	conflicts, err := ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, nil))
	require.NoError(t, err)
	require.Empty(t, conflicts)

	conflicts, err = ledger.TryReserve(context.Background(), reservation("t2", []types.StateRef{s1}, nil))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, s1, conflicts[0].Ref)
	require.Equal(t, types.Input, conflicts[0].Type)
	require.Equal(t, types.DigestOf([]byte("t1")).Rehash(), conflicts[0].HashOfTxID)

	conflicts, err = ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, nil))
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestLedger_TryReserve_AllOrNothing(t *testing.T) {
	ledger, closer := makeLedger(t)
	defer closer()

	s1 := types.NewStateRef(types.DigestOf([]byte("s1")), 0)
	s2 := types.NewStateRef(types.DigestOf([]byte("s2")), 0)

	_, err := ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, nil))
	require.NoError(t, err)

	conflicts, err := ledger.TryReserve(context.Background(), reservation("t2", []types.StateRef{s1, s2}, nil))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	conflicts, err = ledger.TryReserve(context.Background(), reservation("t3", []types.StateRef{s2}, nil))
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestLedger_TryReserve_References(t *testing.T) {
	ledger, closer := makeLedger(t)
	defer closer()

	s2 := types.NewStateRef(types.DigestOf([]byte("s2")), 0)

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

	conflicts, err = ledger.TryReserve(context.Background(), reservation("t4", []types.StateRef{s2}, nil))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, types.ReferenceInput, conflicts[0].Type)
	require.Equal(t, types.DigestOf([]byte("t3")).Rehash(), conflicts[0].HashOfTxID)
}

func TestLedger_TryReserve_ContextDone(t *testing.T) {
	ledger, closer := makeLedger(t)
	defer closer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ledger.TryReserve(ctx, reservation("t1", nil, nil))
	require.Error(t, err)
}

func TestLedger_TryReserve_DbClosed(t *testing.T) {
	db, err := kv.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ledger := NewLedger(db)

	_, err = ledger.TryReserve(context.Background(), reservation("t1", nil, nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "db failed: ")
}

func TestLedger_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := kv.New(path)
	require.NoError(t, err)

	s1 := types.NewStateRef(types.DigestOf([]byte("s1")), 0)

	ledger := NewLedger(db)

	_, err = ledger.TryReserve(context.Background(), reservation("t1", []types.StateRef{s1}, nil))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = kv.New(path)
	require.NoError(t, err)

	defer db.Close()

	ledger = NewLedger(db)

	conflicts, err := ledger.TryReserve(context.Background(), reservation("t2", []types.StateRef{s1}, nil))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
}

func TestLedger_ConsumedBy(t *testing.T) {
	ledger, closer := makeLedger(t)
	defer closer()

	s1 := types.NewStateRef(types.DigestOf([]byte("s1")), 0)
	s2 := types.NewStateRef(types.DigestOf([]byte("s2")), 1)

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
	ledger, closer := makeLedger(t)
	defer closer()

	res := reservation("t1", []types.StateRef{types.NewStateRef(types.DigestOf([]byte("s1")), 0)}, nil)
	res.Requester = "schnorr:deadbeef"
	res.SignatureDigest = types.DigestOf([]byte("sig"))

	_, err := ledger.TryReserve(context.Background(), res)
	require.NoError(t, err)

	entry, err := ledger.GetRequest(context.Background(), res.TxID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "schnorr:deadbeef", entry.Requester)
	require.Equal(t, types.DigestOf([]byte("sig")), entry.SignatureDigest)

	entry, err = ledger.GetRequest(context.Background(), types.DigestOf([]byte("unknown")))
	require.NoError(t, err)
	require.Nil(t, entry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ledger.GetRequest(ctx, res.TxID)
	require.Error(t, err)
}

func TestEntry_Unmarshal_Malformed(t *testing.T) {
	_, err := unmarshalEntry([]byte{0xaa})
	require.EqualError(t, err, "invalid entry length 1")
}

func TestEntry_Roundtrip(t *testing.T) {
	at := time.Date(2023, time.March, 5, 12, 0, 0, 0, time.UTC)

	entry := uniqueness.RequestEntry{
		Requester:       "schnorr:deadbeef",
		SignatureDigest: types.DigestOf([]byte("sig")),
		RecordedAt:      at,
	}

	parsed, err := unmarshalEntry(marshalEntry(entry))
	require.NoError(t, err)
	require.Equal(t, entry.Requester, parsed.Requester)
	require.Equal(t, entry.SignatureDigest, parsed.SignatureDigest)
	require.True(t, at.Equal(parsed.RecordedAt))
}

// -----------------------------------------------------------------------------
// Utility functions

func makeLedger(t *testing.T) (*Ledger, func()) {
	t.Helper()

	db, err := kv.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	return NewLedger(db), func() {
		err := db.Close()
		if err != nil {
			t.Log(xerrors.Errorf("couldn't close db: %v", err))
		}
	}
}

func reservation(txID string, inputs, refs []types.StateRef) uniqueness.Reservation {
	return uniqueness.Reservation{
		TxID:       types.DigestOf([]byte(txID)),
		Inputs:     inputs,
		References: refs,
		Now:        time.Now(),
	}
}
