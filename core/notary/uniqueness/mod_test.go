package uniqueness

import (
	"testing"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/stretchr/testify/require"
)

func TestReservation_Claims(t *testing.T) {
	refA := types.NewStateRef(types.DigestOf([]byte{1}), 0)
	refB := types.NewStateRef(types.DigestOf([]byte{2}), 0)
	refC := types.NewStateRef(types.DigestOf([]byte{3}), 0)

	res := Reservation{
		Inputs:     []types.StateRef{refB, refA, refB},
		References: []types.StateRef{refC, refC, refA},
	}

	claims := res.Claims()
	require.Len(t, claims, 3)

	// Sorted by reference, duplicates removed, input type winning.
	for i := 1; i < len(claims); i++ {
		require.True(t, claims[i-1].Ref.Compare(claims[i].Ref) < 0)
	}

	byRef := make(map[types.StateRef]types.ConsumptionType)
	for _, claim := range claims {
		byRef[claim.Ref] = claim.Type
	}

	require.Equal(t, types.Input, byRef[refA])
	require.Equal(t, types.Input, byRef[refB])
	require.Equal(t, types.ReferenceInput, byRef[refC])
}

func TestReservation_Claims_Empty(t *testing.T) {
	require.Empty(t, Reservation{}.Claims())
}
