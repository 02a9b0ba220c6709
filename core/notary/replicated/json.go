package replicated

import (
	"encoding/json"
	"time"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"golang.org/x/xerrors"
)

// StateRefJSON is the JSON message of a state reference.
type StateRefJSON struct {
	TxHash types.Digest
	Index  uint32
}

// ReservationJSON is the JSON message of a reservation proposed to the
// broadcast.
type ReservationJSON struct {
	TxID            types.Digest
	Inputs          []StateRefJSON
	References      []StateRefJSON
	Requester       string
	SignatureDigest types.Digest
	Now             time.Time
}

// ConflictJSON is the JSON message of a conflicting state.
type ConflictJSON struct {
	Ref        StateRefJSON
	Type       byte
	HashOfTxID types.Digest
}

// DecisionJSON is the JSON message of the outcome of an ordered reservation.
type DecisionJSON struct {
	Conflicts []ConflictJSON
}

func encodeReservation(res uniqueness.Reservation) ([]byte, error) {
	m := ReservationJSON{
		TxID:            res.TxID,
		Inputs:          toRefJSON(res.Inputs),
		References:      toRefJSON(res.References),
		Requester:       res.Requester,
		SignatureDigest: res.SignatureDigest,
		Now:             res.Now,
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return data, nil
}

func decodeReservation(data []byte) (uniqueness.Reservation, error) {
	m := ReservationJSON{}
	err := json.Unmarshal(data, &m)
	if err != nil {
		return uniqueness.Reservation{}, xerrors.Errorf("couldn't unmarshal: %v", err)
	}

	res := uniqueness.Reservation{
		TxID:            m.TxID,
		Inputs:          fromRefJSON(m.Inputs),
		References:      fromRefJSON(m.References),
		Requester:       m.Requester,
		SignatureDigest: m.SignatureDigest,
		Now:             m.Now,
	}

	return res, nil
}

func encodeDecision(conflicts []types.Conflict) ([]byte, error) {
	m := DecisionJSON{
		Conflicts: make([]ConflictJSON, len(conflicts)),
	}

	for i, conflict := range conflicts {
		m.Conflicts[i] = ConflictJSON{
			Ref: StateRefJSON{
				TxHash: conflict.Ref.GetTxHash(),
				Index:  conflict.Ref.GetIndex(),
			},
			Type:       byte(conflict.Type),
			HashOfTxID: conflict.HashOfTxID,
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return data, nil
}

func decodeDecision(data []byte) ([]types.Conflict, error) {
	m := DecisionJSON{}
	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal: %v", err)
	}

	if len(m.Conflicts) == 0 {
		return nil, nil
	}

	conflicts := make([]types.Conflict, len(m.Conflicts))
	for i, conflict := range m.Conflicts {
		conflicts[i] = types.Conflict{
			Ref:        types.NewStateRef(conflict.Ref.TxHash, conflict.Ref.Index),
			Type:       types.ConsumptionType(conflict.Type),
			HashOfTxID: conflict.HashOfTxID,
		}
	}

	return conflicts, nil
}

func toRefJSON(refs []types.StateRef) []StateRefJSON {
	msgs := make([]StateRefJSON, len(refs))
	for i, ref := range refs {
		msgs[i] = StateRefJSON{TxHash: ref.GetTxHash(), Index: ref.GetIndex()}
	}

	return msgs
}

func fromRefJSON(msgs []StateRefJSON) []types.StateRef {
	refs := make([]types.StateRef, len(msgs))
	for i, m := range msgs {
		refs[i] = types.NewStateRef(m.TxHash, m.Index)
	}

	return refs
}
