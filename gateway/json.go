package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mvdbos/corda/core/notary"
	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/crypto/schnorr"
	"golang.org/x/xerrors"
)

// StateRefJSON is the wire form of a state reference.
type StateRefJSON struct {
	TxHash string `json:"txhash"`
	Index  uint32 `json:"index"`
}

// TimeWindowJSON is the wire form of a validity window. A missing bound is
// left unset.
type TimeWindowJSON struct {
	From  *time.Time `json:"from,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// CommitRequestJSON is the wire form of a notarization request. Digests are
// hexadecimal, keys and signatures base64.
type CommitRequestJSON struct {
	TransactionID string          `json:"transactionId"`
	Requester     string          `json:"requester"`
	Signature     string          `json:"signature"`
	Inputs        []StateRefJSON  `json:"inputs"`
	References    []StateRefJSON  `json:"references"`
	TimeWindow    *TimeWindowJSON `json:"timeWindow,omitempty"`
}

// ReceiptJSON is the wire form of a successful commit.
type ReceiptJSON struct {
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signedAt"`
}

// ConflictJSON is the wire form of a conflicting state.
type ConflictJSON struct {
	Ref        StateRefJSON `json:"ref"`
	Type       string       `json:"type"`
	HashOfTxID string       `json:"hashOfTransactionId"`
}

// ErrorJSON is the wire form of a failed commit. The kind is one of
// "malformed", "timeWindow", "conflict", "unavailable", "unauthorized" and
// "internal".
type ErrorJSON struct {
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Conflicts []ConflictJSON `json:"conflicts,omitempty"`
}

// ConsumedJSON is the wire form of an audit lookup.
type ConsumedJSON struct {
	Refs []StateRefJSON `json:"refs"`
}

// ToRequest converts the wire form into a provider request.
func (m CommitRequestJSON) ToRequest() (notary.Request, error) {
	txID, err := parseDigest(m.TransactionID)
	if err != nil {
		return notary.Request{}, xerrors.Errorf("transaction id: %v", err)
	}

	pkData, err := base64.StdEncoding.DecodeString(m.Requester)
	if err != nil {
		return notary.Request{}, xerrors.Errorf("requester: %v", err)
	}

	pk, err := schnorr.NewPublicKey(pkData)
	if err != nil {
		return notary.Request{}, xerrors.Errorf("requester: %v", err)
	}

	sigData, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return notary.Request{}, xerrors.Errorf("signature: %v", err)
	}

	inputs, err := parseRefs(m.Inputs)
	if err != nil {
		return notary.Request{}, xerrors.Errorf("inputs: %v", err)
	}

	references, err := parseRefs(m.References)
	if err != nil {
		return notary.Request{}, xerrors.Errorf("references: %v", err)
	}

	req := notary.Request{
		TxID:       txID,
		Requester:  pk,
		Signature:  schnorr.NewSignature(sigData),
		Inputs:     inputs,
		References: references,
	}

	if m.TimeWindow != nil {
		from := time.Time{}
		if m.TimeWindow.From != nil {
			from = *m.TimeWindow.From
		}

		until := time.Time{}
		if m.TimeWindow.Until != nil {
			until = *m.TimeWindow.Until
		}

		window := types.NewTimeWindow(from, until)
		req.Window = &window
	}

	return req, nil
}

func parseDigest(str string) (types.Digest, error) {
	digest, err := types.DigestFromHex(str)
	if err != nil {
		return types.Digest{}, xerrors.Errorf("invalid digest: %v", err)
	}

	return digest, nil
}

func parseRefs(msgs []StateRefJSON) ([]types.StateRef, error) {
	refs := make([]types.StateRef, len(msgs))

	for i, m := range msgs {
		hash, err := parseDigest(m.TxHash)
		if err != nil {
			return nil, err
		}

		refs[i] = types.NewStateRef(hash, m.Index)
	}

	return refs, nil
}

func toRefJSON(ref types.StateRef) StateRefJSON {
	hash := ref.GetTxHash()

	return StateRefJSON{
		TxHash: string(mustText(hash)),
		Index:  ref.GetIndex(),
	}
}

func mustText(d types.Digest) []byte {
	text, _ := d.MarshalText()
	return text
}

func writeReceipt(w http.ResponseWriter, receipt notary.Receipt) {
	data, err := receipt.Signature.MarshalBinary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ReceiptJSON{
		Signature: base64.StdEncoding.EncodeToString(data),
		SignedAt:  receipt.SignedAt,
	})
}

func writeCommitError(w http.ResponseWriter, err error) {
	var conflictErr *notary.ConflictError
	if xerrors.As(err, &conflictErr) {
		conflicts := make([]ConflictJSON, len(conflictErr.Conflicts))
		for i, conflict := range conflictErr.Conflicts {
			conflicts[i] = ConflictJSON{
				Ref:        toRefJSON(conflict.Ref),
				Type:       conflict.Type.String(),
				HashOfTxID: string(mustText(conflict.HashOfTxID)),
			}
		}

		writeJSON(w, http.StatusConflict, ErrorJSON{
			Kind:      "conflict",
			Message:   err.Error(),
			Conflicts: conflicts,
		})

		return
	}

	var windowErr *notary.TimeWindowError
	if xerrors.As(err, &windowErr) {
		writeJSON(w, http.StatusBadRequest, ErrorJSON{
			Kind:    "timeWindow",
			Message: err.Error(),
		})

		return
	}

	var malformedErr *notary.MalformedError
	if xerrors.As(err, &malformedErr) {
		writeJSON(w, http.StatusBadRequest, ErrorJSON{
			Kind:    "malformed",
			Message: err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusServiceUnavailable, ErrorJSON{
		Kind:    "unavailable",
		Message: err.Error(),
	})
}

func writeConsumed(w http.ResponseWriter, refs []types.StateRef) {
	m := ConsumedJSON{
		Refs: make([]StateRefJSON, len(refs)),
	}

	for i, ref := range refs {
		m.Refs[i] = toRefJSON(ref)
	}

	writeJSON(w, http.StatusOK, m)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorJSON{Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}
