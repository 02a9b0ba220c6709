// Package notary defines the contract of the notary uniqueness provider.
//
// The provider is the sole entry point to commit a transaction: it checks the
// validity time window, atomically reserves every referenced input state
// against the state consumption ledger and, when no conflict arises, produces
// a signed receipt attesting the commitment. The surrounding flow layer is
// responsible for transport and for authenticating the request.
//
// The subpackages implement the provider: simple provides the single-node
// variant, replicated the variant that routes every decision through a
// total-order broadcast, and uniqueness the underlying ledger.
package notary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/crypto"
	"golang.org/x/xerrors"
)

// Clock provides the current time. It exists as an interface so that the time
// window checks can be tested with an advanceable clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the clock of the machine.
//
// - implements notary.Clock
type systemClock struct{}

// NewClock returns a clock following the machine time.
func NewClock() Clock {
	return systemClock{}
}

// Now implements notary.Clock. It returns the current machine time.
func (systemClock) Now() time.Time {
	return time.Now()
}

// Request is a notarization request for a single transaction. The input and
// reference sets have set semantics: the order of the elements does not
// matter and duplicates are tolerated, but a reference may not appear in both
// sets at once.
type Request struct {
	// TxID is the identifier of the transaction to notarize. It is used for
	// idempotency matching: committing the same identifier twice succeeds
	// twice.
	TxID types.Digest

	// Requester is the identity of the party asking for notarization.
	Requester crypto.PublicKey

	// Signature is the proof that the requester authorized this notarization
	// request.
	Signature crypto.Signature

	// Inputs are the states consumed by the transaction.
	Inputs []types.StateRef

	// References are the states read but not consumed by the transaction.
	References []types.StateRef

	// Window is the optional validity interval of the request.
	Window *types.TimeWindow
}

// Verify checks the request signature against the requester identity over the
// transaction identifier. The policy of when to verify belongs to the flow
// layer calling the provider.
func (req Request) Verify() error {
	if req.Requester == nil {
		return xerrors.New("missing requester identity")
	}

	if req.Signature == nil {
		return xerrors.New("missing request signature")
	}

	err := req.Requester.Verify(req.TxID.Bytes(), req.Signature)
	if err != nil {
		return xerrors.Errorf("invalid request signature: %v", err)
	}

	return nil
}

// Receipt is the successful outcome of a commit: a signature over the
// transaction identifier produced with the notary key.
type Receipt struct {
	Signature crypto.Signature
	SignedAt  time.Time
}

// Provider is the notary uniqueness provider. Exactly one commit wins any
// given state reference; every other transaction touching it observes a
// conflict, except retries of the winner itself which succeed again.
type Provider interface {
	// Commit attempts to notarize the transaction of the request. It blocks
	// until a decision is reached or the context is done; callers wanting an
	// asynchronous surface run it on their own goroutine.
	//
	// The error is one of *MalformedError, *TimeWindowError, *ConflictError
	// or *UnavailableError. Only the latter is retryable with the identical
	// request.
	Commit(ctx context.Context, req Request) (Receipt, error)
}

// ConflictError is returned when one or more state references are already
// consumed by a different transaction. It is not retryable: it represents a
// genuine double-spend attempt or a legitimately superseded transaction.
type ConflictError struct {
	Conflicts []types.Conflict
}

// NewConflictError returns an error describing every conflicting reference,
// sorted by reference for a deterministic output.
func NewConflictError(conflicts []types.Conflict) *ConflictError {
	sorted := make([]types.Conflict, len(conflicts))
	copy(sorted, conflicts)

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Ref.Compare(sorted[j].Ref) < 0
	})

	return &ConflictError{Conflicts: sorted}
}

// Error implements error. It lists every conflicting reference.
func (e *ConflictError) Error() string {
	details := make([]string, len(e.Conflicts))
	for i, conflict := range e.Conflicts {
		details[i] = conflict.String()
	}

	return fmt.Sprintf("conflict on %d state(s): %s",
		len(e.Conflicts), strings.Join(details, "; "))
}

// TimeWindowError is returned when the supplied time window does not contain
// the current time. It is not retryable with the same window.
type TimeWindowError struct {
	Window types.TimeWindow
	Now    time.Time
}

// Error implements error.
func (e *TimeWindowError) Error() string {
	return fmt.Sprintf("window %v is outside of %v",
		e.Window, e.Now.Format(time.RFC3339))
}

// UnavailableError is returned when the ledger storage or the replication
// layer failed. It is retryable: the idempotency of the provider makes it
// safe to submit the identical request again.
type UnavailableError struct {
	cause error
}

// NewUnavailableError wraps the failure of a collaborator. The raw cause is
// preserved for inspection but never replaces the taxonomy kind.
func NewUnavailableError(cause error) *UnavailableError {
	return &UnavailableError{cause: cause}
}

// Error implements error.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("service unavailable: %v", e.cause)
}

// Unwrap returns the underlying failure.
func (e *UnavailableError) Unwrap() error {
	return e.cause
}

// MalformedError is returned when the request is structurally invalid, for
// instance when a state reference appears both as an input and as a
// reference.
type MalformedError struct {
	reason string
}

// NewMalformedError returns an error with the given reason.
func NewMalformedError(format string, args ...interface{}) *MalformedError {
	return &MalformedError{reason: fmt.Sprintf(format, args...)}
}

// Error implements error.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed request: %s", e.reason)
}
