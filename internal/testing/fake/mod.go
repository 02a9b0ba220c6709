// Package fake provides fake implementations for interfaces commonly used in
// the repository.
// The implementations offer configuration to return errors when it is needed
// by the unit test and it is also possible to record the calls of functions of
// an object in some cases.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"github.com/mvdbos/corda/core/tob"
	"github.com/mvdbos/corda/crypto"
	"golang.org/x/xerrors"
)

// Call is a tool to keep track of a function calls.
type Call struct {
	sync.Mutex
	calls [][]interface{}
}

// Get returns the nth call ith parameter.
func (c *Call) Get(n, i int) interface{} {
	c.Lock()
	defer c.Unlock()

	return c.calls[n][i]
}

// Len returns the number of calls.
func (c *Call) Len() int {
	c.Lock()
	defer c.Unlock()

	return len(c.calls)
}

// Add adds a call to the list.
func (c *Call) Add(args ...interface{}) {
	c.Lock()
	defer c.Unlock()

	c.calls = append(c.calls, args)
}

// Clock is a fake implementation of the clock that can be advanced manually.
//
// - implements notary.Clock
type Clock struct {
	sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at the given time.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now implements notary.Clock.
func (c *Clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()

	return c.now
}

// Advance moves the clock forward by the duration.
func (c *Clock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()

	c.now = c.now.Add(d)
}

// PublicKey is a fake implementation of a public key.
//
// - implements crypto.PublicKey
type PublicKey struct {
	err error
}

// NewBadPublicKey returns a public key that refuses every signature.
func NewBadPublicKey() PublicKey {
	return PublicKey{err: fakeErr}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	return []byte("PK"), nil
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte("fake:PK"), nil
}

// Verify implements crypto.PublicKey.
func (pk PublicKey) Verify([]byte, crypto.Signature) error {
	return pk.err
}

// Equal implements crypto.PublicKey.
func (pk PublicKey) Equal(other crypto.PublicKey) bool {
	_, ok := other.(PublicKey)
	return ok
}

// Signature is a fake implementation of a signature.
//
// - implements crypto.Signature
type Signature struct {
	err error
}

// NewBadSignature returns a signature that fails to marshal.
func NewBadSignature() Signature {
	return Signature{err: fakeErr}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (sig Signature) MarshalBinary() ([]byte, error) {
	return []byte("SIG"), sig.err
}

// Equal implements crypto.Signature.
func (sig Signature) Equal(other crypto.Signature) bool {
	_, ok := other.(Signature)
	return ok
}

// Signer is a fake implementation of a signer.
//
// - implements crypto.Signer
type Signer struct {
	Call *Call
	err  error
}

// NewSigner returns a signer that always succeeds.
func NewSigner() *Signer {
	return &Signer{Call: &Call{}}
}

// NewBadSigner returns a signer that always fails.
func NewBadSigner() *Signer {
	return &Signer{Call: &Call{}, err: fakeErr}
}

// GetPublicKey implements crypto.Signer.
func (s *Signer) GetPublicKey() crypto.PublicKey {
	return PublicKey{}
}

// Sign implements crypto.Signer.
func (s *Signer) Sign(msg []byte) (crypto.Signature, error) {
	s.Call.Add(msg)

	if s.err != nil {
		return nil, s.err
	}

	return Signature{}, nil
}

// Ledger is a fake implementation of the state consumption ledger.
//
// - implements uniqueness.Ledger
type Ledger struct {
	Call      *Call
	conflicts []types.Conflict
	err       error
}

// NewLedger returns a ledger that accepts every reservation.
func NewLedger() *Ledger {
	return &Ledger{Call: &Call{}}
}

// NewBadLedger returns a ledger that always fails.
func NewBadLedger() *Ledger {
	return &Ledger{Call: &Call{}, err: fakeErr}
}

// NewConflictedLedger returns a ledger that reports the given conflicts.
func NewConflictedLedger(conflicts ...types.Conflict) *Ledger {
	return &Ledger{Call: &Call{}, conflicts: conflicts}
}

// TryReserve implements uniqueness.Ledger.
func (l *Ledger) TryReserve(ctx context.Context,
	res uniqueness.Reservation) ([]types.Conflict, error) {

	l.Call.Add(res)

	return l.conflicts, l.err
}

// ConsumedBy implements uniqueness.Ledger.
func (l *Ledger) ConsumedBy(context.Context, types.Digest) ([]types.StateRef, error) {
	return nil, l.err
}

// GetRequest implements uniqueness.Ledger.
func (l *Ledger) GetRequest(context.Context, types.Digest) (*uniqueness.RequestEntry, error) {
	return nil, l.err
}

// Actor is a fake implementation of the broadcast actor.
//
// - implements tob.Actor
type Actor struct {
	err error
}

// Propose implements tob.Actor.
func (a Actor) Propose(ctx context.Context, data []byte) ([]byte, error) {
	return data, a.err
}

// Broadcast is a fake implementation of the total-order broadcast.
//
// - implements tob.Broadcast
type Broadcast struct {
	err      error
	proposal error
}

// NewBadBroadcast returns a broadcast that refuses to listen.
func NewBadBroadcast() Broadcast {
	return Broadcast{err: fakeErr}
}

// NewPartitionedBroadcast returns a broadcast whose proposals fail with
// tob.ErrNoQuorum.
func NewPartitionedBroadcast() Broadcast {
	return Broadcast{proposal: tob.ErrNoQuorum}
}

// Listen implements tob.Broadcast.
func (b Broadcast) Listen(tob.Applier) (tob.Actor, error) {
	if b.err != nil {
		return nil, b.err
	}

	return Actor{err: b.proposal}, nil
}

var fakeErr = xerrors.New("fake error")
