// Package types defines the data model of the notary uniqueness service.
//
// A state reference points to a specific output slot of a specific
// transaction. Once a state reference has been consumed by a transaction, the
// ledger keeps a record of it forever; the record distinguishes a state that
// was spent from a state that was merely read.
package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/xerrors"
)

// DigestLen is the length in bytes of a transaction digest.
const DigestLen = 32

// StateRefLen is the length in bytes of the binary form of a state reference.
const StateRefLen = DigestLen + 4

// RecordLen is the length in bytes of the binary form of a consumption
// record.
const RecordLen = DigestLen + 1 + 8

// Digest is a SHA-256 value identifying a transaction.
type Digest [DigestLen]byte

// NewDigest returns the digest read from the slice of bytes.
func NewDigest(data []byte) (Digest, error) {
	if len(data) != DigestLen {
		return Digest{}, xerrors.Errorf("invalid digest length %d", len(data))
	}

	d := Digest{}
	copy(d[:], data)

	return d, nil
}

// DigestFromHex returns the digest decoded from its hexadecimal form.
func DigestFromHex(str string) (Digest, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Digest{}, xerrors.Errorf("couldn't decode hex: %v", err)
	}

	return NewDigest(data)
}

// DigestOf computes the digest of the concatenation of the slices of bytes.
func DigestOf(data ...[]byte) Digest {
	h := sha256.New()
	for _, buffer := range data {
		h.Write(buffer)
	}

	d := Digest{}
	copy(d[:], h.Sum(nil))

	return d
}

// Bytes returns the digest as a slice of bytes.
func (d Digest) Bytes() []byte {
	return d[:]
}

// Rehash returns the digest of the digest. It is the value disclosed to a
// requester when one of its states conflicts with a transaction it does not
// own, so that the raw identifier of the consuming transaction never leaks.
func (d Digest) Rehash() Digest {
	return DigestOf(d[:])
}

// IsZero returns true when the digest is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String implements fmt.Stringer. It returns the first eight characters of the
// hexadecimal form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:4])
}

// MarshalText implements encoding.TextMarshaler. It returns the full
// hexadecimal form of the digest.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(d[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It decodes the digest
// from its hexadecimal form.
func (d *Digest) UnmarshalText(text []byte) error {
	decoded, err := DigestFromHex(string(text))
	if err != nil {
		return xerrors.Errorf("couldn't unmarshal digest: %v", err)
	}

	*d = decoded

	return nil
}

// StateRef identifies a specific output of a specific transaction. It is the
// key under which a consumption is recorded.
//
// The type is comparable so that it can be used as a map key, and it defines a
// total order so that reservations can take their locks in a deterministic
// order.
type StateRef struct {
	txHash Digest
	index  uint32
}

// NewStateRef returns a state reference pointing to the output of the
// transaction at the given index.
func NewStateRef(txHash Digest, index uint32) StateRef {
	return StateRef{txHash: txHash, index: index}
}

// ParseStateRef returns the state reference read from its binary form.
func ParseStateRef(data []byte) (StateRef, error) {
	if len(data) != StateRefLen {
		return StateRef{}, xerrors.Errorf("invalid state ref length %d", len(data))
	}

	ref := StateRef{}
	copy(ref.txHash[:], data[:DigestLen])
	ref.index = binary.BigEndian.Uint32(data[DigestLen:])

	return ref, nil
}

// GetTxHash returns the hash of the transaction that created the state.
func (ref StateRef) GetTxHash() Digest {
	return ref.txHash
}

// GetIndex returns the output index of the state in the transaction.
func (ref StateRef) GetIndex() uint32 {
	return ref.index
}

// Compare returns a negative number when the reference is smaller than the
// other, zero when equal and a positive number otherwise. The order is total
// and stable.
func (ref StateRef) Compare(other StateRef) int {
	res := bytes.Compare(ref.txHash[:], other.txHash[:])
	if res != 0 {
		return res
	}

	switch {
	case ref.index < other.index:
		return -1
	case ref.index > other.index:
		return 1
	default:
		return 0
	}
}

// MarshalBinary implements encoding.BinaryMarshaler. It returns a fixed-size
// binary form of the reference.
func (ref StateRef) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, StateRefLen)
	copy(buffer, ref.txHash[:])
	binary.BigEndian.PutUint32(buffer[DigestLen:], ref.index)

	return buffer, nil
}

// String implements fmt.Stringer. It returns a short form of the reference.
func (ref StateRef) String() string {
	return fmt.Sprintf("%v:%d", ref.txHash, ref.index)
}

// ConsumptionType distinguishes a state that was spent from a state that was
// merely read by the consuming transaction.
type ConsumptionType byte

const (
	// Input tags a state that has been consumed as an input, thus spent.
	Input ConsumptionType = iota

	// ReferenceInput tags a state that has been read but not consumed.
	ReferenceInput
)

// String implements fmt.Stringer. It returns a human readable form of the
// consumption type.
func (t ConsumptionType) String() string {
	switch t {
	case Input:
		return "input"
	case ReferenceInput:
		return "reference"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Record represents that a state has been consumed. At most one record exists
// per state reference, ever: it is created at the first successful commit
// referencing the state and never mutated or deleted afterwards.
//
// The record keeps the raw identifier of the consuming transaction so that an
// idempotent retry can be matched exactly; only the rehashed identifier is
// ever disclosed to other requesters.
type Record struct {
	txID       Digest
	ctype      ConsumptionType
	recordedAt time.Time
}

// NewRecord returns a record of the consumption of a state by the transaction
// at the given time.
func NewRecord(txID Digest, ctype ConsumptionType, recordedAt time.Time) Record {
	return Record{
		txID:       txID,
		ctype:      ctype,
		recordedAt: recordedAt,
	}
}

// ParseRecord returns the record read from its binary form.
func ParseRecord(data []byte) (Record, error) {
	if len(data) != RecordLen {
		return Record{}, xerrors.Errorf("invalid record length %d", len(data))
	}

	record := Record{}
	copy(record.txID[:], data[:DigestLen])
	record.ctype = ConsumptionType(data[DigestLen])

	micros := int64(binary.BigEndian.Uint64(data[DigestLen+1:]))
	record.recordedAt = time.UnixMicro(micros).UTC()

	return record, nil
}

// GetTxID returns the raw identifier of the consuming transaction.
func (r Record) GetTxID() Digest {
	return r.txID
}

// GetType returns the consumption type of the record.
func (r Record) GetType() ConsumptionType {
	return r.ctype
}

// GetRecordedAt returns the time at which the consumption was recorded.
func (r Record) GetRecordedAt() time.Time {
	return r.recordedAt
}

// MarshalBinary implements encoding.BinaryMarshaler. It returns a fixed-size
// binary form of the record.
func (r Record) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, RecordLen)
	copy(buffer, r.txID[:])
	buffer[DigestLen] = byte(r.ctype)
	binary.BigEndian.PutUint64(buffer[DigestLen+1:], uint64(r.recordedAt.UnixMicro()))

	return buffer, nil
}

// Conflict describes a state reference that is already consumed by another
// transaction. The consuming transaction is only disclosed through the hash
// of its identifier.
type Conflict struct {
	Ref        StateRef
	Type       ConsumptionType
	HashOfTxID Digest
}

// String implements fmt.Stringer. It returns a human readable form of the
// conflict.
func (c Conflict) String() string {
	return fmt.Sprintf("%v consumed as %v by %v", c.Ref, c.Type, c.HashOfTxID)
}

// TimeWindow is the validity interval during which a transaction may be
// notarized. Either bound may be left unset, in which case the window is
// unbounded on that side. A window with neither bound set is always valid.
type TimeWindow struct {
	from  time.Time
	until time.Time
}

// NewTimeWindow returns a window valid from the first instant inclusive until
// the second instant exclusive. A zero instant leaves the bound unset.
func NewTimeWindow(from, until time.Time) TimeWindow {
	return TimeWindow{from: from, until: until}
}

// GetFrom returns the inclusive lower bound, or the zero time when unset.
func (w TimeWindow) GetFrom() time.Time {
	return w.from
}

// GetUntil returns the exclusive upper bound, or the zero time when unset.
func (w TimeWindow) GetUntil() time.Time {
	return w.until
}

// Contains returns true when the given instant falls inside the window.
func (w TimeWindow) Contains(now time.Time) bool {
	if !w.from.IsZero() && now.Before(w.from) {
		return false
	}

	if !w.until.IsZero() && !now.Before(w.until) {
		return false
	}

	return true
}

// String implements fmt.Stringer. It returns a human readable form of the
// window.
func (w TimeWindow) String() string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}

		return t.Format(time.RFC3339)
	}

	return fmt.Sprintf("[%s, %s)", format(w.from), format(w.until))
}
