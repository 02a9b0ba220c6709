// Package persistent implements the state consumption ledger on top of a
// key/value database.
//
// Three buckets are maintained inside a single writable transaction, so that
// a reservation is all-or-nothing: the records keyed by state reference, a
// secondary index keyed by transaction identifier for audit lookups, and the
// request evidence keyed by transaction identifier.
//
// The database engine serializes writable transactions, which trivially
// satisfies the per-reference serialization requirement at the cost of
// cross-transaction parallelism. Reads run concurrently.
package persistent

import (
	"context"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"github.com/mvdbos/corda/core/store/kv"
	"golang.org/x/xerrors"
)

var (
	recordBucket  = []byte("uniqueness:records")
	byTxBucket    = []byte("uniqueness:bytx")
	requestBucket = []byte("uniqueness:requests")
)

// Ledger is a state consumption ledger backed by a key/value database.
//
// - implements uniqueness.Ledger
type Ledger struct {
	db kv.DB
}

// NewLedger creates a ledger using the given database.
func NewLedger(db kv.DB) *Ledger {
	return &Ledger{db: db}
}

// TryReserve implements uniqueness.Ledger. It records the consumption of
// every claim of the reservation in one database transaction, or nothing when
// at least one state is already consumed by a different transaction.
func (l *Ledger) TryReserve(ctx context.Context,
	res uniqueness.Reservation) ([]types.Conflict, error) {

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("context done: %v", err)
	}

	var conflicts []types.Conflict

	err := l.db.Update(func(tx kv.WritableTx) error {
		records, err := tx.GetBucketOrCreate(recordBucket)
		if err != nil {
			return xerrors.Errorf("records bucket: %v", err)
		}

		claims := res.Claims()
		fresh := make([]uniqueness.Claim, 0, len(claims))

		for _, claim := range claims {
			key, err := claim.Ref.MarshalBinary()
			if err != nil {
				return xerrors.Errorf("couldn't marshal ref: %v", err)
			}

			value := records.Get(key)
			if value == nil {
				fresh = append(fresh, claim)
				continue
			}

			record, err := types.ParseRecord(value)
			if err != nil {
				return xerrors.Errorf("malformed record: %v", err)
			}

			if record.GetTxID() == res.TxID {
				continue
			}

			if claim.Type == types.ReferenceInput &&
				record.GetType() == types.ReferenceInput {
				// Reading a state already read by another transaction is
				// allowed. The existing record keeps standing for it.
				continue
			}

			conflicts = append(conflicts, types.Conflict{
				Ref:        claim.Ref,
				Type:       record.GetType(),
				HashOfTxID: record.GetTxID().Rehash(),
			})
		}

		if len(conflicts) > 0 {
			// Nothing has been written so far, so returning nil keeps the
			// database untouched while reporting the full set of conflicts.
			return nil
		}

		err = l.writeClaims(tx, records, res, fresh)
		if err != nil {
			return xerrors.Errorf("couldn't write claims: %v", err)
		}

		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("db failed: %v", err)
	}

	return conflicts, nil
}

func (l *Ledger) writeClaims(tx kv.WritableTx, records kv.Bucket,
	res uniqueness.Reservation, fresh []uniqueness.Claim) error {

	index, err := tx.GetBucketOrCreate(byTxBucket)
	if err != nil {
		return xerrors.Errorf("index bucket: %v", err)
	}

	for _, claim := range fresh {
		key, err := claim.Ref.MarshalBinary()
		if err != nil {
			return xerrors.Errorf("couldn't marshal ref: %v", err)
		}

		record := types.NewRecord(res.TxID, claim.Type, res.Now)

		value, err := record.MarshalBinary()
		if err != nil {
			return xerrors.Errorf("couldn't marshal record: %v", err)
		}

		err = records.Set(key, value)
		if err != nil {
			return xerrors.Errorf("couldn't set record: %v", err)
		}

		err = index.Set(append(res.TxID.Bytes(), key...), nil)
		if err != nil {
			return xerrors.Errorf("couldn't set index: %v", err)
		}
	}

	requests, err := tx.GetBucketOrCreate(requestBucket)
	if err != nil {
		return xerrors.Errorf("request bucket: %v", err)
	}

	if requests.Get(res.TxID.Bytes()) == nil {
		entry := uniqueness.RequestEntry{
			Requester:       res.Requester,
			SignatureDigest: res.SignatureDigest,
			RecordedAt:      res.Now,
		}

		err = requests.Set(res.TxID.Bytes(), marshalEntry(entry))
		if err != nil {
			return xerrors.Errorf("couldn't set request: %v", err)
		}
	}

	return nil
}

// ConsumedBy implements uniqueness.Ledger. It scans the secondary index for
// the references consumed by the transaction, sorted by reference.
func (l *Ledger) ConsumedBy(ctx context.Context,
	txID types.Digest) ([]types.StateRef, error) {

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("context done: %v", err)
	}

	var refs []types.StateRef

	err := l.db.View(func(tx kv.ReadableTx) error {
		index := tx.GetBucket(byTxBucket)
		if index == nil {
			return nil
		}

		return index.Scan(txID.Bytes(), func(key, _ []byte) error {
			ref, err := types.ParseStateRef(key[types.DigestLen:])
			if err != nil {
				return xerrors.Errorf("malformed index key: %v", err)
			}

			refs = append(refs, ref)

			return nil
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("db failed: %v", err)
	}

	return refs, nil
}

// GetRequest implements uniqueness.Ledger. It returns the evidence of the
// request that committed the transaction, or nil when unknown.
func (l *Ledger) GetRequest(ctx context.Context,
	txID types.Digest) (*uniqueness.RequestEntry, error) {

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("context done: %v", err)
	}

	var entry *uniqueness.RequestEntry

	err := l.db.View(func(tx kv.ReadableTx) error {
		requests := tx.GetBucket(requestBucket)
		if requests == nil {
			return nil
		}

		value := requests.Get(txID.Bytes())
		if value == nil {
			return nil
		}

		parsed, err := unmarshalEntry(value)
		if err != nil {
			return xerrors.Errorf("malformed request entry: %v", err)
		}

		entry = &parsed

		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("db failed: %v", err)
	}

	return entry, nil
}
