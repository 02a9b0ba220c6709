package persistent

import (
	"encoding/binary"
	"time"

	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"golang.org/x/xerrors"
)

// The request entry is stored as the signature digest, the recording time in
// microseconds and finally the variable-size requester text.
const entryHeaderLen = types.DigestLen + 8

func marshalEntry(entry uniqueness.RequestEntry) []byte {
	buffer := make([]byte, entryHeaderLen+len(entry.Requester))
	copy(buffer, entry.SignatureDigest.Bytes())
	binary.BigEndian.PutUint64(buffer[types.DigestLen:],
		uint64(entry.RecordedAt.UnixMicro()))
	copy(buffer[entryHeaderLen:], entry.Requester)

	return buffer
}

func unmarshalEntry(data []byte) (uniqueness.RequestEntry, error) {
	if len(data) < entryHeaderLen {
		return uniqueness.RequestEntry{}, xerrors.Errorf(
			"invalid entry length %d", len(data))
	}

	digest, err := types.NewDigest(data[:types.DigestLen])
	if err != nil {
		return uniqueness.RequestEntry{}, err
	}

	micros := int64(binary.BigEndian.Uint64(data[types.DigestLen:entryHeaderLen]))

	entry := uniqueness.RequestEntry{
		Requester:       string(data[entryHeaderLen:]),
		SignatureDigest: digest,
		RecordedAt:      time.UnixMicro(micros).UTC(),
	}

	return entry, nil
}
