// Package simple is the single-node implementation of the notary uniqueness
// provider.
//
// A commit goes through the following steps: the request is checked for
// structural validity, then the time window is validated against the clock,
// then the union of the input and reference states is reserved in one atomic
// call to the ledger, and finally a receipt is signed over the transaction
// identifier. The time check only gates the entry to the reservation, so a
// retry of a committed transaction succeeds even after its window expired.
package simple

import (
	"context"

	corda "github.com/mvdbos/corda"
	"github.com/mvdbos/corda/core/notary"
	"github.com/mvdbos/corda/core/notary/types"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"github.com/mvdbos/corda/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// defines prometheus metrics
var (
	promCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "corda_notary_committed_total",
		Help: "total number of committed transactions",
	})

	promConflicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "corda_notary_conflicted_total",
		Help: "total number of commits rejected with a conflict",
	})

	promRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "corda_notary_rejected_total",
		Help: "total number of commits rejected before reservation",
	})
)

func init() {
	corda.PromCollectors = append(corda.PromCollectors,
		promCommitted, promConflicted, promRejected)
}

// Provider is a single-node notary uniqueness provider.
//
// - implements notary.Provider
type Provider struct {
	ledger      uniqueness.Ledger
	signer      crypto.Signer
	clock       notary.Clock
	hashFactory crypto.HashFactory
	logger      zerolog.Logger
}

// ProviderOption is the type of options to create a provider.
type ProviderOption func(*Provider)

// WithClock is an option to set a different clock, typically an advanceable
// one in tests.
func WithClock(clock notary.Clock) ProviderOption {
	return func(p *Provider) {
		p.clock = clock
	}
}

// WithHashFactory is an option to set a different hash factory for the
// request signature digests.
func WithHashFactory(f crypto.HashFactory) ProviderOption {
	return func(p *Provider) {
		p.hashFactory = f
	}
}

// NewProvider creates a provider committing to the given ledger and signing
// receipts with the given signer.
func NewProvider(ledger uniqueness.Ledger, signer crypto.Signer,
	opts ...ProviderOption) *Provider {

	p := &Provider{
		ledger:      ledger,
		signer:      signer,
		clock:       notary.NewClock(),
		hashFactory: crypto.NewSha256Factory(),
		logger:      corda.Logger.With().Str("role", "notary").Logger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Commit implements notary.Provider. It notarizes the transaction of the
// request, or returns one of the taxonomy errors.
func (p *Provider) Commit(ctx context.Context,
	req notary.Request) (notary.Receipt, error) {

	err := validate(req)
	if err != nil {
		promRejected.Inc()
		return notary.Receipt{}, err
	}

	now := p.clock.Now()

	if req.Window != nil && !req.Window.Contains(now) {
		// Failing before the reservation means no record is written, so a
		// resubmission of the same states under a fresh transaction stays
		// possible.
		promRejected.Inc()
		return notary.Receipt{}, &notary.TimeWindowError{Window: *req.Window, Now: now}
	}

	res := uniqueness.Reservation{
		TxID:            req.TxID,
		Inputs:          req.Inputs,
		References:      req.References,
		Requester:       requesterText(req.Requester),
		SignatureDigest: p.signatureDigest(req.Signature),
		Now:             now,
	}

	conflicts, err := p.ledger.TryReserve(ctx, res)
	if err != nil {
		return notary.Receipt{}, notary.NewUnavailableError(err)
	}

	if len(conflicts) > 0 {
		promConflicted.Inc()

		p.logger.Debug().
			Stringer("tx", req.TxID).
			Int("conflicts", len(conflicts)).
			Msg("commit conflicted")

		return notary.Receipt{}, notary.NewConflictError(conflicts)
	}

	sig, err := p.signer.Sign(req.TxID.Bytes())
	if err != nil {
		return notary.Receipt{}, notary.NewUnavailableError(err)
	}

	promCommitted.Inc()

	p.logger.Debug().
		Stringer("tx", req.TxID).
		Int("inputs", len(req.Inputs)).
		Int("references", len(req.References)).
		Msg("transaction committed")

	return notary.Receipt{Signature: sig, SignedAt: now}, nil
}

func validate(req notary.Request) error {
	if req.TxID.IsZero() {
		return notary.NewMalformedError("missing transaction id")
	}

	inputs := make(map[types.StateRef]struct{}, len(req.Inputs))
	for _, ref := range req.Inputs {
		inputs[ref] = struct{}{}
	}

	for _, ref := range req.References {
		if _, ok := inputs[ref]; ok {
			return notary.NewMalformedError(
				"state %v is both an input and a reference", ref)
		}
	}

	return nil
}

func requesterText(pk crypto.PublicKey) string {
	if pk == nil {
		return ""
	}

	text, err := pk.MarshalText()
	if err != nil {
		return "malformed_identity"
	}

	return string(text)
}

func (p *Provider) signatureDigest(sig crypto.Signature) types.Digest {
	if sig == nil {
		return types.Digest{}
	}

	data, err := sig.MarshalBinary()
	if err != nil {
		return types.Digest{}
	}

	h := p.hashFactory.New()
	h.Write(data)

	digest := types.Digest{}
	copy(digest[:], h.Sum(nil))

	return digest
}
