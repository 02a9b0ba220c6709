// Package crypto defines the cryptographic primitives needed by the notary to
// attest commitments and to verify notarization requests.
//
// The signer abstraction is implemented by the schnorr subpackage using the
// Kyber library. The notary never deals with raw key material directly, only
// with the interfaces of this package.
package crypto

import (
	"crypto/sha256"
	"encoding"
	"hash"
)

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// Sha256Factory is a hash factory producing SHA-256 digests.
//
// - implements crypto.HashFactory
type Sha256Factory struct{}

// NewSha256Factory returns a new instance of the factory.
func NewSha256Factory() Sha256Factory {
	return Sha256Factory{}
}

// New implements crypto.HashFactory. It returns a new SHA-256 instance.
func (f Sha256Factory) New() hash.Hash {
	return sha256.New()
}

// PublicKey is a public identity that can be used to verify a signature.
type PublicKey interface {
	encoding.BinaryMarshaler
	encoding.TextMarshaler

	// Verify returns nil if the signature matches the message for this
	// public key.
	Verify(msg []byte, signature Signature) error

	// Equal returns true when the other public key is the same.
	Equal(other PublicKey) bool
}

// Signature is a verifiable element for a unique message.
type Signature interface {
	encoding.BinaryMarshaler

	// Equal returns true when the other signature is the same.
	Equal(other Signature) bool
}

// Signer provides the primitives to sign a message.
type Signer interface {
	// GetPublicKey returns the public key of the signer that can be used to
	// verify signatures.
	GetPublicKey() PublicKey

	// Sign signs the message in parameter and returns the signature, or an
	// error if it cannot sign.
	Sign(msg []byte) (Signature, error)
}
