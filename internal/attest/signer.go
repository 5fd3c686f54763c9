package attest

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

// CanonicalPayload is the exact byte string that gets signed:
// "{meter_id}:{value}:{observed_at}" with the value in domain.FormatValue form.
func CanonicalPayload(r domain.MeterReading) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", r.MeterID, domain.FormatValue(r.Value), r.ObservedAt))
}

// Signer attests readings with the operator's Ed25519 key. Ed25519 is
// deterministic, so the same reading always yields the same signature.
type Signer struct {
	key ed25519.PrivateKey
}

func NewSigner(key ed25519.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Sign fails closed: without a usable key it returns a *domain.SigningError
// and never an empty signature.
func (s *Signer) Sign(r domain.MeterReading) (domain.AttestedReading, error) {
	if s == nil || len(s.key) != ed25519.PrivateKeySize {
		return domain.AttestedReading{}, &domain.SigningError{MeterID: r.MeterID, Cause: domain.ErrKeyUnavailable}
	}
	sig := ed25519.Sign(s.key, CanonicalPayload(r))
	return domain.AttestedReading{MeterReading: r, Signature: sig}, nil
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	if s == nil || len(s.key) != ed25519.PrivateKeySize {
		return nil
	}
	return s.key.Public().(ed25519.PublicKey)
}

// Verify recomputes the canonical payload and checks the signature, the way
// the oracle does.
func Verify(pub ed25519.PublicKey, a domain.AttestedReading) bool {
	if len(pub) != ed25519.PublicKeySize || len(a.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, CanonicalPayload(a.MeterReading), a.Signature)
}
