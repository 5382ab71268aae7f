package betcrypto

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/llfourn/gun-ng/contract"
)

// outcomeChallenge is H(outcome_label, event_id), the per-outcome scalar an
// oracle's Schnorr-style attestation equation folds into its public key.
func outcomeChallenge(outcomeLabel, eventID string) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write([]byte(outcomeLabel))
	h.Write([]byte(eventID))
	return hashToScalar(h.Sum(nil))
}

// AttestationPoint computes A_i = nonce_point + H(o_i, event_id)*oracle_pubkey
// for outcome label o_i, the adaptor point a bet's claim signature for that
// outcome is encrypted to.
func AttestationPoint(oracle *contract.Oracle, event *contract.Event, outcomeLabel string) *btcec.PublicKey {
	challenge := outcomeChallenge(outcomeLabel, event.ID())
	challengeTerm := scalarMult(challenge, jacobianOf(oracle.PublicKey))
	sum := addPoints(jacobianOf(event.NoncePoint), challengeTerm)
	return toPubKey(sum)
}

// VerifyAttestation checks that scalar s_k satisfies the oracle's
// attestation equation s_k*G == nonce_point + H(outcome_label,event_id)*P
// for the given event and outcome.
func VerifyAttestation(oracle *contract.Oracle, event *contract.Event, att *contract.Attestation) bool {
	if att.EventID != event.ID() {
		return false
	}

	var s secp256k1.ModNScalar
	overflow := s.SetBytes(&att.Scalar)
	if overflow != 0 || s.IsZero() {
		return false
	}

	lhs := scalarBaseMult(&s)
	rhs := AttestationPoint(oracle, event, att.OutcomeLabel)

	lhsKey := toPubKey(lhs)
	return lhsKey.IsEqual(rhs)
}

// AttestationScalar converts a verified attestation's raw bytes into the
// scalar used to complete an adaptor signature for the winning outcome.
func AttestationScalar(att *contract.Attestation) *secp256k1.ModNScalar {
	var s secp256k1.ModNScalar
	s.SetBytes(&att.Scalar)
	return &s
}
