// Package betcrypto implements the adaptor-signature construction that
// backs a bet output: a 2-of-2 P2WSH multisig that either party can spend
// only once they learn the oracle's attestation scalar for their chosen
// outcome.
//
// The construction is a DLEQ-bound ECDSA adaptor signature, the same shape
// used by pre-taproot DLC implementations (the bet output here is plain
// OP_CHECKMULTISIG, consensus-standard DER ECDSA, not a taproot key-path
// spend), built directly on github.com/decred/dcrd/dcrec/secp256k1/v4 scalar
// and point arithmetic -- the layer btcec/v2 itself wraps.
package betcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// AdaptorSignature is an incomplete ECDSA signature, encrypted under an
// adaptor point T. It can be verified against (pubkey, msgHash, T) without
// knowledge of t = log_G(T), but only completes into a valid ECDSA
// signature once t is known.
type AdaptorSignature struct {
	R     *btcec.PublicKey // k*T, the encrypted nonce point
	Sigma *secp256k1.ModNScalar
	Proof dleqProof
}

// dleqProof is a Chaum-Pedersen proof that log_G(Rprime) == log_T(R),
// i.e. that the same nonce k was used to compute both Rprime = k*G (bound
// into the proof only implicitly, via the Fiat-Shamir challenge) and
// R = k*T. Encoded compactly as two scalars.
type dleqProof struct {
	E *secp256k1.ModNScalar
	Z *secp256k1.ModNScalar
}

// randScalar returns a uniformly random nonzero scalar mod the group order.
func randScalar() (*secp256k1.ModNScalar, error) {
	for {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, err
		}
		var s secp256k1.ModNScalar
		overflow := s.SetBytes(&buf)
		if overflow != 0 || s.IsZero() {
			continue
		}
		return &s, nil
	}
}

func hashToScalar(msgHash []byte) *secp256k1.ModNScalar {
	var s secp256k1.ModNScalar
	s.SetByteSlice(msgHash)
	return &s
}

// scalarFromFieldX reduces a public key's affine X coordinate mod the group
// order, as ECDSA's r component requires.
func scalarFromFieldX(pub *btcec.PublicKey) secp256k1.ModNScalar {
	xBytes := pub.X().Bytes()
	var s secp256k1.ModNScalar
	s.SetByteSlice(xBytes[:])
	return s
}

func jacobianOf(pub *btcec.PublicKey) secp256k1.JacobianPoint {
	var j secp256k1.JacobianPoint
	pub.AsJacobian(&j)
	return j
}

func scalarBaseMult(k *secp256k1.ModNScalar) secp256k1.JacobianPoint {
	var r secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &r)
	r.ToAffine()
	return r
}

func scalarMult(k *secp256k1.ModNScalar, p secp256k1.JacobianPoint) secp256k1.JacobianPoint {
	var r secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(k, &p, &r)
	r.ToAffine()
	return r
}

func addPoints(a, b secp256k1.JacobianPoint) secp256k1.JacobianPoint {
	var r secp256k1.JacobianPoint
	secp256k1.AddNonConst(&a, &b, &r)
	r.ToAffine()
	return r
}

func toPubKey(p secp256k1.JacobianPoint) *btcec.PublicKey {
	p.ToAffine()
	return btcec.NewPublicKey(&p.X, &p.Y)
}

// dleqChallenge computes the Fiat-Shamir challenge for the DLEQ proof that
// log_G(rPrime) == log_T(r), binding in every public value involved.
func dleqChallenge(t, rPrime, r, aCommit, bCommit *btcec.PublicKey) *secp256k1.ModNScalar {
	h := sha256.New()
	for _, p := range []*btcec.PublicKey{t, rPrime, r, aCommit, bCommit} {
		h.Write(p.SerializeCompressed())
	}
	return hashToScalar(h.Sum(nil))
}

// proveDLEQ proves that rPrime = k*G and r = k*T share the same discrete
// log k, without revealing k.
func proveDLEQ(k *secp256k1.ModNScalar, t *btcec.PublicKey, rPrime, r *btcec.PublicKey) (dleqProof, error) {
	rho, err := randScalar()
	if err != nil {
		return dleqProof{}, err
	}

	aCommit := toPubKey(scalarBaseMult(rho))
	bCommit := toPubKey(scalarMult(rho, jacobianOf(t)))

	e := dleqChallenge(t, rPrime, r, aCommit, bCommit)

	var ek secp256k1.ModNScalar
	ek.Mul2(e, k)
	var z secp256k1.ModNScalar
	z.Add2(rho, &ek)

	return dleqProof{E: e, Z: &z}, nil
}

// verifyDLEQ checks a proof that log_G(rPrime) == log_T(r).
func verifyDLEQ(t, rPrime, r *btcec.PublicKey, proof dleqProof) bool {
	// aCheck = z*G - e*rPrime
	zg := scalarBaseMult(proof.Z)
	eRprime := scalarMult(proof.E, jacobianOf(rPrime))
	eRprime.Y.Negate(1).Normalize()
	aCheck := toPubKey(addPoints(zg, eRprime))

	// bCheck = z*T - e*r
	zt := scalarMult(proof.Z, jacobianOf(t))
	eR := scalarMult(proof.E, jacobianOf(r))
	eR.Y.Negate(1).Normalize()
	bCheck := toPubKey(addPoints(zt, eR))

	eCheck := dleqChallenge(t, rPrime, r, aCheck, bCheck)
	return eCheck.Equals(proof.E)
}

// AdaptorSign produces an adaptor signature on msgHash under priv,
// encrypted to the adaptor point t (an oracle's per-outcome attestation
// point). The result verifies under AdaptorVerify but cannot be turned into
// a standalone ECDSA signature without the discrete log of t.
func AdaptorSign(priv *btcec.PrivateKey, msgHash []byte, t *btcec.PublicKey) (*AdaptorSignature, error) {
	k, err := randScalar()
	if err != nil {
		return nil, err
	}

	rPrimeJ := scalarBaseMult(k)
	rPrime := toPubKey(rPrimeJ)

	rJ := scalarMult(k, jacobianOf(t))
	r := toPubKey(rJ)

	rx := scalarFromFieldX(r)
	if rx.IsZero() {
		return nil, fmt.Errorf("unlucky nonce, r is zero")
	}

	e := hashToScalar(msgHash)

	x := priv.Key
	var rxTimesX secp256k1.ModNScalar
	rxTimesX.Mul2(&rx, &x)
	var num secp256k1.ModNScalar
	num.Add2(e, &rxTimesX)

	kInv := new(secp256k1.ModNScalar).Set(k).InverseNonConst()
	var sigma secp256k1.ModNScalar
	sigma.Mul2(kInv, &num)

	proof, err := proveDLEQ(k, t, rPrime, r)
	if err != nil {
		return nil, err
	}

	return &AdaptorSignature{R: r, Sigma: &sigma, Proof: proof}, nil
}

// AdaptorVerify checks that sig is a well-formed adaptor signature on
// msgHash under pub, encrypted to t.
func AdaptorVerify(pub *btcec.PublicKey, msgHash []byte, t *btcec.PublicKey, sig *AdaptorSignature) bool {
	if sig == nil || sig.R == nil || sig.Sigma == nil {
		return false
	}

	rx := scalarFromFieldX(sig.R)
	if rx.IsZero() || sig.Sigma.IsZero() {
		return false
	}

	e := hashToScalar(msgHash)

	sigmaInv := new(secp256k1.ModNScalar).Set(sig.Sigma).InverseNonConst()

	var eSigmaInv secp256k1.ModNScalar
	eSigmaInv.Mul2(e, sigmaInv)
	eG := scalarBaseMult(&eSigmaInv)

	var rSigmaInv secp256k1.ModNScalar
	rSigmaInv.Mul2(&rx, sigmaInv)
	rP := scalarMult(&rSigmaInv, jacobianOf(pub))

	rPrimeCandidate := toPubKey(addPoints(eG, rP))

	return verifyDLEQ(t, rPrimeCandidate, sig.R, sig.Proof)
}

// AdaptorComplete finishes sig using the discrete log t of the adaptor
// point, producing a standard, broadcastable ECDSA signature. It also
// returns the raw s scalar, which RecoverScalar takes as its input, so
// callers need not pull it back out of the ecdsa.Signature.
func AdaptorComplete(sig *AdaptorSignature, t *secp256k1.ModNScalar) (*ecdsa.Signature, *secp256k1.ModNScalar, error) {
	if t.IsZero() {
		return nil, nil, fmt.Errorf("zero attestation scalar")
	}

	tInv := new(secp256k1.ModNScalar).Set(t).InverseNonConst()

	var s secp256k1.ModNScalar
	s.Mul2(sig.Sigma, tInv)

	r := scalarFromFieldX(sig.R)

	// BIP62 low-S normalization.
	if s.IsOverHalfOrder() {
		s.Negate()
	}

	return ecdsa.NewSignature(&r, &s), &s, nil
}

// RecoverScalar recovers the adaptor secret t from a completed signature's
// raw s scalar and its corresponding adaptor signature. Exposed for
// testability: the loser, without the scalar, cannot do this.
func RecoverScalar(sig *AdaptorSignature, s *secp256k1.ModNScalar) (*secp256k1.ModNScalar, error) {
	if s.IsZero() {
		return nil, fmt.Errorf("zero signature scalar")
	}

	sInv := new(secp256k1.ModNScalar).Set(s).InverseNonConst()

	var t secp256k1.ModNScalar
	t.Mul2(sig.Sigma, sInv)

	return &t, nil
}

// AdaptorSignatureSize is the fixed wire size of a serialized
// AdaptorSignature: R (33, compressed point) + Sigma (32) + the DLEQ
// proof's E and Z scalars (32 each).
const AdaptorSignatureSize = 33 + 32 + 32 + 32

// SerializeAdaptorSignature encodes sig to its fixed-length wire form, so
// it can travel inside an offer blob or a post-broadcast claim receipt
// without any length-based metadata leaking.
func SerializeAdaptorSignature(sig *AdaptorSignature) []byte {
	sigmaBytes := sig.Sigma.Bytes()
	eBytes := sig.Proof.E.Bytes()
	zBytes := sig.Proof.Z.Bytes()

	out := make([]byte, 0, AdaptorSignatureSize)
	out = append(out, sig.R.SerializeCompressed()...)
	out = append(out, sigmaBytes[:]...)
	out = append(out, eBytes[:]...)
	out = append(out, zBytes[:]...)
	return out
}

// DeserializeAdaptorSignature parses the fixed-length form SerializeAdaptorSignature
// produces.
func DeserializeAdaptorSignature(raw []byte) (*AdaptorSignature, error) {
	if len(raw) != AdaptorSignatureSize {
		return nil, fmt.Errorf("adaptor signature has %d bytes, want %d", len(raw), AdaptorSignatureSize)
	}

	r, err := btcec.ParsePubKey(raw[:33])
	if err != nil {
		return nil, fmt.Errorf("parse R: %w", err)
	}

	var sigma, e, z secp256k1.ModNScalar
	var buf32 [32]byte

	copy(buf32[:], raw[33:65])
	if sigma.SetBytes(&buf32) != 0 {
		return nil, fmt.Errorf("sigma overflows group order")
	}
	copy(buf32[:], raw[65:97])
	if e.SetBytes(&buf32) != 0 {
		return nil, fmt.Errorf("e overflows group order")
	}
	copy(buf32[:], raw[97:129])
	if z.SetBytes(&buf32) != 0 {
		return nil, fmt.Errorf("z overflows group order")
	}

	return &AdaptorSignature{R: r, Sigma: &sigma, Proof: dleqProof{E: &e, Z: &z}}, nil
}
