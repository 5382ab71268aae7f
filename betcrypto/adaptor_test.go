package betcrypto

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/contract"
)

func mustPrivKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

func mustScalar(t *testing.T) *secp256k1.ModNScalar {
	t.Helper()
	s, err := randScalar()
	require.NoError(t, err)
	return s
}

func adaptorPoint(t *secp256k1.ModNScalar) *btcec.PublicKey {
	return toPubKey(scalarBaseMult(t))
}

func TestAdaptorSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	priv := mustPrivKey(t)
	tScalar := mustScalar(t)
	T := adaptorPoint(tScalar)
	msgHash := sha256.Sum256([]byte("bet outcome: alice wins"))

	sig, err := AdaptorSign(priv, msgHash[:], T)
	require.NoError(t, err)
	require.True(t, AdaptorVerify(priv.PubKey(), msgHash[:], T, sig))
}

func TestAdaptorVerifyRejectsWrongInputs(t *testing.T) {
	t.Parallel()

	priv := mustPrivKey(t)
	tScalar := mustScalar(t)
	T := adaptorPoint(tScalar)
	msgHash := sha256.Sum256([]byte("bet outcome: alice wins"))

	sig, err := AdaptorSign(priv, msgHash[:], T)
	require.NoError(t, err)

	otherPriv := mustPrivKey(t)
	require.False(t, AdaptorVerify(otherPriv.PubKey(), msgHash[:], T, sig))

	otherHash := sha256.Sum256([]byte("bet outcome: bob wins"))
	require.False(t, AdaptorVerify(priv.PubKey(), otherHash[:], T, sig))

	otherT := adaptorPoint(mustScalar(t))
	require.False(t, AdaptorVerify(priv.PubKey(), msgHash[:], otherT, sig))
}

// TestAdaptorCompleteWinner is the winning side of the protocol: given the
// adaptor secret, completion yields a signature that verifies as an
// ordinary ECDSA signature under the signer's own pubkey.
func TestAdaptorCompleteWinner(t *testing.T) {
	t.Parallel()

	priv := mustPrivKey(t)
	tScalar := mustScalar(t)
	T := adaptorPoint(tScalar)
	msgHash := sha256.Sum256([]byte("bet outcome: alice wins"))

	adaptorSig, err := AdaptorSign(priv, msgHash[:], T)
	require.NoError(t, err)

	sig, sOut, err := AdaptorComplete(adaptorSig, tScalar)
	require.NoError(t, err)
	require.NotNil(t, sOut)
	require.True(t, sig.Verify(msgHash[:], priv.PubKey()))
}

// TestAdaptorCompleteLoserCannot is the losing side: without the true
// adaptor secret, completion either errors outright or produces a
// signature that does not verify -- a party can never forge the scalar
// needed to claim an outcome it didn't win.
func TestAdaptorCompleteLoserCannot(t *testing.T) {
	t.Parallel()

	priv := mustPrivKey(t)
	tScalar := mustScalar(t)
	T := adaptorPoint(tScalar)
	msgHash := sha256.Sum256([]byte("bet outcome: alice wins"))

	adaptorSig, err := AdaptorSign(priv, msgHash[:], T)
	require.NoError(t, err)

	wrongScalar := mustScalar(t)
	for wrongScalar.Equals(tScalar) {
		wrongScalar = mustScalar(t)
	}

	sig, _, err := AdaptorComplete(adaptorSig, wrongScalar)
	require.NoError(t, err)
	require.False(t, sig.Verify(msgHash[:], priv.PubKey()))
}

// TestRecoverScalar checks that completing an adaptor signature and then
// recovering its scalar returns (up to the usual ECDSA sign ambiguity)
// the same secret that completed it -- the property AdaptorComplete's
// second return value exists to support.
func TestRecoverScalar(t *testing.T) {
	t.Parallel()

	priv := mustPrivKey(t)
	tScalar := mustScalar(t)
	T := adaptorPoint(tScalar)
	msgHash := sha256.Sum256([]byte("bet outcome: alice wins"))

	adaptorSig, err := AdaptorSign(priv, msgHash[:], T)
	require.NoError(t, err)

	_, sOut, err := AdaptorComplete(adaptorSig, tScalar)
	require.NoError(t, err)

	recovered, err := RecoverScalar(adaptorSig, sOut)
	require.NoError(t, err)

	negated := new(secp256k1.ModNScalar).Set(recovered).Negate()
	matches := recovered.Equals(tScalar) || negated.Equals(tScalar)
	require.True(t, matches, "recovered scalar must equal the adaptor secret up to sign")
}

func TestAdaptorSignatureSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	priv := mustPrivKey(t)
	tScalar := mustScalar(t)
	T := adaptorPoint(tScalar)
	msgHash := sha256.Sum256([]byte("bet outcome: alice wins"))

	sig, err := AdaptorSign(priv, msgHash[:], T)
	require.NoError(t, err)

	raw := SerializeAdaptorSignature(sig)
	require.Len(t, raw, AdaptorSignatureSize)

	decoded, err := DeserializeAdaptorSignature(raw)
	require.NoError(t, err)
	require.True(t, AdaptorVerify(priv.PubKey(), msgHash[:], T, decoded))
}

func TestDeserializeAdaptorSignatureRejectsBadLength(t *testing.T) {
	t.Parallel()

	_, err := DeserializeAdaptorSignature([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

// TestOracleAttestationRoundTrip exercises the full adaptor-over-oracle
// flow end to end: an oracle's per-outcome attestation point is the
// adaptor point a claim signature is encrypted to, the oracle's actual
// attestation scalar completes it into a valid signature, and a
// different outcome's scalar -- the only thing the other side of the
// bet ever holds before the event resolves -- cannot.
func TestOracleAttestationRoundTrip(t *testing.T) {
	t.Parallel()

	oraclePriv := mustPrivKey(t)
	noncePriv := mustScalar(t)
	noncePoint := toPubKey(scalarBaseMult(noncePriv))

	oracle := &contract.Oracle{
		ID:        "oracle.example.com",
		PublicKey: oraclePriv.PubKey(),
		CurveID:   "secp256k1-schnorr",
	}
	event := &contract.Event{
		OracleID:   oracle.ID,
		EventPath:  "/x/btcusd/2026-08-01",
		OutcomeSet: []string{"alice", "bob"},
		NoncePoint: noncePoint,
	}

	attestationScalarFor := func(outcome string) secp256k1.ModNScalar {
		challenge := outcomeChallenge(outcome, event.ID())
		var oraclePrivScalar secp256k1.ModNScalar
		oraclePrivScalar.Set(&oraclePriv.Key)
		var term secp256k1.ModNScalar
		term.Mul2(challenge, &oraclePrivScalar)
		var s secp256k1.ModNScalar
		s.Add2(noncePriv, &term)
		return s
	}

	winningScalar := attestationScalarFor("alice")
	losingScalar := attestationScalarFor("bob")

	winningPoint := AttestationPoint(oracle, event, "alice")
	require.True(t, winningPoint.IsEqual(toPubKey(scalarBaseMult(&winningScalar))))

	var attBytes [32]byte
	winningBytes := winningScalar.Bytes()
	copy(attBytes[:], winningBytes[:])
	att := &contract.Attestation{
		EventID:      event.ID(),
		OutcomeLabel: "alice",
		Scalar:       attBytes,
	}
	require.True(t, VerifyAttestation(oracle, event, att))

	priv := mustPrivKey(t)
	claimSigHash := sha256.Sum256([]byte("claim tx sighash"))

	adaptorSig, err := AdaptorSign(priv, claimSigHash[:], winningPoint)
	require.NoError(t, err)
	require.True(t, AdaptorVerify(priv.PubKey(), claimSigHash[:], winningPoint, adaptorSig))

	// The winner completes using the attested scalar and gets a
	// broadcastable signature.
	winnerScalar := AttestationScalar(att)
	sig, _, err := AdaptorComplete(adaptorSig, winnerScalar)
	require.NoError(t, err)
	require.True(t, sig.Verify(claimSigHash[:], priv.PubKey()))

	// The other outcome's scalar -- all the loser ever has -- completes
	// into a signature the same claim transaction doesn't accept.
	loserSig, _, err := AdaptorComplete(adaptorSig, &losingScalar)
	require.NoError(t, err)
	require.False(t, loserSig.Verify(claimSigHash[:], priv.PubKey()))

	// And an attestation carrying the wrong outcome's scalar fails
	// verification against the event outright, before a claim is even
	// attempted.
	var losingBytes [32]byte
	lb := losingScalar.Bytes()
	copy(losingBytes[:], lb[:])
	badAtt := &contract.Attestation{
		EventID:      event.ID(),
		OutcomeLabel: "alice",
		Scalar:       losingBytes,
	}
	require.False(t, VerifyAttestation(oracle, event, badAtt))
}

// TestBuildFundingTxDeterministic checks that two independent callers
// given the same (unordered) inputs and outputs derive byte-identical
// funding transactions, and therefore the same txid -- the property
// both the proposer and offerer depend on to agree on a funding
// outpoint before either broadcasts anything.
func TestBuildFundingTxDeterministic(t *testing.T) {
	t.Parallel()

	input := func(seed byte, index uint32, value int64) contract.Input {
		var hash [32]byte
		hash[0] = seed
		return contract.Input{OutPoint: wire.OutPoint{Hash: hash, Index: index}, Value: value}
	}

	betScript, err := BetScript(mustPrivKey(t).PubKey(), mustPrivKey(t).PubKey())
	require.NoError(t, err)
	betOutScript, err := BetOutputScript(betScript)
	require.NoError(t, err)

	changeA := []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	changeB := []byte{0x00, 0x14, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40}

	base := FundingTxParams{
		ProposerInputs:       []contract.Input{input(3, 1, 50_000), input(1, 0, 60_000)},
		OffererInputs:        []contract.Input{input(2, 5, 70_000)},
		BetOutputScript:      betOutScript,
		BetValue:             170_000,
		ProposerChangeScript: changeA,
		ProposerChangeValue:  9_000,
		OffererChangeScript:  changeB,
		OffererChangeValue:   8_000,
	}

	// Same logical inputs, listed in a different order, as the other
	// party would build it from their own copy of the proposal/offer.
	reordered := base
	reordered.ProposerInputs = []contract.Input{input(1, 0, 60_000), input(3, 1, 50_000)}

	txA, err := BuildFundingTx(base)
	require.NoError(t, err)
	txB, err := BuildFundingTx(reordered)
	require.NoError(t, err)

	require.Equal(t, txA.TxHash(), txB.TxHash())

	// A change in any value breaks the match.
	mutated := base
	mutated.BetValue = base.BetValue - 1
	txC, err := BuildFundingTx(mutated)
	require.NoError(t, err)
	require.NotEqual(t, txA.TxHash(), txC.TxHash())
}

// TestBuildClaimTxDeterministic checks that a claim transaction's txid
// is fully determined by its funding outpoint, funding value, fee rate
// and payout script, before either party has signed anything -- the
// property the adaptor signatures exchanged during take are signed
// against.
func TestBuildClaimTxDeterministic(t *testing.T) {
	t.Parallel()

	var fundingHash [32]byte
	fundingHash[0] = 0x42
	fundingOutpoint := wire.OutPoint{Hash: fundingHash, Index: 0}
	payoutScript := []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}

	txA, err := BuildClaimTx(fundingOutpoint, 170_000, 10, payoutScript)
	require.NoError(t, err)
	txB, err := BuildClaimTx(fundingOutpoint, 170_000, 10, payoutScript)
	require.NoError(t, err)

	require.Equal(t, txA.TxHash(), txB.TxHash())
	require.Equal(t, ClaimTxID(txA), txA.TxHash())

	_, err = BuildClaimTx(fundingOutpoint, ClaimTxVSize*10-1, 10, payoutScript)
	require.Error(t, err, "fee must not be allowed to consume the entire output")
}
