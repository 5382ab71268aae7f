package codec

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func buildOffer(t *testing.T, numInputs int, withChange bool) (*Offer, *btcec.PrivateKey) {
	t.Helper()

	offererPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	o := &Offer{
		OffererPubKey: offererPriv.PubKey(),
		OutcomeIndex:  1,
		OffererInputs: testInputs(numInputs),
		PayoutScript:  []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
		InputSigs:     make([][]byte, numInputs),
		AdaptorSig:    make([]byte, 65),
		FeeRate:       5,
	}
	for i := range o.InputSigs {
		o.InputSigs[i] = make([]byte, 70)
	}
	if withChange {
		o.ChangeScript = o.PayoutScript
	}
	return o, offererPriv
}

func TestOfferRoundTrip(t *testing.T) {
	t.Parallel()

	proposerPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	assocData := Fingerprint("📣0.00100000#oracle.example.com#/x/btcusd/2026-08-01#xyz")

	for _, withChange := range []bool{true, false} {
		for n := 1; n <= MaxOfferInputs; n++ {
			o, offererPriv := buildOffer(t, n, withChange)

			blob, err := EncryptOffer(o, offererPriv, proposerPriv.PubKey(), assocData)
			require.NoError(t, err)

			decoded, err := DecryptOffer(blob, proposerPriv, assocData)
			require.NoError(t, err)

			require.True(t, o.OffererPubKey.IsEqual(decoded.OffererPubKey))
			require.Equal(t, o.OutcomeIndex, decoded.OutcomeIndex)
			require.Equal(t, o.OffererInputs, decoded.OffererInputs)
			require.Equal(t, o.ChangeScript, decoded.ChangeScript)
			require.Equal(t, o.PayoutScript, decoded.PayoutScript)
			require.Equal(t, o.InputSigs, decoded.InputSigs)
			require.Equal(t, o.AdaptorSig, decoded.AdaptorSig)
			require.Equal(t, o.FeeRate, decoded.FeeRate)
		}
	}
}

// TestOfferLengthUniform checks that the encoded offer blob has the same
// length regardless of input count or change presence.
func TestOfferLengthUniform(t *testing.T) {
	t.Parallel()

	proposerPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	assocData := Fingerprint("fixture")

	var want int
	for _, withChange := range []bool{true, false} {
		for n := 1; n <= MaxOfferInputs; n++ {
			o, offererPriv := buildOffer(t, n, withChange)
			blob, err := EncryptOffer(o, offererPriv, proposerPriv.PubKey(), assocData)
			require.NoError(t, err)

			if want == 0 {
				want = len([]rune(blob))
			}
			require.Equal(t, want, len([]rune(blob)), "input count=%d withChange=%v", n, withChange)
		}
	}
}

func TestDecryptOfferRejectsWrongAssociatedData(t *testing.T) {
	t.Parallel()

	proposerPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	o, offererPriv := buildOffer(t, 2, true)

	blob, err := EncryptOffer(o, offererPriv, proposerPriv.PubKey(), Fingerprint("proposal-a"))
	require.NoError(t, err)

	_, err = DecryptOffer(blob, proposerPriv, Fingerprint("proposal-b"))
	require.Error(t, err)
}
