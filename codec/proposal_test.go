package codec

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/contract"
)

func testInputs(n int) []contract.Input {
	ins := make([]contract.Input, n)
	for i := range ins {
		var hash [32]byte
		hash[0] = byte(i + 1)
		ins[i] = contract.Input{
			OutPoint: wire.OutPoint{Hash: hash, Index: uint32(i)},
			Value:    int64(10_000 + i),
		}
	}
	return ins
}

func TestBase2048RoundTrip(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		{},
		{0x00},
		{0xff},
		{0x01, 0x02, 0x03, 0x04, 0x05},
		make([]byte, 256),
	}
	for i := range cases[4] {
		cases[4][i] = byte(i)
	}

	for _, c := range cases {
		encoded := EncodeBase2048(c)
		decoded, err := DecodeBase2048(encoded)
		require.NoError(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestBase2048RejectsUnknownSymbol(t *testing.T) {
	t.Parallel()

	_, err := DecodeBase2048("a")
	require.Error(t, err)
}

func TestProposalRoundTrip(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	for _, withChange := range []bool{true, false} {
		p := &Proposal{
			Value:          1_000_000,
			OracleID:       "oracle.example.com",
			EventPath:      "/x/btcusd/2026-08-01",
			ProposerPubKey: priv.PubKey(),
			ProposerInputs: testInputs(3),
			PayoutScript:   []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
		}
		if withChange {
			p.ChangeScript = p.PayoutScript
		}

		envelope, err := EncodeProposal(p)
		require.NoError(t, err)
		require.Contains(t, envelope, envelopePrefix)

		decoded, err := DecodeProposal(envelope)
		require.NoError(t, err)

		require.Equal(t, p.Value, decoded.Value)
		require.Equal(t, p.OracleID, decoded.OracleID)
		require.Equal(t, p.EventPath, decoded.EventPath)
		require.True(t, p.ProposerPubKey.IsEqual(decoded.ProposerPubKey))
		require.Equal(t, p.ProposerInputs, decoded.ProposerInputs)
		require.Equal(t, p.ChangeScript, decoded.ChangeScript)
		require.Equal(t, p.PayoutScript, decoded.PayoutScript)
	}
}

func TestDecodeProposalRejectsMissingPrefix(t *testing.T) {
	t.Parallel()

	_, err := DecodeProposal("not-a-proposal")
	require.Error(t, err)
}
