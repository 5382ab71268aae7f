package itest

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/betcrypto"
	"github.com/llfourn/gun-ng/walletadapter"
)

const (
	betValue     = int64(1_000_000)
	claimFeeRate = uint32(2)
)

// p2wpkhScript returns a fresh key's P2WPKH scriptPubKey, standing in
// for a party's payout address.
func p2wpkhScript(t *testing.T) []byte {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(key.PubKey().SerializeCompressed())).
		Script()
	require.NoError(t, err)
	return script
}

// TestBetClaimSweepsBetOutput walks the on-chain half of a bet against a
// real bitcoind: fund a 2-of-2 bet output, attest an outcome, and check
// that the winner's adaptor-completed claim passes consensus validation
// while the loser's claim, completed with the wrong scalar, is rejected.
func TestBetClaimSweepsBetOutput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A transaction the node has never seen maps to the adapter's
	// not-found error, the signal sync.go's reorg handling keys on.
	var missing chainhash.Hash
	missing[0] = 0xbe
	_, _, err := h.chain.GetTransaction(ctx, missing)
	require.ErrorIs(t, err, walletadapter.ErrTxNotFound)

	alice, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bob, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	witnessScript, err := betcrypto.BetScript(alice.PubKey(), bob.PubKey())
	require.NoError(t, err)
	betOutputScript, err := betcrypto.BetOutputScript(witnessScript)
	require.NoError(t, err)

	fundingOp := h.fundOutput(ctx, betOutputScript, betValue)

	_, confs, err := h.chain.GetTransaction(ctx, fundingOp.Hash)
	require.NoError(t, err)
	require.GreaterOrEqual(t, confs, int64(1))

	spender, err := h.chain.OutpointSpentBy(ctx, fundingOp)
	require.NoError(t, err)
	require.Nil(t, spender)

	oracle := newTestOracle(t, "oracle.example.com")
	event := oracle.announce("/coin/1", []string{"heads", "tails"}, time.Now().Add(time.Hour))

	alicePayout := p2wpkhScript(t)
	bobPayout := p2wpkhScript(t)

	claimAliceWins, err := betcrypto.BuildClaimTx(fundingOp, betValue, claimFeeRate, alicePayout)
	require.NoError(t, err)
	claimBobWins, err := betcrypto.BuildClaimTx(fundingOp, betValue, claimFeeRate, bobPayout)
	require.NoError(t, err)

	sigHashAliceWins, err := betcrypto.ClaimSigHash(claimAliceWins, betValue, witnessScript)
	require.NoError(t, err)
	sigHashBobWins, err := betcrypto.ClaimSigHash(claimBobWins, betValue, witnessScript)
	require.NoError(t, err)

	headsPoint := betcrypto.AttestationPoint(oracle.record, event, "heads")
	tailsPoint := betcrypto.AttestationPoint(oracle.record, event, "tails")

	// Each party hands the other an adaptor signature for the claim
	// direction the *other* party wins, exactly as Offer and TakeOffer do.
	bobAdaptor, err := betcrypto.AdaptorSign(bob, sigHashAliceWins, headsPoint)
	require.NoError(t, err)
	require.True(t, betcrypto.AdaptorVerify(bob.PubKey(), sigHashAliceWins, headsPoint, bobAdaptor))
	aliceAdaptor, err := betcrypto.AdaptorSign(alice, sigHashBobWins, tailsPoint)
	require.NoError(t, err)
	require.True(t, betcrypto.AdaptorVerify(alice.PubKey(), sigHashBobWins, tailsPoint, aliceAdaptor))

	att := oracle.attest(event, "heads")
	require.True(t, betcrypto.VerifyAttestation(oracle.record, event, att))
	headsScalar := betcrypto.AttestationScalar(att)

	// Bob lost: the only scalar the oracle ever publishes is heads', and
	// completing his claim with it produces a signature for alice's key
	// that fails script validation, so the node refuses the spend.
	wrongAliceSig, _, err := betcrypto.AdaptorComplete(aliceAdaptor, headsScalar)
	require.NoError(t, err)
	bobOwnSig := ecdsa.Sign(bob, sigHashBobWins)
	betcrypto.FinalizeClaimTx(claimBobWins, wrongAliceSig, bobOwnSig, witnessScript)
	require.Error(t, h.chain.Broadcast(ctx, claimBobWins))

	spender, err = h.chain.OutpointSpentBy(ctx, fundingOp)
	require.NoError(t, err)
	require.Nil(t, spender)

	// Alice won: completing bob's adaptor signature with the attestation
	// scalar yields a transaction consensus accepts.
	bobCompletedSig, _, err := betcrypto.AdaptorComplete(bobAdaptor, headsScalar)
	require.NoError(t, err)
	aliceOwnSig := ecdsa.Sign(alice, sigHashAliceWins)
	betcrypto.FinalizeClaimTx(claimAliceWins, aliceOwnSig, bobCompletedSig, witnessScript)
	require.NoError(t, h.chain.Broadcast(ctx, claimAliceWins))

	claimTxID := claimAliceWins.TxHash()

	// Visible as the spender straight from the mempool...
	spender, err = h.chain.OutpointSpentBy(ctx, fundingOp)
	require.NoError(t, err)
	require.NotNil(t, spender)
	require.Equal(t, claimTxID, *spender)

	// ...and still after it confirms.
	h.mine(1)

	swept, confs, err := h.chain.GetTransaction(ctx, claimTxID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, confs, int64(1))
	require.Len(t, swept.TxOut, 1)
	require.Equal(t, alicePayout, swept.TxOut[0].PkScript)
	require.Equal(t, betValue-int64(claimFeeRate)*betcrypto.ClaimTxVSize, swept.TxOut[0].Value)

	spender, err = h.chain.OutpointSpentBy(ctx, fundingOp)
	require.NoError(t, err)
	require.NotNil(t, spender)
	require.Equal(t, claimTxID, *spender)
}
