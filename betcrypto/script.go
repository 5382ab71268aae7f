package betcrypto

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/llfourn/gun-ng/contract"
)

// ClaimTxVSize is the fixed virtual size (vbytes) of a claim transaction:
// one P2WSH 2-of-2 input, one output, version 2, locktime 0. Claim
// transactions are fully pre-signed except for the adaptor completion so
// this size -- and therefore the fee and the txid -- is known up front.
const ClaimTxVSize = 154

// BetScript returns the witness script "2 P Q 2 OP_CHECKMULTISIG" locking a
// bet output, with the proposer's key P first and the offerer's key Q
// second -- signatures in the witness stack must follow the same order.
func BetScript(proposerPub, offererPub *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(proposerPub.SerializeCompressed())
	builder.AddData(offererPub.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// BetOutputScript returns the P2WSH scriptPubKey for a bet's witness script.
func BetOutputScript(witnessScript []byte) ([]byte, error) {
	hash := chainhash.HashB(witnessScript)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(hash)
	return builder.Script()
}

// txInput pairs a wire.TxIn with the data needed to sort it deterministically.
type txInput struct {
	txIn  *wire.TxIn
	value int64
}

// txOutput pairs a wire.TxOut with the data needed to sort it deterministically.
type txOutput struct {
	txOut *wire.TxOut
}

// FundingTxParams describes the inputs needed to deterministically build a
// funding transaction. Both parties, given the same params derived from
// the proposal and offer, compute the same transaction and therefore the
// same txid.
type FundingTxParams struct {
	ProposerInputs []contract.Input
	OffererInputs  []contract.Input

	BetOutputScript []byte
	BetValue        int64

	ProposerChangeScript []byte // nil if no change
	ProposerChangeValue  int64

	OffererChangeScript []byte // nil if no change
	OffererChangeValue  int64
}

// BuildFundingTx assembles the funding transaction with inputs sorted
// lexicographically by (txid, vout) and outputs sorted lexicographically
// by (amount, script), so both parties independently build the identical
// transaction from the same proposal and offer.
func BuildFundingTx(p FundingTxParams) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)

	var ins []txInput
	for _, in := range p.ProposerInputs {
		ins = append(ins, txInput{
			txIn:  wire.NewTxIn(&in.OutPoint, nil, nil),
			value: in.Value,
		})
	}
	for _, in := range p.OffererInputs {
		ins = append(ins, txInput{
			txIn:  wire.NewTxIn(&in.OutPoint, nil, nil),
			value: in.Value,
		})
	}
	sort.Slice(ins, func(i, j int) bool {
		return lessOutPoint(ins[i].txIn.PreviousOutPoint, ins[j].txIn.PreviousOutPoint)
	})
	for _, in := range ins {
		tx.AddTxIn(in.txIn)
	}

	var outs []txOutput
	outs = append(outs, txOutput{txOut: wire.NewTxOut(p.BetValue, p.BetOutputScript)})
	if p.ProposerChangeScript != nil {
		outs = append(outs, txOutput{txOut: wire.NewTxOut(p.ProposerChangeValue, p.ProposerChangeScript)})
	}
	if p.OffererChangeScript != nil {
		outs = append(outs, txOutput{txOut: wire.NewTxOut(p.OffererChangeValue, p.OffererChangeScript)})
	}
	sort.Slice(outs, func(i, j int) bool {
		return lessTxOut(outs[i].txOut, outs[j].txOut)
	})
	for _, o := range outs {
		tx.AddTxOut(o.txOut)
	}

	return tx, nil
}

func lessOutPoint(a, b wire.OutPoint) bool {
	cmp := a.Hash.String()
	cmp2 := b.Hash.String()
	if cmp != cmp2 {
		return cmp < cmp2
	}
	return a.Index < b.Index
}

func lessTxOut(a, b *wire.TxOut) bool {
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	return string(a.PkScript) < string(b.PkScript)
}

// BuildClaimTx constructs the deterministic claim transaction spending the
// bet output at fundingOutpoint (holding fundingValue sats) to payoutScript,
// at the fixed fee rate feeRate (sat/vByte). Its txid is therefore
// predictable the moment the bet output is known.
func BuildClaimTx(fundingOutpoint wire.OutPoint, fundingValue int64, feeRate uint32, payoutScript []byte) (*wire.MsgTx, error) {
	fee := int64(feeRate) * ClaimTxVSize
	value := fundingValue - fee
	if value <= 0 {
		return nil, fmt.Errorf("claim output value non-positive after fee: funding=%d fee=%d",
			fundingValue, fee)
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&fundingOutpoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, payoutScript))

	return tx, nil
}

// ClaimSigHash computes the BIP143 witness signature hash for the claim
// transaction's sole input, spending a P2WSH bet output locked by
// witnessScript and worth fundingValue sats.
func ClaimSigHash(claimTx *wire.MsgTx, fundingValue int64, witnessScript []byte) ([]byte, error) {
	prevScript, err := BetOutputScript(witnessScript)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(prevScript, fundingValue)
	hashes := txscript.NewTxSigHashes(claimTx, fetcher)
	return txscript.CalcWitnessSigHash(
		witnessScript, hashes, txscript.SigHashAll, claimTx, 0, fundingValue,
	)
}

// FinalizeClaimTx sets the claim transaction's witness stack, given the two
// completed ECDSA signatures in the same order as the public keys appear
// in the bet's witness script (OP_CHECKMULTISIG requires this order; the
// leading empty push works around the historical CHECKMULTISIG off-by-one).
func FinalizeClaimTx(claimTx *wire.MsgTx, firstSig, secondSig *ecdsa.Signature, witnessScript []byte) {
	sigA := append(firstSig.Serialize(), byte(txscript.SigHashAll))
	sigB := append(secondSig.Serialize(), byte(txscript.SigHashAll))

	claimTx.TxIn[0].Witness = wire.TxWitness{
		nil,
		sigA,
		sigB,
		witnessScript,
	}
}

// ClaimTxID returns the (predictable) txid of a claim transaction before it
// is fully signed -- the witness does not factor into the txid.
func ClaimTxID(claimTx *wire.MsgTx) chainhash.Hash {
	return claimTx.TxHash()
}
