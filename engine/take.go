package engine

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/llfourn/gun-ng/betcrypto"
	"github.com/llfourn/gun-ng/codec"
	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
)

// takeReceiptPrefix marks a take receipt apart from a proposal envelope
// when a user pastes a string back into the CLI; unlike the proposal and
// offer, a take receipt carries no variable-length fields, so it needs no
// field separators of its own.
const takeReceiptPrefix = "🎯"

// TakeOffer runs the proposer's side of taking an offer: decrypt the
// offer against the pending proposal it answers, rebuild the funding and
// claim transactions byte-for-byte the way Offer did, verify the
// offerer's adaptor signature, sign and broadcast the funding
// transaction, and compute this side's own adaptor signature for the
// offerer's winning claim.
//
// offererValue is the wager amount the offerer committed to out of band
// -- the same number the counterparty passed to Offer -- since, like the
// proposal's own value, it is never carried on the wire.
//
// The returned take receipt carries the proposer's adaptor signature for
// the offerer's winning claim transaction. Nothing in the two-message
// proposal/offer exchange gives the offerer any other way to learn it,
// so -- like the proposal and offer strings themselves -- it is meant to
// be relayed back over the same out-of-band channel once the funding
// transaction is broadcast.
func (e *Engine) TakeOffer(ctx context.Context, betID contract.BetID, offererValue btcutil.Amount, offerBlob string) (string, *contract.Bet, error) {
	unlock := e.lockBet(betID)
	defer unlock()

	bet, err := e.store.GetBet(betID)
	if err != nil {
		return "", nil, gunerr.New(gunerr.UserInput, err)
	}
	if bet.Role != contract.RoleProposer || bet.State != contract.StateProposing {
		return "", nil, gunerr.Newf(gunerr.UserInput, "bet %d is not a pending proposal (role=%s state=%s)",
			betID, bet.Role, bet.State)
	}

	fingerprint := codec.Fingerprint(bet.ProposalEnvelope)
	offer, err := codec.DecryptOffer(offerBlob, bet.MySecret, fingerprint)
	if err != nil {
		return "", nil, gunerr.New(gunerr.UserInput, fmt.Errorf("decrypt offer: %w", err))
	}

	if len(bet.Event.OutcomeSet) != 2 || int(offer.OutcomeIndex) >= len(bet.Event.OutcomeSet) {
		return "", nil, gunerr.Newf(gunerr.ProtocolViolation, "offer names an invalid outcome index %d", offer.OutcomeIndex)
	}
	offererOutcome := bet.Event.OutcomeSet[offer.OutcomeIndex]
	proposerOutcome := bet.Event.OutcomeSet[1-offer.OutcomeIndex]

	witnessScript, err := betcrypto.BetScript(bet.MyKey, offer.OffererPubKey)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	betOutputScript, err := betcrypto.BetOutputScript(witnessScript)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	fundingValue := bet.MyValue + int64(offererValue)
	feeRate := offer.FeeRate

	nOutputs := 1
	if bet.MyChangeScript != nil {
		nOutputs++
	}
	if offer.ChangeScript != nil {
		nOutputs++
	}
	proposerInputs, err := e.inputsFromOutpoints(bet.ReservedUTXOs)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	vsize := betcrypto.EstimateFundingVSize(len(proposerInputs)+len(offer.OffererInputs), nOutputs)
	fee := int64(feeRate) * vsize
	proposerShare, offererShare := betcrypto.SplitFundingFee(fee, len(proposerInputs), len(offer.OffererInputs))

	proposerChangeValue := inputTotal(proposerInputs) - bet.MyValue - proposerShare
	proposerChangeScript := bet.MyChangeScript
	if proposerChangeScript != nil && proposerChangeValue <= dustLimit {
		proposerChangeScript = nil
		proposerChangeValue = 0
	}

	offererChangeValue := inputTotal(offer.OffererInputs) - int64(offererValue) - offererShare
	offererChangeScript := offer.ChangeScript
	if offererChangeScript != nil && offererChangeValue <= dustLimit {
		offererChangeScript = nil
		offererChangeValue = 0
	}

	fundingTx, err := betcrypto.BuildFundingTx(betcrypto.FundingTxParams{
		ProposerInputs:       proposerInputs,
		OffererInputs:        offer.OffererInputs,
		BetOutputScript:      betOutputScript,
		BetValue:             fundingValue,
		ProposerChangeScript: proposerChangeScript,
		ProposerChangeValue:  proposerChangeValue,
		OffererChangeScript:  offererChangeScript,
		OffererChangeValue:   offererChangeValue,
	})
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	fundingTxID := fundingTx.TxHash()
	fundingVout, err := findBetVout(fundingTx, betOutputScript, fundingValue)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	fundingOutpoint := wire.OutPoint{Hash: fundingTxID, Index: fundingVout}

	claimTxProposerWins, err := betcrypto.BuildClaimTx(fundingOutpoint, fundingValue, feeRate, bet.MyPayoutScript)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	claimTxOffererWins, err := betcrypto.BuildClaimTx(fundingOutpoint, fundingValue, feeRate, offer.PayoutScript)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	oracle, err := e.resolveOracle(bet.OracleID)
	if err != nil {
		return "", nil, err
	}

	sigHashProposerWins, err := betcrypto.ClaimSigHash(claimTxProposerWins, fundingValue, witnessScript)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	attestationPointProposerWins := betcrypto.AttestationPoint(oracle, &bet.Event, proposerOutcome)
	offererAdaptorSig, err := betcrypto.DeserializeAdaptorSignature(offer.AdaptorSig)
	if err != nil {
		return "", nil, gunerr.New(gunerr.ProtocolViolation, fmt.Errorf("parse offerer adaptor signature: %w", err))
	}
	if !betcrypto.AdaptorVerify(offer.OffererPubKey, sigHashProposerWins, attestationPointProposerWins, offererAdaptorSig) {
		return "", nil, gunerr.Newf(gunerr.ProtocolViolation, "offerer's adaptor signature does not verify")
	}

	sigHashOffererWins, err := betcrypto.ClaimSigHash(claimTxOffererWins, fundingValue, witnessScript)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	attestationPointOffererWins := betcrypto.AttestationPoint(oracle, &bet.Event, offererOutcome)
	proposerAdaptorSig, err := betcrypto.AdaptorSign(bet.MySecret, sigHashOffererWins, attestationPointOffererWins)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("compute adaptor signature: %w", err))
	}

	packet, err := packetForSigning(fundingTx, e.wallet, proposerInputs)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	if _, err := e.wallet.SignInputs(packet, proposerInputs); err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("sign proposer inputs: %w", err))
	}

	// The offerer's pre-made witnesses go on only after packetForSigning:
	// psbt.NewFromUnsignedTx refuses a transaction that already carries
	// witness data.
	if err := applyOffererSignatures(fundingTx, offer); err != nil {
		return "", nil, gunerr.New(gunerr.ProtocolViolation, err)
	}
	if err := verifyOffererWitnesses(fundingTx, offer); err != nil {
		return "", nil, gunerr.New(gunerr.ProtocolViolation, err)
	}

	txid, err := e.wallet.Broadcast(ctx, fundingTx)
	if err != nil {
		return "", nil, gunerr.New(gunerr.Network, fmt.Errorf("broadcast funding transaction: %w", err))
	}
	if txid != fundingTxID {
		return "", nil, gunerr.Newf(gunerr.DataIntegrity, "broadcast txid %s does not match computed txid %s", txid, fundingTxID)
	}

	bet.TheirKey = offer.OffererPubKey
	bet.ChosenOutcome = proposerOutcome
	bet.OpposingOutcome = offererOutcome
	bet.TheirValue = int64(offererValue)
	bet.FeeRate = feeRate
	bet.FundingTxID = fundingTxID
	bet.FundingVout = fundingVout
	bet.FundingValue = fundingValue
	bet.FundingTx = fundingTx
	bet.TheirPayoutScript = offer.PayoutScript
	bet.ClaimTemplates = map[string]*contract.AdaptorMaterial{
		proposerOutcome: {
			OutcomeLabel:           proposerOutcome,
			ClaimTx:                claimTxProposerWins,
			CounterpartyAdaptorSig: offer.AdaptorSig,
		},
		offererOutcome: {
			OutcomeLabel: offererOutcome,
			ClaimTx:      claimTxOffererWins,
			MyAdaptorSig: betcrypto.SerializeAdaptorSignature(proposerAdaptorSig),
		},
	}

	fromState := bet.State
	bet.State = contract.StateUnconfirmed
	if err := e.store.SaveTransition(bet, fromState); err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	receipt := takeReceiptPrefix + codec.EncodeBase2048(betcrypto.SerializeAdaptorSignature(proposerAdaptorSig))

	log.Infof("bet %d: took offer, broadcast funding tx %s", bet.BetID, fundingTxID)

	return receipt, bet, nil
}

// IngestTakeReceipt implements the offerer's side of the take-receipt
// extension (see TakeOffer's doc comment): it records the proposer's
// adaptor signature for the offerer's own winning claim, which the
// funding-transaction broadcast alone does not reveal. A receipt exists
// only once the funding transaction is broadcast, so an offered bet
// moves to unconfirmed here.
func (e *Engine) IngestTakeReceipt(betID contract.BetID, receipt string) (*contract.Bet, error) {
	unlock := e.lockBet(betID)
	defer unlock()

	bet, err := e.store.GetBet(betID)
	if err != nil {
		return nil, gunerr.New(gunerr.UserInput, err)
	}
	if bet.Role != contract.RoleOfferer {
		return nil, gunerr.Newf(gunerr.UserInput, "bet %d was not offered by this wallet", betID)
	}

	raw := receipt
	if len(raw) >= len(takeReceiptPrefix) && raw[:len(takeReceiptPrefix)] == takeReceiptPrefix {
		raw = raw[len(takeReceiptPrefix):]
	}
	sigBytes, err := codec.DecodeBase2048(raw)
	if err != nil {
		return nil, gunerr.New(gunerr.UserInput, fmt.Errorf("decode take receipt: %w", err))
	}
	sig, err := betcrypto.DeserializeAdaptorSignature(sigBytes)
	if err != nil {
		return nil, gunerr.New(gunerr.UserInput, fmt.Errorf("parse take receipt: %w", err))
	}

	material := bet.MyClaimMaterial()
	if material == nil {
		return nil, gunerr.Newf(gunerr.UserInput, "bet %d has no claim template for outcome %q", betID, bet.ChosenOutcome)
	}

	oracle, err := e.resolveOracle(bet.OracleID)
	if err != nil {
		return nil, err
	}
	witnessScript, err := betcrypto.BetScript(bet.TheirKey, bet.MyKey)
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	sigHash, err := betcrypto.ClaimSigHash(material.ClaimTx, bet.FundingValue, witnessScript)
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	attestationPoint := betcrypto.AttestationPoint(oracle, &bet.Event, bet.ChosenOutcome)
	if !betcrypto.AdaptorVerify(bet.TheirKey, sigHash, attestationPoint, sig) {
		return nil, gunerr.Newf(gunerr.ProtocolViolation, "take receipt's adaptor signature does not verify")
	}

	material.CounterpartyAdaptorSig = sigBytes

	fromState := bet.State
	if bet.State == contract.StateOffered {
		bet.State = contract.StateUnconfirmed
	}
	if err := e.store.SaveTransition(bet, fromState); err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	return bet, nil
}

// applyOffererSignatures sets, on tx, the witness for each of the
// offerer's inputs the offer carried a pre-made signature for.
func applyOffererSignatures(tx *wire.MsgTx, offer *codec.Offer) error {
	if len(offer.InputSigs) != len(offer.OffererInputs) {
		return fmt.Errorf("offer carries %d signatures for %d inputs", len(offer.InputSigs), len(offer.OffererInputs))
	}
	sigByOutpoint := make(map[wire.OutPoint][]byte, len(offer.OffererInputs))
	for i, in := range offer.OffererInputs {
		sigByOutpoint[in.OutPoint] = offer.InputSigs[i]
	}
	for i, txIn := range tx.TxIn {
		sig, ok := sigByOutpoint[txIn.PreviousOutPoint]
		if !ok {
			continue
		}
		tx.TxIn[i].Witness = wire.TxWitness{sig, offer.OffererPubKey.SerializeCompressed()}
	}
	return nil
}

// verifyOffererWitnesses runs the script engine over each of the
// offerer's inputs after applyOffererSignatures, so a tampered or junk
// input signature is caught here as a protocol violation instead of as
// an opaque broadcast rejection. The offer carries each input's
// outpoint and value but not its scriptPubKey; the witness's own public
// key determines it, since the signing scheme both wallets use is
// single-key P2WPKH.
func verifyOffererWitnesses(tx *wire.MsgTx, offer *codec.Offer) error {
	values := make(map[wire.OutPoint]int64, len(offer.OffererInputs))
	for _, in := range offer.OffererInputs {
		values[in.OutPoint] = in.Value
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	type checkInput struct {
		idx      int
		pkScript []byte
		value    int64
	}
	var toCheck []checkInput
	for i, txIn := range tx.TxIn {
		value, ok := values[txIn.PreviousOutPoint]
		if !ok {
			continue
		}
		if len(txIn.Witness) != 2 {
			return fmt.Errorf("offerer input %s has a %d-element witness, want 2", txIn.PreviousOutPoint, len(txIn.Witness))
		}
		pub, err := btcec.ParsePubKey(txIn.Witness[1])
		if err != nil {
			return fmt.Errorf("offerer input %s witness pubkey: %w", txIn.PreviousOutPoint, err)
		}
		pkScript, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).
			AddData(btcutil.Hash160(pub.SerializeCompressed())).
			Script()
		if err != nil {
			return err
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint, wire.NewTxOut(value, pkScript))
		toCheck = append(toCheck, checkInput{idx: i, pkScript: pkScript, value: value})
	}

	hashes := txscript.NewTxSigHashes(tx, fetcher)
	for _, in := range toCheck {
		vm, err := txscript.NewEngine(
			in.pkScript, tx, in.idx, txscript.StandardVerifyFlags,
			nil, hashes, in.value, fetcher,
		)
		if err != nil {
			return fmt.Errorf("offerer input %d: %w", in.idx, err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("offerer input %d signature invalid: %w", in.idx, err)
		}
	}
	return nil
}

// inputsFromOutpoints reconstructs the proposer's contract.Input list
// from the outpoints a proposing bet reserved. The bet record itself
// keeps only outpoints, so each input's value is looked back up from the wallet, which
// still holds -- and, pre-broadcast, still reserves -- those same
// outputs.
func (e *Engine) inputsFromOutpoints(ops []wire.OutPoint) ([]contract.Input, error) {
	inputs := make([]contract.Input, len(ops))
	for i, op := range ops {
		utxo, err := e.wallet.WitnessUTXO(op)
		if err != nil {
			return nil, fmt.Errorf("look up reserved input %s: %w", op, err)
		}
		inputs[i] = contract.Input{OutPoint: op, Value: utxo.Value}
	}
	return inputs, nil
}
