package engine

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/llfourn/gun-ng/betcrypto"
	"github.com/llfourn/gun-ng/codec"
	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
	"github.com/llfourn/gun-ng/keyring"
)

// dustLimit mirrors walletadapter's: a change output this small is folded
// into the fee rather than created.
const dustLimit = int64(546)

// Offer parses and validates a proposal, generates a fresh ephemeral
// keypair, reserves offerer inputs, deterministically builds the funding
// and claim transactions, pre-signs the offerer's half, and returns the
// encrypted, length-padded offer blob.
func (e *Engine) Offer(ctx context.Context, value btcutil.Amount, outcomeLabel string, proposalEnvelope string) (string, *contract.Bet, error) {
	proposal, err := codec.DecodeProposal(proposalEnvelope)
	if err != nil {
		return "", nil, gunerr.New(gunerr.UserInput, fmt.Errorf("decode proposal: %w", err))
	}

	oracle, err := e.resolveOracle(proposal.OracleID)
	if err != nil {
		return "", nil, err
	}

	event, err := e.oracle.FetchEvent(ctx, oracle, proposal.EventPath)
	if err != nil {
		return "", nil, wrapOracleErr(err)
	}

	if len(event.OutcomeSet) != 2 {
		return "", nil, gunerr.Newf(gunerr.UserInput,
			"event %s has %d outcomes; this protocol only supports binary-outcome events",
			event.ID(), len(event.OutcomeSet))
	}

	outcomeIdx := event.OutcomeIndex(outcomeLabel)
	if outcomeIdx < 0 {
		return "", nil, gunerr.Newf(gunerr.UserInput, "outcome %q is not in event %s's outcome set %v",
			outcomeLabel, event.ID(), event.OutcomeSet)
	}
	proposerOutcome := event.OutcomeSet[1-outcomeIdx]

	if err := e.checkMargin(event); err != nil {
		return "", nil, err
	}

	keyDesc, err := e.keyring.DeriveNextKey(keyring.FamilyBetEphemeral)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("derive offerer key: %w", err))
	}
	offererPriv, err := e.keyring.PrivKeyForLocator(keyDesc.KeyLocator)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("re-derive offerer key: %w", err))
	}

	offererInputs, reservedChangeScript, err := e.wallet.ReserveInputs(value, satPerVByteToSatPerKWeight(e.cfg.DefaultFeeRate))
	if err != nil {
		return "", nil, gunerr.New(gunerr.WalletBusy, err)
	}

	payoutScript, err := e.wallet.NextPayoutScript()
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("allocate payout script: %w", err))
	}

	witnessScript, err := betcrypto.BetScript(proposal.ProposerPubKey, offererPriv.PubKey())
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	betOutputScript, err := betcrypto.BetOutputScript(witnessScript)
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	fundingValue := proposal.Value + int64(value)
	feeRate := e.cfg.DefaultFeeRate

	nOutputs := 1
	if proposal.ChangeScript != nil {
		nOutputs++
	}
	if reservedChangeScript != nil {
		nOutputs++
	}
	vsize := betcrypto.EstimateFundingVSize(len(proposal.ProposerInputs)+len(offererInputs), nOutputs)
	fee := int64(feeRate) * vsize
	proposerShare, offererShare := betcrypto.SplitFundingFee(fee, len(proposal.ProposerInputs), len(offererInputs))

	proposerChangeValue := inputTotal(proposal.ProposerInputs) - proposal.Value - proposerShare
	proposerChangeScript := proposal.ChangeScript
	if proposerChangeScript != nil && proposerChangeValue <= dustLimit {
		proposerChangeScript = nil
		proposerChangeValue = 0
	}

	offererChangeValue := inputTotal(offererInputs) - int64(value) - offererShare
	offererChangeScript := reservedChangeScript
	if offererChangeScript != nil && offererChangeValue <= dustLimit {
		offererChangeScript = nil
		offererChangeValue = 0
	}

	fundingTx, err := betcrypto.BuildFundingTx(betcrypto.FundingTxParams{
		ProposerInputs:       proposal.ProposerInputs,
		OffererInputs:        offererInputs,
		BetOutputScript:      betOutputScript,
		BetValue:             fundingValue,
		ProposerChangeScript: proposerChangeScript,
		ProposerChangeValue:  proposerChangeValue,
		OffererChangeScript:  offererChangeScript,
		OffererChangeValue:   offererChangeValue,
	})
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	fundingTxID := fundingTx.TxHash()
	fundingVout, err := findBetVout(fundingTx, betOutputScript, fundingValue)
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	fundingOutpoint := wire.OutPoint{Hash: fundingTxID, Index: fundingVout}

	claimTxProposerWins, err := betcrypto.BuildClaimTx(fundingOutpoint, fundingValue, feeRate, proposal.PayoutScript)
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	claimTxOffererWins, err := betcrypto.BuildClaimTx(fundingOutpoint, fundingValue, feeRate, payoutScript)
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	sigHashProposerWins, err := betcrypto.ClaimSigHash(claimTxProposerWins, fundingValue, witnessScript)
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	// The offerer's own half of the bilateral adaptor exchange: an
	// adaptor signature under Q against the claim transaction that pays
	// the proposer, encrypted to the attestation point of the outcome
	// the *proposer* wins on.
	attestationPointProposerWins := betcrypto.AttestationPoint(oracle, event, proposerOutcome)
	offererAdaptorSig, err := betcrypto.AdaptorSign(offererPriv, sigHashProposerWins, attestationPointProposerWins)
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("compute adaptor signature: %w", err))
	}

	packet, err := packetForSigning(fundingTx, e.wallet, offererInputs)
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	if _, err := e.wallet.SignInputs(packet, offererInputs); err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("sign offerer inputs: %w", err))
	}
	inputSigs, err := extractSignatures(fundingTx, offererInputs)
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	betID, err := e.store.NextBetID()
	if err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	if err := e.store.ReserveUTXOs(betID, toOutPoints(offererInputs)); err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		return "", nil, gunerr.New(gunerr.WalletBusy, err)
	}

	bet := &contract.Bet{
		BetID:             betID,
		Role:              contract.RoleOfferer,
		State:             contract.StateOffered,
		OracleID:          proposal.OracleID,
		Event:             *event,
		ProposalEnvelope:  proposalEnvelope,
		ChosenOutcome:     outcomeLabel,
		OpposingOutcome:   proposerOutcome,
		FundingTxID:       fundingTxID,
		FundingVout:       fundingVout,
		FundingValue:      fundingValue,
		FundingTx:         fundingTx,
		MyValue:           int64(value),
		TheirValue:        proposal.Value,
		FeeRate:           feeRate,
		MyKey:             offererPriv.PubKey(),
		MySecret:          offererPriv,
		TheirKey:          proposal.ProposerPubKey,
		MyPayoutScript:    payoutScript,
		TheirPayoutScript: proposal.PayoutScript,
		MyChangeScript:    offererChangeScript,
		ReservedUTXOs:     toOutPoints(offererInputs),
		ClaimTemplates: map[string]*contract.AdaptorMaterial{
			outcomeLabel: {
				OutcomeLabel: outcomeLabel,
				ClaimTx:      claimTxOffererWins,
				// CounterpartyAdaptorSig arrives later, via the
				// post-broadcast take receipt (see take.go).
			},
			proposerOutcome: {
				OutcomeLabel: proposerOutcome,
				ClaimTx:      claimTxProposerWins,
				MyAdaptorSig: betcrypto.SerializeAdaptorSignature(offererAdaptorSig),
			},
		},
		Heights: contract.Heights{ProposedAt: e.clock.Now()},
	}

	if err := e.store.SaveTransition(bet, contract.StateOffered); err != nil {
		e.wallet.ReleaseInputs(offererInputs)
		e.store.ReleaseUTXOs(bet.ReservedUTXOs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	offer := &codec.Offer{
		OffererPubKey: offererPriv.PubKey(),
		OutcomeIndex:  uint8(outcomeIdx),
		OffererInputs: offererInputs,
		// The pre-fold change script, even when the dust fold dropped the
		// output: the proposer reruns the same fold from the same counts,
		// so the wire blob must carry the same starting point, not the
		// folded result.
		ChangeScript:  reservedChangeScript,
		PayoutScript:  payoutScript,
		InputSigs:     inputSigs,
		AdaptorSig:    betcrypto.SerializeAdaptorSignature(offererAdaptorSig),
		FeeRate:       feeRate,
	}

	fingerprint := codec.Fingerprint(proposalEnvelope)
	blob, err := codec.EncryptOffer(offer, offererPriv, proposal.ProposerPubKey, fingerprint)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("encrypt offer: %w", err))
	}

	log.Infof("bet %d: offered %d sat on outcome %q of event %s", bet.BetID, value, outcomeLabel, event.ID())

	return blob, bet, nil
}

// findBetVout locates the bet output's index in a funding transaction
// built by BuildFundingTx, matching on exact script and value.
func findBetVout(tx *wire.MsgTx, betScript []byte, betValue int64) (uint32, error) {
	for i, out := range tx.TxOut {
		if out.Value == betValue && string(out.PkScript) == string(betScript) {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("bet output not found in funding transaction")
}
