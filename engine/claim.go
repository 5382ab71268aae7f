package engine

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/llfourn/gun-ng/betcrypto"
	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
)

// Claim completes the winning claim transaction's adaptor-encrypted half
// using the oracle's attestation scalar, signs the other half
// ordinarily, and broadcasts it, transitioning the bet from won to
// claiming.
func (e *Engine) Claim(ctx context.Context, betID contract.BetID) (*contract.Bet, error) {
	unlock := e.lockBet(betID)
	defer unlock()

	bet, err := e.store.GetBet(betID)
	if err != nil {
		return nil, gunerr.New(gunerr.UserInput, err)
	}
	if bet.State != contract.StateWon {
		return nil, gunerr.Newf(gunerr.UserInput, "bet %d is %s, not won", betID, bet.State)
	}

	material := bet.MyClaimMaterial()
	if material == nil || material.ClaimTx == nil {
		return nil, gunerr.Newf(gunerr.DataIntegrity, "bet %d has no claim template for outcome %q", betID, bet.ChosenOutcome)
	}
	if len(material.CounterpartyAdaptorSig) == 0 {
		return nil, gunerr.Newf(gunerr.UserInput,
			"bet %d is missing the counterparty's adaptor signature; ingest the take receipt first", betID)
	}
	if bet.Attestation == nil {
		return nil, gunerr.Newf(gunerr.DataIntegrity, "bet %d is won but has no recorded attestation", betID)
	}

	counterpartyAdaptorSig, err := betcrypto.DeserializeAdaptorSignature(material.CounterpartyAdaptorSig)
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("parse counterparty adaptor signature: %w", err))
	}

	proposerPub, offererPub := bet.MyKey, bet.TheirKey
	if bet.Role == contract.RoleOfferer {
		proposerPub, offererPub = bet.TheirKey, bet.MyKey
	}
	witnessScript, err := betcrypto.BetScript(proposerPub, offererPub)
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	sigHash, err := betcrypto.ClaimSigHash(material.ClaimTx, bet.FundingValue, witnessScript)
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	attestationScalar := betcrypto.AttestationScalar(bet.Attestation)
	counterpartySig, _, err := betcrypto.AdaptorComplete(counterpartyAdaptorSig, attestationScalar)
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("complete adaptor signature: %w", err))
	}

	mySig := ecdsa.Sign(bet.MySecret, sigHash)

	firstSig, secondSig := mySig, counterpartySig
	if bet.Role == contract.RoleOfferer {
		firstSig, secondSig = counterpartySig, mySig
	}
	betcrypto.FinalizeClaimTx(material.ClaimTx, firstSig, secondSig, witnessScript)

	txid, err := e.wallet.Broadcast(ctx, material.ClaimTx)
	if err != nil {
		// The claim transaction's txid is deterministic -- fully
		// pre-signed but for the adaptor completion -- so a retried or
		// raced Claim can hit a backend that already saw it -- check
		// before surfacing the broadcast failure.
		expectedTxid := material.ClaimTx.TxHash()
		if _, _, getErr := e.wallet.GetTx(ctx, expectedTxid); getErr == nil {
			txid = expectedTxid
		} else {
			return nil, gunerr.New(gunerr.Network, fmt.Errorf("broadcast claim transaction: %w", err))
		}
	}

	fromState := bet.State
	bet.ClaimTxID = &txid
	bet.State = contract.StateClaiming
	if err := e.store.SaveTransition(bet, fromState); err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	log.Infof("bet %d: claimed, broadcast claim tx %s", bet.BetID, txid)

	return bet, nil
}

// ClaimAll runs Claim over every bet in StateWon, continuing past
// individual failures so one stuck bet doesn't block the rest.
func (e *Engine) ClaimAll(ctx context.Context) ([]*contract.Bet, error) {
	bets, err := e.store.ListBets()
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	var claimed []*contract.Bet
	for _, bet := range bets {
		if bet.State != contract.StateWon {
			continue
		}
		updated, err := e.Claim(ctx, bet.BetID)
		if err != nil {
			log.Warnf("bet %d: claim failed: %v", bet.BetID, err)
			continue
		}
		claimed = append(claimed, updated)
	}
	return claimed, nil
}
