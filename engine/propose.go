package engine

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/llfourn/gun-ng/codec"
	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
	"github.com/llfourn/gun-ng/keyring"
)

// Propose fetches the event, generates a fresh ephemeral keypair,
// reserves proposer inputs, allocates a payout script, persists a
// `proposing` bet, and returns the human-readable proposal envelope.
func (e *Engine) Propose(ctx context.Context, value btcutil.Amount, oracleID contract.OracleID, eventPath contract.EventPath) (string, *contract.Bet, error) {
	oracle, err := e.resolveOracle(oracleID)
	if err != nil {
		return "", nil, err
	}

	event, err := e.oracle.FetchEvent(ctx, oracle, eventPath)
	if err != nil {
		return "", nil, wrapOracleErr(err)
	}

	if err := e.checkMargin(event); err != nil {
		return "", nil, err
	}

	keyDesc, err := e.keyring.DeriveNextKey(keyring.FamilyBetEphemeral)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("derive proposer key: %w", err))
	}
	priv, err := e.keyring.PrivKeyForLocator(keyDesc.KeyLocator)
	if err != nil {
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("re-derive proposer key: %w", err))
	}

	inputs, changeScript, err := e.wallet.ReserveInputs(value, satPerVByteToSatPerKWeight(e.cfg.DefaultFeeRate))
	if err != nil {
		return "", nil, gunerr.New(gunerr.WalletBusy, err)
	}

	payoutScript, err := e.wallet.NextPayoutScript()
	if err != nil {
		e.wallet.ReleaseInputs(inputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("allocate payout script: %w", err))
	}

	betID, err := e.store.NextBetID()
	if err != nil {
		e.wallet.ReleaseInputs(inputs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	if err := e.store.ReserveUTXOs(betID, toOutPoints(inputs)); err != nil {
		e.wallet.ReleaseInputs(inputs)
		return "", nil, gunerr.New(gunerr.WalletBusy, err)
	}

	proposal := &codec.Proposal{
		Value:          int64(value),
		OracleID:       oracleID,
		EventPath:      eventPath,
		ProposerPubKey: priv.PubKey(),
		ProposerInputs: inputs,
		ChangeScript:   changeScript,
		PayoutScript:   payoutScript,
	}

	envelope, err := codec.EncodeProposal(proposal)
	if err != nil {
		e.wallet.ReleaseInputs(inputs)
		e.store.ReleaseUTXOs(toOutPoints(inputs))
		return "", nil, gunerr.New(gunerr.UserInput, fmt.Errorf("encode proposal: %w", err))
	}

	bet := &contract.Bet{
		BetID:            betID,
		Role:             contract.RoleProposer,
		State:            contract.StateProposing,
		OracleID:         oracleID,
		Event:            *event,
		ProposalEnvelope: envelope,
		MyValue:          int64(value),
		FeeRate:          e.cfg.DefaultFeeRate,
		MyKey:            priv.PubKey(),
		MySecret:         priv,
		MyPayoutScript:   payoutScript,
		MyChangeScript:   changeScript,
		ReservedUTXOs:    toOutPoints(inputs),
		Heights:          contract.Heights{ProposedAt: e.clock.Now()},
	}

	if err := e.store.SaveTransition(bet, contract.StateProposing); err != nil {
		e.wallet.ReleaseInputs(inputs)
		e.store.ReleaseUTXOs(bet.ReservedUTXOs)
		return "", nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	log.Infof("bet %d: proposed %d sat on event %s", bet.BetID, value, event.ID())

	return envelope, bet, nil
}

// checkMargin rejects an event whose expected_outcome_time is too close
// (or past) for propose/offer to safely accept it.
func (e *Engine) checkMargin(event *contract.Event) error {
	margin := event.ExpectedOutcomeTime.Sub(e.clock.Now())
	if margin < e.cfg.MinMargin {
		return gunerr.Newf(gunerr.UserInput,
			"event %s resolves too soon (%s from now, minimum is %s)",
			event.ID(), margin, e.cfg.MinMargin)
	}
	return nil
}
