package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
	"github.com/llfourn/gun-ng/oracleclient"
	"github.com/llfourn/gun-ng/walletadapter"
)

// Sync advances every non-terminal bet through the state transitions
// that depend on chain confirmations or an oracle attestation rather
// than on a user action: unconfirmed -> confirmed, confirmed -> won/lost,
// and the double-spend/misbehavior checks. Only one Sync runs at a time
// per process; a second caller is told so rather than blocked.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.syncSem.TryAcquire(1) {
		return gunerr.Newf(gunerr.WalletBusy, "a sync is already in progress")
	}
	defer e.syncSem.Release(1)

	bets, err := e.store.ListBets()
	if err != nil {
		return gunerr.New(gunerr.DataIntegrity, err)
	}

	for _, bet := range bets {
		if bet.State.Terminal() {
			continue
		}
		if err := e.syncBet(ctx, bet.BetID); err != nil {
			log.Warnf("bet %d: sync failed: %v", bet.BetID, err)
		}
	}
	return nil
}

func (e *Engine) syncBet(ctx context.Context, id contract.BetID) error {
	unlock := e.lockBet(id)
	defer unlock()

	// Re-read under the lock: another goroutine (e.g. a concurrent Claim)
	// may have advanced this bet since Sync's ListBets ran.
	bet, err := e.store.GetBet(id)
	if err != nil {
		return err
	}
	if bet.State.Terminal() {
		return nil
	}

	switch bet.State {
	case contract.StateProposing:
		_, err := e.syncReservedInputs(ctx, bet, nil, contract.StateCancelledDoubleSpent)
		return err
	case contract.StateOffered:
		// The offer already fixed the funding txid; the proposer
		// broadcasting it is not a double-spend.
		fundingTxID := bet.FundingTxID
		_, err := e.syncReservedInputs(ctx, bet, &fundingTxID, contract.StateCancelledDoubleSpent)
		return err
	case contract.StateUnconfirmed:
		return e.syncUnconfirmed(ctx, bet)
	case contract.StateConfirmed:
		return e.syncConfirmed(ctx, bet)
	case contract.StateCancelling:
		return e.syncCancelling(ctx, bet)
	case contract.StateClaiming:
		return e.syncClaiming(ctx, bet)
	default:
		return nil
	}
}

// syncReservedInputs looks for a reserved input spent by something other
// than expectedSpender (nil for a proposing bet, which has no funding
// transaction yet),
// transitioning the bet to cancelState and reporting true if it finds
// one. A hit proves a party spent a bet-reserved UTXO through another
// path -- either a malicious double-spend, or (when the
// caller passes contract.StateCancelled) the engine's own user-requested
// cancellation of an unconfirmed bet succeeding -- and the bet is
// resolved unconditionally; this is the one signal strong enough to
// settle a bet without waiting out a grace window, because it can never
// be explained by a slow backend or a mempool eviction of the engine's
// own broadcast.
func (e *Engine) syncReservedInputs(ctx context.Context, bet *contract.Bet, expectedSpender *chainhash.Hash, cancelState contract.State) (bool, error) {
	for _, op := range bet.ReservedUTXOs {
		spentBy, err := e.wallet.OutpointSpentBy(ctx, op)
		if err != nil {
			return false, fmt.Errorf("check outpoint %s spent: %w", op, err)
		}
		if spentBy == nil {
			continue
		}
		if expectedSpender != nil && *spentBy == *expectedSpender {
			continue
		}

		e.wallet.ReleaseInputs(inputsFromReservedOutpoints(bet.ReservedUTXOs))
		fromState := bet.State
		bet.State = cancelState
		log.Warnf("bet %d: input %s spent by %s, not the expected funding tx; %s", bet.BetID, op, spentBy, cancelState)
		return true, e.store.SaveTransition(bet, fromState)
	}
	return false, nil
}

// syncUnconfirmed checks the funding transaction's confirmation depth,
// promoting the bet to confirmed once it clears MinFundingConfs. The
// funding transaction itself vanishing from the backend's view is
// conservatively treated as pending, not as cancelled -- only an actual
// conflicting spend of a reserved input, checked first, cancels the bet.
func (e *Engine) syncUnconfirmed(ctx context.Context, bet *contract.Bet) error {
	fundingTxID := bet.FundingTxID
	resolved, err := e.syncReservedInputs(ctx, bet, &fundingTxID, contract.StateCancelledDoubleSpent)
	if err != nil {
		return err
	}
	if resolved {
		return nil
	}

	_, confs, err := e.wallet.GetTx(ctx, bet.FundingTxID)
	fromState := bet.State
	if err != nil {
		if errors.Is(err, walletadapter.ErrTxNotFound) {
			if bet.FundingMissingSince == nil {
				now := e.clock.Now()
				bet.FundingMissingSince = &now
				return e.store.SaveTransition(bet, fromState)
			}
			return nil
		}
		return fmt.Errorf("fetch funding tx: %w", err)
	}

	if confs < MinFundingConfs {
		if bet.FundingMissingSince != nil {
			bet.FundingMissingSince = nil
			return e.store.SaveTransition(bet, fromState)
		}
		return nil
	}

	bet.FundingMissingSince = nil
	bet.Heights.FundedAt = e.clock.Now()
	bet.State = contract.StateConfirmed
	return e.store.SaveTransition(bet, fromState)
}

// syncCancelling resolves a user-requested cancellation of an unconfirmed
// bet: it watches for a replacement transaction spending the reserved
// inputs, which settles the bet as cancelled, but also has to account for
// losing that race -- the original funding transaction confirming anyway
// before a replacement ever reaches the mempool -- in which case the bet
// resumes as confirmed rather than being stuck waiting for a spend that
// will never come.
func (e *Engine) syncCancelling(ctx context.Context, bet *contract.Bet) error {
	fundingTxID := bet.FundingTxID
	resolved, err := e.syncReservedInputs(ctx, bet, &fundingTxID, contract.StateCancelled)
	if err != nil {
		return err
	}
	if resolved {
		return nil
	}

	_, confs, err := e.wallet.GetTx(ctx, bet.FundingTxID)
	if err != nil {
		if errors.Is(err, walletadapter.ErrTxNotFound) {
			return nil
		}
		return fmt.Errorf("fetch funding tx: %w", err)
	}
	if confs < MinFundingConfs {
		return nil
	}

	fromState := bet.State
	bet.Heights.FundedAt = e.clock.Now()
	bet.State = contract.StateConfirmed
	log.Warnf("bet %d: cancel lost the race, funding tx confirmed; resuming as confirmed", bet.BetID)
	return e.store.SaveTransition(bet, fromState)
}

// syncConfirmed re-checks the funding transaction's depth before polling
// the oracle: a block that confirmed it may since have been reorged out,
// in which case the bet returns to unconfirmed for re-tracking rather
// than being treated as attested. Only once the funding transaction is
// still confirmed does it poll for an attestation and, once one arrives,
// determine whether the local party won or lost.
func (e *Engine) syncConfirmed(ctx context.Context, bet *contract.Bet) error {
	_, confs, err := e.wallet.GetTx(ctx, bet.FundingTxID)
	if err != nil && !errors.Is(err, walletadapter.ErrTxNotFound) {
		return fmt.Errorf("fetch funding tx: %w", err)
	}
	if err != nil || confs < MinFundingConfs {
		fromState := bet.State
		bet.State = contract.StateUnconfirmed
		bet.Heights.FundedAt = time.Time{}
		log.Warnf("bet %d: funding tx no longer confirmed, likely reorged; re-tracking as unconfirmed", bet.BetID)
		return e.store.SaveTransition(bet, fromState)
	}

	oracle, err := e.resolveOracle(bet.OracleID)
	if err != nil {
		return err
	}

	att, err := e.oracle.FetchAttestation(ctx, oracle, &bet.Event)
	if err != nil {
		// FetchAttestation itself returns (nil, *oracleclient.Error{Kind:
		// KindOracleMisbehaved}) rather than a contract.Attestation
		// carrying an out-of-set label, whenever the attested outcome
		// fails the oracle's verification equation or falls outside the
		// event's own outcome set -- the switch below can never see that
		// case. Persist the permanent oracle_misbehaved state here, where
		// the error is actually observed, instead of letting it surface
		// only as a logged warning that retries forever.
		var oe *oracleclient.Error
		if errors.As(err, &oe) && oe.Kind == oracleclient.KindOracleMisbehaved {
			fromState := bet.State
			bet.State = contract.StateOracleMisbehaved
			if saveErr := e.store.SaveTransition(bet, fromState); saveErr != nil {
				return gunerr.New(gunerr.DataIntegrity, saveErr)
			}
			log.Warnf("bet %d: oracle misbehaved: %v", bet.BetID, err)
			return nil
		}
		return wrapOracleErr(err)
	}
	if att == nil {
		return nil
	}

	bet.Attestation = att
	bet.Heights.AttestedAt = e.clock.Now()

	fromState := bet.State
	switch att.OutcomeLabel {
	case bet.ChosenOutcome:
		bet.State = contract.StateWon
	case bet.OpposingOutcome:
		bet.State = contract.StateLost
	default:
		// Reachable only for an oracle announcing more than two outcomes
		// (codec's offer format only encodes a binary choice, but the
		// event itself may list more): the attestation verifies and
		// falls inside the event's outcome set, yet matches neither side
		// of this particular bet, so there is no winner to determine.
		bet.State = contract.StateOracleMisbehaved
	}

	return e.store.SaveTransition(bet, fromState)
}

// syncClaiming watches a broadcast claim transaction to confirmation,
// finalizing the bet once MinClaimConfs is reached.
func (e *Engine) syncClaiming(ctx context.Context, bet *contract.Bet) error {
	if bet.ClaimTxID == nil {
		return fmt.Errorf("bet %d is claiming but has no recorded claim txid", bet.BetID)
	}
	_, confs, err := e.wallet.GetTx(ctx, *bet.ClaimTxID)
	if err != nil {
		if errors.Is(err, walletadapter.ErrTxNotFound) {
			return nil
		}
		return fmt.Errorf("fetch claim tx: %w", err)
	}
	if confs < MinClaimConfs {
		return nil
	}

	fromState := bet.State
	bet.Heights.ClaimedAt = e.clock.Now()
	bet.State = contract.StateClaimed
	return e.store.SaveTransition(bet, fromState)
}
