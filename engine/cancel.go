package engine

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
)

// Cancel withdraws a bet in proposing, offered or unconfirmed. A pending
// proposal or an offer the offerer hasn't yet heard a take receipt for
// has nothing on chain yet, so it cancels outright. A bet whose funding
// transaction is already broadcast but unconfirmed cannot be withdrawn
// unilaterally -- the inputs are already spent into the bet output as
// far as the mempool is concerned -- so Cancel instead releases the
// engine's own claim on those inputs (letting `send`/`split` spend them
// through another transaction) and leaves the bet in `cancelling` until
// that replacement, or the original funding transaction, is observed on
// chain; sync.go's syncCancelling resolves it either way.
func (e *Engine) Cancel(betID contract.BetID) (*contract.Bet, error) {
	unlock := e.lockBet(betID)
	defer unlock()

	bet, err := e.store.GetBet(betID)
	if err != nil {
		return nil, gunerr.New(gunerr.UserInput, err)
	}

	fromState := bet.State
	switch bet.State {
	case contract.StateProposing, contract.StateOffered:
		bet.State = contract.StateCancelled
	case contract.StateUnconfirmed:
		bet.State = contract.StateCancelling
	default:
		return nil, gunerr.Newf(gunerr.UserInput,
			"bet %d is %s; only a pending proposal, unmatched offer, or unconfirmed bet can be cancelled", betID, bet.State)
	}

	e.wallet.ReleaseInputs(inputsFromReservedOutpoints(bet.ReservedUTXOs))

	if err := e.store.SaveTransition(bet, fromState); err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}

	log.Infof("bet %d: %s -> %s", bet.BetID, fromState, bet.State)

	return bet, nil
}

// inputsFromReservedOutpoints adapts a bet's outpoint-only reservation
// list to the Wallet Adapter's ReleaseInputs, which only reads OutPoint.
func inputsFromReservedOutpoints(ops []wire.OutPoint) []contract.Input {
	inputs := make([]contract.Input, len(ops))
	for i, op := range ops {
		inputs[i] = contract.Input{OutPoint: op}
	}
	return inputs
}
