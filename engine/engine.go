// Package engine is the state machine that drives a bet from proposal
// through claim, coordinating the oracle client, compact encoder, bet
// cryptography, wallet adapter and bet store.
// It is the only layer that decides whether to retry, advance a bet's
// state, or surface a failure -- every exported method returns a
// *gunerr.Error so the CLI can map it straight to an exit code.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/semaphore"

	"github.com/llfourn/gun-ng/betdb"
	"github.com/llfourn/gun-ng/config"
	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
	"github.com/llfourn/gun-ng/keyring"
	"github.com/llfourn/gun-ng/oracleclient"
	"github.com/llfourn/gun-ng/walletadapter"
)

// MinClaimConfs is the confirmation depth required before a claim
// transaction's bet is considered fully claimed.
const MinClaimConfs = 1

// MinFundingConfs is the confirmation depth at which an unconfirmed bet is
// promoted to confirmed.
const MinFundingConfs = 1

// Deps bundles the Engine's collaborators. All fields are required.
type Deps struct {
	Config  *config.Config
	Store   *betdb.Store
	Wallet  *walletadapter.Adapter
	Oracle  *oracleclient.Client
	Keyring *keyring.KeyRing
	Clock   clock.Clock
}

// Engine is the Protocol Engine. Per-bet transitions are
// serialized through an exclusive lock on the bet record; only one Sync
// runs at a time per process.
type Engine struct {
	cfg     *config.Config
	store   *betdb.Store
	wallet  *walletadapter.Adapter
	oracle  *oracleclient.Client
	keyring *keyring.KeyRing
	clock   clock.Clock

	netParams *chaincfg.Params

	syncSem *semaphore.Weighted

	betLocksMu sync.Mutex
	betLocks   map[contract.BetID]*sync.Mutex
}

// New constructs an Engine from deps.
func New(deps Deps) (*Engine, error) {
	netParams, err := deps.Config.NetParams()
	if err != nil {
		return nil, gunerr.New(gunerr.UserInput, err)
	}

	return &Engine{
		cfg:       deps.Config,
		store:     deps.Store,
		wallet:    deps.Wallet,
		oracle:    deps.Oracle,
		keyring:   deps.Keyring,
		clock:     deps.Clock,
		netParams: netParams,
		syncSem:   semaphore.NewWeighted(1),
		betLocks:  make(map[contract.BetID]*sync.Mutex),
	}, nil
}

// lockBet returns (creating if needed) the exclusive lock guarding bet id's
// transitions, and acquires it. The caller must call the returned unlock
// func.
func (e *Engine) lockBet(id contract.BetID) func() {
	e.betLocksMu.Lock()
	l, ok := e.betLocks[id]
	if !ok {
		l = &sync.Mutex{}
		e.betLocks[id] = l
	}
	e.betLocksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// resolveOracle builds a contract.Oracle from the user's saved config for
// oracleID, failing with UserInput if it has never been added.
func (e *Engine) resolveOracle(oracleID contract.OracleID) (*contract.Oracle, error) {
	oc, ok := e.cfg.FindOracle(string(oracleID))
	if !ok {
		return nil, gunerr.Newf(gunerr.UserInput, "unknown oracle %q: add it first with `gun bet oracle add`", oracleID)
	}

	pub, err := oracleclient.ParsePublicKey(oc.PublicKey)
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("stored oracle %q has an invalid public key: %w", oracleID, err))
	}

	return &contract.Oracle{
		ID:              oracleID,
		PublicKey:       pub,
		CurveID:         "secp256k1-schnorr",
		EventURLPattern: oc.EventURLPattern,
	}, nil
}

// AddOracle performs the TOFU key fetch for oracleID and, once the caller
// has confirmed the returned public key out of band, persists it to
// config.
func (e *Engine) AddOracle(resolverAddr string, oracleID contract.OracleID, eventURLPattern string) (*contract.Oracle, error) {
	oracle, err := oracleclient.AddOracle(resolverAddr, oracleID, eventURLPattern)
	if err != nil {
		return nil, gunerr.New(gunerr.Network, err)
	}
	return oracle, nil
}

// ConfirmOracle persists oracle to config after the caller has accepted
// its public key.
func (e *Engine) ConfirmOracle(oracle *contract.Oracle) error {
	e.cfg.AddOracle(config.OracleConfig{
		ID:              string(oracle.ID),
		PublicKey:       oracleclient.EncodePublicKey(oracle.PublicKey),
		EventURLPattern: oracle.EventURLPattern,
	})
	if err := e.cfg.Save(); err != nil {
		return gunerr.New(gunerr.DataIntegrity, err)
	}
	return nil
}

// RemoveOracle deletes oracleID's saved record, rejecting the removal if
// any non-terminal bet still references it.
func (e *Engine) RemoveOracle(oracleID contract.OracleID) error {
	bets, err := e.store.ListBets()
	if err != nil {
		return gunerr.New(gunerr.DataIntegrity, err)
	}
	for _, b := range bets {
		if b.OracleID == oracleID && b.State.NonTerminal() {
			return gunerr.Newf(gunerr.UserInput, "oracle %q is referenced by non-terminal bet %d", oracleID, b.BetID)
		}
	}
	if !e.cfg.RemoveOracle(string(oracleID)) {
		return gunerr.Newf(gunerr.UserInput, "unknown oracle %q", oracleID)
	}
	if err := e.cfg.Save(); err != nil {
		return gunerr.New(gunerr.DataIntegrity, err)
	}
	return nil
}

// GetBet returns a single bet record.
func (e *Engine) GetBet(ctx context.Context, id contract.BetID) (*contract.Bet, error) {
	bet, err := e.store.GetBet(id)
	if err != nil {
		return nil, gunerr.New(gunerr.UserInput, err)
	}
	return bet, nil
}

// ListBets returns every bet record.
func (e *Engine) ListBets() ([]*contract.Bet, error) {
	bets, err := e.store.ListBets()
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	return bets, nil
}
