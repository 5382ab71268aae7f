package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/betdb"
	"github.com/llfourn/gun-ng/config"
	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
)

func newOracleTestEngine(t *testing.T) (*Engine, *betdb.Store) {
	t.Helper()

	cfg := config.DefaultConfig(t.TempDir())
	cfg.Network = "regtest"

	store, err := betdb.Open(filepath.Join(cfg.DataDir, "bets.db"), clock.NewDefaultClock())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	e, err := New(Deps{
		Config: cfg,
		Store:  store,
		Clock:  clock.NewDefaultClock(),
	})
	require.NoError(t, err)
	return e, store
}

func TestResolveOracleUnknown(t *testing.T) {
	t.Parallel()

	e, _ := newOracleTestEngine(t)

	_, err := e.resolveOracle("oracle.example.com")
	require.Error(t, err)

	var ge *gunerr.Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, gunerr.UserInput, ge.Kind)
}

func TestResolveOracleKnown(t *testing.T) {
	t.Parallel()

	e, _ := newOracleTestEngine(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	require.NoError(t, e.ConfirmOracle(&contract.Oracle{
		ID:              "oracle.example.com",
		PublicKey:       priv.PubKey(),
		CurveID:         "secp256k1-schnorr",
		EventURLPattern: "https://oracle.example.com/x/{event_path}",
	}))

	oracle, err := e.resolveOracle("oracle.example.com")
	require.NoError(t, err)
	require.Equal(t, contract.OracleID("oracle.example.com"), oracle.ID)
	require.True(t, priv.PubKey().IsEqual(oracle.PublicKey))
}

func TestRemoveOracleUnknown(t *testing.T) {
	t.Parallel()

	e, _ := newOracleTestEngine(t)

	err := e.RemoveOracle("oracle.example.com")
	require.Error(t, err)
}

func TestRemoveOracleBlockedByNonTerminalBet(t *testing.T) {
	t.Parallel()

	e, store := newOracleTestEngine(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.NoError(t, e.ConfirmOracle(&contract.Oracle{
		ID:        "oracle.example.com",
		PublicKey: priv.PubKey(),
	}))

	bet := &contract.Bet{
		BetID:    1,
		Role:     contract.RoleProposer,
		State:    contract.StateProposing,
		OracleID: "oracle.example.com",
	}
	require.NoError(t, store.SaveTransition(bet, contract.StateProposing))

	err = e.RemoveOracle("oracle.example.com")
	require.Error(t, err)

	var ge *gunerr.Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, gunerr.UserInput, ge.Kind)

	// the record must still be present after the rejected removal.
	_, ok := e.cfg.FindOracle("oracle.example.com")
	require.True(t, ok)
}

func TestRemoveOracleAllowedOnceBetTerminal(t *testing.T) {
	t.Parallel()

	e, store := newOracleTestEngine(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.NoError(t, e.ConfirmOracle(&contract.Oracle{
		ID:        "oracle.example.com",
		PublicKey: priv.PubKey(),
	}))

	bet := &contract.Bet{
		BetID:    1,
		Role:     contract.RoleProposer,
		State:    contract.StateProposing,
		OracleID: "oracle.example.com",
	}
	require.NoError(t, store.SaveTransition(bet, contract.StateProposing))

	bet.State = contract.StateCancelled
	require.NoError(t, store.SaveTransition(bet, contract.StateProposing))

	require.NoError(t, e.RemoveOracle("oracle.example.com"))
	_, ok := e.cfg.FindOracle("oracle.example.com")
	require.False(t, ok)
}

func TestLockBetSerializesAccess(t *testing.T) {
	t.Parallel()

	e, _ := newOracleTestEngine(t)

	unlock := e.lockBet(1)

	done := make(chan struct{})
	go func() {
		unlock2 := e.lockBet(1)
		unlock2()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second lockBet acquired the lock while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second lockBet never acquired the lock after the first released it")
	}
}
