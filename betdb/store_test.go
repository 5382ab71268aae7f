package betdb

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "bets.db")
	s, err := Open(dbPath, clock.NewDefaultClock())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func newTestBet(t *testing.T, id contract.BetID) *contract.Bet {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	theirPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var hash [32]byte
	hash[0] = byte(id)

	return &contract.Bet{
		BetID:           id,
		Role:            contract.RoleProposer,
		State:           contract.StateProposing,
		OracleID:        "oracle.example.com",
		ChosenOutcome:   "heads",
		OpposingOutcome: "tails",
		MyValue:         10_000,
		TheirValue:      10_000,
		FeeRate:         5,
		MyKey:           priv.PubKey(),
		MySecret:        priv,
		TheirKey:        theirPriv.PubKey(),
		ReservedUTXOs: []wire.OutPoint{
			{Hash: hash, Index: 0},
		},
		ClaimTemplates: map[string]*contract.AdaptorMaterial{},
	}
}

func TestStorePutGetBet(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	bet := newTestBet(t, 1)
	require.NoError(t, s.SaveTransition(bet, contract.StateProposing))

	got, err := s.GetBet(1)
	require.NoError(t, err)
	require.Equal(t, bet.BetID, got.BetID)
	require.Equal(t, bet.State, got.State)
	require.True(t, bet.MyKey.IsEqual(got.MyKey))
	require.True(t, bet.TheirKey.IsEqual(got.TheirKey))
	require.Equal(t, bet.MySecret.Serialize(), got.MySecret.Serialize())
	require.Equal(t, bet.ReservedUTXOs, got.ReservedUTXOs)
}

func TestStoreNextBetIDMonotonic(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	id1, err := s.NextBetID()
	require.NoError(t, err)
	id2, err := s.NextBetID()
	require.NoError(t, err)

	require.Equal(t, contract.BetID(1), id1)
	require.Equal(t, contract.BetID(2), id2)
}

func TestStoreReservedUTXOExclusivity(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	bet := newTestBet(t, 1)
	require.NoError(t, s.SaveTransition(bet, contract.StateProposing))
	require.NoError(t, s.ReserveUTXOs(bet.BetID, bet.ReservedUTXOs))

	err := s.ReserveUTXOs(contract.BetID(2), bet.ReservedUTXOs)
	require.Error(t, err)

	id, ok := s.IsUTXOReserved(bet.ReservedUTXOs[0])
	require.True(t, ok)
	require.Equal(t, bet.BetID, id)
}

func TestStoreReleasesUTXOsOnTerminalTransition(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	bet := newTestBet(t, 1)
	require.NoError(t, s.SaveTransition(bet, contract.StateProposing))
	require.NoError(t, s.ReserveUTXOs(bet.BetID, bet.ReservedUTXOs))

	bet.State = contract.StateCancelled
	require.NoError(t, s.SaveTransition(bet, contract.StateOffered))

	_, ok := s.IsUTXOReserved(bet.ReservedUTXOs[0])
	require.False(t, ok)
}

func TestStoreListBets(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	for i := contract.BetID(1); i <= 3; i++ {
		require.NoError(t, s.SaveTransition(newTestBet(t, i), contract.StateProposing))
	}

	bets, err := s.ListBets()
	require.NoError(t, err)
	require.Len(t, bets, 3)
}

// tamper opens dbPath's raw database while no Store holds it, hands it
// to fn, and closes it again -- how these tests fake a crash that left
// the WAL and primary records out of step.
func tamper(t *testing.T, dbPath string, fn func(tx kvdb.RwTx) error) {
	t.Helper()

	db, err := kvdb.Create(kvdb.BoltBackendName, dbPath, true, kvdb.DefaultDBTimeout)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, kvdb.Update(db, fn, func() {}))
}

func TestStoreReplayRollsForwardInterruptedTransition(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "bets.db")

	s, err := Open(dbPath, clock.NewDefaultClock())
	require.NoError(t, err)
	bet := newTestBet(t, 1)
	require.NoError(t, s.SaveTransition(bet, contract.StateProposing))
	require.NoError(t, s.Close())

	// Fake a crash between SaveTransition's WAL append and its primary
	// write: the WAL logs proposing -> cancelled, the primary still says
	// proposing.
	cancelled := newTestBet(t, 1)
	cancelled.State = contract.StateCancelled
	snapshot, err := encodeBet(cancelled)
	require.NoError(t, err)

	var recBuf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&recBuf).Encode(transitionRecord{
		FromState: contract.StateProposing,
		ToState:   contract.StateCancelled,
		Bet:       snapshot,
	}))
	tamper(t, dbPath, func(tx kvdb.RwTx) error {
		betWAL := tx.ReadWriteBucket(walBucketName).NestedReadWriteBucket(betKey(1))
		seq, err := betWAL.NextSequence()
		if err != nil {
			return err
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		return betWAL.Put(seqKey[:], recBuf.Bytes())
	})

	reopened, err := Open(dbPath, clock.NewDefaultClock())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetBet(1)
	require.NoError(t, err)
	require.Equal(t, contract.StateCancelled, got.State)
}

func TestStoreOpenRejectsCorruptWAL(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "bets.db")

	s, err := Open(dbPath, clock.NewDefaultClock())
	require.NoError(t, err)
	require.NoError(t, s.SaveTransition(newTestBet(t, 1), contract.StateProposing))
	require.NoError(t, s.Close())

	tamper(t, dbPath, func(tx kvdb.RwTx) error {
		betWAL := tx.ReadWriteBucket(walBucketName).NestedReadWriteBucket(betKey(1))
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], 1)
		return betWAL.Put(seqKey[:], []byte("not a gob stream"))
	})

	_, err = Open(dbPath, clock.NewDefaultClock())
	require.Error(t, err)

	var ge *gunerr.Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, gunerr.DataIntegrity, ge.Kind)
}

func TestStoreOpenRejectsDivergedPrimary(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "bets.db")

	s, err := Open(dbPath, clock.NewDefaultClock())
	require.NoError(t, err)
	require.NoError(t, s.SaveTransition(newTestBet(t, 1), contract.StateProposing))
	require.NoError(t, s.Close())

	// A primary in a state the last logged transition never touched is
	// a divergence replay must refuse to repair.
	diverged := newTestBet(t, 1)
	diverged.State = contract.StateClaimed
	raw, err := encodeBet(diverged)
	require.NoError(t, err)
	tamper(t, dbPath, func(tx kvdb.RwTx) error {
		return tx.ReadWriteBucket(betsBucketName).Put(betKey(1), raw)
	})

	_, err = Open(dbPath, clock.NewDefaultClock())
	require.Error(t, err)

	var ge *gunerr.Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, gunerr.DataIntegrity, ge.Kind)
}

func TestStoreReplayRebuildsUTXOIndexAcrossReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "bets.db")

	s, err := Open(dbPath, clock.NewDefaultClock())
	require.NoError(t, err)

	bet := newTestBet(t, 1)
	require.NoError(t, s.SaveTransition(bet, contract.StateProposing))
	require.NoError(t, s.ReserveUTXOs(bet.BetID, bet.ReservedUTXOs))
	require.NoError(t, s.Close())

	reopened, err := Open(dbPath, clock.NewDefaultClock())
	require.NoError(t, err)
	defer reopened.Close()

	id, ok := reopened.IsUTXOReserved(bet.ReservedUTXOs[0])
	require.True(t, ok)
	require.Equal(t, bet.BetID, id)
}
