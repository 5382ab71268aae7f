// Package betdb is the persistent, crash-safe bet store: a bbolt-backed
// key-value mapping from bet identifier to bet record, an append-only log
// of state transitions, and an in-memory index of reserved UTXOs rebuilt
// from the primary records on startup.
package betdb

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/llfourn/gun-ng/contract"
)

var (
	betsBucketName = []byte("bets")
	walBucketName  = []byte("bet-wal")
	metaBucketName = []byte("meta")
	nextBetIDKey   = []byte("next-bet-id")
)

// Store persists bet records and their state-transition history.
type Store struct {
	db    kvdb.Backend
	clock clock.Clock

	mu           sync.Mutex
	reservedUTXO map[wire.OutPoint]contract.BetID
}

// Open opens (creating if absent) the bbolt-backed bet store at dbPath and
// replays its write-ahead log, rebuilding the reserved-UTXO index from the
// primary bet records.
func Open(dbPath string, clk clock.Clock) (*Store, error) {
	db, err := kvdb.Create(kvdb.BoltBackendName, dbPath, true, kvdb.DefaultDBTimeout)
	if err != nil {
		return nil, fmt.Errorf("open bet store: %w", err)
	}

	s := &Store{
		db:           db,
		clock:        clk,
		reservedUTXO: make(map[wire.OutPoint]contract.BetID),
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	// Replay and index-rebuild failures pass through unwrapped: a
	// DataIntegrity error must keep its kind all the way to the CLI's
	// exit-code mapping.
	if err := s.replay(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.rebuildUTXOIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Clock returns the store's injected time source, so callers stamp
// heights.* fields with the same clock the store itself would use.
func (s *Store) Clock() clock.Clock {
	return s.clock
}

func (s *Store) init() error {
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		for _, name := range [][]byte{betsBucketName, walBucketName, metaBucketName} {
			if _, err := tx.CreateTopLevelBucket(name); err != nil && err != kvdb.ErrBucketExists {
				return err
			}
		}
		return nil
	}, func() {})
}

// NextBetID allocates the next monotonically increasing local bet id.
func (s *Store) NextBetID() (contract.BetID, error) {
	var id contract.BetID
	err := kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		meta := tx.ReadWriteBucket(metaBucketName)
		cur := uint64(0)
		if raw := meta.Get(nextBetIDKey); raw != nil {
			cur = binary.BigEndian.Uint64(raw)
		}
		id = contract.BetID(cur + 1)
		var next [8]byte
		binary.BigEndian.PutUint64(next[:], uint64(id))
		return meta.Put(nextBetIDKey, next[:])
	}, func() {})
	return id, err
}

func betKey(id contract.BetID) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(id))
	return k[:]
}

// putBet writes bet's primary record, overwriting any previous value.
func (s *Store) putBet(bet *contract.Bet) error {
	raw, err := encodeBet(bet)
	if err != nil {
		return err
	}
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		return tx.ReadWriteBucket(betsBucketName).Put(betKey(bet.BetID), raw)
	}, func() {})
}

// GetBet returns the primary record for id.
func (s *Store) GetBet(id contract.BetID) (*contract.Bet, error) {
	var bet *contract.Bet
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		raw := tx.ReadBucket(betsBucketName).Get(betKey(id))
		if raw == nil {
			return fmt.Errorf("bet %d not found", id)
		}
		decoded, err := decodeBet(raw)
		if err != nil {
			return err
		}
		bet = decoded
		return nil
	}, func() {})
	return bet, err
}

// ListBets returns every bet record in the store, in no particular order.
func (s *Store) ListBets() ([]*contract.Bet, error) {
	var bets []*contract.Bet
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(betsBucketName)
		return bucket.ForEach(func(_, raw []byte) error {
			bet, err := decodeBet(raw)
			if err != nil {
				return err
			}
			bets = append(bets, bet)
			return nil
		})
	}, func() {})
	return bets, err
}

// SaveTransition persists a state transition for bet using a
// write-ahead pattern: append the transition record and fsync, then
// overwrite the primary record and fsync. Each kvdb.Update commits (and
// therefore fsyncs, on the bolt backend) before returning.
func (s *Store) SaveTransition(bet *contract.Bet, fromState contract.State) error {
	if err := s.appendWAL(bet, fromState); err != nil {
		return fmt.Errorf("append wal: %w", err)
	}
	if err := s.putBet(bet); err != nil {
		return fmt.Errorf("update primary record: %w", err)
	}
	log.Debugf("bet %d: %s -> %s", bet.BetID, fromState, bet.State)

	s.mu.Lock()
	defer s.mu.Unlock()
	if fromState.NonTerminal() && bet.State.Terminal() {
		for _, op := range bet.ReservedUTXOs {
			delete(s.reservedUTXO, op)
		}
	}
	return nil
}
