package betdb

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
)

// transitionRecord is one append-only WAL entry: a full snapshot of the bet
// as it stood immediately after the transition, plus the state it moved
// from. Storing the whole snapshot (rather than a diff) keeps replay a
// single overwrite of the primary record.
type transitionRecord struct {
	FromState contract.State
	ToState   contract.State
	Bet       []byte
}

// appendWAL appends a transition record for bet to its nested WAL bucket.
func (s *Store) appendWAL(bet *contract.Bet, fromState contract.State) error {
	betRaw, err := encodeBet(bet)
	if err != nil {
		return err
	}

	rec := transitionRecord{FromState: fromState, ToState: bet.State, Bet: betRaw}
	var recBuf bytes.Buffer
	if err := gob.NewEncoder(&recBuf).Encode(rec); err != nil {
		return fmt.Errorf("gob-encode transition: %w", err)
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		walRoot := tx.ReadWriteBucket(walBucketName)
		betWAL, err := walRoot.CreateBucketIfNotExists(betKey(bet.BetID))
		if err != nil {
			return err
		}
		seq, err := betWAL.NextSequence()
		if err != nil {
			return err
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		return betWAL.Put(seqKey[:], recBuf.Bytes())
	}, func() {})
}

// replay reconciles the primary bet-record bucket against each bet's WAL.
// Only the two states a crash between SaveTransition's WAL append and its
// primary write can leave behind are repaired: a missing primary, or a
// primary still at the transition's from-state, both by rolling the WAL
// snapshot forward. Every other mismatch -- an undecodable WAL record or
// snapshot, a snapshot whose state contradicts its own transition, or a
// primary in a state the last logged transition never touched -- is an
// unrepairable divergence: replay mutates nothing and returns a
// DataIntegrity error, which Open surfaces so the process exits rather
// than guesses.
func (s *Store) replay() error {
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		walRoot := tx.ReadWriteBucket(walBucketName)
		betsBucket := tx.ReadWriteBucket(betsBucketName)

		return walRoot.ForEach(func(betIDKey, v []byte) error {
			// A nil value marks a nested per-bet WAL bucket.
			if v != nil {
				return nil
			}
			betWAL := walRoot.NestedReadWriteBucket(betIDKey)
			if betWAL == nil {
				return nil
			}

			var lastRaw []byte
			cursor := betWAL.ReadWriteCursor()
			for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
				lastRaw = v
			}
			if lastRaw == nil {
				return nil
			}

			var rec transitionRecord
			if err := gob.NewDecoder(bytes.NewReader(lastRaw)).Decode(&rec); err != nil {
				return gunerr.New(gunerr.DataIntegrity,
					fmt.Errorf("decode wal transition for bet %d: %w",
						binary.BigEndian.Uint64(betIDKey), err))
			}

			snapshot, err := decodeBet(rec.Bet)
			if err != nil {
				return err
			}
			if snapshot.State != rec.ToState {
				return gunerr.Newf(gunerr.DataIntegrity,
					"bet %d: wal snapshot state %s contradicts its logged transition %s -> %s",
					snapshot.BetID, snapshot.State, rec.FromState, rec.ToState)
			}

			primary := betsBucket.Get(betIDKey)
			if primary == nil {
				// Crash before the first primary write: roll forward.
				return betsBucket.Put(betIDKey, rec.Bet)
			}
			bet, err := decodeBet(primary)
			if err != nil {
				return err
			}
			switch bet.State {
			case rec.ToState:
				// Primary already reflects the transition.
				return nil
			case rec.FromState:
				// Crash between the WAL append and the primary update:
				// roll forward.
				return betsBucket.Put(betIDKey, rec.Bet)
			default:
				return gunerr.Newf(gunerr.DataIntegrity,
					"bet %d: primary state %s matches neither side of its last logged transition %s -> %s",
					bet.BetID, bet.State, rec.FromState, rec.ToState)
			}
		})
	}, func() {})
}
