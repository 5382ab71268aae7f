package betdb

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/llfourn/gun-ng/contract"
)

// rebuildUTXOIndex scans every primary bet record and re-populates the
// in-memory reserved-UTXO index from whichever bets are still non-terminal.
func (s *Store) rebuildUTXOIndex() error {
	return kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(betsBucketName)
		return bucket.ForEach(func(_, raw []byte) error {
			bet, err := decodeBet(raw)
			if err != nil {
				return err
			}
			if bet.State.Terminal() {
				return nil
			}
			s.mu.Lock()
			for _, op := range bet.ReservedUTXOs {
				s.reservedUTXO[op] = bet.BetID
			}
			s.mu.Unlock()
			return nil
		})
	}, func() {})
}

// IsUTXOReserved reports whether op is already claimed by some non-terminal
// bet, and if so by which: no two non-terminal bets may overlap on a UTXO.
func (s *Store) IsUTXOReserved(op wire.OutPoint) (contract.BetID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.reservedUTXO[op]
	return id, ok
}

// ReserveUTXOs claims outpoints for betID, failing if any is already
// reserved by a different non-terminal bet.
func (s *Store) ReserveUTXOs(betID contract.BetID, outpoints []wire.OutPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range outpoints {
		if holder, ok := s.reservedUTXO[op]; ok && holder != betID {
			return fmt.Errorf("utxo %s already reserved by bet %d", op, holder)
		}
	}
	for _, op := range outpoints {
		s.reservedUTXO[op] = betID
	}
	return nil
}

// ReservedOutpoints returns every outpoint some non-terminal bet
// currently holds a claim on, for seeding the Wallet Adapter's
// in-memory reservation set on startup.
func (s *Store) ReservedOutpoints() []wire.OutPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := make([]wire.OutPoint, 0, len(s.reservedUTXO))
	for op := range s.reservedUTXO {
		ops = append(ops, op)
	}
	return ops
}

// ReleaseUTXOs drops betID's claim on outpoints, e.g. on cancel.
func (s *Store) ReleaseUTXOs(outpoints []wire.OutPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range outpoints {
		delete(s.reservedUTXO, op)
	}
}
