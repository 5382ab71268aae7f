package walletadapter

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// reservationManager tracks which UTXOs are currently committed to an
// in-flight send or bet, so reserve_inputs never selects a coin twice.
// It carries no expiry: a reservation lives until the caller explicitly
// releases it or the owning bet reaches a terminal state.
type reservationManager struct {
	mu       sync.Mutex
	reserved map[wire.OutPoint]struct{}
}

func newReservationManager() *reservationManager {
	return &reservationManager{reserved: make(map[wire.OutPoint]struct{})}
}

// reserve marks every outpoint in ops as reserved, atomically: if any
// one of them is already reserved, none are.
func (m *reservationManager) reserve(ops []wire.OutPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		if _, ok := m.reserved[op]; ok {
			return ErrUTXOReserved
		}
	}
	for _, op := range ops {
		m.reserved[op] = struct{}{}
	}
	return nil
}

// release clears a reservation. Releasing an outpoint that was never
// reserved is a no-op, since it's the natural outcome of a bet
// reaching a terminal state more than once (e.g. double-delivered
// notifications).
func (m *reservationManager) release(ops []wire.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		delete(m.reserved, op)
	}
}

func (m *reservationManager) isReserved(op wire.OutPoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.reserved[op]
	return ok
}

// load seeds the in-memory reservation set from the Bet Store's
// persisted reserved-utxo index on startup.
func (m *reservationManager) load(ops []wire.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		m.reserved[op] = struct{}{}
	}
}
