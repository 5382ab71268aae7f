package walletadapter

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// ChainClient is the capability set the Adapter needs from a
// blockchain backend: broadcast, transaction lookup, fee estimation,
// and current height. Concrete backends (Esplora, a local node's RPC)
// are variants satisfying this interface; the Adapter is written only
// against it.
type ChainClient interface {
	// Broadcast submits tx to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error

	// GetTransaction fetches a transaction and its confirmation count.
	// Returns ErrTxNotFound if the backend has no record of it.
	GetTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, int64, error)

	// CurrentHeight returns the chain tip height.
	CurrentHeight(ctx context.Context) (uint32, error)

	// EstimateFee returns a fee rate, in sat/kW, targeting confirmation
	// within confTarget blocks.
	EstimateFee(ctx context.Context, confTarget uint32) (chainfee.SatPerKWeight, error)

	// OutpointSpentBy returns the txid of the transaction spending op, or
	// nil if op is unspent (or the backend has no record of it at all).
	OutpointSpentBy(ctx context.Context, op wire.OutPoint) (*chainhash.Hash, error)
}
