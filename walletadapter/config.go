// Package walletadapter is the thin façade over btcwallet the protocol
// engine uses for everything chain-related: coin selection, change
// addresses, PSBT signing, broadcast, and transaction lookup. The
// engine is written only against this package's exported surface,
// never against btcwallet directly, so the underlying wallet library
// stays swappable.
package walletadapter

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/wallet"
)

// Config holds the configuration for a btcwallet-backed Adapter.
type Config struct {
	// NetParams is the network parameters (mainnet, testnet, regtest).
	NetParams *chaincfg.Params

	// DBPath is the path to the wallet database directory.
	DBPath string

	// PrivatePass is the private passphrase for the wallet.
	PrivatePass []byte

	// PublicPass is the public passphrase for the wallet.
	PublicPass []byte

	// Seed is the wallet seed used to create a new wallet. Required
	// only on first run.
	Seed []byte

	// Birthday is the earliest time to scan for transactions.
	Birthday time.Time

	// Chain is the chain backend used for broadcast, transaction
	// lookup, and fee estimation.
	Chain ChainClient

	// RecoveryWindow is the address gap limit used when recovering a
	// wallet from seed.
	// Default: 250
	RecoveryWindow uint32

	// MinConfs is the minimum confirmation count required of a UTXO
	// before reserve_inputs will select it.
	// Default: 1
	MinConfs uint32
}

// DefaultConfig returns a default configuration using chain as the
// chain backend.
func DefaultConfig(chain ChainClient) *Config {
	return &Config{
		NetParams:      &chaincfg.TestNet3Params,
		PublicPass:     []byte(wallet.InsecurePubPassphrase),
		RecoveryWindow: 250,
		MinConfs:       1,
		Chain:          chain,
	}
}

// Validate checks cfg for the fields every Adapter needs set.
func (c *Config) Validate() error {
	if c.NetParams == nil {
		return ErrInvalidNetParams
	}
	if c.Chain == nil {
		return ErrChainClientRequired
	}
	if len(c.PrivatePass) == 0 {
		return ErrPrivatePassRequired
	}
	return nil
}
