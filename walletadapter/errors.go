package walletadapter

import "errors"

var (
	// ErrInvalidNetParams is returned when network parameters are invalid.
	ErrInvalidNetParams = errors.New("invalid network parameters")

	// ErrChainClientRequired is returned when no chain backend is configured.
	ErrChainClientRequired = errors.New("chain client is required")

	// ErrPrivatePassRequired is returned when private passphrase is not provided.
	ErrPrivatePassRequired = errors.New("private passphrase is required")

	// ErrWalletNotLoaded is returned when the wallet has not been started.
	ErrWalletNotLoaded = errors.New("wallet not loaded")

	// ErrInsufficientFunds is returned when reserve_inputs cannot cover
	// the requested amount plus fee from unreserved UTXOs.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUTXOReserved is returned when an outpoint is already reserved
	// by a concurrent reservation.
	ErrUTXOReserved = errors.New("utxo is already reserved")

	// ErrTxNotFound is returned by GetTx when the chain backend has no
	// record of the transaction.
	ErrTxNotFound = errors.New("transaction not found")
)
