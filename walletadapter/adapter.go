package walletadapter

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/btcsuite/btcwallet/wallet"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"

	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // register the bdb driver

	"github.com/llfourn/gun-ng/contract"
)

// dustLimit is the floor for send/split outputs paying arbitrary
// user-supplied addresses, whose script type isn't ours to pick: 546 is
// the legacy P2PKH threshold, the most conservative of the standard
// dust bounds. Our own P2WPKH change is sized by txrules instead.
const dustLimit = btcutil.Amount(546)

// roughVSizePerInput and roughVSizePerOutput size a P2WPKH funding
// transaction closely enough for pre-signing coin selection; the
// actual claim/funding transactions are sized exactly by betcrypto
// once their final shape is known.
const (
	roughVSizePerInput  = txsizes.RedeemP2WPKHInputSize + (txsizes.RedeemP2WPKHInputWitnessWeight+3)/4
	roughVSizePerOutput = txsizes.P2WPKHOutputSize
	roughVSizeOverhead  = 11
)

// Adapter is the wallet façade the Protocol Engine drives: coin
// selection, change addresses, PSBT signing, broadcast and
// transaction lookup.
type Adapter struct {
	cfg *Config

	wallet *wallet.Wallet
	db     walletdb.DB
	loader *wallet.Loader

	reservations *reservationManager

	mu      sync.RWMutex
	started bool
}

// New constructs an Adapter from cfg. Call Start before use.
func New(cfg *Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Adapter{
		cfg:          cfg,
		reservations: newReservationManager(),
	}, nil
}

// Start opens or creates the on-disk wallet and unlocks it.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	if err := a.initWallet(); err != nil {
		return fmt.Errorf("failed to initialize wallet: %w", err)
	}

	a.wallet.Start()
	a.wallet.SetChainSynced(true)
	a.started = true

	return nil
}

// Stop shuts the wallet down cleanly.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	a.wallet.Stop()
	a.wallet.WaitForShutdown()

	if a.db != nil {
		a.db.Close()
	}

	a.started = false
	return nil
}

func (a *Adapter) initWallet() error {
	dbDir := filepath.Dir(a.cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0700); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	a.loader = wallet.NewLoader(a.cfg.NetParams, dbDir, true, 250, a.cfg.RecoveryWindow)

	exists, err := a.loader.WalletExists()
	if err != nil {
		return fmt.Errorf("check wallet existence: %w", err)
	}

	if !exists {
		if len(a.cfg.Seed) == 0 {
			return fmt.Errorf("seed required for new wallet")
		}

		if _, err := hdkeychain.NewMaster(a.cfg.Seed, a.cfg.NetParams); err != nil {
			return fmt.Errorf("validate seed: %w", err)
		}

		a.wallet, err = a.loader.CreateNewWallet(a.cfg.PublicPass, a.cfg.PrivatePass, a.cfg.Seed, a.cfg.Birthday)
		if err != nil {
			return fmt.Errorf("create wallet: %w", err)
		}
	} else {
		a.wallet, err = a.loader.OpenExistingWallet(a.cfg.PublicPass, false)
		if err != nil {
			return fmt.Errorf("open wallet: %w", err)
		}
	}

	if err := a.wallet.Unlock(a.cfg.PrivatePass, nil); err != nil {
		return fmt.Errorf("unlock wallet: %w", err)
	}

	return nil
}

// LoadReservations seeds the in-memory reservation set from ops,
// which the caller (the Engine, on startup) obtains from the Bet
// Store's persisted reserved-utxo index.
func (a *Adapter) LoadReservations(ops []wire.OutPoint) {
	a.reservations.load(ops)
}

// ReserveInputs selects confirmed, unreserved UTXOs summing to at
// least amount plus the fee they themselves will cost to spend at
// feeRate, marks them reserved, and returns them along with a change
// script if the remainder clears the dust limit.
func (a *Adapter) ReserveInputs(amount btcutil.Amount, feeRate chainfee.SatPerKWeight) ([]contract.Input, []byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.wallet == nil {
		return nil, nil, ErrWalletNotLoaded
	}

	unspent, err := a.wallet.ListUnspent(int32(a.cfg.MinConfs), 9999999, "")
	if err != nil {
		return nil, nil, fmt.Errorf("list unspent: %w", err)
	}

	satPerVByte := int64(feeRate) * 4 / 1000
	if satPerVByte < 1 {
		satPerVByte = 1
	}

	var selected []contract.Input
	var total btcutil.Amount

	for _, utxo := range unspent {
		txHash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			continue
		}
		op := wire.OutPoint{Hash: *txHash, Index: utxo.Vout}
		if a.reservations.isReserved(op) {
			continue
		}

		// ListUnspent reports amounts as float BTC.
		value, err := btcutil.NewAmount(utxo.Amount)
		if err != nil {
			continue
		}

		selected = append(selected, contract.Input{OutPoint: op, Value: int64(value)})
		total += value

		estVSize := int64(len(selected))*roughVSizePerInput + 2*roughVSizePerOutput + roughVSizeOverhead
		required := amount + btcutil.Amount(estVSize*satPerVByte)
		if total >= required {
			break
		}
	}

	estVSize := int64(len(selected))*roughVSizePerInput + 2*roughVSizePerOutput + roughVSizeOverhead
	required := amount + btcutil.Amount(estVSize*satPerVByte)
	if total < required {
		return nil, nil, ErrInsufficientFunds
	}

	ops := make([]wire.OutPoint, len(selected))
	for i, in := range selected {
		ops[i] = in.OutPoint
	}
	if err := a.reservations.reserve(ops); err != nil {
		return nil, nil, err
	}

	var changeScript []byte
	change := total - required
	dummyP2WPKHScript := append([]byte{0x00, 0x14}, make([]byte, 20)...)
	changeOut := &wire.TxOut{Value: int64(change), PkScript: dummyP2WPKHScript}
	if !txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb) {
		changeScript, err = a.nextPayoutScriptLocked()
		if err != nil {
			a.reservations.release(ops)
			return nil, nil, fmt.Errorf("derive change script: %w", err)
		}
	}

	return selected, changeScript, nil
}

// ReleaseInputs releases a prior reservation.
func (a *Adapter) ReleaseInputs(inputs []contract.Input) {
	ops := make([]wire.OutPoint, len(inputs))
	for i, in := range inputs {
		ops[i] = in.OutPoint
	}
	a.reservations.release(ops)
}

// NextPayoutScript returns a fresh internal address's script, reserved
// for receiving bet winnings or change.
func (a *Adapter) NextPayoutScript() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.wallet == nil {
		return nil, ErrWalletNotLoaded
	}
	return a.nextPayoutScriptLocked()
}

func (a *Adapter) nextPayoutScriptLocked() ([]byte, error) {
	addr, err := a.wallet.NewChangeAddress(waddrmgr.DefaultAccountNum, waddrmgr.KeyScopeBIP0084)
	if err != nil {
		return nil, fmt.Errorf("new change address: %w", err)
	}
	return txscript.PayToAddrScript(addr)
}

// SignInputs signs only the inputs of packet listed in inputs,
// leaving every other input untouched.
func (a *Adapter) SignInputs(packet *psbt.Packet, inputs []contract.Input) (*psbt.Packet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.wallet == nil {
		return nil, ErrWalletNotLoaded
	}

	want := make(map[wire.OutPoint]struct{}, len(inputs))
	for _, in := range inputs {
		want[in.OutPoint] = struct{}{}
	}

	for i, txIn := range packet.UnsignedTx.TxIn {
		if _, ok := want[txIn.PreviousOutPoint]; !ok {
			continue
		}
		if i >= len(packet.Inputs) {
			continue
		}
		if err := a.signInput(packet, i); err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
	}

	return packet, nil
}

func (a *Adapter) signInput(packet *psbt.Packet, inputIdx int) error {
	pInput := packet.Inputs[inputIdx]
	if pInput.WitnessUtxo == nil {
		return fmt.Errorf("missing witness utxo for input %d", inputIdx)
	}
	prevOut := pInput.WitnessUtxo

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(prevOut.PkScript, a.cfg.NetParams)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("extract address: %w", err)
	}

	privKey, err := a.wallet.PrivKeyForAddress(addrs[0])
	if err != nil {
		return fmt.Errorf("no private key for address: %w", err)
	}

	if !txscript.IsPayToWitnessPubKeyHash(prevOut.PkScript) {
		return fmt.Errorf("unsupported script type for input %d", inputIdx)
	}

	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)
	sigHash, err := txscript.CalcWitnessSigHash(
		prevOut.PkScript, sigHashes, txscript.SigHashAll,
		packet.UnsignedTx, inputIdx, prevOut.Value,
	)
	if err != nil {
		return fmt.Errorf("calc sighash: %w", err)
	}

	sig := ecdsa.Sign(privKey, sigHash)
	sigBytes := append(sig.Serialize(), byte(txscript.SigHashAll))
	pubKeyBytes := privKey.PubKey().SerializeCompressed()

	packet.UnsignedTx.TxIn[inputIdx].Witness = wire.TxWitness{sigBytes, pubKeyBytes}
	return nil
}

// WitnessUTXO looks up the value and scriptPubKey of one of the
// wallet's own outputs, for populating a PSBT input's witness-utxo
// field before SignInputs.
func (a *Adapter) WitnessUTXO(op wire.OutPoint) (*wire.TxOut, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.wallet == nil {
		return nil, ErrWalletNotLoaded
	}

	unspent, err := a.wallet.ListUnspent(0, 9999999, "")
	if err != nil {
		return nil, fmt.Errorf("list unspent: %w", err)
	}

	for _, utxo := range unspent {
		txHash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			continue
		}
		if !txHash.IsEqual(&op.Hash) || utxo.Vout != op.Index {
			continue
		}
		pkScript, err := hex.DecodeString(utxo.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("decode scriptPubKey: %w", err)
		}
		value, err := btcutil.NewAmount(utxo.Amount)
		if err != nil {
			return nil, fmt.Errorf("parse utxo amount: %w", err)
		}
		return wire.NewTxOut(int64(value), pkScript), nil
	}

	return nil, fmt.Errorf("utxo %s not found in wallet", op)
}

// Broadcast submits tx to the configured chain backend.
func (a *Adapter) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	if err := a.cfg.Chain.Broadcast(ctx, tx); err != nil {
		return chainhash.Hash{}, err
	}
	txid := tx.TxHash()
	log.Infof("broadcast tx %s", txid)
	return txid, nil
}

// GetTx fetches a transaction and its confirmation count from the
// configured chain backend.
func (a *Adapter) GetTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, int64, error) {
	return a.cfg.Chain.GetTransaction(ctx, txid)
}

// OutpointSpentBy reports which transaction, if any, has spent op.
func (a *Adapter) OutpointSpentBy(ctx context.Context, op wire.OutPoint) (*chainhash.Hash, error) {
	return a.cfg.Chain.OutpointSpentBy(ctx, op)
}

