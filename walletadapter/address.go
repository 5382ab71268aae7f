package walletadapter

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"

	"github.com/llfourn/gun-ng/contract"
)

// Balance returns the wallet's spendable balance at minConf
// confirmations. A bet's reserved inputs are still the user's coins
// until a funding transaction spends them, so reservations don't
// affect this total.
func (a *Adapter) Balance(minConf int32) (btcutil.Amount, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.wallet == nil {
		return 0, ErrWalletNotLoaded
	}
	return a.wallet.CalculateBalance(minConf)
}

// NewAddress derives and persists a fresh receive address on the
// external branch, the same BIP0084 scope NextPayoutScript uses for
// change.
func (a *Adapter) NewAddress() (btcutil.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.wallet == nil {
		return nil, ErrWalletNotLoaded
	}
	return a.wallet.NewAddress(waddrmgr.DefaultAccountNum, waddrmgr.KeyScopeBIP0084)
}

// LastUnusedAddress returns the current external address without
// advancing the derivation index, for `gun address last-unused`: the
// same address is returned every call until it receives a payment.
func (a *Adapter) LastUnusedAddress() (btcutil.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.wallet == nil {
		return nil, ErrWalletNotLoaded
	}
	return a.wallet.CurrentAddress(waddrmgr.DefaultAccountNum, waddrmgr.KeyScopeBIP0084)
}

// SendTo builds, signs and broadcasts a transaction paying amount to
// dest, reusing ReserveInputs/SignInputs/Broadcast -- the same
// coin-selection and signing path the betting protocol's funding
// transactions go through, generalized to a single plain output.
func (a *Adapter) SendTo(ctx context.Context, dest btcutil.Address, amount btcutil.Amount, feeRate chainfee.SatPerKWeight) (chainhash.Hash, error) {
	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("pay-to-addr script: %w", err)
	}
	return a.sendToScripts(ctx, []*wire.TxOut{wire.NewTxOut(int64(amount), destScript)}, feeRate)
}

// Split divides amount across n fresh internal addresses of this
// wallet, broadcasting a single transaction -- `gun split`'s
// implementation, useful for pre-seeding a wallet with several
// independently-spendable UTXOs before proposing multiple bets at once.
func (a *Adapter) Split(ctx context.Context, amount btcutil.Amount, n int, feeRate chainfee.SatPerKWeight) (chainhash.Hash, error) {
	if n < 2 {
		return chainhash.Hash{}, fmt.Errorf("split requires at least 2 outputs, got %d", n)
	}
	each := amount / btcutil.Amount(n)
	if each <= dustLimit {
		return chainhash.Hash{}, fmt.Errorf("each of %d outputs would be %d sat, below the dust limit", n, each)
	}

	outs := make([]*wire.TxOut, n)
	for i := 0; i < n; i++ {
		script, err := a.NextPayoutScript()
		if err != nil {
			return chainhash.Hash{}, fmt.Errorf("derive split address %d: %w", i, err)
		}
		outs[i] = wire.NewTxOut(int64(each), script)
	}
	return a.sendToScripts(ctx, outs, feeRate)
}

// sendToScripts is the shared coin-selection/sign/broadcast path behind
// SendTo and Split.
func (a *Adapter) sendToScripts(ctx context.Context, outs []*wire.TxOut, feeRate chainfee.SatPerKWeight) (chainhash.Hash, error) {
	var total btcutil.Amount
	for _, o := range outs {
		total += btcutil.Amount(o.Value)
	}

	inputs, changeScript, err := a.ReserveInputs(total, feeRate)
	if err != nil {
		return chainhash.Hash{}, err
	}

	tx := wire.NewMsgTx(2)
	for _, in := range inputs {
		tx.AddTxIn(wire.NewTxIn(&in.OutPoint, nil, nil))
	}
	for _, o := range outs {
		tx.AddTxOut(o)
	}

	var inTotal btcutil.Amount
	for _, in := range inputs {
		inTotal += btcutil.Amount(in.Value)
	}
	vsize := int64(len(inputs))*roughVSizePerInput + int64(len(outs)+1)*roughVSizePerOutput + roughVSizeOverhead
	satPerVByte := int64(feeRate) * 4 / 1000
	if satPerVByte < 1 {
		satPerVByte = 1
	}
	fee := btcutil.Amount(vsize * satPerVByte)
	change := inTotal - total - fee
	if changeScript != nil && change > dustLimit {
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	return a.signAndBroadcast(ctx, tx, inputs)
}

// SendAll sweeps every spendable, unreserved UTXO to dest in a single
// transaction with no change output -- `gun send all`'s
// implementation. A bet's reserved inputs stay put; "all" means all of
// what isn't already committed.
func (a *Adapter) SendAll(ctx context.Context, dest btcutil.Address, feeRate chainfee.SatPerKWeight) (chainhash.Hash, error) {
	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("pay-to-addr script: %w", err)
	}

	a.mu.RLock()
	if a.wallet == nil {
		a.mu.RUnlock()
		return chainhash.Hash{}, ErrWalletNotLoaded
	}
	unspent, err := a.wallet.ListUnspent(int32(a.cfg.MinConfs), 9999999, "")
	a.mu.RUnlock()
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("list unspent: %w", err)
	}

	var (
		inputs  []contract.Input
		inTotal btcutil.Amount
	)
	for _, utxo := range unspent {
		txHash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			continue
		}
		op := wire.OutPoint{Hash: *txHash, Index: utxo.Vout}
		if a.reservations.isReserved(op) {
			continue
		}
		value, err := btcutil.NewAmount(utxo.Amount)
		if err != nil {
			continue
		}
		inputs = append(inputs, contract.Input{OutPoint: op, Value: int64(value)})
		inTotal += value
	}
	if len(inputs) == 0 {
		return chainhash.Hash{}, ErrInsufficientFunds
	}

	ops := make([]wire.OutPoint, len(inputs))
	for i, in := range inputs {
		ops[i] = in.OutPoint
	}
	if err := a.reservations.reserve(ops); err != nil {
		return chainhash.Hash{}, err
	}

	satPerVByte := int64(feeRate) * 4 / 1000
	if satPerVByte < 1 {
		satPerVByte = 1
	}
	vsize := int64(len(inputs))*roughVSizePerInput + roughVSizePerOutput + roughVSizeOverhead
	fee := btcutil.Amount(vsize * satPerVByte)
	if inTotal <= fee+dustLimit {
		a.reservations.release(ops)
		return chainhash.Hash{}, ErrInsufficientFunds
	}

	tx := wire.NewMsgTx(2)
	for _, in := range inputs {
		tx.AddTxIn(wire.NewTxIn(&in.OutPoint, nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(int64(inTotal-fee), destScript))

	return a.signAndBroadcast(ctx, tx, inputs)
}

// signAndBroadcast is the shared PSBT-sign-then-broadcast tail of
// SendTo, SendAll and Split, releasing the input reservation on any
// failure.
func (a *Adapter) signAndBroadcast(ctx context.Context, tx *wire.MsgTx, inputs []contract.Input) (chainhash.Hash, error) {
	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		a.ReleaseInputs(inputs)
		return chainhash.Hash{}, fmt.Errorf("build psbt: %w", err)
	}
	for i, txIn := range tx.TxIn {
		utxo, err := a.WitnessUTXO(txIn.PreviousOutPoint)
		if err != nil {
			a.ReleaseInputs(inputs)
			return chainhash.Hash{}, fmt.Errorf("witness utxo for %s: %w", txIn.PreviousOutPoint, err)
		}
		packet.Inputs[i].WitnessUtxo = utxo
	}

	if _, err := a.SignInputs(packet, inputs); err != nil {
		a.ReleaseInputs(inputs)
		return chainhash.Hash{}, fmt.Errorf("sign inputs: %w", err)
	}

	txid, err := a.Broadcast(ctx, tx)
	if err != nil {
		a.ReleaseInputs(inputs)
		return chainhash.Hash{}, err
	}
	return txid, nil
}
