package engine

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/walletadapter"
)

// packetForSigning wraps tx in an unsigned PSBT packet and populates
// witness-utxo data for myInputs only. The Wallet Adapter's SignInputs
// never touches an input outside the set it's told to sign, so the
// counterparty's inputs need no witness-utxo data on this side of the
// protocol.
func packetForSigning(tx *wire.MsgTx, wallet *walletadapter.Adapter, myInputs []contract.Input) (*psbt.Packet, error) {
	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("build psbt: %w", err)
	}

	want := make(map[wire.OutPoint]struct{}, len(myInputs))
	for _, in := range myInputs {
		want[in.OutPoint] = struct{}{}
	}

	for i, txIn := range tx.TxIn {
		if _, ok := want[txIn.PreviousOutPoint]; !ok {
			continue
		}
		utxo, err := wallet.WitnessUTXO(txIn.PreviousOutPoint)
		if err != nil {
			return nil, fmt.Errorf("witness utxo for %s: %w", txIn.PreviousOutPoint, err)
		}
		packet.Inputs[i].WitnessUtxo = utxo
	}

	return packet, nil
}

// extractSignatures reads, in myInputs order, the witness signature
// each of myInputs' matching transaction input received from
// SignInputs, for embedding in an offer's input_sigs.
func extractSignatures(tx *wire.MsgTx, myInputs []contract.Input) ([][]byte, error) {
	byOutpoint := make(map[wire.OutPoint]*wire.TxIn, len(tx.TxIn))
	for _, txIn := range tx.TxIn {
		byOutpoint[txIn.PreviousOutPoint] = txIn
	}

	sigs := make([][]byte, len(myInputs))
	for i, in := range myInputs {
		txIn, ok := byOutpoint[in.OutPoint]
		if !ok || len(txIn.Witness) == 0 {
			return nil, fmt.Errorf("no signature recorded for input %s", in.OutPoint)
		}
		sigs[i] = txIn.Witness[0]
	}
	return sigs, nil
}
