package itest

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"

	"github.com/llfourn/gun-ng/walletadapter"
)

// spentScanDepth bounds how far back OutpointSpentBy walks the chain
// looking for a spender. Plenty for a regtest run; a production backend
// answers this from an index instead (Esplora's /outspend endpoint).
const spentScanDepth = 200

// bitcoindChain satisfies walletadapter.ChainClient against a local
// bitcoind node's JSON-RPC interface, the second backend variant next to
// the Esplora client the wallet adapter ships with.
type bitcoindChain struct {
	client *rpcclient.Client
}

var _ walletadapter.ChainClient = (*bitcoindChain)(nil)

func newBitcoindChain(client *rpcclient.Client) *bitcoindChain {
	return &bitcoindChain{client: client}
}

func (c *bitcoindChain) Broadcast(_ context.Context, tx *wire.MsgTx) error {
	_, err := c.client.SendRawTransaction(tx, true)
	return err
}

func (c *bitcoindChain) GetTransaction(_ context.Context, txid chainhash.Hash) (*wire.MsgTx, int64, error) {
	res, err := c.client.GetRawTransactionVerbose(&txid)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
			return nil, 0, walletadapter.ErrTxNotFound
		}
		return nil, 0, err
	}

	raw, err := hex.DecodeString(res.Hex)
	if err != nil {
		return nil, 0, err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, 0, err
	}

	return &tx, int64(res.Confirmations), nil
}

func (c *bitcoindChain) CurrentHeight(_ context.Context) (uint32, error) {
	count, err := c.client.GetBlockCount()
	if err != nil {
		return 0, err
	}
	return uint32(count), nil
}

func (c *bitcoindChain) EstimateFee(_ context.Context, confTarget uint32) (chainfee.SatPerKWeight, error) {
	res, err := c.client.EstimateSmartFee(
		int64(confTarget), &btcjson.EstimateModeConservative,
	)
	if err == nil && res.FeeRate != nil && *res.FeeRate > 0 {
		perKVB := chainfee.SatPerKVByte(*res.FeeRate * btcutil.SatoshiPerBitcoin)
		return perKVB.FeePerKWeight(), nil
	}

	// A fresh regtest chain has no fee history to estimate from.
	return chainfee.FeePerKwFloor, nil
}

// OutpointSpentBy answers from gettxout first: a non-null result means op
// is unspent (including against the mempool). Otherwise the spender is
// located by scanning the mempool and then recent blocks, since bitcoind
// keeps no spent-by index.
func (c *bitcoindChain) OutpointSpentBy(_ context.Context, op wire.OutPoint) (*chainhash.Hash, error) {
	res, err := c.client.GetTxOut(&op.Hash, op.Index, true)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return nil, nil
	}

	mempool, err := c.client.GetRawMempool()
	if err != nil {
		return nil, err
	}
	for _, txid := range mempool {
		tx, err := c.client.GetRawTransaction(txid)
		if err != nil {
			continue
		}
		for _, in := range tx.MsgTx().TxIn {
			if in.PreviousOutPoint == op {
				spender := *txid
				return &spender, nil
			}
		}
	}

	tip, err := c.client.GetBlockCount()
	if err != nil {
		return nil, err
	}
	for height := tip; height >= 0 && tip-height < spentScanDepth; height-- {
		blockHash, err := c.client.GetBlockHash(height)
		if err != nil {
			return nil, err
		}
		block, err := c.client.GetBlock(blockHash)
		if err != nil {
			return nil, err
		}
		for _, tx := range block.Transactions {
			for _, in := range tx.TxIn {
				if in.PreviousOutPoint == op {
					spender := tx.TxHash()
					return &spender, nil
				}
			}
		}
	}

	return nil, nil
}
