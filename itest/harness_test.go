package itest

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/contract"
)

const (
	bitcoindImage = "ruimarinho/bitcoin-core"
	bitcoindTag   = "24"

	rpcUser = "gun"
	rpcPass = "gunpass"

	// fundingFee is the flat fee the harness pays on the transactions it
	// hand-builds; regtest has no fee market worth estimating for.
	fundingFee = int64(10_000)
)

// harness runs a disposable bitcoind regtest node in a docker container
// and exposes it through the same ChainClient surface the wallet adapter
// uses in production, plus a miner key the tests spend coinbase outputs
// with.
type harness struct {
	t      *testing.T
	client *rpcclient.Client
	chain  *bitcoindChain

	params      *chaincfg.Params
	minerKey    *btcec.PrivateKey
	minerAddr   btcutil.Address
	minerScript []byte
}

// newHarness spins up bitcoind in docker and waits for its RPC interface
// to come up. Skips the test when docker itself is unavailable, so the
// integration suite degrades to a no-op on machines without it.
func newHarness(t *testing.T) *harness {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping docker-backed integration test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 2 * time.Minute
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: bitcoindImage,
		Tag:        bitcoindTag,
		Cmd: []string{
			"-regtest=1",
			"-txindex=1",
			"-fallbackfee=0.0001",
			"-rpcuser=" + rpcUser,
			"-rpcpassword=" + rpcPass,
			"-rpcbind=0.0.0.0",
			"-rpcallowip=0.0.0.0/0",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	require.NoError(t, resource.Expire(600))
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("purge bitcoind container: %v", err)
		}
	})

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         resource.GetHostPort("18443/tcp"),
		User:         rpcUser,
		Pass:         rpcPass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)

	require.NoError(t, pool.Retry(func() error {
		_, err := client.GetBlockCount()
		return err
	}))

	minerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams
	minerAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(minerKey.PubKey().SerializeCompressed()), params,
	)
	require.NoError(t, err)
	minerScript, err := txscript.PayToAddrScript(minerAddr)
	require.NoError(t, err)

	return &harness{
		t:           t,
		client:      client,
		chain:       newBitcoindChain(client),
		params:      params,
		minerKey:    minerKey,
		minerAddr:   minerAddr,
		minerScript: minerScript,
	}
}

// mine extends the chain by n blocks paying the miner key.
func (h *harness) mine(n int64) []*chainhash.Hash {
	h.t.Helper()
	hashes, err := h.client.GenerateToAddress(n, h.minerAddr, nil)
	require.NoError(h.t, err)
	return hashes
}

// matureCoinbase mines past the coinbase maturity window and returns the
// height-1 coinbase output, now spendable by the miner key.
func (h *harness) matureCoinbase() (wire.OutPoint, int64) {
	h.t.Helper()
	h.mine(101)

	blockHash, err := h.client.GetBlockHash(1)
	require.NoError(h.t, err)
	block, err := h.client.GetBlock(blockHash)
	require.NoError(h.t, err)

	coinbase := block.Transactions[0]
	require.Equal(h.t, h.minerScript, coinbase.TxOut[0].PkScript)

	return wire.OutPoint{Hash: coinbase.TxHash(), Index: 0}, coinbase.TxOut[0].Value
}

// signMinerInput signs tx's input idx, which must spend a P2WPKH output
// held by the miner key and worth value sats.
func (h *harness) signMinerInput(tx *wire.MsgTx, idx int, value int64) {
	h.t.Helper()

	fetcher := txscript.NewCannedPrevOutputFetcher(h.minerScript, value)
	hashes := txscript.NewTxSigHashes(tx, fetcher)
	witness, err := txscript.WitnessSignature(
		tx, hashes, idx, value, h.minerScript,
		txscript.SigHashAll, h.minerKey, true,
	)
	require.NoError(h.t, err)
	tx.TxIn[idx].Witness = witness
}

// fundOutput broadcasts and confirms a transaction paying value sats to
// pkScript out of the height-1 coinbase, returning the funded outpoint.
func (h *harness) fundOutput(ctx context.Context, pkScript []byte, value int64) wire.OutPoint {
	h.t.Helper()

	coinbaseOp, coinbaseValue := h.matureCoinbase()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&coinbaseOp, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	tx.AddTxOut(wire.NewTxOut(coinbaseValue-value-fundingFee, h.minerScript))
	h.signMinerInput(tx, 0, coinbaseValue)

	require.NoError(h.t, h.chain.Broadcast(ctx, tx))
	h.mine(1)

	return wire.OutPoint{Hash: tx.TxHash(), Index: 0}
}

// testOracle is an in-process stand-in for an attestation oracle: it
// holds the oracle and nonce secrets the real oracle would keep private,
// so tests can attest any outcome and compute the matching scalar.
type testOracle struct {
	priv   *btcec.PrivateKey
	nonce  *btcec.PrivateKey
	record *contract.Oracle
}

func newTestOracle(t *testing.T, id contract.OracleID) *testOracle {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	nonce, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return &testOracle{
		priv:  priv,
		nonce: nonce,
		record: &contract.Oracle{
			ID:        id,
			PublicKey: priv.PubKey(),
			CurveID:   "secp256k1-schnorr",
		},
	}
}

// announce returns the event this oracle's nonce point commits to.
func (o *testOracle) announce(path contract.EventPath, outcomes []string, at time.Time) *contract.Event {
	return &contract.Event{
		OracleID:            o.record.ID,
		EventPath:           path,
		ExpectedOutcomeTime: at,
		OutcomeSet:          outcomes,
		NoncePoint:          o.nonce.PubKey(),
	}
}

// attest publishes the scalar s = r + H(outcome, event_id)*w satisfying
// the attestation equation for outcome.
func (o *testOracle) attest(event *contract.Event, outcome string) *contract.Attestation {
	digest := sha256.New()
	digest.Write([]byte(outcome))
	digest.Write([]byte(event.ID()))

	var challenge secp256k1.ModNScalar
	challenge.SetByteSlice(digest.Sum(nil))

	var s secp256k1.ModNScalar
	s.Mul2(&challenge, &o.priv.Key).Add(&o.nonce.Key)

	att := &contract.Attestation{
		EventID:      event.ID(),
		OutcomeLabel: outcome,
	}
	raw := s.Bytes()
	copy(att.Scalar[:], raw[:])
	return att
}
