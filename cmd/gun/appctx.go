package main

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/llfourn/gun-ng/betdb"
	"github.com/llfourn/gun-ng/config"
	"github.com/llfourn/gun-ng/engine"
	"github.com/llfourn/gun-ng/keyring"
	"github.com/llfourn/gun-ng/oracleclient"
	"github.com/llfourn/gun-ng/walletadapter"
)

// appCtx bundles every long-lived collaborator a CLI command needs,
// built once per process invocation and torn down on exit. Only one
// gun process may hold a given data directory at a time: the wallet
// and bet databases each take their own exclusive file lock
// (btcwallet's walletdb and lnd/kvdb's bbolt backend respectively), so
// this struct adds no locking of its own.
type appCtx struct {
	cfg     *config.Config
	wallet  *walletadapter.Adapter
	store   *betdb.Store
	oracle  *oracleclient.Client
	keyring *keyring.KeyRing
	engine  *engine.Engine
}

// newAppCtx loads dataDir's configuration and stands up the full
// collaborator graph: seed, key ring, wallet adapter (unlocked against
// passphrase), chain/oracle HTTP clients (optionally Tor-routed), bet
// store, and the protocol Engine sitting on top of all of them.
func newAppCtx(dataDir string, torSOCKS string, passphrase []byte) (*appCtx, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	netParams, err := cfg.NetParams()
	if err != nil {
		return nil, err
	}

	seed, _, err := loadOrCreateSeed(cfg.SeedPath())
	if err != nil {
		return nil, err
	}

	clk := clock.NewDefaultClock()

	keyStatePath := filepath.Join(dataDir, "keystate.json")
	keyStateStore, err := keyring.NewFileKeyStateStore(keyStatePath)
	if err != nil {
		return nil, fmt.Errorf("open key state store: %w", err)
	}
	krCfg := keyring.DefaultConfig(seed, netParams)
	krCfg.KeyStateStore = keyStateStore
	kr, err := keyring.New(krCfg)
	if err != nil {
		return nil, fmt.Errorf("create key ring: %w", err)
	}

	chainTransport, err := transportFor(cfg.EsploraURL, torSOCKS)
	if err != nil {
		return nil, err
	}
	esploraCfg := walletadapter.DefaultEsploraConfig()
	esploraCfg.BaseURL = cfg.EsploraURL
	esploraCfg.Transport = chainTransport
	chain := walletadapter.NewEsploraClient(esploraCfg)

	walletCfg := walletadapter.DefaultConfig(chain)
	walletCfg.NetParams = netParams
	walletCfg.DBPath = cfg.WalletDBPath()
	walletCfg.Seed = seed
	walletCfg.PrivatePass = passphrase

	wallet, err := walletadapter.New(walletCfg)
	if err != nil {
		return nil, fmt.Errorf("create wallet adapter: %w", err)
	}
	if err := wallet.Start(); err != nil {
		return nil, fmt.Errorf("start wallet: %w", err)
	}

	store, err := betdb.Open(cfg.BetDBPath(), clk)
	if err != nil {
		wallet.Stop()
		// Not re-wrapped: a DataIntegrity error from WAL replay must
		// reach translateErr with its kind intact so the process exits
		// with the data-integrity code, not the user-error one.
		return nil, err
	}

	// Bet reservations survive restarts through the store's
	// reserved-utxo index, not the wallet database.
	wallet.LoadReservations(store.ReservedOutpoints())

	oracleCfg := oracleclient.DefaultConfig()
	if torSOCKS != "" {
		// oracle_id varies per bet, so unlike the single configured
		// Esplora backend there is no one host to sniff for .onion up
		// front; an explicit -torsocks routes every oracle request
		// through Tor unconditionally.
		oracleCfg.Transport = torTransport(torSOCKS)
	}
	oracleClient := oracleclient.NewClient(oracleCfg)

	eng, err := engine.New(engine.Deps{
		Config:  cfg,
		Store:   store,
		Wallet:  wallet,
		Oracle:  oracleClient,
		Keyring: kr,
		Clock:   clk,
	})
	if err != nil {
		store.Close()
		wallet.Stop()
		return nil, fmt.Errorf("create engine: %w", err)
	}

	return &appCtx{
		cfg:     cfg,
		wallet:  wallet,
		store:   store,
		oracle:  oracleClient,
		keyring: kr,
		engine:  eng,
	}, nil
}

// close releases the data directory's resources in reverse
// acquisition order.
func (a *appCtx) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.wallet != nil {
		a.wallet.Stop()
	}
}

// transportFor returns a Tor-routed RoundTripper when rawURL's host is
// a .onion service or torSOCKS was explicitly set, and nil (meaning
// "use http.DefaultTransport") otherwise.
func transportFor(rawURL, torSOCKS string) (http.RoundTripper, error) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	if !isOnionHost(host) && torSOCKS == "" {
		return nil, nil
	}
	return torTransport(torSOCKS), nil
}
