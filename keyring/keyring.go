// Package keyring derives the ephemeral bet keypairs (p,P) / (q,Q) each
// side of a bet generates for its stake in the 2-of-2 bet output. Keys
// are derived deterministically from the wallet seed under a dedicated
// BIP32 branch, so a lost key-index file can always be rebuilt by
// re-scanning the bet store rather than by re-deriving from raw entropy
// kept nowhere else.
package keyring

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/keychain"
)

// GunPurpose is the BIP43 purpose field this wallet derives every bet
// keypair under. Chosen arbitrarily, outside the ranges IANA/BIP43
// assign to standard wallets, so a gun data directory's keys never
// collide with a co-resident wallet's.
const GunPurpose = 1337

// DefaultCoinType is Bitcoin (BIP44 coin type 0).
const DefaultCoinType = 0

// FamilyBetEphemeral is the only key family gun derives: the ephemeral
// (p,P)/(q,Q) keypair a party contributes to a bet's 2-of-2 output.
const FamilyBetEphemeral keychain.KeyFamily = 0

// Config holds the configuration for a KeyRing.
type Config struct {
	// NetParams is the network parameters.
	NetParams *chaincfg.Params

	// Seed is the wallet seed key derivation descends from.
	Seed []byte

	// Purpose is the BIP43 purpose field.
	Purpose uint32

	// CoinType is the BIP44 coin type.
	CoinType uint32

	// KeyStateStore persists each family's next derivation index. If
	// nil, indexes are kept in memory only and reset on restart -- the
	// caller must then recover ephemeral keys a different way (e.g. by
	// re-deriving every index up to the Bet Store's highest known bet).
	KeyStateStore KeyStateStore
}

// DefaultConfig returns a default KeyRing configuration.
func DefaultConfig(seed []byte, params *chaincfg.Params) *Config {
	return &Config{
		NetParams: params,
		Seed:      seed,
		Purpose:   GunPurpose,
		CoinType:  DefaultCoinType,
	}
}

// KeyRing derives BIP32 keys for bet ephemeral keypairs.
type KeyRing struct {
	cfg *Config

	masterKey *hdkeychain.ExtendedKey

	familyIndexes map[keychain.KeyFamily]uint32

	mu sync.RWMutex
}

// New creates a KeyRing from cfg.
func New(cfg *Config) (*KeyRing, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(cfg.Seed) == 0 {
		return nil, fmt.Errorf("seed is required")
	}
	if cfg.NetParams == nil {
		return nil, fmt.Errorf("network params required")
	}

	masterKey, err := hdkeychain.NewMaster(cfg.Seed, cfg.NetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	kr := &KeyRing{
		cfg:           cfg,
		masterKey:     masterKey,
		familyIndexes: make(map[keychain.KeyFamily]uint32),
	}

	if cfg.KeyStateStore != nil {
		if err := kr.loadKeyIndexes(); err != nil {
			return nil, fmt.Errorf("failed to load key indexes: %w", err)
		}
	}

	return kr, nil
}

// DeriveNextKey derives the next key in the given key family.
//
// Derivation path: m / purpose' / coin_type' / key_family' / 0 / index
func (kr *KeyRing) DeriveNextKey(keyFamily keychain.KeyFamily) (keychain.KeyDescriptor, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	index := kr.familyIndexes[keyFamily]

	key, err := kr.deriveKeyAtPath(kr.cfg.Purpose, kr.cfg.CoinType, uint32(keyFamily), 0, index)
	if err != nil {
		return keychain.KeyDescriptor{}, fmt.Errorf("failed to derive key: %w", err)
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return keychain.KeyDescriptor{}, fmt.Errorf("failed to get public key: %w", err)
	}

	keyDesc := keychain.KeyDescriptor{
		KeyLocator: keychain.KeyLocator{
			Family: keyFamily,
			Index:  index,
		},
		PubKey: pubKey,
	}

	kr.familyIndexes[keyFamily] = index + 1

	if kr.cfg.KeyStateStore != nil {
		if err := kr.cfg.KeyStateStore.SetCurrentIndex(keyFamily, index+1); err != nil {
			return keychain.KeyDescriptor{}, fmt.Errorf("failed to persist key index: %w", err)
		}
	}

	return keyDesc, nil
}

// PrivKeyForLocator re-derives the private key at loc. Because
// derivation is a pure function of (seed, purpose, coin type, family,
// index), this works even for a locator minted before a process
// restart -- the caller need not keep a cache.
func (kr *KeyRing) PrivKeyForLocator(loc keychain.KeyLocator) (*btcec.PrivateKey, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	key, err := kr.deriveKeyAtPath(kr.cfg.Purpose, kr.cfg.CoinType, uint32(loc.Family), 0, loc.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key.ECPrivKey()
}

// deriveKeyAtPath derives a key at m / purpose' / coin_type' / account' / change / index.
func (kr *KeyRing) deriveKeyAtPath(purpose, coinType, account, change, index uint32) (*hdkeychain.ExtendedKey, error) {
	key := kr.masterKey

	key, err := key.Derive(hdkeychain.HardenedKeyStart + purpose)
	if err != nil {
		return nil, fmt.Errorf("failed to derive purpose: %w", err)
	}

	key, err = key.Derive(hdkeychain.HardenedKeyStart + coinType)
	if err != nil {
		return nil, fmt.Errorf("failed to derive coin type: %w", err)
	}

	key, err = key.Derive(hdkeychain.HardenedKeyStart + account)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account: %w", err)
	}

	key, err = key.Derive(change)
	if err != nil {
		return nil, fmt.Errorf("failed to derive change: %w", err)
	}

	key, err = key.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive index: %w", err)
	}

	return key, nil
}

// loadKeyIndexes loads key indexes from the configured store.
func (kr *KeyRing) loadKeyIndexes() error {
	allIndexes, err := kr.cfg.KeyStateStore.GetAllIndexes()
	if err != nil {
		return fmt.Errorf("failed to get all indexes: %w", err)
	}

	for family, index := range allIndexes {
		kr.familyIndexes[family] = index
	}

	return nil
}
