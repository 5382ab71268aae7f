package oracleclient

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/miekg/dns"

	"github.com/llfourn/gun-ng/contract"
)

// DefaultDNSResolver is used by AddOracle when no resolver address is
// configured. 1.1.1.1 is Cloudflare's public resolver.
const DefaultDNSResolver = "1.1.1.1:53"

// pubKeyTXTPrefix tags the TXT record an oracle publishes to announce its
// attestation public key: "gun-oracle-pubkey=<hex compressed pubkey>".
const pubKeyTXTPrefix = "gun-oracle-pubkey="

// AddOracle performs the trust-on-first-use key fetch for a new oracle: it
// looks up oracleID's TXT records over DNS, extracts the attestation
// public key, and returns an Oracle record for the caller to present to
// the user for explicit acceptance.
func AddOracle(resolverAddr string, oracleID contract.OracleID, eventURLPattern string) (*contract.Oracle, error) {
	if resolverAddr == "" {
		resolverAddr = DefaultDNSResolver
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(string(oracleID)), dns.TypeTXT)

	client := new(dns.Client)
	resp, _, err := client.Exchange(msg, resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("dns lookup for %s: %w", oracleID, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns lookup for %s returned rcode %d", oracleID, resp.Rcode)
	}

	var pubKeyHex string
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, s := range txt.Txt {
			if len(s) > len(pubKeyTXTPrefix) && s[:len(pubKeyTXTPrefix)] == pubKeyTXTPrefix {
				pubKeyHex = s[len(pubKeyTXTPrefix):]
			}
		}
	}
	if pubKeyHex == "" {
		return nil, fmt.Errorf("no %s TXT record found for %s", pubKeyTXTPrefix, oracleID)
	}

	pubKeyBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode oracle public key: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse oracle public key: %w", err)
	}

	return &contract.Oracle{
		ID:              oracleID,
		PublicKey:       pubKey,
		CurveID:         "secp256k1-schnorr",
		EventURLPattern: eventURLPattern,
	}, nil
}

// EncodePublicKey hex-encodes a compressed public key for storage in
// config.json's oracle list.
func EncodePublicKey(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// ParsePublicKey reverses EncodePublicKey.
func ParsePublicKey(hexStr string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return btcec.ParsePubKey(raw)
}
