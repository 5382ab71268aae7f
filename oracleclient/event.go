package oracleclient

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/llfourn/gun-ng/contract"
)

// eventWireFormat is the JSON shape an oracle announcement arrives in over
// `GET {scheme}://{oracle_id}{event_path}`.
type eventWireFormat struct {
	ExpectedOutcomeTime int64    `json:"expected_outcome_time"`
	OutcomeSet          []string `json:"outcome_set"`
	NoncePoint          string   `json:"nonce_point"`
	AnnouncementSig     string   `json:"announcement_sig"`
}

// FetchEvent retrieves and verifies the event announced at
// oracleID + eventPath against the oracle's trusted public key. The
// announcement signature covers the nonce point and outcome set, so a
// tampered announcement is rejected before it ever reaches the engine.
func (c *Client) FetchEvent(ctx context.Context, oracle *contract.Oracle, eventPath contract.EventPath) (*contract.Event, error) {
	body, ok, err := c.doRequest(ctx, c.eventURL(string(oracle.ID), string(eventPath)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, permanentErr("event not found: %s%s", oracle.ID, eventPath)
	}

	var wire eventWireFormat
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, permanentErr("parse event announcement: %w", err)
	}
	if len(wire.OutcomeSet) == 0 {
		return nil, permanentErr("event %s%s has an empty outcome set", oracle.ID, eventPath)
	}

	noncePointBytes, err := hex.DecodeString(wire.NoncePoint)
	if err != nil {
		return nil, permanentErr("decode nonce_point: %w", err)
	}
	noncePoint, err := btcec.ParsePubKey(noncePointBytes)
	if err != nil {
		return nil, permanentErr("parse nonce_point: %w", err)
	}

	sigBytes, err := hex.DecodeString(wire.AnnouncementSig)
	if err != nil {
		return nil, permanentErr("decode announcement_sig: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return nil, permanentErr("parse announcement_sig: %w", err)
	}

	digest := announcementDigest(wire.NoncePoint, wire.OutcomeSet, wire.ExpectedOutcomeTime)
	if !sig.Verify(digest, oracle.PublicKey) {
		return nil, &Error{
			Kind: KindPermanent,
			Err:  fmt.Errorf("event %s%s fails announcement signature verification", oracle.ID, eventPath),
		}
	}

	log.Debugf("fetched event %s%s, outcomes=%v", oracle.ID, eventPath, wire.OutcomeSet)

	return &contract.Event{
		OracleID:            oracle.ID,
		EventPath:           eventPath,
		ExpectedOutcomeTime: time.Unix(wire.ExpectedOutcomeTime, 0).UTC(),
		OutcomeSet:          wire.OutcomeSet,
		NoncePoint:          noncePoint,
	}, nil
}

// announcementDigest is the message an oracle's announcement signature
// covers: nonce point and outcome set, so an attacker cannot substitute
// either without invalidating the signature.
func announcementDigest(noncePointHex string, outcomeSet []string, expectedOutcomeTime int64) []byte {
	h := sha256.New()
	h.Write([]byte(noncePointHex))
	for _, o := range outcomeSet {
		h.Write([]byte(o))
	}
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(expectedOutcomeTime))
	h.Write(tsBuf[:])
	return h.Sum(nil)
}
