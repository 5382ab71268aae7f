package betdb

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/gunerr"
)

// betRecord is the on-disk shape of contract.Bet. gob can't encode
// btcec's key types directly -- their internal field-val representation is
// unexported -- so every curve point or private key is held here as its
// serialized bytes instead.
type betRecord struct {
	BetID contract.BetID
	Role  contract.Role
	State contract.State

	OracleID         contract.OracleID
	Event            eventRecord
	ProposalEnvelope string
	ChosenOutcome    string
	OpposingOutcome  string

	FundingTxID  chainhash.Hash
	FundingVout  uint32
	FundingValue int64
	FundingTx    *wire.MsgTx

	MyValue    int64
	TheirValue int64
	FeeRate    uint32

	MyKeyBytes    []byte
	MySecretBytes []byte
	TheirKeyBytes []byte

	MyPayoutScript    []byte
	TheirPayoutScript []byte
	MyChangeScript    []byte

	ReservedUTXOs []wire.OutPoint

	ClaimTemplates map[string]*contract.AdaptorMaterial

	Attestation *contract.Attestation
	ClaimTxID   *chainhash.Hash

	FundingMissingSince *time.Time

	Heights contract.Heights
}

type eventRecord struct {
	OracleID            contract.OracleID
	EventPath           contract.EventPath
	ExpectedOutcomeTime time.Time
	OutcomeSet          []string
	NoncePointBytes     []byte
}

func pubKeyBytes(pub *btcec.PublicKey) []byte {
	if pub == nil {
		return nil
	}
	return pub.SerializeCompressed()
}

func parsePubKeyBytes(raw []byte) (*btcec.PublicKey, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return btcec.ParsePubKey(raw)
}

func toRecord(bet *contract.Bet) (*betRecord, error) {
	mySecretBytes := []byte(nil)
	if bet.MySecret != nil {
		mySecretBytes = bet.MySecret.Serialize()
	}

	return &betRecord{
		BetID: bet.BetID,
		Role:  bet.Role,
		State: bet.State,

		OracleID: bet.OracleID,
		Event: eventRecord{
			OracleID:            bet.Event.OracleID,
			EventPath:           bet.Event.EventPath,
			ExpectedOutcomeTime: bet.Event.ExpectedOutcomeTime,
			OutcomeSet:          bet.Event.OutcomeSet,
			NoncePointBytes:     pubKeyBytes(bet.Event.NoncePoint),
		},
		ProposalEnvelope: bet.ProposalEnvelope,
		ChosenOutcome:    bet.ChosenOutcome,
		OpposingOutcome:  bet.OpposingOutcome,

		FundingTxID:  bet.FundingTxID,
		FundingVout:  bet.FundingVout,
		FundingValue: bet.FundingValue,
		FundingTx:    bet.FundingTx,

		MyValue:    bet.MyValue,
		TheirValue: bet.TheirValue,
		FeeRate:    bet.FeeRate,

		MyKeyBytes:    pubKeyBytes(bet.MyKey),
		MySecretBytes: mySecretBytes,
		TheirKeyBytes: pubKeyBytes(bet.TheirKey),

		MyPayoutScript:    bet.MyPayoutScript,
		TheirPayoutScript: bet.TheirPayoutScript,
		MyChangeScript:    bet.MyChangeScript,

		ReservedUTXOs: bet.ReservedUTXOs,

		ClaimTemplates: bet.ClaimTemplates,

		Attestation: bet.Attestation,
		ClaimTxID:   bet.ClaimTxID,

		FundingMissingSince: bet.FundingMissingSince,

		Heights: bet.Heights,
	}, nil
}

func fromRecord(rec *betRecord) (*contract.Bet, error) {
	myKey, err := parsePubKeyBytes(rec.MyKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse my_key: %w", err)
	}
	theirKey, err := parsePubKeyBytes(rec.TheirKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse their_key: %w", err)
	}
	noncePoint, err := parsePubKeyBytes(rec.Event.NoncePointBytes)
	if err != nil {
		return nil, fmt.Errorf("parse nonce_point: %w", err)
	}

	var mySecret *btcec.PrivateKey
	if len(rec.MySecretBytes) > 0 {
		mySecret, _ = btcec.PrivKeyFromBytes(rec.MySecretBytes)
	}

	return &contract.Bet{
		BetID: rec.BetID,
		Role:  rec.Role,
		State: rec.State,

		OracleID: rec.OracleID,
		Event: contract.Event{
			OracleID:            rec.Event.OracleID,
			EventPath:           rec.Event.EventPath,
			ExpectedOutcomeTime: rec.Event.ExpectedOutcomeTime,
			OutcomeSet:          rec.Event.OutcomeSet,
			NoncePoint:          noncePoint,
		},
		ProposalEnvelope: rec.ProposalEnvelope,
		ChosenOutcome:    rec.ChosenOutcome,
		OpposingOutcome:  rec.OpposingOutcome,

		FundingTxID:  rec.FundingTxID,
		FundingVout:  rec.FundingVout,
		FundingValue: rec.FundingValue,
		FundingTx:    rec.FundingTx,

		MyValue:    rec.MyValue,
		TheirValue: rec.TheirValue,
		FeeRate:    rec.FeeRate,

		MyKey:    myKey,
		MySecret: mySecret,
		TheirKey: theirKey,

		MyPayoutScript:    rec.MyPayoutScript,
		TheirPayoutScript: rec.TheirPayoutScript,
		MyChangeScript:    rec.MyChangeScript,

		ReservedUTXOs: rec.ReservedUTXOs,

		ClaimTemplates: rec.ClaimTemplates,

		Attestation: rec.Attestation,
		ClaimTxID:   rec.ClaimTxID,

		FundingMissingSince: rec.FundingMissingSince,

		Heights: rec.Heights,
	}, nil
}

func encodeBet(bet *contract.Bet) ([]byte, error) {
	rec, err := toRecord(bet)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("gob-encode bet: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeBet parses a stored bet record. A record that no longer
// gob-decodes, or whose embedded keys no longer parse, is store
// corruption rather than a caller mistake, so the error carries the
// DataIntegrity kind all the way out to the CLI's exit-code mapping.
func decodeBet(raw []byte) (*contract.Bet, error) {
	var rec betRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, fmt.Errorf("gob-decode bet: %w", err))
	}
	bet, err := fromRecord(&rec)
	if err != nil {
		return nil, gunerr.New(gunerr.DataIntegrity, err)
	}
	return bet, nil
}
