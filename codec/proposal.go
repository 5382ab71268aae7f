// Package codec implements the two compact, human-copyable wire encodings
// exchanged before a bet's funding transaction is broadcast: the proposal
// envelope and the encrypted offer blob.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/llfourn/gun-ng/contract"
)

const envelopePrefix = "📣"

const (
	typeProposerPubKey tlv.Type = 1
	typeInputs         tlv.Type = 2
	typeChangeScript   tlv.Type = 3
	typePayoutScript   tlv.Type = 4
)

// Proposal is the decoded plaintext of a proposal envelope.
type Proposal struct {
	Value          int64
	OracleID       contract.OracleID
	EventPath      contract.EventPath
	ProposerPubKey *btcec.PublicKey
	ProposerInputs []contract.Input
	ChangeScript   []byte // nil if the proposer has no change
	PayoutScript   []byte
}

// Fingerprint is the associated data an offer's encryption binds to: the
// hash of the full textual proposal envelope it responds to.
func Fingerprint(envelope string) [32]byte {
	return sha256.Sum256([]byte(envelope))
}

// EncodeProposal formats the full human-readable proposal envelope:
// 📣{value}#{oracle_id}#{event_path}#{base2048_payload}.
func EncodeProposal(p *Proposal) (string, error) {
	payload, err := encodeProposalPayload(p)
	if err != nil {
		return "", fmt.Errorf("encode proposal payload: %w", err)
	}
	return fmt.Sprintf("%s%s#%s#%s#%s",
		envelopePrefix, btcAmountString(p.Value), p.OracleID, p.EventPath,
		EncodeBase2048(payload)), nil
}

// DecodeProposal parses a full proposal envelope back into its fields.
func DecodeProposal(envelope string) (*Proposal, error) {
	if !strings.HasPrefix(envelope, envelopePrefix) {
		return nil, fmt.Errorf("missing proposal prefix %q", envelopePrefix)
	}
	rest := strings.TrimPrefix(envelope, envelopePrefix)
	parts := strings.SplitN(rest, "#", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed proposal envelope: want 4 fields, got %d", len(parts))
	}

	value, err := parseBTCAmount(parts[0])
	if err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}

	payload, err := DecodeBase2048(parts[3])
	if err != nil {
		return nil, fmt.Errorf("decode base2048 payload: %w", err)
	}

	p, err := decodeProposalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("decode proposal payload: %w", err)
	}
	p.Value = value
	p.OracleID = contract.OracleID(parts[1])
	p.EventPath = contract.EventPath(parts[2])
	return p, nil
}

func encodeProposalPayload(p *Proposal) ([]byte, error) {
	var pubKeyBytes [33]byte
	copy(pubKeyBytes[:], p.ProposerPubKey.SerializeCompressed())

	inputsBytes, err := encodeInputs(p.ProposerInputs)
	if err != nil {
		return nil, err
	}
	payoutScript := p.PayoutScript

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeProposerPubKey, &pubKeyBytes),
		tlv.MakePrimitiveRecord(typeInputs, &inputsBytes),
		tlv.MakePrimitiveRecord(typePayoutScript, &payoutScript),
	}
	if p.ChangeScript != nil {
		changeScript := p.ChangeScript
		records = append(records, tlv.MakePrimitiveRecord(typeChangeScript, &changeScript))
	}
	tlv.SortRecords(records)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeProposalPayload(payload []byte) (*Proposal, error) {
	var (
		pubKeyBytes  [33]byte
		inputsBytes  []byte
		changeScript []byte
		payoutScript []byte
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeProposerPubKey, &pubKeyBytes),
		tlv.MakePrimitiveRecord(typeInputs, &inputsBytes),
		tlv.MakePrimitiveRecord(typeChangeScript, &changeScript),
		tlv.MakePrimitiveRecord(typePayoutScript, &payoutScript),
	}
	tlv.SortRecords(records)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}
	parsedTypes, err := stream.DecodeWithParsedTypes(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	pubKey, err := btcec.ParsePubKey(pubKeyBytes[:])
	if err != nil {
		return nil, fmt.Errorf("parse proposer pubkey: %w", err)
	}
	inputs, err := decodeInputs(inputsBytes)
	if err != nil {
		return nil, err
	}

	p := &Proposal{
		ProposerPubKey: pubKey,
		ProposerInputs: inputs,
		PayoutScript:   payoutScript,
	}
	if _, ok := parsedTypes[typeChangeScript]; ok {
		p.ChangeScript = changeScript
	}
	return p, nil
}

// encodeInputs serializes a list of (txid, vout, value) triples, the shape
// shared by both the proposal payload and the offer plaintext.
func encodeInputs(ins []contract.Input) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(ins))); err != nil {
		return nil, err
	}
	for _, in := range ins {
		buf.Write(in.OutPoint.Hash[:])
		if err := wire.WriteVarInt(&buf, 0, uint64(in.OutPoint.Index)); err != nil {
			return nil, err
		}
		var valBuf [8]byte
		binary.BigEndian.PutUint64(valBuf[:], uint64(in.Value))
		buf.Write(valBuf[:])
	}
	return buf.Bytes(), nil
}

func decodeInputs(data []byte) ([]contract.Input, error) {
	r := bytes.NewReader(data)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	ins := make([]contract.Input, count)
	for i := range ins {
		var hash chainhash.Hash
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, fmt.Errorf("read input txid: %w", err)
		}
		vout, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, fmt.Errorf("read input vout: %w", err)
		}
		var valBuf [8]byte
		if _, err := io.ReadFull(r, valBuf[:]); err != nil {
			return nil, fmt.Errorf("read input value: %w", err)
		}
		ins[i] = contract.Input{
			OutPoint: wire.OutPoint{Hash: hash, Index: uint32(vout)},
			Value:    int64(binary.BigEndian.Uint64(valBuf[:])),
		}
	}
	return ins, nil
}

func btcAmountString(sats int64) string {
	return strconv.FormatFloat(btcutil.Amount(sats).ToBTC(), 'f', 8, 64)
}

func parseBTCAmount(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal amount %q: %w", s, err)
	}
	amt, err := btcutil.NewAmount(f)
	if err != nil {
		return 0, err
	}
	return int64(amt), nil
}
