package oracleclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/llfourn/gun-ng/betcrypto"
	"github.com/llfourn/gun-ng/contract"
)

// attestationWireFormat is the JSON shape an attestation arrives in over
// `GET {scheme}://{oracle_id}{event_path}/attestation`.
type attestationWireFormat struct {
	OutcomeLabel string `json:"outcome_label"`
	Scalar       string `json:"scalar"`
}

// FetchAttestation retrieves the attestation for event, if the oracle has
// published one, and verifies it against oracle's attestation equation.
// A nil, nil return means the event is still pending.
func (c *Client) FetchAttestation(ctx context.Context, oracle *contract.Oracle, event *contract.Event) (*contract.Attestation, error) {
	body, ok, err := c.doRequest(ctx, c.attestationURL(string(oracle.ID), string(event.EventPath)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var wire attestationWireFormat
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, permanentErr("parse attestation: %w", err)
	}
	if event.OutcomeIndex(wire.OutcomeLabel) < 0 {
		return nil, &Error{
			Kind: KindOracleMisbehaved,
			Err:  fmt.Errorf("event %s attested to outcome %q, outside its outcome set", event.ID(), wire.OutcomeLabel),
		}
	}

	scalarBytes, err := hex.DecodeString(wire.Scalar)
	if err != nil {
		return nil, permanentErr("decode attestation scalar: %w", err)
	}
	if len(scalarBytes) != 32 {
		return nil, permanentErr("attestation scalar has %d bytes, want 32", len(scalarBytes))
	}

	att := &contract.Attestation{
		EventID:      event.ID(),
		OutcomeLabel: wire.OutcomeLabel,
	}
	copy(att.Scalar[:], scalarBytes)

	if !betcrypto.VerifyAttestation(oracle, event, att) {
		return nil, &Error{
			Kind: KindOracleMisbehaved,
			Err:  fmt.Errorf("attestation for event %s fails the oracle's verification equation", event.ID()),
		}
	}

	return att, nil
}
