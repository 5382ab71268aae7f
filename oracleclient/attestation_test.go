package oracleclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/betcrypto"
	"github.com/llfourn/gun-ng/contract"
)

// signAttestation mimics the oracle side of betcrypto.AttestationPoint's
// equation: picks the nonce scalar k such that nonce_point = k*G, then
// publishes s = k + H(outcome,event_id)*oracle_priv for the chosen outcome.
// This duplicates betcrypto's unexported outcomeChallenge computation since
// the test needs to play the oracle, not just the verifier.
func signAttestation(t *testing.T, oraclePriv *btcec.PrivateKey, noncePriv *btcec.PrivateKey, eventID, outcome string) [32]byte {
	t.Helper()

	h := sha256.New()
	h.Write([]byte(outcome))
	h.Write([]byte(eventID))
	var challenge secp256k1.ModNScalar
	challenge.SetByteSlice(h.Sum(nil))

	var term secp256k1.ModNScalar
	term.Mul2(&challenge, &oraclePriv.Key)

	var s secp256k1.ModNScalar
	s.Add2(&noncePriv.Key, &term)

	var out [32]byte
	s.PutBytes(&out)
	return out
}

func TestFetchAttestationVerifies(t *testing.T) {
	t.Parallel()

	oraclePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	noncePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	event := &contract.Event{
		OracleID:   "oracle.example.com",
		EventPath:  "/x/coin",
		OutcomeSet: []string{"heads", "tails"},
		NoncePoint: noncePriv.PubKey(),
	}
	oracle := &contract.Oracle{ID: "oracle.example.com", PublicKey: oraclePriv.PubKey()}

	scalar := signAttestation(t, oraclePriv, noncePriv, event.ID(), "heads")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(attestationWireFormat{
			OutcomeLabel: "heads",
			Scalar:       hex.EncodeToString(scalar[:]),
		})
		require.NoError(t, err)
		w.Write(body)
	}))
	defer server.Close()

	cfg, oracleID := testClientConfig(server.URL)
	oracle.ID = oracleID
	event.OracleID = oracleID

	// The event id covers the oracle id, so re-sign now that it is final.
	scalar = signAttestation(t, oraclePriv, noncePriv, event.ID(), "heads")

	client := NewClient(cfg)
	att, err := client.FetchAttestation(context.Background(), oracle, event)
	require.NoError(t, err)
	require.Equal(t, "heads", att.OutcomeLabel)

	require.True(t, betcrypto.VerifyAttestation(oracle, event, att))
}

func TestFetchAttestationPendingReturnsNil(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	oraclePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	cfg, oracleID := testClientConfig(server.URL)
	client := NewClient(cfg)

	event := &contract.Event{OracleID: oracleID, EventPath: "/x/coin", OutcomeSet: []string{"heads", "tails"}}
	oracle := &contract.Oracle{ID: oracleID, PublicKey: oraclePriv.PubKey()}

	att, err := client.FetchAttestation(context.Background(), oracle, event)
	require.NoError(t, err)
	require.Nil(t, att)
}

func TestFetchAttestationRejectsOutcomeOutsideSet(t *testing.T) {
	t.Parallel()

	oraclePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	noncePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	event := &contract.Event{
		EventPath:  "/x/coin",
		OutcomeSet: []string{"heads", "tails"},
		NoncePoint: noncePriv.PubKey(),
	}

	scalar := signAttestation(t, oraclePriv, noncePriv, event.ID(), "draw")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(attestationWireFormat{
			OutcomeLabel: "draw",
			Scalar:       hex.EncodeToString(scalar[:]),
		})
		w.Write(body)
	}))
	defer server.Close()

	cfg, oracleID := testClientConfig(server.URL)
	event.OracleID = oracleID
	oracle := &contract.Oracle{ID: oracleID, PublicKey: oraclePriv.PubKey()}

	client := NewClient(cfg)
	_, err = client.FetchAttestation(context.Background(), oracle, event)
	require.Error(t, err)

	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, KindOracleMisbehaved, oerr.Kind)
}
