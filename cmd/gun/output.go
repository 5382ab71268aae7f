package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"

	"github.com/llfourn/gun-ng/contract"
)

var zeroHash chainhash.Hash

// betView is the stable JSON shape `-j` output uses for a bet, a
// deliberately flattened projection of contract.Bet: internal fields
// like ClaimTemplates and MySecret never leave this process.
type betView struct {
	BetID           contract.BetID `json:"bet_id"`
	Role            string         `json:"role"`
	State           string         `json:"state"`
	OracleID        string         `json:"oracle_id"`
	EventPath       string         `json:"event_path"`
	ChosenOutcome   string         `json:"chosen_outcome"`
	OpposingOutcome string         `json:"opposing_outcome,omitempty"`
	MyValue         int64          `json:"my_value_sat"`
	TheirValue      int64          `json:"their_value_sat"`
	FundingTxID     string         `json:"funding_txid,omitempty"`
	ClaimTxID       string         `json:"claim_txid,omitempty"`
}

func newBetView(b *contract.Bet) betView {
	v := betView{
		BetID:           b.BetID,
		Role:            b.Role.String(),
		State:           b.State.String(),
		OracleID:        string(b.OracleID),
		EventPath:       string(b.Event.EventPath),
		ChosenOutcome:   b.ChosenOutcome,
		OpposingOutcome: b.OpposingOutcome,
		MyValue:         b.MyValue,
		TheirValue:      b.TheirValue,
	}
	if b.FundingTxID != zeroHash {
		v.FundingTxID = b.FundingTxID.String()
	}
	if b.ClaimTxID != nil {
		v.ClaimTxID = b.ClaimTxID.String()
	}
	return v
}

// printBet renders a single bet either as a JSON object (jsonOut) or as
// a short human-readable summary line followed by a key/value block.
func printBet(b *contract.Bet, jsonOut bool) {
	if jsonOut {
		emitJSON(newBetView(b))
		return
	}

	fmt.Printf("bet %d  [%s]  role=%s\n", b.BetID, b.State, b.Role)
	fmt.Printf("  oracle:    %s\n", b.OracleID)
	fmt.Printf("  event:     %s\n", b.Event.EventPath)
	fmt.Printf("  outcome:   %s (against %s)\n", b.ChosenOutcome, b.OpposingOutcome)
	fmt.Printf("  stake:     %d sat mine, %d sat theirs\n", b.MyValue, b.TheirValue)
	if b.FundingTxID != zeroHash {
		fmt.Printf("  funding:   %s:%d\n", b.FundingTxID, b.FundingVout)
	}
	if b.Attestation != nil {
		fmt.Printf("  attested:  %s\n", b.Attestation.OutcomeLabel)
	}
	if b.ClaimTxID != nil {
		fmt.Printf("  claim tx:  %s\n", b.ClaimTxID)
	}
}

// printBetList renders every bet in bets, one line each, or a JSON
// array under -j.
func printBetList(bets []*contract.Bet, jsonOut bool) {
	if jsonOut {
		views := make([]betView, len(bets))
		for i, b := range bets {
			views[i] = newBetView(b)
		}
		emitJSON(views)
		return
	}

	for _, b := range bets {
		fmt.Printf("%-6d %-24s %-10s %-10s %d/%d sat\n",
			b.BetID, b.Event.EventPath, b.State, b.ChosenOutcome,
			b.MyValue, b.TheirValue)
	}
}

// emitJSON marshals v to stdout with indentation, gun's single JSON
// rendering path so every `-j` command formats identically.
func emitJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode json output: %v\n", err)
	}
}

// dumpDebug writes a full field-by-field dump of v to stderr under
// -debug, for inspecting a bet's adaptor signatures and claim
// templates that printBet deliberately omits.
func dumpDebug(v interface{}) {
	spew.Fdump(os.Stderr, v)
}
