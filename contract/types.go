// Package contract holds the shared data model for the betting protocol:
// oracles, events, attestations and the persistent bet record. Types here
// are referenced by id from betdb, engine, betcrypto and codec rather than
// held as an ambient object graph.
package contract

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// OracleID is an oracle's DNS name, e.g. "oracle.suredbits.com".
type OracleID string

// EventPath identifies an event within an oracle, e.g. "/x/btcusd/2026-08-01".
type EventPath string

// EventID is the stable key for an event: oracle_id || event_path.
func EventID(oracle OracleID, path EventPath) string {
	return string(oracle) + string(path)
}

// Oracle is a trusted attestation source, identified by DNS name. Created
// when the user adds it, never mutated, deleted only by explicit command.
type Oracle struct {
	ID              OracleID
	PublicKey       *btcec.PublicKey
	CurveID         string // always "secp256k1-schnorr"
	EventURLPattern string
}

// Event is an oracle-announced future fact with a finite outcome set.
// Immutable once fetched.
type Event struct {
	OracleID            OracleID
	EventPath           EventPath
	ExpectedOutcomeTime time.Time
	OutcomeSet          []string
	NoncePoint          *btcec.PublicKey
}

// ID returns the event's stable identifier.
func (e *Event) ID() string {
	return EventID(e.OracleID, e.EventPath)
}

// OutcomeIndex returns the index of label in the event's outcome set, or
// -1 if the label is not a valid outcome for this event.
func (e *Event) OutcomeIndex(label string) int {
	for i, o := range e.OutcomeSet {
		if o == label {
			return i
		}
	}
	return -1
}

// Attestation is the scalar an oracle publishes once an event resolves.
type Attestation struct {
	EventID      string
	OutcomeLabel string
	Scalar       [32]byte // big-endian secp256k1 scalar
}

// Role is which side of a bet a local party played.
type Role uint8

const (
	RoleProposer Role = iota
	RoleOfferer
)

func (r Role) String() string {
	if r == RoleProposer {
		return "proposer"
	}
	return "offerer"
}

// State is a node in the bet state machine.
type State uint8

const (
	StateProposing State = iota
	StateOffered
	StateUnconfirmed
	StateConfirmed
	StateWon
	StateLost
	StateClaiming
	StateClaimed
	StateCancelling
	StateCancelled
	StateCancelledDoubleSpent
	StateOracleMisbehaved
)

func (s State) String() string {
	switch s {
	case StateProposing:
		return "proposing"
	case StateOffered:
		return "offered"
	case StateUnconfirmed:
		return "unconfirmed"
	case StateConfirmed:
		return "confirmed"
	case StateWon:
		return "won"
	case StateLost:
		return "lost"
	case StateClaiming:
		return "claiming"
	case StateClaimed:
		return "claimed"
	case StateCancelling:
		return "cancelling"
	case StateCancelled:
		return "cancelled"
	case StateCancelledDoubleSpent:
		return "cancelled_double_spent"
	case StateOracleMisbehaved:
		return "oracle_misbehaved"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions leave this state.
func (s State) Terminal() bool {
	switch s {
	case StateLost, StateClaimed, StateCancelled, StateCancelledDoubleSpent,
		StateOracleMisbehaved:
		return true
	default:
		return false
	}
}

// NonTerminal reports the inverse of Terminal, for UTXO-reservation checks.
func (s State) NonTerminal() bool {
	return !s.Terminal()
}

// BetID is a local, monotonically assigned bet identifier.
type BetID uint64

// Heights records the chain/wallclock milestones of a bet's lifecycle.
type Heights struct {
	ProposedAt time.Time
	FundedAt   time.Time
	AttestedAt time.Time
	ClaimedAt  time.Time
}

// Input is a UTXO a party contributes to a bet's funding transaction.
type Input struct {
	OutPoint wire.OutPoint
	Value    int64
}

// AdaptorMaterial is the pre-signed, incomplete claim-transaction signature
// the counterparty supplied for one outcome direction, plus the raw claim
// transaction it authenticates. It cannot be broadcast until the matching
// attestation scalar is known.
type AdaptorMaterial struct {
	OutcomeLabel  string
	ClaimTx       *wire.MsgTx
	CounterpartyAdaptorSig []byte // serialized betcrypto.AdaptorSignature
	MyAdaptorSig           []byte // only set once we've produced our own half
}

// Bet is the authoritative persistent object.
type Bet struct {
	BetID BetID
	Role  Role
	State State

	OracleID        OracleID
	Event           Event
	ChosenOutcome   string
	OpposingOutcome string

	// ProposalEnvelope is the exact text Propose emitted (proposer) or the
	// exact text Offer was given (offerer). Kept verbatim because an
	// offer's encryption binds to its sha256, not to any reconstruction of
	// the proposal's fields.
	ProposalEnvelope string

	FundingTxID   chainhash.Hash
	FundingVout   uint32
	FundingValue  int64
	FundingTx     *wire.MsgTx

	MyValue    int64
	TheirValue int64
	FeeRate    uint32 // sat/vByte

	MyKey    *btcec.PublicKey
	MySecret *btcec.PrivateKey
	TheirKey *btcec.PublicKey

	MyPayoutScript    []byte
	TheirPayoutScript []byte
	MyChangeScript    []byte // nil if this side proposed/offered no change

	ReservedUTXOs []wire.OutPoint

	// ClaimTemplates maps outcome label to the pre-built adaptor material
	// for the claim transaction that pays whichever side bet on it.
	ClaimTemplates map[string]*AdaptorMaterial

	Attestation *Attestation
	ClaimTxID   *chainhash.Hash

	// FundingMissingSince is set the first sync the funding transaction
	// couldn't be found on chain while this bet is unconfirmed, and
	// cleared as soon as it's seen again. A mempool eviction or a slow
	// Esplora backend both look identical to a vanished transaction on
	// any single sync, so absence alone never cancels a bet -- only a
	// reserved input actually spent by a conflicting transaction does.
	FundingMissingSince *time.Time

	Heights Heights
}

// MyClaimMaterial returns the adaptor material for the outcome this bet's
// local party chose, i.e. the claim transaction it can complete once it
// learns the attestation scalar.
func (b *Bet) MyClaimMaterial() *AdaptorMaterial {
	return b.ClaimTemplates[b.ChosenOutcome]
}
