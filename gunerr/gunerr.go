// Package gunerr classifies failures by kind, so the Engine is the only
// layer that decides whether to retry, advance state, or abort, and the
// CLI can map a failure straight to an exit code. Wrapping follows a flat
// sentinel-var style with a Kind() added on top.
package gunerr

import (
	"errors"

	goerrors "github.com/go-errors/errors"
)

// Kind is one of the five failure classes this package distinguishes.
type Kind int

const (
	// UserInput is a malformed proposal, unknown oracle, amount too
	// small, or an event too close to its outcome time. Reported with
	// an actionable message; no state change.
	UserInput Kind = iota

	// Network is an unreachable oracle or chain backend. Retried; on
	// exhaustion, surfaced with the bet state unchanged.
	Network

	// ProtocolViolation is an invalid signature, a tampered offer, or
	// an oracle attestation that fails verification. Logged; the bet
	// is marked oracle_misbehaved or the offer is silently discarded.
	ProtocolViolation

	// WalletBusy is an input-reservation collision. User-visible;
	// suggests waiting for sync.
	WalletBusy

	// DataIntegrity is an unrepairable divergence between the Store's
	// WAL and its primary records. Fatal; exits non-zero without
	// mutating further.
	DataIntegrity
)

func (k Kind) String() string {
	switch k {
	case UserInput:
		return "user_input"
	case Network:
		return "network"
	case ProtocolViolation:
		return "protocol_violation"
	case WalletBusy:
		return "wallet_busy"
	case DataIntegrity:
		return "data_integrity"
	default:
		return "unknown"
	}
}

// ExitCode maps a Kind to the process exit code the CLI returns for it.
// UserInput is 1; Network and DataIntegrity are the I/O/network and
// data-integrity codes 2 and 3; ProtocolViolation and WalletBusy are
// reported as user errors since neither corrupts persisted state.
func (k Kind) ExitCode() int {
	switch k {
	case UserInput, ProtocolViolation, WalletBusy:
		return 1
	case Network:
		return 2
	case DataIntegrity:
		return 3
	default:
		return 1
	}
}

// Error is a taxonomy-tagged, stack-trace-carrying error. The embedded
// *goerrors.Error preserves a capture-site stack trace, so a
// DataIntegrity failure can be diagnosed after the fact.
type Error struct {
	Kind Kind
	err  *goerrors.Error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err.Err }

// Stack returns a formatted stack trace captured at the error's origin.
func (e *Error) Stack() string { return string(e.err.Stack()) }

// New wraps err under kind, capturing a stack trace if err doesn't
// already carry one.
func New(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: goerrors.Wrap(err, 1)}
}

// Newf builds a Kind-tagged error from a format string.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, goerrors.Errorf(format, args...))
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Error, and ok=false otherwise -- the CLI's default for an
// unclassified error is UserInput, the least surprising exit code.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return UserInput, false
}
