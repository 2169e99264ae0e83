package apperr

import (
	"errors"
)

type Kind int

const (
	Unknown Kind = iota
	Input
	Precondition
	LedgerState
	Infrastructure
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case Precondition:
		return "precondition"
	case LedgerState:
		return "ledger_state"
	case Infrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Error is a classified sentinel. Callers compare with errors.Is and wrap
// with fmt.Errorf("...: %w", ...) to add detail.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Kind() Kind {
	return e.kind
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

var (
	ErrMalformedTransactionHash = newError(Input, "malformed transaction hash")
	ErrInvalidAddressFormat     = newError(Input, "invalid address format")
	ErrUnknownTransactionType   = newError(Input, "unknown transaction type")
	ErrInvalidContext           = newError(Input, "context does not match transaction type")
	ErrInvalidManuscriptID      = newError(Input, "invalid manuscript id")
	ErrInvalidStatus            = newError(Input, "invalid transaction status")
	ErrUnauthorized             = newError(Input, "unauthorized")
	ErrMalformedRequest         = newError(Input, "malformed request")

	ErrOwnerNotRegistered      = newError(Precondition, "owner must be registered on the ledger before performing this action")
	ErrProfileNotFound         = newError(Precondition, "profile not registered on the ledger")
	ErrManuscriptNotFound      = newError(Precondition, "manuscript not found on the ledger")
	ErrRecordNotFound          = newError(Precondition, "transaction record not found")
	ErrIllegalStatusTransition = newError(Precondition, "illegal transaction status transition")
	ErrTransactionTypeMismatch = newError(Precondition, "transaction already recorded with another type")
	ErrRemovalNotPermitted     = newError(Precondition, "only the user themselves or the contract owner can remove the user")

	ErrTransactionNotFound           = newError(LedgerState, "transaction not found on the ledger")
	ErrRegistrationNotConfirmed      = newError(LedgerState, "registration transaction not confirmed on the ledger")
	ErrRegistrationTransactionFailed = newError(LedgerState, "registration transaction failed on the ledger")
	ErrRemovalFailed                 = newError(LedgerState, "removal transaction failed on the ledger")
	ErrRemovalNotConfirmed           = newError(LedgerState, "removal transaction not confirmed on the ledger")

	ErrOracleUnavailable = newError(Infrastructure, "ledger oracle unavailable")
	// ErrNoSigningKeyConfigured is infrastructure but never Retryable: it persists until the process is reconfigured.
	ErrNoSigningKeyConfigured = newError(Infrastructure, "no signing key configured")
)

// KindOf reports the classification of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unknown
}

// Retryable reports whether retrying the same request later may succeed.
// A missing signing key stays missing until an operator reconfigures the process.
func Retryable(err error) bool {
	if errors.Is(err, ErrNoSigningKeyConfigured) {
		return false
	}
	return KindOf(err) == Infrastructure
}
