package entities

import (
	"errors"
)

var ErrStoreEntityNotFound = errors.New("store resource not found")

type Kind int

const (
	KindUnknown Kind = iota
	KindWalletUnavailable
	KindUserRejected
	KindIncompleteForm
	KindInvalidInput
	KindSubmissionInProgress
	KindNoProviderBound
	KindLedgerCallFailed
)

func (k Kind) String() string {
	switch k {
	case KindWalletUnavailable:
		return "WalletUnavailable"
	case KindUserRejected:
		return "UserRejected"
	case KindIncompleteForm:
		return "IncompleteForm"
	case KindInvalidInput:
		return "InvalidInput"
	case KindSubmissionInProgress:
		return "SubmissionInProgress"
	case KindNoProviderBound:
		return "NoProviderBound"
	case KindLedgerCallFailed:
		return "LedgerCallFailed"
	default:
		return "Unknown"
	}
}

// Error is a failure of the transfer flow tagged with its kind so that callers can branch on it.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func NewError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// LedgerCallFailed keeps the message of the underlying failure as the reason.
func LedgerCallFailed(err error) *Error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindLedgerCallFailed {
		return e
	}
	return &Error{Kind: KindLedgerCallFailed, Reason: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.Kind == KindLedgerCallFailed {
		return e.Reason
	}
	if e.Reason == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrWalletUnavailable    = &Error{Kind: KindWalletUnavailable}
	ErrUserRejected         = &Error{Kind: KindUserRejected}
	ErrIncompleteForm       = &Error{Kind: KindIncompleteForm}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrSubmissionInProgress = &Error{Kind: KindSubmissionInProgress}
	ErrNoProviderBound      = &Error{Kind: KindNoProviderBound}
	ErrLedgerCallFailed     = &Error{Kind: KindLedgerCallFailed}
)

// KindOf returns the kind of the first tagged error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
