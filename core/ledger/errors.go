package ledger

import (
	"context"
	"errors"
	"fmt"

	"crowdfund/core/amount"
)

// Kind classifies why an interaction with the ledger failed.
type Kind string

const (
	KindInvalidAmount        Kind = "invalid_amount"
	KindUserDeclined         Kind = "user_declined"
	KindLedgerRejected       Kind = "ledger_rejected"
	KindTransportFailure     Kind = "transport_failure"
	KindConfigurationMissing Kind = "configuration_missing"
)

var (
	// ErrInvalidAmount is a local validation failure raised before any network call.
	ErrInvalidAmount = amount.ErrInvalidAmount
	// ErrUserDeclined reports that the signing step was rejected.
	ErrUserDeclined = errors.New("ledger: signing declined")
	// ErrLedgerRejected reports a call that reached the ledger and was refused.
	ErrLedgerRejected = errors.New("ledger: call rejected")
	// ErrTransportFailure reports a call that could not be delivered or confirmed.
	ErrTransportFailure = errors.New("ledger: transport failure")
	// ErrConfigurationMissing reports that no deployment exists for the current chain.
	ErrConfigurationMissing = errors.New("ledger: configuration missing")
)

var kindSentinels = map[Kind]error{
	KindInvalidAmount:        ErrInvalidAmount,
	KindUserDeclined:         ErrUserDeclined,
	KindLedgerRejected:       ErrLedgerRejected,
	KindTransportFailure:     ErrTransportFailure,
	KindConfigurationMissing: ErrConfigurationMissing,
}

// Error carries the kind of failure together with the reason shown to the actor.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// NewError builds an Error of the given kind wrapping cause.
func NewError(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// Rejected builds a LedgerRejected error carrying the revert reason verbatim.
func Rejected(reason string) *Error {
	return &Error{Kind: KindLedgerRejected, Reason: reason}
}

// Transport wraps a delivery failure.
func Transport(cause error) *Error {
	reason := "transport failure"
	if cause != nil {
		reason = cause.Error()
	}
	return &Error{Kind: KindTransportFailure, Reason: reason, Err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason == "" {
		return kindSentinels[e.Kind].Error()
	}
	return fmt.Sprintf("%s: %s", kindSentinels[e.Kind].Error(), e.Reason)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		out = append(out, sentinel)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Classify maps any error onto a Kind. Errors without a recognised kind are
// treated as transport failures, since their effect on the ledger is unknown.
func Classify(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ErrUserDeclined):
		return KindUserDeclined
	case errors.Is(err, ErrLedgerRejected):
		return KindLedgerRejected
	case errors.Is(err, ErrConfigurationMissing):
		return KindConfigurationMissing
	default:
		return KindTransportFailure
	}
}

// Reason extracts the human readable reason for display.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Reason != "" {
		return typed.Reason
	}
	if errors.Is(err, context.Canceled) {
		return "abandoned"
	}
	return err.Error()
}
