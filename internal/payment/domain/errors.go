package domain

import "errors"

// Category sentinels. Every payment error matches exactly one of them with errors.Is.
var (
	ErrAuthenticationFailure = errors.New("authentication_failure")
	ErrValidationFailure     = errors.New("validation_failure")
	ErrTransientUpstream     = errors.New("transient_upstream")
	ErrConflictingState      = errors.New("conflicting_state")
)

// Error is a coded payment error bound to a category.
type Error struct {
	code     string
	category error
}

func newError(code string, category error) *Error {
	return &Error{code: code, category: category}
}

func (e *Error) Error() string { return e.code }

// Code returns the stable machine-readable code.
func (e *Error) Code() string { return e.code }

// Category returns the category sentinel.
func (e *Error) Category() error { return e.category }

func (e *Error) Is(target error) bool {
	return target == e.category
}

var (
	ErrInvalidSignature     = newError("invalid_signature", ErrAuthenticationFailure)
	ErrStaleTimestamp       = newError("stale_timestamp", ErrAuthenticationFailure)
	ErrUpstreamUnauthorized = newError("upstream_unauthorized", ErrAuthenticationFailure)

	ErrMalformedPayload    = newError("malformed_payload", ErrValidationFailure)
	ErrUnknownCorrelation  = newError("unknown_correlation", ErrValidationFailure)
	ErrUnsupportedProvider = newError("unsupported_provider", ErrValidationFailure)
	ErrUpstreamRejected    = newError("upstream_rejected", ErrValidationFailure)
	ErrSessionNotFound     = newError("session_not_found", ErrValidationFailure)

	ErrUpstreamUnavailable = newError("upstream_unavailable", ErrTransientUpstream)
	ErrStorageUnavailable  = newError("storage_unavailable", ErrTransientUpstream)
	ErrEventInFlight       = newError("event_in_flight", ErrTransientUpstream)

	ErrTerminalState = newError("terminal_state", ErrConflictingState)
)

// ErrIgnoredEvent marks an authentic event that carries nothing to reconcile.
var ErrIgnoredEvent = errors.New("ignored_event")

// CategoryOf returns the category sentinel err belongs to, or nil.
func CategoryOf(err error) error {
	for _, category := range []error{
		ErrAuthenticationFailure,
		ErrValidationFailure,
		ErrTransientUpstream,
		ErrConflictingState,
	} {
		if errors.Is(err, category) {
			return category
		}
	}
	return nil
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}
