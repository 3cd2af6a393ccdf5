package domain

import "errors"

var (
	// ErrChannelUnavailable means the signaling channel is not connected.
	ErrChannelUnavailable = errors.New("signaling channel unavailable")
	// ErrRelay wraps an error frame reported by the relay.
	ErrRelay = errors.New("relay error")
	// ErrInvalidState means the operation is not meaningful in the current call state.
	ErrInvalidState = errors.New("invalid call state")
	// ErrNoTarget means there is no remote participant to address.
	ErrNoTarget = errors.New("no call target")
	// ErrRegistration means the participant could not be registered with the relay.
	ErrRegistration = errors.New("registration failed")
	// ErrMediaUnavailable means local media could not be acquired.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrRecoveryExhausted means every transport recovery attempt failed.
	ErrRecoveryExhausted = errors.New("transport recovery exhausted")
)
