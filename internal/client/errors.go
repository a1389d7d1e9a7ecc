package client

import "errors"

var (
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrAuthRejected         = errors.New("authentication rejected")

	ErrInvalidJoiner   = errors.New("invalid joiner address")
	ErrSessionExists   = errors.New("session already active")
	ErrNoSession       = errors.New("no active session")
	ErrInviteeMismatch = errors.New("invite addressed to a different wallet")

	ErrFinalizationPending = errors.New("finalization already proposed")
	ErrNoFinalization      = errors.New("no finalization request")
	ErrAlreadyVoted        = errors.New("already voted")

	ErrDiscoveryExhausted = errors.New("session discovery attempts exhausted")
)
