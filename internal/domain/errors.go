package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrQueueFull           = errors.New("queue full")
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrBackendRejected     = errors.New("backend rejected job")
	ErrBackendFailure      = errors.New("backend reported failure")
	ErrTimedOut            = errors.New("generation timed out")
)
