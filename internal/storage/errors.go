package storage

import "errors"

var (
	// ErrUserNotFound is returned when a user record does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrContentNotFound is returned when a content record does not exist
	ErrContentNotFound = errors.New("content record not found")

	// ErrInsufficientCredits is returned when a debit would take a balance below zero
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrBalanceUnavailable is returned when a debit targets a user with no recorded balance
	ErrBalanceUnavailable = errors.New("credit balance unavailable")
)
