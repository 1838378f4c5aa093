package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrLockHeld          = errors.New("lock already held")
	ErrTxFailed          = errors.New("transaction failed")
	ErrMissingDependency = errors.New("missing deployment dependency")
)
