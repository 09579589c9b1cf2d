package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrMarketClosed       = errors.New("market closed")
	ErrMarketResolved     = errors.New("market already resolved")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrContextDone        = errors.New("context cancelled")
)
