package cpmm

import "errors"

var (
	ErrInvalidAmount      = errors.New("invalid trade amount")
	ErrInvalidLiquidity   = errors.New("invalid initial liquidity")
	ErrInvalidPoolState   = errors.New("invalid pool state")
	ErrUnknownOutcome     = errors.New("unknown outcome")
	ErrTooFewOutcomes     = errors.New("too few outcomes")
	ErrTooManyOutcomes    = errors.New("too many outcomes")
	ErrSellDidNotConverge = errors.New("sell did not converge")
)
