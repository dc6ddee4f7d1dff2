package model

import "errors"

// Error taxonomy. Callers wrap these with context and match with errors.Is.
var (
	// ErrValidation: missing or malformed market, non-positive or over-precise volume.
	ErrValidation = errors.New("invalid request")

	// ErrInsufficientFunds: a buy whose total cost exceeds the wallet balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientHoldings: a sell larger than the held volume.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrNoPosition: a sell in a market the account does not hold.
	ErrNoPosition = errors.New("no position in market")

	// ErrQuoteUnavailable: the oracle failed or returned no price for the market.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrNotFound: the account or its wallet does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate: a unique attribute (email) is already taken.
	ErrDuplicate = errors.New("already exists")

	// ErrUnauthenticated: no valid identity was supplied.
	ErrUnauthenticated = errors.New("unauthenticated")
)
