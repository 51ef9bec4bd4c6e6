package market

import "errors"

// Error taxonomy for market operations. Every error is terminal for the
// call: no partial state is retained and nothing is retried internally.
// Callers are expected to resubmit with adjusted parameters.
var (
	// ErrWrongPhase: the operation is not admissible in the current
	// lifecycle phase (e.g. trading after expiry, redeeming during the
	// dispute window).
	ErrWrongPhase = errors.New("market: operation not allowed in current phase")

	// ErrAlreadySettled: settle was called on a settled market.
	ErrAlreadySettled = errors.New("market: already settled")

	// ErrUnauthorized: a non-admin caller hit a paused market or an
	// admin-only entry point.
	ErrUnauthorized = errors.New("market: unauthorized")

	// ErrInvalidArgument: zero/negative quantity, out-of-range strike
	// index, or malformed direction.
	ErrInvalidArgument = errors.New("market: invalid argument")

	// ErrZeroAmount: the marginal collateral amount came out non-positive.
	ErrZeroAmount = errors.New("market: computed amount is zero")

	// ErrSlippageExceeded: the marginal amount fell outside the caller's
	// limit.
	ErrSlippageExceeded = errors.New("market: slippage limit exceeded")

	// ErrNoLiquidity: the LP pool is empty where a non-empty pool is
	// required.
	ErrNoLiquidity = errors.New("market: no liquidity")

	// ErrInvalidPrice: the oracle returned a non-positive price or failed.
	ErrInvalidPrice = errors.New("market: invalid settlement price")

	// ErrCapExceeded: the resulting held balance would exceed the balance
	// cap.
	ErrCapExceeded = errors.New("market: balance cap exceeded")
)
