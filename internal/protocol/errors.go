package protocol

import "errors"

// Every state-changing operation in the protocol aborts with exactly one of
// these sentinels (possibly wrapped with context via fmt.Errorf and %w).
// Callers branch with errors.Is; the gateway maps them to HTTP status codes.
var (
	// ErrUnauthorized is returned when the caller lacks the role or
	// registration an operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotVenueOwner is returned when an owner-only operation is invoked
	// by anyone other than the venue's registered owner. Kept distinct from
	// ErrUnauthorized so owner checks are distinguishable from role checks.
	ErrNotVenueOwner = errors.New("caller is not the venue owner")

	// ErrNotFound is returned for unknown venues, months, or accounts.
	ErrNotFound = errors.New("not found")

	// ErrState is returned when an operation is valid in general but not in
	// the current state: duplicate assignment, already-settled month,
	// already-distributed fees, premature claim, re-entrant call.
	ErrState = errors.New("invalid state")

	// ErrInsufficientStake is returned when available or locked stake cannot
	// cover the requested movement.
	ErrInsufficientStake = errors.New("insufficient stake")

	// ErrInsufficientEscrow is returned when the escrow balance cannot cover
	// a payout.
	ErrInsufficientEscrow = errors.New("insufficient escrow")

	// ErrTransferFailed is returned when the collateral asset reports a
	// failed transfer. The enclosing operation aborts.
	ErrTransferFailed = errors.New("asset transfer failed")

	// ErrValidation is returned for malformed input: zero amounts, too few
	// underwriters, mismatched lengths.
	ErrValidation = errors.New("validation failed")

	// ErrNoShortfall is returned when liability settlement is requested for
	// a month whose report shows no missing revenue.
	ErrNoShortfall = errors.New("no shortfall for month")
)
