package entity

import "errors"

var (
	ErrUnauthorized        = errors.New("caller not authorized")
	ErrInsufficientDeposit = errors.New("attached deposit insufficient")
	ErrNotApproved         = errors.New("account has no approval on token")
	ErrStaleApproval       = errors.New("approval id is stale")
	ErrCurrencyMismatch    = errors.New("listing currency mismatch")
	ErrInsufficientPrice   = errors.New("amount does not exceed listing price")
	ErrPayoutCapacity      = errors.New("payout exceeds recipient capacity")
	ErrOfferInProgress     = errors.New("offer currently executing on this listing")
	ErrListingLocked       = errors.New("listing is inside its lock window")
	ErrListingNotFound     = errors.New("listing not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrBanned              = errors.New("account is banned from the market")
	ErrImmutable           = errors.New("field can no longer be changed")
)
