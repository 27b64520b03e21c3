package domain

import "errors"

// Authorization failures: the caller lacks the required relationship to the
// asset or to the marketplace.
var (
	ErrNotOwner    = errors.New("caller is not the owner")
	ErrNotApproved = errors.New("marketplace is not approved for transfer")
	ErrNotAdmin    = errors.New("caller is not the marketplace owner")
)

// State conflicts: the operation is incompatible with the registry state.
var (
	ErrAlreadyListed  = errors.New("item already listed")
	ErrNotListed      = errors.New("item not listed")
	ErrOfferNotFound  = errors.New("offer not found")
	ErrOfferExpired   = errors.New("offer expired")
	ErrNotFound       = errors.New("not found")
	ErrUnknownAsset   = errors.New("unknown asset contract")
	ErrNonexistentNFT = errors.New("token does not exist")
)

// Validation failures: malformed or out-of-range input.
var (
	ErrPriceMustBeAboveZero = errors.New("price must be above zero")
	ErrInsufficientValue    = errors.New("insufficient value sent")
	ErrFeeTooHigh           = errors.New("fee rate too high")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrRoyaltyTooHigh       = errors.New("royalty exceeds sale proceeds")
	ErrInsufficientFunds    = errors.New("insufficient balance")
)

// Business rules.
var (
	ErrCannotBuyOwnNFT = errors.New("cannot buy own nft")
)

// Guard and transport failures.
var (
	ErrReentrantCall    = errors.New("reentrant call")
	ErrUnsolicitedValue = errors.New("unsolicited value transfer rejected")
	ErrTransferRejected = errors.New("recipient rejected transfer")
	ErrLockHeld         = errors.New("lock already held")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
)

// ErrorCategory groups errors for callers that map failures onto transport
// status codes.
type ErrorCategory string

const (
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryState         ErrorCategory = "state_conflict"
	CategoryValidation    ErrorCategory = "validation"
	CategoryBusinessRule  ErrorCategory = "business_rule"
	CategoryGuard         ErrorCategory = "guard"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = []struct {
	cat  ErrorCategory
	errs []error
}{
	{CategoryAuthorization, []error{ErrNotOwner, ErrNotApproved, ErrNotAdmin, ErrUnauthorized}},
	{CategoryState, []error{ErrAlreadyListed, ErrNotListed, ErrOfferNotFound, ErrOfferExpired, ErrNotFound, ErrUnknownAsset, ErrNonexistentNFT}},
	{CategoryValidation, []error{ErrPriceMustBeAboveZero, ErrInsufficientValue, ErrFeeTooHigh, ErrInvalidAddress, ErrRoyaltyTooHigh, ErrInsufficientFunds}},
	{CategoryBusinessRule, []error{ErrCannotBuyOwnNFT}},
	{CategoryGuard, []error{ErrReentrantCall, ErrUnsolicitedValue, ErrTransferRejected, ErrLockHeld, ErrRateLimited}},
}

// Classify returns the category of err, or CategoryInternal when err does not
// wrap any of the domain sentinels.
func Classify(err error) ErrorCategory {
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.cat
			}
		}
	}
	return CategoryInternal
}
