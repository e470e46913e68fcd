package cdp

import (
	"errors"

	"usvprotocol/native/fixedpoint"
)

// Precondition failures. Callers can correct their input and resubmit.
var (
	ErrDebtLessThanMin         = errors.New("cdp: trove's net debt must be greater than minimum")
	ErrICRBelowMCR             = errors.New("cdp: an operation that would result in ICR < MCR is not permitted")
	ErrTCRBelowCCR             = errors.New("cdp: an operation that would result in TCR < CCR is not permitted")
	ErrICRBelowCCR             = errors.New("cdp: operation must leave trove with ICR >= CCR")
	ErrNewICRBelowOldICR       = errors.New("cdp: cannot decrease your trove's ICR in recovery mode")
	ErrInvalidMaxFeeRecovery   = errors.New("cdp: max fee percentage must be less than or equal to 100%")
	ErrInvalidMaxFee           = errors.New("cdp: max fee percentage must be between 0.5% and 100%")
	ErrInvalidRedeemMaxFee     = errors.New("cdp: max redemption fee percentage must be between 0.5% and 100%")
	ErrFeeExceededMax          = errors.New("cdp: fee exceeded provided maximum")
	ErrTroveActive             = errors.New("cdp: trove is active")
	ErrTroveNotActive          = errors.New("cdp: trove does not exist or is closed")
	ErrZeroDebtChange          = errors.New("cdp: debt increase requires non-zero debt change")
	ErrZeroAdjustment          = errors.New("cdp: there must be either a collateral change or a debt change")
	ErrCollWithdrawExceedsColl = errors.New("cdp: collateral withdrawal exceeds trove collateral")
	ErrRecoveryNoCollWithdraw  = errors.New("cdp: collateral withdrawal not permitted in recovery mode")
	ErrInvalidRepayment        = errors.New("cdp: amount repaid must not be larger than the trove's debt")
	ErrInsufficientUSVBalance  = errors.New("cdp: caller doesn't have enough USV to make repayment")
	ErrInRecoveryMode          = errors.New("cdp: operation not permitted during recovery mode")
	ErrOnlyOneTrove            = errors.New("cdp: only one trove in the system")
	ErrTCRBelowMCR             = errors.New("cdp: cannot redeem when TCR < MCR")
	ErrZeroRedeemAmount        = errors.New("cdp: amount must be greater than zero")
	ErrZeroCollDrawn           = errors.New("cdp: unable to redeem any amount")
	ErrFeeEatsAllColl          = errors.New("cdp: fee would eat up all returned collateral")
	ErrLiquidateZeroDebt       = errors.New("cdp: nothing to liquidate")
	ErrInvalidAccount          = errors.New("cdp: unknown trove account")
	ErrInvalidHint             = errors.New("cdp: invalid trove neighbor")
	ErrNICRZero                = errors.New("cdp: NICR must be positive")
	ErrZeroDeposit             = errors.New("cdp: user must have a non-zero deposit")
	ErrTroveUnderCollateral    = errors.New("cdp: cannot withdraw while there are troves with ICR < MCR")
	ErrInvalidLowestTrove      = errors.New("cdp: invalid lowest trove")
	ErrZeroAmount              = errors.New("cdp: amount must be non-zero")
	ErrInsufficientBalance     = errors.New("cdp: insufficient balance")
	ErrOnlyDevMode             = errors.New("cdp: only supported in dev mode")
	ErrAlreadyInitialized      = errors.New("cdp: market already initialised")
	ErrNotInitialized          = errors.New("cdp: market not initialised")
)

// ErrCalculation marks a broken accounting invariant. Like
// fixedpoint.ErrOverflow it is never caused by caller input alone.
var ErrCalculation = errors.New("cdp: calculation error")

var (
	errNilState  = errors.New("cdp: state not configured")
	errNilOracle = errors.New("cdp: price source not configured")
)

// IsFatal reports whether err is an invariant violation rather than a
// recoverable precondition failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCalculation) || errors.Is(err, fixedpoint.ErrOverflow)
}
