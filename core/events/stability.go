package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	TypeStabilityPoolUSVUpdated  = "stability.usvBalanceUpdated"
	TypeStabilityPoolCollUpdated = "stability.collBalanceUpdated"
	TypeUserDepositChanged       = "stability.depositChanged"
	TypeCollGainWithdrawn        = "stability.collGainWithdrawn"
	TypeRewardPaidToDepositor    = "stability.rewardPaid"
	TypeDepositSnapshotUpdated   = "stability.depositSnapshotUpdated"
	TypeGUpdated                 = "stability.gUpdated"
	TypeSUpdated                 = "stability.sUpdated"
	TypePUpdated                 = "stability.pUpdated"
	TypeEpochUpdated             = "stability.epochUpdated"
	TypeScaleUpdated             = "stability.scaleUpdated"
)

// StabilityPoolUSVUpdated reports total stablecoin deposits.
type StabilityPoolUSVUpdated struct {
	Total uint64
}

// EventType satisfies the Event interface.
func (StabilityPoolUSVUpdated) EventType() string { return TypeStabilityPoolUSVUpdated }

// Attributes renders the event for journals and streams.
func (e StabilityPoolUSVUpdated) Attributes() map[string]string {
	return map[string]string{"total": formatAmount(e.Total)}
}

// StabilityPoolCollUpdated reports collateral held for depositors.
type StabilityPoolCollUpdated struct {
	Total uint64
}

// EventType satisfies the Event interface.
func (StabilityPoolCollUpdated) EventType() string { return TypeStabilityPoolCollUpdated }

// Attributes renders the event for journals and streams.
func (e StabilityPoolCollUpdated) Attributes() map[string]string {
	return map[string]string{"total": formatAmount(e.Total)}
}

// UserDepositChanged reports a depositor's new compounded deposit.
type UserDepositChanged struct {
	Depositor common.Address
	Deposit   uint64
}

// EventType satisfies the Event interface.
func (UserDepositChanged) EventType() string { return TypeUserDepositChanged }

// Attributes renders the event for journals and streams.
func (e UserDepositChanged) Attributes() map[string]string {
	return map[string]string{"depositor": formatAddress(e.Depositor), "deposit": formatAmount(e.Deposit)}
}

// CollGainWithdrawn reports realised collateral gains and deposit loss.
type CollGainWithdrawn struct {
	Depositor common.Address
	Coll      uint64
	USVLoss   uint64
}

// EventType satisfies the Event interface.
func (CollGainWithdrawn) EventType() string { return TypeCollGainWithdrawn }

// Attributes renders the event for journals and streams.
func (e CollGainWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"depositor": formatAddress(e.Depositor),
		"coll":      formatAmount(e.Coll),
		"usvLoss":   formatAmount(e.USVLoss),
	}
}

// RewardPaidToDepositor reports reward token gains credited to a depositor.
type RewardPaidToDepositor struct {
	Depositor common.Address
	Amount    uint64
}

// EventType satisfies the Event interface.
func (RewardPaidToDepositor) EventType() string { return TypeRewardPaidToDepositor }

// Attributes renders the event for journals and streams.
func (e RewardPaidToDepositor) Attributes() map[string]string {
	return map[string]string{"depositor": formatAddress(e.Depositor), "amount": formatAmount(e.Amount)}
}

// DepositSnapshotUpdated reports the accumulator snapshot taken for a depositor.
type DepositSnapshotUpdated struct {
	Depositor common.Address
	P         *uint256.Int
	S         *uint256.Int
	G         *uint256.Int
}

// EventType satisfies the Event interface.
func (DepositSnapshotUpdated) EventType() string { return TypeDepositSnapshotUpdated }

// Attributes renders the event for journals and streams.
func (e DepositSnapshotUpdated) Attributes() map[string]string {
	return map[string]string{
		"depositor": formatAddress(e.Depositor),
		"p":         formatWide(e.P),
		"s":         formatWide(e.S),
		"g":         formatWide(e.G),
	}
}

// GUpdated reports the reward accumulator for an epoch and scale.
type GUpdated struct {
	G     *uint256.Int
	Epoch uint64
	Scale uint64
}

// EventType satisfies the Event interface.
func (GUpdated) EventType() string { return TypeGUpdated }

// Attributes renders the event for journals and streams.
func (e GUpdated) Attributes() map[string]string {
	return map[string]string{
		"g":     formatWide(e.G),
		"epoch": strconv.FormatUint(e.Epoch, 10),
		"scale": strconv.FormatUint(e.Scale, 10),
	}
}

// SUpdated reports the collateral accumulator for an epoch and scale.
type SUpdated struct {
	S     *uint256.Int
	Epoch uint64
	Scale uint64
}

// EventType satisfies the Event interface.
func (SUpdated) EventType() string { return TypeSUpdated }

// Attributes renders the event for journals and streams.
func (e SUpdated) Attributes() map[string]string {
	return map[string]string{
		"s":     formatWide(e.S),
		"epoch": strconv.FormatUint(e.Epoch, 10),
		"scale": strconv.FormatUint(e.Scale, 10),
	}
}

// PUpdated reports the running product.
type PUpdated struct {
	P *uint256.Int
}

// EventType satisfies the Event interface.
func (PUpdated) EventType() string { return TypePUpdated }

// Attributes renders the event for journals and streams.
func (e PUpdated) Attributes() map[string]string {
	return map[string]string{"p": formatWide(e.P)}
}

// EpochUpdated reports a full depletion rollover.
type EpochUpdated struct {
	Epoch uint64
}

// EventType satisfies the Event interface.
func (EpochUpdated) EventType() string { return TypeEpochUpdated }

// Attributes renders the event for journals and streams.
func (e EpochUpdated) Attributes() map[string]string {
	return map[string]string{"epoch": strconv.FormatUint(e.Epoch, 10)}
}

// ScaleUpdated reports a precision rescale of the running product.
type ScaleUpdated struct {
	Scale uint64
}

// EventType satisfies the Event interface.
func (ScaleUpdated) EventType() string { return TypeScaleUpdated }

// Attributes renders the event for journals and streams.
func (e ScaleUpdated) Attributes() map[string]string {
	return map[string]string{"scale": strconv.FormatUint(e.Scale, 10)}
}
