package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// TypeTroveUpdated is emitted whenever a trove's balances change.
	TypeTroveUpdated = "cdp.troveUpdated"
	// TypeTroveLiquidated is emitted for each trove closed by liquidation.
	TypeTroveLiquidated = "cdp.troveLiquidated"
	// TypeLiquidation summarises a liquidation sequence.
	TypeLiquidation = "cdp.liquidation"
	// TypeRedemption summarises a redemption walk.
	TypeRedemption = "cdp.redemption"
	// TypeBaseRateUpdated reports a new base rate.
	TypeBaseRateUpdated = "cdp.baseRateUpdated"
	// TypeLastFeeOpTimeUpdated reports an advanced fee operation timestamp.
	TypeLastFeeOpTimeUpdated = "cdp.lastFeeOpTimeUpdated"
	// TypeTotalStakesUpdated reports the aggregate stake after a rebase.
	TypeTotalStakesUpdated = "cdp.totalStakesUpdated"
	// TypeSystemSnapshotsUpdated reports the stake and collateral snapshots.
	TypeSystemSnapshotsUpdated = "cdp.systemSnapshotsUpdated"
	// TypeTroveSnapshotsUpdated reports the redistribution terms a trove was synced to.
	TypeTroveSnapshotsUpdated = "cdp.troveSnapshotsUpdated"
	// TypeBorrowingFeePaid is emitted when a borrowing fee is charged.
	TypeBorrowingFeePaid = "cdp.borrowingFeePaid"
	// TypeSurplusUpdated reports a trove's claimable surplus collateral.
	TypeSurplusUpdated = "cdp.surplusUpdated"
	// TypeSurplusSent reports a surplus claim payout.
	TypeSurplusSent = "cdp.surplusSent"
	// TypeNodeAdded reports a sorted list insertion.
	TypeNodeAdded = "cdp.nodeAdded"
	// TypeNodeRemoved reports a sorted list removal.
	TypeNodeRemoved = "cdp.nodeRemoved"
	// TypeTotalIssuedUpdated reports cumulative reward issuance.
	TypeTotalIssuedUpdated = "cdp.totalIssuedUpdated"

	// OperationOpenTrove identifies trove creation.
	OperationOpenTrove = "openTrove"
	// OperationCloseTrove identifies owner initiated closes.
	OperationCloseTrove = "closeTrove"
	// OperationAdjustTrove identifies collateral or debt adjustments.
	OperationAdjustTrove = "adjustTrove"
	// OperationApplyPendingRewards identifies lazy reward application.
	OperationApplyPendingRewards = "applyPendingRewards"
	// OperationLiquidateInNormalMode identifies normal mode liquidations.
	OperationLiquidateInNormalMode = "liquidateInNormalMode"
	// OperationLiquidateInRecoveryMode identifies recovery mode liquidations.
	OperationLiquidateInRecoveryMode = "liquidateInRecoveryMode"
	// OperationRedeemCollateral identifies redemption updates.
	OperationRedeemCollateral = "redeemCollateral"
)

// TroveUpdated captures a trove's balances after an operation.
type TroveUpdated struct {
	Owner     common.Address
	Debt      uint64
	Coll      uint64
	Stake     uint64
	Operation string
}

// EventType satisfies the Event interface.
func (TroveUpdated) EventType() string { return TypeTroveUpdated }

// Attributes renders the event for journals and streams.
func (e TroveUpdated) Attributes() map[string]string {
	return map[string]string{
		"owner":     formatAddress(e.Owner),
		"debt":      formatAmount(e.Debt),
		"coll":      formatAmount(e.Coll),
		"stake":     formatAmount(e.Stake),
		"operation": e.Operation,
	}
}

// TroveLiquidated captures the position a liquidation closed.
type TroveLiquidated struct {
	Owner     common.Address
	Debt      uint64
	Coll      uint64
	Operation string
}

// EventType satisfies the Event interface.
func (TroveLiquidated) EventType() string { return TypeTroveLiquidated }

// Attributes renders the event for journals and streams.
func (e TroveLiquidated) Attributes() map[string]string {
	return map[string]string{
		"owner":     formatAddress(e.Owner),
		"debt":      formatAmount(e.Debt),
		"coll":      formatAmount(e.Coll),
		"operation": e.Operation,
	}
}

// Liquidation summarises the totals of a liquidation sequence.
type Liquidation struct {
	Liquidator          common.Address
	LiquidatedDebt      uint64
	LiquidatedColl      uint64
	CollGasCompensation uint64
	USVGasCompensation  uint64
}

// EventType satisfies the Event interface.
func (Liquidation) EventType() string { return TypeLiquidation }

// Attributes renders the event for journals and streams.
func (e Liquidation) Attributes() map[string]string {
	return map[string]string{
		"liquidator":          formatAddress(e.Liquidator),
		"liquidatedDebt":      formatAmount(e.LiquidatedDebt),
		"liquidatedColl":      formatAmount(e.LiquidatedColl),
		"collGasCompensation": formatAmount(e.CollGasCompensation),
		"usvGasCompensation":  formatAmount(e.USVGasCompensation),
	}
}

// Redemption summarises a redemption walk.
type Redemption struct {
	Redeemer     common.Address
	AttemptedUSV uint64
	ActualUSV    uint64
	CollSent     uint64
	CollFee      uint64
}

// EventType satisfies the Event interface.
func (Redemption) EventType() string { return TypeRedemption }

// Attributes renders the event for journals and streams.
func (e Redemption) Attributes() map[string]string {
	return map[string]string{
		"redeemer":     formatAddress(e.Redeemer),
		"attemptedUSV": formatAmount(e.AttemptedUSV),
		"actualUSV":    formatAmount(e.ActualUSV),
		"collSent":     formatAmount(e.CollSent),
		"collFee":      formatAmount(e.CollFee),
	}
}

// BaseRateUpdated reports the decayed or incremented base rate.
type BaseRateUpdated struct {
	BaseRate uint64
}

// EventType satisfies the Event interface.
func (BaseRateUpdated) EventType() string { return TypeBaseRateUpdated }

// Attributes renders the event for journals and streams.
func (e BaseRateUpdated) Attributes() map[string]string {
	return map[string]string{"baseRate": formatAmount(e.BaseRate)}
}

// LastFeeOpTimeUpdated reports the fee clock.
type LastFeeOpTimeUpdated struct {
	Time uint64
}

// EventType satisfies the Event interface.
func (LastFeeOpTimeUpdated) EventType() string { return TypeLastFeeOpTimeUpdated }

// Attributes renders the event for journals and streams.
func (e LastFeeOpTimeUpdated) Attributes() map[string]string {
	return map[string]string{"time": formatAmount(e.Time)}
}

// TotalStakesUpdated reports the aggregate stake.
type TotalStakesUpdated struct {
	TotalStakes uint64
}

// EventType satisfies the Event interface.
func (TotalStakesUpdated) EventType() string { return TypeTotalStakesUpdated }

// Attributes renders the event for journals and streams.
func (e TotalStakesUpdated) Attributes() map[string]string {
	return map[string]string{"totalStakes": formatAmount(e.TotalStakes)}
}

// SystemSnapshotsUpdated reports the snapshots used for stake rebasing.
type SystemSnapshotsUpdated struct {
	TotalStakesSnapshot uint64
	TotalCollSnapshot   uint64
}

// EventType satisfies the Event interface.
func (SystemSnapshotsUpdated) EventType() string { return TypeSystemSnapshotsUpdated }

// Attributes renders the event for journals and streams.
func (e SystemSnapshotsUpdated) Attributes() map[string]string {
	return map[string]string{
		"totalStakesSnapshot": formatAmount(e.TotalStakesSnapshot),
		"totalCollSnapshot":   formatAmount(e.TotalCollSnapshot),
	}
}

// TroveSnapshotsUpdated reports the redistribution terms a trove synced to.
type TroveSnapshotsUpdated struct {
	Owner    common.Address
	LColl    *uint256.Int
	LUSVDebt *uint256.Int
}

// EventType satisfies the Event interface.
func (TroveSnapshotsUpdated) EventType() string { return TypeTroveSnapshotsUpdated }

// Attributes renders the event for journals and streams.
func (e TroveSnapshotsUpdated) Attributes() map[string]string {
	return map[string]string{
		"owner":    formatAddress(e.Owner),
		"lColl":    formatWide(e.LColl),
		"lUSVDebt": formatWide(e.LUSVDebt),
	}
}

// BorrowingFeePaid reports the fee minted to the fee sink.
type BorrowingFeePaid struct {
	Owner common.Address
	Fee   uint64
}

// EventType satisfies the Event interface.
func (BorrowingFeePaid) EventType() string { return TypeBorrowingFeePaid }

// Attributes renders the event for journals and streams.
func (e BorrowingFeePaid) Attributes() map[string]string {
	return map[string]string{"owner": formatAddress(e.Owner), "fee": formatAmount(e.Fee)}
}

// SurplusUpdated reports the claimable surplus recorded for an owner.
type SurplusUpdated struct {
	Owner   common.Address
	Balance uint64
}

// EventType satisfies the Event interface.
func (SurplusUpdated) EventType() string { return TypeSurplusUpdated }

// Attributes renders the event for journals and streams.
func (e SurplusUpdated) Attributes() map[string]string {
	return map[string]string{"owner": formatAddress(e.Owner), "balance": formatAmount(e.Balance)}
}

// SurplusSent reports a surplus payout.
type SurplusSent struct {
	To     common.Address
	Amount uint64
}

// EventType satisfies the Event interface.
func (SurplusSent) EventType() string { return TypeSurplusSent }

// Attributes renders the event for journals and streams.
func (e SurplusSent) Attributes() map[string]string {
	return map[string]string{"to": formatAddress(e.To), "amount": formatAmount(e.Amount)}
}

// NodeAdded reports a sorted list insertion.
type NodeAdded struct {
	Owner common.Address
	NICR  uint64
}

// EventType satisfies the Event interface.
func (NodeAdded) EventType() string { return TypeNodeAdded }

// Attributes renders the event for journals and streams.
func (e NodeAdded) Attributes() map[string]string {
	return map[string]string{"owner": formatAddress(e.Owner), "nicr": formatAmount(e.NICR)}
}

// NodeRemoved reports a sorted list removal.
type NodeRemoved struct {
	Owner common.Address
}

// EventType satisfies the Event interface.
func (NodeRemoved) EventType() string { return TypeNodeRemoved }

// Attributes renders the event for journals and streams.
func (e NodeRemoved) Attributes() map[string]string {
	return map[string]string{"owner": formatAddress(e.Owner)}
}

// TotalIssuedUpdated reports cumulative reward token issuance.
type TotalIssuedUpdated struct {
	TotalIssued uint64
}

// EventType satisfies the Event interface.
func (TotalIssuedUpdated) EventType() string { return TypeTotalIssuedUpdated }

// Attributes renders the event for journals and streams.
func (e TotalIssuedUpdated) Attributes() map[string]string {
	return map[string]string{"totalIssued": formatAmount(e.TotalIssued)}
}
