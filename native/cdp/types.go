package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TroveStatus enumerates the lifecycle states of a trove.
type TroveStatus uint8

const (
	TroveNonExistent TroveStatus = iota
	TroveActive
	TroveClosedByOwner
	TroveClosedByLiquidation
	TroveClosedByRedemption
)

func (s TroveStatus) String() string {
	switch s {
	case TroveActive:
		return "active"
	case TroveClosedByOwner:
		return "closedByOwner"
	case TroveClosedByLiquidation:
		return "closedByLiquidation"
	case TroveClosedByRedemption:
		return "closedByRedemption"
	default:
		return "nonExistent"
	}
}

// Trove is a single borrower position. Prev and Next link the trove into the
// list of active troves ordered by descending nominal collateral ratio; the
// zero address terminates the list.
type Trove struct {
	Owner        common.Address
	Debt         uint64
	Coll         uint64
	Stake        uint64
	SnapshotColl *uint256.Int
	SnapshotDebt *uint256.Int
	Surplus      uint64
	Status       TroveStatus
	Prev         common.Address
	Next         common.Address
}

// Clone returns a deep copy of the trove.
func (t *Trove) Clone() *Trove {
	if t == nil {
		return nil
	}
	clone := *t
	clone.SnapshotColl = cloneWide(t.SnapshotColl)
	clone.SnapshotDebt = cloneWide(t.SnapshotDebt)
	return &clone
}

// PoolState is the per-market aggregate. Active amounts belong to live
// troves; liquidated collateral and closed debt are redistribution rewards
// that troves have not yet applied.
type PoolState struct {
	MCR                uint64
	CCR                uint64
	MinNetDebt         uint64
	GasCompensation    uint64
	CollGasCompDivisor uint64

	ActiveColl     uint64
	ActiveDebt     uint64
	LiquidatedColl uint64
	ClosedDebt     uint64

	TotalStakes         uint64
	TotalStakesSnapshot uint64
	TotalCollSnapshot   uint64

	LColl                *uint256.Int
	LUSVDebt             *uint256.Int
	LastCollErrorRedist  *uint256.Int
	LastDebtErrorRedist  *uint256.Int
	BaseRate             uint64
	LastFeeOperationTime uint64

	TroveHead common.Address
	TroveTail common.Address
	TroveSize uint64

	TotalSurplus uint64
}

// Clone returns a deep copy of the pool state.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	clone := *p
	clone.LColl = cloneWide(p.LColl)
	clone.LUSVDebt = cloneWide(p.LUSVDebt)
	clone.LastCollErrorRedist = cloneWide(p.LastCollErrorRedist)
	clone.LastDebtErrorRedist = cloneWide(p.LastDebtErrorRedist)
	return &clone
}

// StabilityPool holds the product-sum accumulator state.
type StabilityPool struct {
	TotalCollateral  uint64
	TotalUSVDeposits uint64
	P                *uint256.Int
	CurrentScale     uint64
	CurrentEpoch     uint64
	LastRewardError  *uint256.Int
	LastCollError    *uint256.Int
	LastUSVLossError *uint256.Int
}

// Clone returns a deep copy of the stability pool state.
func (s *StabilityPool) Clone() *StabilityPool {
	if s == nil {
		return nil
	}
	clone := *s
	clone.P = cloneWide(s.P)
	clone.LastRewardError = cloneWide(s.LastRewardError)
	clone.LastCollError = cloneWide(s.LastCollError)
	clone.LastUSVLossError = cloneWide(s.LastUSVLossError)
	return &clone
}

// EpochScale stores the collateral sum S and reward sum G accumulated while
// the pool sat at a given epoch and scale.
type EpochScale struct {
	Epoch uint64
	Scale uint64
	Sum   *uint256.Int
	G     *uint256.Int
}

// Clone returns a deep copy of the record.
func (e *EpochScale) Clone() *EpochScale {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Sum = cloneWide(e.Sum)
	clone.G = cloneWide(e.G)
	return &clone
}

// Deposit is a stability pool position together with the accumulator
// snapshot taken at the depositor's last interaction.
type Deposit struct {
	Depositor       common.Address
	InitialValue    uint64
	SnapshotP       *uint256.Int
	SnapshotS       *uint256.Int
	SnapshotG       *uint256.Int
	SnapshotScale   uint64
	SnapshotEpoch   uint64
	ClaimableColl   uint64
	ClaimableReward uint64
}

// Clone returns a deep copy of the deposit.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	clone.SnapshotP = cloneWide(d.SnapshotP)
	clone.SnapshotS = cloneWide(d.SnapshotS)
	clone.SnapshotG = cloneWide(d.SnapshotG)
	return &clone
}

// Issuance tracks reward token emission to stability pool depositors.
type Issuance struct {
	Enabled          bool
	EmissionRate     uint64
	LastIssuanceTime uint64
	TotalIssued      uint64
}

// Clone returns a copy of the issuance state.
func (i *Issuance) Clone() *Issuance {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

// Hint names the expected neighbours of a trove in the sorted list.
type Hint struct {
	Prev common.Address
	Next common.Address
}

// LiquidationValues describes how a single liquidated trove is split.
type LiquidationValues struct {
	EntireTroveDebt     uint64
	EntireTroveColl     uint64
	CollGasCompensation uint64
	USVGasCompensation  uint64
	DebtToOffset        uint64
	CollToSendToSP      uint64
	DebtToRedistribute  uint64
	CollToRedistribute  uint64
	CollSurplus         uint64
}

// LiquidationTotals aggregates the values of a liquidation sequence.
type LiquidationTotals struct {
	TotalCollInSequence      uint64
	TotalDebtInSequence      uint64
	TotalCollGasCompensation uint64
	TotalUSVGasCompensation  uint64
	TotalDebtToOffset        uint64
	TotalCollToSendToSP      uint64
	TotalDebtToRedistribute  uint64
	TotalCollToRedistribute  uint64
	TotalCollSurplus         uint64
}

// RedemptionResult reports the outcome of a redemption walk.
type RedemptionResult struct {
	AttemptedUSV uint64
	RedeemedUSV  uint64
	CollDrawn    uint64
	CollFee      uint64
	CollSent     uint64
}

// DepositorGains is the lazily derived view of a stability pool deposit.
type DepositorGains struct {
	CompoundedDeposit uint64
	CollGain          uint64
	RewardGain        uint64
	ClaimableColl     uint64
	ClaimableReward   uint64
}

func cloneWide(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}

// wide returns v, or zero when v is nil.
func wide(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
