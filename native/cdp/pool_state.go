package cdp

import (
	"fmt"

	"github.com/holiman/uint256"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

// newPoolState seeds the aggregate from the market parameters.
func newPoolState(params Params, now uint64) *PoolState {
	return &PoolState{
		MCR:                  params.MCR,
		CCR:                  params.CCR,
		MinNetDebt:           params.MinNetDebt,
		GasCompensation:      params.GasCompensation,
		CollGasCompDivisor:   params.CollGasCompDivisor,
		LColl:                new(uint256.Int),
		LUSVDebt:             new(uint256.Int),
		LastCollErrorRedist:  new(uint256.Int),
		LastDebtErrorRedist:  new(uint256.Int),
		LastFeeOperationTime: now,
	}
}

// EntireColl is active collateral plus collateral awaiting redistribution.
func (p *PoolState) EntireColl() (uint64, error) {
	return fixedpoint.Add(p.ActiveColl, p.LiquidatedColl)
}

// EntireDebt is active debt plus debt awaiting redistribution.
func (p *PoolState) EntireDebt() (uint64, error) {
	return fixedpoint.Add(p.ActiveDebt, p.ClosedDebt)
}

// TCR returns the total collateral ratio at price.
func (p *PoolState) TCR(price uint64) (uint64, error) {
	coll, err := p.EntireColl()
	if err != nil {
		return 0, err
	}
	debt, err := p.EntireDebt()
	if err != nil {
		return 0, err
	}
	return fixedpoint.ComputeCR(coll, debt, price)
}

// RecoveryMode reports whether the system sits below the critical ratio.
func (p *PoolState) RecoveryMode(price uint64) (bool, error) {
	tcr, err := p.TCR(price)
	if err != nil {
		return false, err
	}
	return tcr < p.CCR, nil
}

func (p *PoolState) checkRecoveryMode(coll, debt, price uint64) (bool, error) {
	tcr, err := fixedpoint.ComputeCR(coll, debt, price)
	if err != nil {
		return false, err
	}
	return tcr < p.CCR, nil
}

// NewTCRFromTroveChange projects the TCR after a single trove changes.
func (p *PoolState) NewTCRFromTroveChange(collChange uint64, collIncrease bool, debtChange uint64, debtIncrease bool, price uint64) (uint64, error) {
	coll, err := p.EntireColl()
	if err != nil {
		return 0, err
	}
	debt, err := p.EntireDebt()
	if err != nil {
		return 0, err
	}
	if collIncrease {
		coll, err = fixedpoint.Add(coll, collChange)
	} else {
		coll, err = fixedpoint.Sub(coll, collChange)
	}
	if err != nil {
		return 0, err
	}
	if debtIncrease {
		debt, err = fixedpoint.Add(debt, debtChange)
	} else {
		debt, err = fixedpoint.Sub(debt, debtChange)
	}
	if err != nil {
		return 0, err
	}
	return fixedpoint.ComputeCR(coll, debt, price)
}

// NetDebt strips the gas compensation reserve from a composite debt.
func (p *PoolState) NetDebt(debt uint64) (uint64, error) {
	return fixedpoint.Sub(debt, p.GasCompensation)
}

// CompositeDebt adds the gas compensation reserve to a net debt.
func (p *PoolState) CompositeDebt(debt uint64) (uint64, error) {
	return fixedpoint.Add(debt, p.GasCompensation)
}

func (p *PoolState) collGasCompensation(coll uint64) uint64 {
	return coll / p.CollGasCompDivisor
}

func (p *PoolState) minutesPassedSinceLastFeeOp(now uint64) uint64 {
	if now <= p.LastFeeOperationTime {
		return 0
	}
	return (now - p.LastFeeOperationTime) / secondsPerMinute
}

func (p *PoolState) calcDecayedBaseRate(now uint64) (uint64, error) {
	factor, err := fixedpoint.DecPow(MinuteDecayFactor, p.minutesPassedSinceLastFeeOp(now))
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDiv(p.BaseRate, factor, fixedpoint.DecimalPrecision)
}

func (p *PoolState) updateLastFeeOpTime(now uint64, emit events.Emitter) {
	if now < p.LastFeeOperationTime || now-p.LastFeeOperationTime < secondsPerMinute {
		return
	}
	p.LastFeeOperationTime = now
	emit.Emit(events.LastFeeOpTimeUpdated{Time: now})
}

// decayBaseRateFromBorrowing applies time decay before a borrowing fee is
// computed.
func (p *PoolState) decayBaseRateFromBorrowing(now uint64, emit events.Emitter) error {
	decayed, err := p.calcDecayedBaseRate(now)
	if err != nil {
		return err
	}
	if decayed > fixedpoint.DecimalPrecision {
		return fmt.Errorf("decayed base rate %d: %w", decayed, ErrCalculation)
	}
	p.BaseRate = decayed
	emit.Emit(events.BaseRateUpdated{BaseRate: decayed})
	p.updateLastFeeOpTime(now, emit)
	return nil
}

// updateBaseRateFromRedemption raises the base rate by half the fraction of
// supply redeemed.
func (p *PoolState) updateBaseRateFromRedemption(collDrawn, price, supplyAtStart, now uint64, emit events.Emitter) (uint64, error) {
	decayed, err := p.calcDecayedBaseRate(now)
	if err != nil {
		return 0, err
	}
	redeemedFraction, err := fixedpoint.MulDiv(collDrawn, price, supplyAtStart)
	if err != nil {
		return 0, err
	}
	newBaseRate, err := fixedpoint.Add(decayed, redeemedFraction/2)
	if err != nil {
		return 0, err
	}
	newBaseRate = fixedpoint.Min(newBaseRate, fixedpoint.DecimalPrecision)
	if newBaseRate == 0 {
		return 0, fmt.Errorf("zero base rate after redemption: %w", ErrCalculation)
	}
	p.BaseRate = newBaseRate
	emit.Emit(events.BaseRateUpdated{BaseRate: newBaseRate})
	p.updateLastFeeOpTime(now, emit)
	return newBaseRate, nil
}

func (p *PoolState) borrowingRate(params Params) uint64 {
	rate := params.BorrowingFeeFloor + p.BaseRate
	return fixedpoint.Min(rate, params.MaxBorrowingFee)
}

// BorrowingFee returns the fee charged on a new debt amount.
func (p *PoolState) BorrowingFee(amount uint64, params Params) (uint64, error) {
	return fixedpoint.MulDiv(p.borrowingRate(params), amount, fixedpoint.DecimalPrecision)
}

func (p *PoolState) redemptionRate(params Params) uint64 {
	rate := params.RedemptionFeeFloor + p.BaseRate
	return fixedpoint.Min(rate, fixedpoint.DecimalPrecision)
}

// RedemptionFee returns the collateral fee withheld from a redemption.
func (p *PoolState) RedemptionFee(collDrawn uint64, params Params) (uint64, error) {
	fee, err := fixedpoint.MulDiv(p.redemptionRate(params), collDrawn, fixedpoint.DecimalPrecision)
	if err != nil {
		return 0, err
	}
	if fee >= collDrawn {
		return 0, ErrFeeEatsAllColl
	}
	return fee, nil
}

// cappedOffsetValues liquidates a trove at exactly MCR worth of collateral,
// leaving the rest as surplus claimable by the owner.
func (p *PoolState) cappedOffsetValues(debt, coll, price uint64) (LiquidationValues, error) {
	capped, err := fixedpoint.MulDiv(debt, p.MCR, price)
	if err != nil {
		return LiquidationValues{}, err
	}
	if capped > coll {
		return LiquidationValues{}, fmt.Errorf("capped collateral %d exceeds %d: %w", capped, coll, ErrCalculation)
	}
	collGas := p.collGasCompensation(capped)
	return LiquidationValues{
		EntireTroveDebt:     debt,
		EntireTroveColl:     coll,
		CollGasCompensation: collGas,
		USVGasCompensation:  p.GasCompensation,
		DebtToOffset:        debt,
		CollToSendToSP:      capped - collGas,
		CollSurplus:         coll - capped,
	}, nil
}

func (p *PoolState) requireValidRepayment(debt, repayment uint64) error {
	net, err := p.NetDebt(debt)
	if err != nil {
		return err
	}
	if repayment > net {
		return ErrInvalidRepayment
	}
	return nil
}

// movePendingToActive shifts redistributed rewards that a trove has just
// applied from the pending aggregate back into the active one.
func (p *PoolState) movePendingToActive(debt, coll uint64) error {
	var err error
	if p.ClosedDebt, err = fixedpoint.Sub(p.ClosedDebt, debt); err != nil {
		return fmt.Errorf("closed debt: %w", ErrCalculation)
	}
	if p.ActiveDebt, err = fixedpoint.Add(p.ActiveDebt, debt); err != nil {
		return err
	}
	if p.LiquidatedColl, err = fixedpoint.Sub(p.LiquidatedColl, coll); err != nil {
		return fmt.Errorf("liquidated coll: %w", ErrCalculation)
	}
	if p.ActiveColl, err = fixedpoint.Add(p.ActiveColl, coll); err != nil {
		return err
	}
	return nil
}

// redistribute spreads debt and collateral over all stakes, carrying the
// division remainder into the next call.
func (p *PoolState) redistribute(debt, coll uint64) error {
	if debt == 0 {
		return nil
	}
	if p.TotalStakes == 0 {
		return fmt.Errorf("redistribution without stakes: %w", ErrCalculation)
	}
	stakes := fixedpoint.Wide(p.TotalStakes)
	unit := fixedpoint.Wide(fixedpoint.DecimalPrecision)

	collNumerator := new(uint256.Int).Mul(fixedpoint.Wide(coll), unit)
	collNumerator.Add(collNumerator, wide(p.LastCollErrorRedist))
	debtNumerator := new(uint256.Int).Mul(fixedpoint.Wide(debt), unit)
	debtNumerator.Add(debtNumerator, wide(p.LastDebtErrorRedist))

	collPerStake := new(uint256.Int).Div(collNumerator, stakes)
	debtPerStake := new(uint256.Int).Div(debtNumerator, stakes)

	p.LastCollErrorRedist = new(uint256.Int).Sub(collNumerator, new(uint256.Int).Mul(collPerStake, stakes))
	p.LastDebtErrorRedist = new(uint256.Int).Sub(debtNumerator, new(uint256.Int).Mul(debtPerStake, stakes))

	lColl, err := fixedpoint.WideAdd(wide(p.LColl), collPerStake)
	if err != nil {
		return err
	}
	lDebt, err := fixedpoint.WideAdd(wide(p.LUSVDebt), debtPerStake)
	if err != nil {
		return err
	}
	p.LColl = lColl
	p.LUSVDebt = lDebt

	if p.ActiveDebt, err = fixedpoint.Sub(p.ActiveDebt, debt); err != nil {
		return fmt.Errorf("active debt: %w", ErrCalculation)
	}
	if p.ClosedDebt, err = fixedpoint.Add(p.ClosedDebt, debt); err != nil {
		return err
	}
	if p.ActiveColl, err = fixedpoint.Sub(p.ActiveColl, coll); err != nil {
		return fmt.Errorf("active coll: %w", ErrCalculation)
	}
	if p.LiquidatedColl, err = fixedpoint.Add(p.LiquidatedColl, coll); err != nil {
		return err
	}
	return nil
}

// updateSystemSnapshotsExcludeCollRemainder records the stake rebasing
// inputs after a liquidation. The remainder is the gas compensation that is
// about to leave the active pool.
func (p *PoolState) updateSystemSnapshotsExcludeCollRemainder(remainder uint64, emit events.Emitter) error {
	p.TotalStakesSnapshot = p.TotalStakes
	active, err := fixedpoint.Sub(p.ActiveColl, remainder)
	if err != nil {
		return fmt.Errorf("snapshot remainder: %w", ErrCalculation)
	}
	snapshot, err := fixedpoint.Add(active, p.LiquidatedColl)
	if err != nil {
		return err
	}
	p.TotalCollSnapshot = snapshot
	emit.Emit(events.SystemSnapshotsUpdated{
		TotalStakesSnapshot: p.TotalStakesSnapshot,
		TotalCollSnapshot:   p.TotalCollSnapshot,
	})
	return nil
}

// moveOffsetToStabilityPool cancels offset debt against deposits and moves
// the matching collateral out of the active aggregate into the pool.
func (p *PoolState) moveOffsetToStabilityPool(sp *StabilityPool, debt, coll uint64, emit events.Emitter) error {
	var err error
	if p.ActiveDebt, err = fixedpoint.Sub(p.ActiveDebt, debt); err != nil {
		return fmt.Errorf("offset debt: %w", ErrCalculation)
	}
	if p.ActiveColl, err = fixedpoint.Sub(p.ActiveColl, coll); err != nil {
		return fmt.Errorf("offset coll: %w", ErrCalculation)
	}
	return sp.absorb(debt, coll, emit)
}
