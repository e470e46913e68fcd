package cdp

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

func newStabilityPool() *StabilityPool {
	return &StabilityPool{
		P:                fixedpoint.Wide(fixedpoint.DecimalPrecision),
		LastRewardError:  new(uint256.Int),
		LastCollError:    new(uint256.Int),
		LastUSVLossError: new(uint256.Int),
	}
}

// accumulator couples the stability pool with the epoch-scale records it
// reads and writes.
type accumulator struct {
	state State
	sp    *StabilityPool
	emit  events.Emitter
}

func (a accumulator) epochScale(epoch, scale uint64) (*EpochScale, error) {
	record, err := a.state.GetEpochScale(epoch, scale)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &EpochScale{Epoch: epoch, Scale: scale, Sum: new(uint256.Int), G: new(uint256.Int)}
	}
	return record, nil
}

// updateG distributes freshly issued reward tokens over current deposits.
func (a accumulator) updateG(issuance uint64) error {
	sp := a.sp
	if sp.TotalUSVDeposits == 0 || issuance == 0 {
		return nil
	}
	total := fixedpoint.Wide(sp.TotalUSVDeposits)
	numerator := new(uint256.Int).Mul(fixedpoint.Wide(issuance), fixedpoint.Wide(fixedpoint.DecimalPrecision))
	numerator.Add(numerator, wide(sp.LastRewardError))
	perUnit := new(uint256.Int).Div(numerator, total)
	sp.LastRewardError = new(uint256.Int).Sub(numerator, new(uint256.Int).Mul(perUnit, total))

	marginal, err := fixedpoint.WideMul(perUnit, wide(sp.P))
	if err != nil {
		return err
	}
	record, err := a.epochScale(sp.CurrentEpoch, sp.CurrentScale)
	if err != nil {
		return err
	}
	if record.G, err = fixedpoint.WideAdd(wide(record.G), marginal); err != nil {
		return err
	}
	if err := a.state.PutEpochScale(record); err != nil {
		return err
	}
	a.emit.Emit(events.GUpdated{G: cloneWide(record.G), Epoch: record.Epoch, Scale: record.Scale})
	return nil
}

// computeRewardsPerUnit splits an offset into per-unit collateral gain and
// per-unit deposit loss. The loss is rounded up so the pool never pays out
// more stablecoin than it holds.
func (a accumulator) computeRewardsPerUnit(collToAdd, debtToOffset uint64) (*uint256.Int, uint64, error) {
	sp := a.sp
	total := fixedpoint.Wide(sp.TotalUSVDeposits)
	unit := fixedpoint.Wide(fixedpoint.DecimalPrecision)

	collNumerator := new(uint256.Int).Mul(fixedpoint.Wide(collToAdd), unit)
	collNumerator.Add(collNumerator, wide(sp.LastCollError))

	var lossPerUnit uint64
	if debtToOffset == sp.TotalUSVDeposits {
		lossPerUnit = fixedpoint.DecimalPrecision
		sp.LastUSVLossError = new(uint256.Int)
	} else {
		lossNumerator := new(uint256.Int).Mul(fixedpoint.Wide(debtToOffset), unit)
		lossNumerator, err := fixedpoint.WideSub(lossNumerator, wide(sp.LastUSVLossError))
		if err != nil {
			return nil, 0, fmt.Errorf("loss numerator: %w", ErrCalculation)
		}
		loss := new(uint256.Int).Div(lossNumerator, total)
		loss.AddUint64(loss, 1)
		if lossPerUnit, err = fixedpoint.Narrow(loss); err != nil {
			return nil, 0, err
		}
		carried := new(uint256.Int).Mul(loss, total)
		sp.LastUSVLossError = carried.Sub(carried, lossNumerator)
	}
	if lossPerUnit > fixedpoint.DecimalPrecision {
		return nil, 0, fmt.Errorf("loss per unit %d: %w", lossPerUnit, ErrCalculation)
	}

	gainPerUnit := new(uint256.Int).Div(collNumerator, total)
	sp.LastCollError = new(uint256.Int).Sub(collNumerator, new(uint256.Int).Mul(gainPerUnit, total))
	return gainPerUnit, lossPerUnit, fixedpoint.CheckU128(gainPerUnit)
}

// updateSumAndProduct folds an offset into S and P, opening a new epoch on
// full depletion and a new scale when P would lose precision.
func (a accumulator) updateSumAndProduct(gainPerUnit *uint256.Int, lossPerUnit uint64) error {
	sp := a.sp
	currentP := wide(sp.P)
	factor := fixedpoint.Wide(fixedpoint.DecimalPrecision - lossPerUnit)
	unit := fixedpoint.Wide(fixedpoint.DecimalPrecision)

	record, err := a.epochScale(sp.CurrentEpoch, sp.CurrentScale)
	if err != nil {
		return err
	}
	marginal, err := fixedpoint.WideMul(gainPerUnit, currentP)
	if err != nil {
		return err
	}
	if record.Sum, err = fixedpoint.WideAdd(wide(record.Sum), marginal); err != nil {
		return err
	}
	if err := a.state.PutEpochScale(record); err != nil {
		return err
	}
	a.emit.Emit(events.SUpdated{S: cloneWide(record.Sum), Epoch: record.Epoch, Scale: record.Scale})

	var newP *uint256.Int
	scaled := new(uint256.Int).Mul(currentP, factor)
	switch {
	case factor.IsZero():
		sp.CurrentEpoch++
		a.emit.Emit(events.EpochUpdated{Epoch: sp.CurrentEpoch})
		sp.CurrentScale = 0
		a.emit.Emit(events.ScaleUpdated{Scale: 0})
		newP = fixedpoint.Wide(fixedpoint.DecimalPrecision)
	case new(uint256.Int).Div(scaled, unit).Lt(fixedpoint.Wide(ScaleFactor)):
		scaled.Mul(scaled, fixedpoint.Wide(ScaleFactor))
		newP = scaled.Div(scaled, unit)
		sp.CurrentScale++
		a.emit.Emit(events.ScaleUpdated{Scale: sp.CurrentScale})
	default:
		newP = scaled.Div(scaled, unit)
	}
	if newP.IsZero() {
		return fmt.Errorf("product reached zero: %w", ErrCalculation)
	}
	if err := fixedpoint.CheckU128(newP); err != nil {
		return err
	}
	sp.P = newP
	a.emit.Emit(events.PUpdated{P: cloneWide(newP)})
	return nil
}

// offset cancels debt against deposits and credits the matching collateral
// to depositors through S. Totals are moved separately by absorb.
func (a accumulator) offset(debtToOffset, collToAdd, issuance uint64) error {
	if a.sp.TotalUSVDeposits == 0 || debtToOffset == 0 {
		return nil
	}
	if err := a.updateG(issuance); err != nil {
		return err
	}
	gain, loss, err := a.computeRewardsPerUnit(collToAdd, debtToOffset)
	if err != nil {
		return err
	}
	return a.updateSumAndProduct(gain, loss)
}

// absorb moves offset debt out of and liquidated collateral into the pool
// totals.
func (s *StabilityPool) absorb(debt, coll uint64, emit events.Emitter) error {
	var err error
	if s.TotalUSVDeposits, err = fixedpoint.Sub(s.TotalUSVDeposits, debt); err != nil {
		return fmt.Errorf("stability pool deposits: %w", ErrCalculation)
	}
	emit.Emit(events.StabilityPoolUSVUpdated{Total: s.TotalUSVDeposits})
	if s.TotalCollateral, err = fixedpoint.Add(s.TotalCollateral, coll); err != nil {
		return err
	}
	emit.Emit(events.StabilityPoolCollUpdated{Total: s.TotalCollateral})
	return nil
}

func (a accumulator) snapshotGain(d *Deposit, snapshot *uint256.Int, field func(*EpochScale) *uint256.Int) (uint64, error) {
	if d == nil || d.InitialValue == 0 {
		return 0, nil
	}
	first, err := a.epochScale(d.SnapshotEpoch, d.SnapshotScale)
	if err != nil {
		return 0, err
	}
	second, err := a.epochScale(d.SnapshotEpoch, d.SnapshotScale+1)
	if err != nil {
		return 0, err
	}
	firstPortion, err := fixedpoint.WideSub(wide(field(first)), wide(snapshot))
	if err != nil {
		return 0, fmt.Errorf("snapshot ahead of accumulator: %w", ErrCalculation)
	}
	secondPortion := new(uint256.Int).Div(wide(field(second)), fixedpoint.Wide(ScaleFactor))
	sum, err := fixedpoint.WideAdd(firstPortion, secondPortion)
	if err != nil {
		return 0, err
	}
	gain, overflow := new(uint256.Int).MulOverflow(fixedpoint.Wide(d.InitialValue), sum)
	if overflow {
		return 0, fixedpoint.ErrOverflow
	}
	if gain, err = fixedpoint.WideDiv(gain, wide(d.SnapshotP)); err != nil {
		return 0, err
	}
	gain.Div(gain, fixedpoint.Wide(fixedpoint.DecimalPrecision))
	return fixedpoint.Narrow(gain)
}

// depositorCollGain is the collateral earned by d since its snapshot.
func (a accumulator) depositorCollGain(d *Deposit) (uint64, error) {
	if d == nil {
		return 0, nil
	}
	return a.snapshotGain(d, d.SnapshotS, func(r *EpochScale) *uint256.Int { return r.Sum })
}

// depositorRewardGain is the reward token earned by d since its snapshot.
func (a accumulator) depositorRewardGain(d *Deposit) (uint64, error) {
	if d == nil {
		return 0, nil
	}
	return a.snapshotGain(d, d.SnapshotG, func(r *EpochScale) *uint256.Int { return r.G })
}

// compoundedDeposit is the deposit value after every offset since the
// snapshot. Deposits from an earlier epoch were fully consumed.
func (a accumulator) compoundedDeposit(d *Deposit) (uint64, error) {
	if d == nil || d.InitialValue == 0 {
		return 0, nil
	}
	sp := a.sp
	if d.SnapshotEpoch < sp.CurrentEpoch {
		return 0, nil
	}
	if sp.CurrentScale < d.SnapshotScale {
		return 0, fmt.Errorf("snapshot scale ahead of pool: %w", ErrCalculation)
	}
	var compounded *uint256.Int
	switch sp.CurrentScale - d.SnapshotScale {
	case 0:
		compounded = new(uint256.Int).Mul(fixedpoint.Wide(d.InitialValue), wide(sp.P))
	case 1:
		compounded = new(uint256.Int).Mul(fixedpoint.Wide(d.InitialValue), wide(sp.P))
		compounded.Div(compounded, fixedpoint.Wide(ScaleFactor))
	default:
		return 0, nil
	}
	compounded, err := fixedpoint.WideDiv(compounded, wide(d.SnapshotP))
	if err != nil {
		return 0, err
	}
	value, err := fixedpoint.Narrow(compounded)
	if err != nil {
		return 0, err
	}
	if value < d.InitialValue/fixedpoint.DecimalPrecision {
		return 0, nil
	}
	return value, nil
}

// updateDepositAndSnapshot records a new deposit value and syncs its
// snapshot to the current accumulators.
func (a accumulator) updateDepositAndSnapshot(d *Deposit, value uint64) error {
	d.InitialValue = value
	if value == 0 {
		d.SnapshotP = new(uint256.Int)
		d.SnapshotS = new(uint256.Int)
		d.SnapshotG = new(uint256.Int)
		d.SnapshotScale = 0
		d.SnapshotEpoch = 0
	} else {
		sp := a.sp
		record, err := a.epochScale(sp.CurrentEpoch, sp.CurrentScale)
		if err != nil {
			return err
		}
		d.SnapshotP = cloneWide(wide(sp.P))
		d.SnapshotS = cloneWide(wide(record.Sum))
		d.SnapshotG = cloneWide(wide(record.G))
		d.SnapshotScale = sp.CurrentScale
		d.SnapshotEpoch = sp.CurrentEpoch
	}
	if err := a.state.PutDeposit(d); err != nil {
		return err
	}
	a.emit.Emit(events.DepositSnapshotUpdated{
		Depositor: d.Depositor,
		P:         cloneWide(wide(d.SnapshotP)),
		S:         cloneWide(wide(d.SnapshotS)),
		G:         cloneWide(wide(d.SnapshotG)),
	})
	return nil
}

func newDeposit(depositor common.Address) *Deposit {
	return &Deposit{
		Depositor: depositor,
		SnapshotP: new(uint256.Int),
		SnapshotS: new(uint256.Int),
		SnapshotG: new(uint256.Int),
	}
}
