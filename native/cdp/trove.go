package cdp

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

func newTrove(owner common.Address) *Trove {
	return &Trove{
		Owner:        owner,
		SnapshotColl: new(uint256.Int),
		SnapshotDebt: new(uint256.Int),
	}
}

// IsActive reports whether the trove is open.
func (t *Trove) IsActive() bool { return t != nil && t.Status == TroveActive }

func (t *Trove) pendingReward(accumulator, snapshot *uint256.Int) (uint64, error) {
	if !t.IsActive() {
		return 0, nil
	}
	acc := wide(accumulator)
	snap := wide(snapshot)
	if acc.Cmp(snap) <= 0 {
		return 0, nil
	}
	delta := new(uint256.Int).Sub(acc, snap)
	reward, err := fixedpoint.WideMul(fixedpoint.Wide(t.Stake), delta)
	if err != nil {
		return 0, err
	}
	reward, err = fixedpoint.WideDiv(reward, fixedpoint.Wide(fixedpoint.DecimalPrecision))
	if err != nil {
		return 0, err
	}
	return fixedpoint.Narrow(reward)
}

// PendingCollReward returns redistributed collateral not yet applied.
func (t *Trove) PendingCollReward(pool *PoolState) (uint64, error) {
	return t.pendingReward(pool.LColl, t.SnapshotColl)
}

// PendingDebtReward returns redistributed debt not yet applied.
func (t *Trove) PendingDebtReward(pool *PoolState) (uint64, error) {
	return t.pendingReward(pool.LUSVDebt, t.SnapshotDebt)
}

// HasPendingRewards reports whether the trove lags the redistribution
// accumulators.
func (t *Trove) HasPendingRewards(pool *PoolState) bool {
	if !t.IsActive() {
		return false
	}
	return wide(t.SnapshotColl).Cmp(wide(pool.LColl)) < 0
}

// EntireDebtAndColl returns the trove amounts including pending rewards,
// together with the pending parts themselves.
func (t *Trove) EntireDebtAndColl(pool *PoolState) (debt, coll, pendingDebt, pendingColl uint64, err error) {
	if pendingDebt, err = t.PendingDebtReward(pool); err != nil {
		return 0, 0, 0, 0, err
	}
	if pendingColl, err = t.PendingCollReward(pool); err != nil {
		return 0, 0, 0, 0, err
	}
	if debt, err = fixedpoint.Add(t.Debt, pendingDebt); err != nil {
		return 0, 0, 0, 0, err
	}
	if coll, err = fixedpoint.Add(t.Coll, pendingColl); err != nil {
		return 0, 0, 0, 0, err
	}
	return debt, coll, pendingDebt, pendingColl, nil
}

// CurrentICR is the individual collateral ratio including pending rewards.
func (t *Trove) CurrentICR(pool *PoolState, price uint64) (uint64, error) {
	debt, coll, _, _, err := t.EntireDebtAndColl(pool)
	if err != nil {
		return 0, err
	}
	return fixedpoint.ComputeCR(coll, debt, price)
}

// CurrentNICR is the nominal collateral ratio including pending rewards.
func (t *Trove) CurrentNICR(pool *PoolState) (uint64, error) {
	debt, coll, _, _, err := t.EntireDebtAndColl(pool)
	if err != nil {
		return 0, err
	}
	return fixedpoint.ComputeNominalCR(coll, debt)
}

func (t *Trove) updateRewardSnapshots(pool *PoolState, emit events.Emitter) {
	t.SnapshotColl = cloneWide(wide(pool.LColl))
	t.SnapshotDebt = cloneWide(wide(pool.LUSVDebt))
	emit.Emit(events.TroveSnapshotsUpdated{
		Owner:    t.Owner,
		LColl:    cloneWide(t.SnapshotColl),
		LUSVDebt: cloneWide(t.SnapshotDebt),
	})
}

func (t *Trove) computeNewStake(pool *PoolState, coll uint64) (uint64, error) {
	if pool.TotalCollSnapshot == 0 {
		return coll, nil
	}
	return fixedpoint.MulDiv(coll, pool.TotalStakesSnapshot, pool.TotalCollSnapshot)
}

func (t *Trove) updateStakeAndTotalStakes(pool *PoolState, emit events.Emitter) (uint64, error) {
	stake, err := t.computeNewStake(pool, t.Coll)
	if err != nil {
		return 0, err
	}
	total, err := fixedpoint.Sub(pool.TotalStakes, t.Stake)
	if err != nil {
		return 0, fmt.Errorf("total stakes: %w", ErrCalculation)
	}
	if total, err = fixedpoint.Add(total, stake); err != nil {
		return 0, err
	}
	t.Stake = stake
	pool.TotalStakes = total
	emit.Emit(events.TotalStakesUpdated{TotalStakes: total})
	return stake, nil
}

func (t *Trove) removeStake(pool *PoolState) error {
	total, err := fixedpoint.Sub(pool.TotalStakes, t.Stake)
	if err != nil {
		return fmt.Errorf("remove stake: %w", ErrCalculation)
	}
	pool.TotalStakes = total
	t.Stake = 0
	return nil
}

func (t *Trove) close(pool *PoolState, status TroveStatus) error {
	if pool.TroveSize <= 1 {
		return ErrOnlyOneTrove
	}
	t.Status = status
	t.Coll = 0
	t.Debt = 0
	t.SnapshotColl = new(uint256.Int)
	t.SnapshotDebt = new(uint256.Int)
	return nil
}

// applyPendingRewards folds redistributed debt and collateral into the trove.
// Calling it twice without an intervening redistribution is a no-op.
func (t *Trove) applyPendingRewards(pool *PoolState, emit events.Emitter) error {
	if !t.HasPendingRewards(pool) {
		return nil
	}
	if !t.IsActive() {
		return ErrTroveNotActive
	}
	pendingColl, err := t.PendingCollReward(pool)
	if err != nil {
		return err
	}
	pendingDebt, err := t.PendingDebtReward(pool)
	if err != nil {
		return err
	}
	if t.Coll, err = fixedpoint.Add(t.Coll, pendingColl); err != nil {
		return err
	}
	if t.Debt, err = fixedpoint.Add(t.Debt, pendingDebt); err != nil {
		return err
	}
	t.updateRewardSnapshots(pool, emit)
	if err := pool.movePendingToActive(pendingDebt, pendingColl); err != nil {
		return err
	}
	emit.Emit(events.TroveUpdated{
		Owner:     t.Owner,
		Debt:      t.Debt,
		Coll:      t.Coll,
		Stake:     t.Stake,
		Operation: events.OperationApplyPendingRewards,
	})
	return nil
}

func (t *Trove) accountSurplus(amount uint64, emit events.Emitter) error {
	balance, err := fixedpoint.Add(t.Surplus, amount)
	if err != nil {
		return err
	}
	t.Surplus = balance
	emit.Emit(events.SurplusUpdated{Owner: t.Owner, Balance: balance})
	return nil
}

func (t *Trove) clearSurplus(emit events.Emitter) uint64 {
	amount := t.Surplus
	if amount == 0 {
		return 0
	}
	t.Surplus = 0
	emit.Emit(events.SurplusUpdated{Owner: t.Owner, Balance: 0})
	emit.Emit(events.SurplusSent{To: t.Owner, Amount: amount})
	return amount
}
