package cdp

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

func (e *Engine) requireValidMaxFee(maxFee uint64, recovery bool) error {
	if recovery {
		if maxFee > fixedpoint.DecimalPrecision {
			return ErrInvalidMaxFeeRecovery
		}
		return nil
	}
	if maxFee < e.params.BorrowingFeeFloor || maxFee > fixedpoint.DecimalPrecision {
		return ErrInvalidMaxFee
	}
	return nil
}

func requireUserAcceptsFee(fee, amount, maxFee uint64) error {
	if amount == 0 {
		return nil
	}
	percentage, err := fixedpoint.MulDiv(fee, fixedpoint.DecimalPrecision, amount)
	if err != nil {
		return err
	}
	if percentage > maxFee {
		return ErrFeeExceededMax
	}
	return nil
}

// triggerBorrowingFee decays the base rate and prices a debt increase.
func (s *session) triggerBorrowingFee(amount, maxFee uint64) (uint64, error) {
	if err := s.pool.decayBaseRateFromBorrowing(s.now, s.tx); err != nil {
		return 0, err
	}
	fee, err := s.pool.BorrowingFee(amount, s.engine.params)
	if err != nil {
		return 0, err
	}
	if err := requireUserAcceptsFee(fee, amount, maxFee); err != nil {
		return 0, err
	}
	return fee, nil
}

// OpenTrove creates a trove for owner holding coll and borrowing usvAmount.
func (e *Engine) OpenTrove(ctx context.Context, owner common.Address, coll, usvAmount, maxFee uint64, hint Hint) error {
	return e.execute(ctx, events.OperationOpenTrove, func(s *session) error {
		pool := s.pool
		price, err := s.price()
		if err != nil {
			return err
		}
		recovery, err := pool.RecoveryMode(price)
		if err != nil {
			return err
		}
		if err := e.requireValidMaxFee(maxFee, recovery); err != nil {
			return err
		}
		trove, err := s.trove(owner)
		if err != nil {
			return err
		}
		if trove.IsActive() {
			return ErrTroveActive
		}

		var fee uint64
		netDebt := usvAmount
		if !recovery {
			if fee, err = s.triggerBorrowingFee(usvAmount, maxFee); err != nil {
				return err
			}
			if netDebt, err = fixedpoint.Add(netDebt, fee); err != nil {
				return err
			}
		}
		if netDebt < pool.MinNetDebt {
			return ErrDebtLessThanMin
		}
		compositeDebt, err := pool.CompositeDebt(netDebt)
		if err != nil {
			return err
		}
		icr, err := fixedpoint.ComputeCR(coll, compositeDebt, price)
		if err != nil {
			return err
		}
		nicr, err := fixedpoint.ComputeNominalCR(coll, compositeDebt)
		if err != nil {
			return err
		}
		if recovery {
			if icr < pool.CCR {
				return ErrICRBelowCCR
			}
		} else {
			if icr < pool.MCR {
				return ErrICRBelowMCR
			}
			newTCR, err := pool.NewTCRFromTroveChange(coll, true, compositeDebt, true, price)
			if err != nil {
				return err
			}
			if newTCR < pool.CCR {
				return ErrTCRBelowCCR
			}
		}

		surplus := trove.Surplus
		*trove = *newTrove(owner)
		trove.Surplus = surplus
		trove.Status = TroveActive
		trove.Coll = coll
		trove.Debt = compositeDebt
		trove.updateRewardSnapshots(pool, s.tx)
		if _, err := trove.updateStakeAndTotalStakes(pool, s.tx); err != nil {
			return err
		}
		if err := s.sorted().insert(trove, nicr, hint); err != nil {
			return err
		}
		if pool.ActiveColl, err = fixedpoint.Add(pool.ActiveColl, coll); err != nil {
			return err
		}
		if pool.ActiveDebt, err = fixedpoint.Add(pool.ActiveDebt, compositeDebt); err != nil {
			return err
		}

		if err := s.ledger.Mint(AssetUSV, FeeSinkAccount, fee); err != nil {
			return err
		}
		if err := s.ledger.Mint(AssetUSV, owner, usvAmount); err != nil {
			return err
		}
		if err := s.ledger.Transfer(AssetCollateral, owner, ActivePoolAccount, coll); err != nil {
			return err
		}
		if err := s.ledger.Mint(AssetUSV, GasPoolAccount, pool.GasCompensation); err != nil {
			return err
		}

		s.tx.Emit(events.TroveUpdated{
			Owner:     owner,
			Debt:      trove.Debt,
			Coll:      trove.Coll,
			Stake:     trove.Stake,
			Operation: events.OperationOpenTrove,
		})
		s.tx.Emit(events.BorrowingFeePaid{Owner: owner, Fee: fee})
		return nil
	})
}

// Adjustment describes a change to an existing trove.
type Adjustment struct {
	CollDeposit    uint64
	CollWithdrawal uint64
	USVChange      uint64
	IsDebtIncrease bool
	MaxFee         uint64
	Hint           Hint
}

// AdjustTrove changes the collateral and debt of owner's trove.
func (e *Engine) AdjustTrove(ctx context.Context, owner common.Address, adj Adjustment) error {
	return e.execute(ctx, events.OperationAdjustTrove, func(s *session) error {
		return s.adjustTrove(owner, adj)
	})
}

// AddColl deposits collateral into owner's trove.
func (e *Engine) AddColl(ctx context.Context, owner common.Address, amount uint64, hint Hint) error {
	return e.AdjustTrove(ctx, owner, Adjustment{CollDeposit: amount, Hint: hint})
}

// WithdrawColl withdraws collateral from owner's trove.
func (e *Engine) WithdrawColl(ctx context.Context, owner common.Address, amount uint64, hint Hint) error {
	return e.AdjustTrove(ctx, owner, Adjustment{CollWithdrawal: amount, Hint: hint})
}

// WithdrawUSV borrows additional stablecoin against owner's trove.
func (e *Engine) WithdrawUSV(ctx context.Context, owner common.Address, amount, maxFee uint64, hint Hint) error {
	return e.AdjustTrove(ctx, owner, Adjustment{USVChange: amount, IsDebtIncrease: true, MaxFee: maxFee, Hint: hint})
}

// RepayUSV repays stablecoin debt of owner's trove.
func (e *Engine) RepayUSV(ctx context.Context, owner common.Address, amount uint64, hint Hint) error {
	return e.AdjustTrove(ctx, owner, Adjustment{USVChange: amount, Hint: hint})
}

func (s *session) adjustTrove(owner common.Address, adj Adjustment) error {
	pool := s.pool
	e := s.engine
	price, err := s.price()
	if err != nil {
		return err
	}
	recovery, err := pool.RecoveryMode(price)
	if err != nil {
		return err
	}
	if adj.IsDebtIncrease {
		if err := e.requireValidMaxFee(adj.MaxFee, recovery); err != nil {
			return err
		}
		if adj.USVChange == 0 {
			return ErrZeroDebtChange
		}
	}
	if adj.CollDeposit == 0 && adj.CollWithdrawal == 0 && adj.USVChange == 0 {
		return ErrZeroAdjustment
	}
	if adj.CollDeposit != 0 && adj.CollWithdrawal != 0 {
		return fmt.Errorf("%w: cannot deposit and withdraw collateral together", ErrZeroAdjustment)
	}
	trove, err := s.activeTrove(owner)
	if err != nil {
		return err
	}
	if err := trove.applyPendingRewards(pool, s.tx); err != nil {
		return err
	}

	var fee uint64
	netDebtChange := adj.USVChange
	if adj.IsDebtIncrease && !recovery {
		if fee, err = s.triggerBorrowingFee(adj.USVChange, adj.MaxFee); err != nil {
			return err
		}
		if netDebtChange, err = fixedpoint.Add(netDebtChange, fee); err != nil {
			return err
		}
	}

	collChange, collIncrease := adj.CollDeposit, true
	if adj.CollWithdrawal != 0 {
		collChange, collIncrease = adj.CollWithdrawal, false
	}
	if !collIncrease && collChange > trove.Coll {
		return ErrCollWithdrawExceedsColl
	}

	oldICR, err := fixedpoint.ComputeCR(trove.Coll, trove.Debt, price)
	if err != nil {
		return err
	}
	newColl, newDebt, err := newTroveAmounts(trove.Coll, trove.Debt, collChange, collIncrease, netDebtChange, adj.IsDebtIncrease)
	if err != nil {
		return err
	}
	newICR, err := fixedpoint.ComputeCR(newColl, newDebt, price)
	if err != nil {
		return err
	}

	if recovery {
		if !collIncrease && collChange > 0 {
			return ErrRecoveryNoCollWithdraw
		}
		if adj.IsDebtIncrease {
			if newICR < pool.CCR {
				return ErrICRBelowCCR
			}
			if newICR < oldICR {
				return ErrNewICRBelowOldICR
			}
		}
	} else {
		if newICR < pool.MCR {
			return ErrICRBelowMCR
		}
		newTCR, err := pool.NewTCRFromTroveChange(collChange, collIncrease, netDebtChange, adj.IsDebtIncrease, price)
		if err != nil {
			return err
		}
		if newTCR < pool.CCR {
			return ErrTCRBelowCCR
		}
	}

	if !adj.IsDebtIncrease && adj.USVChange > 0 {
		if err := pool.requireValidRepayment(trove.Debt, adj.USVChange); err != nil {
			return err
		}
		net, err := pool.NetDebt(trove.Debt)
		if err != nil {
			return err
		}
		if net-adj.USVChange < pool.MinNetDebt {
			return ErrDebtLessThanMin
		}
		balance, err := s.ledger.BalanceOf(AssetUSV, owner)
		if err != nil {
			return err
		}
		if balance < adj.USVChange {
			return ErrInsufficientUSVBalance
		}
	}

	nicr, err := fixedpoint.ComputeNominalCR(newColl, newDebt)
	if err != nil {
		return err
	}
	trove.Coll = newColl
	trove.Debt = newDebt
	if _, err := trove.updateStakeAndTotalStakes(pool, s.tx); err != nil {
		return err
	}
	if err := s.sorted().reinsert(trove, nicr, adj.Hint); err != nil {
		return err
	}

	s.tx.Emit(events.TroveUpdated{
		Owner:     owner,
		Debt:      trove.Debt,
		Coll:      trove.Coll,
		Stake:     trove.Stake,
		Operation: events.OperationAdjustTrove,
	})
	s.tx.Emit(events.BorrowingFeePaid{Owner: owner, Fee: fee})

	if adj.IsDebtIncrease {
		if pool.ActiveDebt, err = fixedpoint.Add(pool.ActiveDebt, netDebtChange); err != nil {
			return err
		}
	} else if pool.ActiveDebt, err = fixedpoint.Sub(pool.ActiveDebt, adj.USVChange); err != nil {
		return fmt.Errorf("active debt: %w", ErrCalculation)
	}
	if collIncrease {
		if pool.ActiveColl, err = fixedpoint.Add(pool.ActiveColl, collChange); err != nil {
			return err
		}
	} else if pool.ActiveColl, err = fixedpoint.Sub(pool.ActiveColl, collChange); err != nil {
		return fmt.Errorf("active coll: %w", ErrCalculation)
	}

	if err := s.ledger.Mint(AssetUSV, FeeSinkAccount, fee); err != nil {
		return err
	}
	if adj.IsDebtIncrease {
		if err := s.ledger.Mint(AssetUSV, owner, adj.USVChange); err != nil {
			return err
		}
	} else if err := s.ledger.Burn(AssetUSV, owner, adj.USVChange); err != nil {
		return err
	}
	if collIncrease {
		return s.ledger.Transfer(AssetCollateral, owner, ActivePoolAccount, collChange)
	}
	return s.ledger.Transfer(AssetCollateral, ActivePoolAccount, owner, collChange)
}

func newTroveAmounts(coll, debt, collChange uint64, collIncrease bool, debtChange uint64, debtIncrease bool) (uint64, uint64, error) {
	var err error
	if collIncrease {
		coll, err = fixedpoint.Add(coll, collChange)
	} else {
		coll, err = fixedpoint.Sub(coll, collChange)
	}
	if err != nil {
		return 0, 0, err
	}
	if debtIncrease {
		debt, err = fixedpoint.Add(debt, debtChange)
	} else {
		debt, err = fixedpoint.Sub(debt, debtChange)
	}
	if err != nil {
		return 0, 0, ErrInvalidRepayment
	}
	return coll, debt, nil
}

// CloseTrove repays owner's debt and returns the collateral.
func (e *Engine) CloseTrove(ctx context.Context, owner common.Address) error {
	return e.execute(ctx, events.OperationCloseTrove, func(s *session) error {
		pool := s.pool
		trove, err := s.activeTrove(owner)
		if err != nil {
			return err
		}
		price, err := s.price()
		if err != nil {
			return err
		}
		recovery, err := pool.RecoveryMode(price)
		if err != nil {
			return err
		}
		if recovery {
			return ErrInRecoveryMode
		}
		if err := trove.applyPendingRewards(pool, s.tx); err != nil {
			return err
		}
		coll, debt := trove.Coll, trove.Debt
		repayment, err := pool.NetDebt(debt)
		if err != nil {
			return err
		}
		balance, err := s.ledger.BalanceOf(AssetUSV, owner)
		if err != nil {
			return err
		}
		if balance < repayment {
			return ErrInsufficientUSVBalance
		}
		newTCR, err := pool.NewTCRFromTroveChange(coll, false, debt, false, price)
		if err != nil {
			return err
		}
		if newTCR < pool.CCR {
			return ErrTCRBelowCCR
		}

		if err := trove.removeStake(pool); err != nil {
			return err
		}
		if err := trove.close(pool, TroveClosedByOwner); err != nil {
			return err
		}
		if err := s.sorted().remove(trove); err != nil {
			return err
		}
		s.tx.Emit(events.TroveUpdated{Owner: owner, Operation: events.OperationCloseTrove})

		if pool.ActiveDebt, err = fixedpoint.Sub(pool.ActiveDebt, debt); err != nil {
			return fmt.Errorf("active debt: %w", ErrCalculation)
		}
		if pool.ActiveColl, err = fixedpoint.Sub(pool.ActiveColl, coll); err != nil {
			return fmt.Errorf("active coll: %w", ErrCalculation)
		}
		if err := s.ledger.Burn(AssetUSV, owner, repayment); err != nil {
			return err
		}
		if err := s.ledger.Burn(AssetUSV, GasPoolAccount, pool.GasCompensation); err != nil {
			return err
		}
		return s.ledger.Transfer(AssetCollateral, ActivePoolAccount, owner, coll)
	})
}

// ApplyPendingRewards folds redistributed debt and collateral into owner's
// trove.
func (e *Engine) ApplyPendingRewards(ctx context.Context, owner common.Address) error {
	return e.execute(ctx, events.OperationApplyPendingRewards, func(s *session) error {
		trove, err := s.activeTrove(owner)
		if err != nil {
			return err
		}
		if err := trove.applyPendingRewards(s.pool, s.tx); err != nil {
			return err
		}
		return s.tx.PutTrove(trove)
	})
}

// ClaimCollSurplus pays out collateral left over from a capped liquidation
// or a redemption that closed owner's trove.
func (e *Engine) ClaimCollSurplus(ctx context.Context, owner common.Address) (uint64, error) {
	var claimed uint64
	err := e.execute(ctx, "claimCollSurplus", func(s *session) error {
		trove, err := s.tx.GetTrove(owner)
		if err != nil {
			return err
		}
		if trove == nil {
			return ErrInvalidAccount
		}
		claimed = trove.clearSurplus(s.tx)
		if claimed == 0 {
			return nil
		}
		if s.pool.TotalSurplus, err = fixedpoint.Sub(s.pool.TotalSurplus, claimed); err != nil {
			return fmt.Errorf("total surplus: %w", ErrCalculation)
		}
		if err := s.tx.PutTrove(trove); err != nil {
			return err
		}
		return s.ledger.Transfer(AssetCollateral, ActivePoolAccount, owner, claimed)
	})
	if err != nil {
		return 0, err
	}
	return claimed, nil
}
