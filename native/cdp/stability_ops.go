package cdp

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

// settleDeposit crystallises the gains of d since its last snapshot and
// returns the compounded deposit and the deposit loss.
func (s *session) settleDeposit(acc accumulator, d *Deposit) (compounded, collGain, loss uint64, err error) {
	if collGain, err = acc.depositorCollGain(d); err != nil {
		return 0, 0, 0, err
	}
	rewardGain, err := acc.depositorRewardGain(d)
	if err != nil {
		return 0, 0, 0, err
	}
	if compounded, err = acc.compoundedDeposit(d); err != nil {
		return 0, 0, 0, err
	}
	loss = d.InitialValue - compounded
	s.tx.Emit(events.RewardPaidToDepositor{Depositor: d.Depositor, Amount: rewardGain})

	if d.ClaimableColl, err = fixedpoint.Add(d.ClaimableColl, collGain); err != nil {
		return 0, 0, 0, err
	}
	if d.ClaimableReward, err = fixedpoint.Add(d.ClaimableReward, rewardGain); err != nil {
		return 0, 0, 0, err
	}
	if acc.sp.TotalCollateral, err = fixedpoint.Sub(acc.sp.TotalCollateral, collGain); err != nil {
		return 0, 0, 0, fmt.Errorf("stability pool collateral: %w", ErrCalculation)
	}
	s.tx.Emit(events.StabilityPoolCollUpdated{Total: acc.sp.TotalCollateral})
	return compounded, collGain, loss, nil
}

func (s *session) depositFor(depositor common.Address) (*Deposit, error) {
	d, err := s.tx.GetDeposit(depositor)
	if err != nil {
		return nil, err
	}
	if d == nil {
		d = newDeposit(depositor)
	}
	return d, nil
}

// ProvideToSP deposits amount stablecoin into the stability pool.
func (e *Engine) ProvideToSP(ctx context.Context, depositor common.Address, amount uint64) error {
	return e.execute(ctx, "provideToSP", func(s *session) error {
		if amount == 0 {
			return ErrZeroAmount
		}
		sp, err := s.stabilityPool()
		if err != nil {
			return err
		}
		acc := s.accumulator(sp)
		issuance, err := s.issue()
		if err != nil {
			return err
		}
		if err := acc.updateG(issuance); err != nil {
			return err
		}
		d, err := s.depositFor(depositor)
		if err != nil {
			return err
		}
		compounded, collGain, loss, err := s.settleDeposit(acc, d)
		if err != nil {
			return err
		}
		if sp.TotalUSVDeposits, err = fixedpoint.Add(sp.TotalUSVDeposits, amount); err != nil {
			return err
		}
		s.tx.Emit(events.StabilityPoolUSVUpdated{Total: sp.TotalUSVDeposits})
		newValue, err := fixedpoint.Add(compounded, amount)
		if err != nil {
			return err
		}
		if err := acc.updateDepositAndSnapshot(d, newValue); err != nil {
			return err
		}
		if err := s.tx.PutStabilityPool(sp); err != nil {
			return err
		}
		if err := s.ledger.Transfer(AssetUSV, depositor, StabilityPoolAccount, amount); err != nil {
			return err
		}
		s.tx.Emit(events.UserDepositChanged{Depositor: depositor, Deposit: newValue})
		s.tx.Emit(events.CollGainWithdrawn{Depositor: depositor, Coll: collGain, USVLoss: loss})
		return nil
	})
}

// WithdrawFromSP withdraws up to amount of the compounded deposit. A zero
// amount only crystallises gains. Withdrawals are refused while the lowest
// trove is below MCR; lowest must name the list tail.
func (e *Engine) WithdrawFromSP(ctx context.Context, depositor common.Address, amount uint64, lowest common.Address) error {
	return e.execute(ctx, "withdrawFromSP", func(s *session) error {
		sp, err := s.stabilityPool()
		if err != nil {
			return err
		}
		acc := s.accumulator(sp)
		issuance, err := s.issue()
		if err != nil {
			return err
		}
		if err := acc.updateG(issuance); err != nil {
			return err
		}
		d, err := s.depositFor(depositor)
		if err != nil {
			return err
		}
		if d.InitialValue == 0 {
			return ErrZeroDeposit
		}
		if amount > 0 {
			if err := s.requireNoUnderCollateralizedTroves(lowest); err != nil {
				return err
			}
		}
		compounded, collGain, loss, err := s.settleDeposit(acc, d)
		if err != nil {
			return err
		}
		toWithdraw := fixedpoint.Min(amount, compounded)
		newValue := compounded - toWithdraw
		if sp.TotalUSVDeposits, err = fixedpoint.Sub(sp.TotalUSVDeposits, toWithdraw); err != nil {
			return fmt.Errorf("stability pool deposits: %w", ErrCalculation)
		}
		s.tx.Emit(events.StabilityPoolUSVUpdated{Total: sp.TotalUSVDeposits})
		if err := acc.updateDepositAndSnapshot(d, newValue); err != nil {
			return err
		}
		if err := s.tx.PutStabilityPool(sp); err != nil {
			return err
		}
		if err := s.ledger.Transfer(AssetUSV, StabilityPoolAccount, depositor, toWithdraw); err != nil {
			return err
		}
		s.tx.Emit(events.UserDepositChanged{Depositor: depositor, Deposit: newValue})
		s.tx.Emit(events.CollGainWithdrawn{Depositor: depositor, Coll: collGain, USVLoss: loss})
		return nil
	})
}

func (s *session) requireNoUnderCollateralizedTroves(lowest common.Address) error {
	tail := s.pool.TroveTail
	if tail == (common.Address{}) {
		return nil
	}
	if lowest != tail {
		return ErrInvalidLowestTrove
	}
	trove, err := s.activeTrove(tail)
	if err != nil {
		return err
	}
	price, err := s.price()
	if err != nil {
		return err
	}
	icr, err := trove.CurrentICR(s.pool, price)
	if err != nil {
		return err
	}
	if icr < s.pool.MCR {
		return ErrTroveUnderCollateral
	}
	return nil
}

// ClaimSPGains pays out the crystallised collateral and reward gains of
// depositor.
func (e *Engine) ClaimSPGains(ctx context.Context, depositor common.Address) (coll, reward uint64, err error) {
	err = e.execute(ctx, "claimSPGains", func(s *session) error {
		d, err := s.tx.GetDeposit(depositor)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrZeroDeposit
		}
		coll, reward = d.ClaimableColl, d.ClaimableReward
		d.ClaimableColl = 0
		d.ClaimableReward = 0
		if err := s.tx.PutDeposit(d); err != nil {
			return err
		}
		if err := s.ledger.Transfer(AssetReward, IssuanceVaultAccount, depositor, reward); err != nil {
			return err
		}
		return s.ledger.Transfer(AssetCollateral, StabilityPoolAccount, depositor, coll)
	})
	if err != nil {
		return 0, 0, err
	}
	return coll, reward, nil
}
