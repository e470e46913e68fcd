package cdp

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

func (t *LiquidationTotals) add(v LiquidationValues) error {
	pairs := []struct {
		dst *uint64
		src uint64
	}{
		{&t.TotalCollInSequence, v.EntireTroveColl},
		{&t.TotalDebtInSequence, v.EntireTroveDebt},
		{&t.TotalCollGasCompensation, v.CollGasCompensation},
		{&t.TotalUSVGasCompensation, v.USVGasCompensation},
		{&t.TotalDebtToOffset, v.DebtToOffset},
		{&t.TotalCollToSendToSP, v.CollToSendToSP},
		{&t.TotalDebtToRedistribute, v.DebtToRedistribute},
		{&t.TotalCollToRedistribute, v.CollToRedistribute},
		{&t.TotalCollSurplus, v.CollSurplus},
	}
	for _, p := range pairs {
		sum, err := fixedpoint.Add(*p.dst, p.src)
		if err != nil {
			return err
		}
		*p.dst = sum
	}
	return nil
}

// offsetAndRedistribute offsets as much debt as the stability pool can
// absorb and leaves the remainder for redistribution.
func offsetAndRedistribute(debt, coll, usvInSP uint64) (offset, collToSP, debtToRedistribute, collToRedistribute uint64, err error) {
	if usvInSP == 0 {
		return 0, 0, debt, coll, nil
	}
	offset = fixedpoint.Min(debt, usvInSP)
	if collToSP, err = fixedpoint.MulDiv(coll, offset, debt); err != nil {
		return 0, 0, 0, 0, err
	}
	return offset, collToSP, debt - offset, coll - collToSP, nil
}

// liquidator runs the per-trove liquidation rules of one sequence.
type liquidator struct {
	s     *session
	price uint64
}

// seize applies pending rewards and removes the trove's stake. It returns
// the entire debt and collateral together with the collateral gas
// compensation.
func (l liquidator) seize(trove *Trove) (LiquidationValues, error) {
	pool := l.s.pool
	debt, coll, pendingDebt, pendingColl, err := trove.EntireDebtAndColl(pool)
	if err != nil {
		return LiquidationValues{}, err
	}
	if err := pool.movePendingToActive(pendingDebt, pendingColl); err != nil {
		return LiquidationValues{}, err
	}
	if err := trove.removeStake(pool); err != nil {
		return LiquidationValues{}, err
	}
	return LiquidationValues{
		EntireTroveDebt:     debt,
		EntireTroveColl:     coll,
		CollGasCompensation: pool.collGasCompensation(coll),
		USVGasCompensation:  pool.GasCompensation,
	}, nil
}

func (l liquidator) closeLiquidated(trove *Trove, v LiquidationValues, operation string) error {
	if err := trove.close(l.s.pool, TroveClosedByLiquidation); err != nil {
		return err
	}
	if err := l.s.sorted().remove(trove); err != nil {
		return err
	}
	l.s.tx.Emit(events.TroveLiquidated{
		Owner:     trove.Owner,
		Debt:      v.EntireTroveDebt,
		Coll:      v.EntireTroveColl,
		Operation: operation,
	})
	l.s.tx.Emit(events.TroveUpdated{Owner: trove.Owner, Operation: operation})
	return nil
}

func (l liquidator) normal(trove *Trove, usvInSP uint64) (LiquidationValues, error) {
	v, err := l.seize(trove)
	if err != nil {
		return LiquidationValues{}, err
	}
	collToLiquidate := v.EntireTroveColl - v.CollGasCompensation
	v.DebtToOffset, v.CollToSendToSP, v.DebtToRedistribute, v.CollToRedistribute, err =
		offsetAndRedistribute(v.EntireTroveDebt, collToLiquidate, usvInSP)
	if err != nil {
		return LiquidationValues{}, err
	}
	if err := l.closeLiquidated(trove, v, events.OperationLiquidateInNormalMode); err != nil {
		return LiquidationValues{}, err
	}
	return v, nil
}

// recovery applies the recovery mode rules. The zero value is returned when
// the trove is left untouched.
func (l liquidator) recovery(trove *Trove, icr, usvInSP, tcr uint64) (LiquidationValues, error) {
	pool := l.s.pool
	if pool.TroveSize <= 1 {
		return LiquidationValues{}, nil
	}
	switch {
	case icr <= fixedpoint.DecimalPrecision:
		v, err := l.seize(trove)
		if err != nil {
			return LiquidationValues{}, err
		}
		v.DebtToRedistribute = v.EntireTroveDebt
		v.CollToRedistribute = v.EntireTroveColl - v.CollGasCompensation
		if err := l.closeLiquidated(trove, v, events.OperationLiquidateInRecoveryMode); err != nil {
			return LiquidationValues{}, err
		}
		return v, nil
	case icr < pool.MCR:
		v, err := l.seize(trove)
		if err != nil {
			return LiquidationValues{}, err
		}
		collToLiquidate := v.EntireTroveColl - v.CollGasCompensation
		v.DebtToOffset, v.CollToSendToSP, v.DebtToRedistribute, v.CollToRedistribute, err =
			offsetAndRedistribute(v.EntireTroveDebt, collToLiquidate, usvInSP)
		if err != nil {
			return LiquidationValues{}, err
		}
		if err := l.closeLiquidated(trove, v, events.OperationLiquidateInRecoveryMode); err != nil {
			return LiquidationValues{}, err
		}
		return v, nil
	case icr < tcr:
		debt, coll, _, _, err := trove.EntireDebtAndColl(pool)
		if err != nil {
			return LiquidationValues{}, err
		}
		if debt > usvInSP {
			return LiquidationValues{}, nil
		}
		if _, err := l.seize(trove); err != nil {
			return LiquidationValues{}, err
		}
		v, err := pool.cappedOffsetValues(debt, coll, l.price)
		if err != nil {
			return LiquidationValues{}, err
		}
		if err := l.closeLiquidated(trove, v, events.OperationLiquidateInRecoveryMode); err != nil {
			return LiquidationValues{}, err
		}
		if v.CollSurplus > 0 {
			if err := trove.accountSurplus(v.CollSurplus, l.s.tx); err != nil {
				return LiquidationValues{}, err
			}
			if err := l.s.tx.PutTrove(trove); err != nil {
				return LiquidationValues{}, err
			}
		}
		return v, nil
	default:
		return LiquidationValues{}, nil
	}
}

// Liquidate liquidates a single trove under the rules of the current mode.
func (e *Engine) Liquidate(ctx context.Context, caller, owner common.Address) (LiquidationTotals, error) {
	var totals LiquidationTotals
	err := e.execute(ctx, "liquidate", func(s *session) error {
		pool := s.pool
		trove, err := s.activeTrove(owner)
		if err != nil {
			return err
		}
		price, err := s.price()
		if err != nil {
			return err
		}
		sp, err := s.stabilityPool()
		if err != nil {
			return err
		}
		l := liquidator{s: s, price: price}
		usvInSP := sp.TotalUSVDeposits
		recovery, err := pool.RecoveryMode(price)
		if err != nil {
			return err
		}
		icr, err := trove.CurrentICR(pool, price)
		if err != nil {
			return err
		}
		var v LiquidationValues
		if !recovery {
			if icr < pool.MCR {
				if v, err = l.normal(trove, usvInSP); err != nil {
					return err
				}
			}
		} else if !(icr >= pool.MCR && usvInSP == 0) {
			tcr, err := pool.TCR(price)
			if err != nil {
				return err
			}
			if v, err = l.recovery(trove, icr, usvInSP, tcr); err != nil {
				return err
			}
		}
		if err := totals.add(v); err != nil {
			return err
		}
		return s.settleLiquidation(sp, caller, totals)
	})
	if err != nil {
		return LiquidationTotals{}, err
	}
	e.logger.Info("trove liquidated", "owner", owner.Hex(), "debt", totals.TotalDebtInSequence, "coll", totals.TotalCollInSequence)
	e.telemetry.ObserveLiquidation(totals.TotalDebtInSequence, totals.TotalCollInSequence)
	return totals, nil
}

// BatchLiquidate liquidates every eligible trove in owners. In recovery mode
// the system totals are tracked as troves are removed, and once the system
// leaves recovery mode the remaining troves follow the normal mode rules.
func (e *Engine) BatchLiquidate(ctx context.Context, caller common.Address, owners []common.Address) (LiquidationTotals, error) {
	var totals LiquidationTotals
	err := e.execute(ctx, "batchLiquidate", func(s *session) error {
		if len(owners) == 0 {
			return ErrLiquidateZeroDebt
		}
		pool := s.pool
		price, err := s.price()
		if err != nil {
			return err
		}
		sp, err := s.stabilityPool()
		if err != nil {
			return err
		}
		l := liquidator{s: s, price: price}
		remaining := sp.TotalUSVDeposits
		recovery, err := pool.RecoveryMode(price)
		if err != nil {
			return err
		}
		systemColl, err := pool.EntireColl()
		if err != nil {
			return err
		}
		systemDebt, err := pool.EntireDebt()
		if err != nil {
			return err
		}
		backToNormal := !recovery
		seen := make(map[common.Address]struct{}, len(owners))
		for _, owner := range owners {
			if _, dup := seen[owner]; dup {
				continue
			}
			seen[owner] = struct{}{}
			trove, err := s.tx.GetTrove(owner)
			if err != nil {
				return err
			}
			if !trove.IsActive() {
				continue
			}
			icr, err := trove.CurrentICR(pool, price)
			if err != nil {
				return err
			}
			var v LiquidationValues
			switch {
			case !backToNormal:
				if icr >= pool.MCR && remaining == 0 {
					continue
				}
				tcr, err := fixedpoint.ComputeCR(systemColl, systemDebt, price)
				if err != nil {
					return err
				}
				if v, err = l.recovery(trove, icr, remaining, tcr); err != nil {
					return err
				}
				if systemDebt, err = fixedpoint.Sub(systemDebt, v.DebtToOffset); err != nil {
					return fmt.Errorf("system debt: %w", ErrCalculation)
				}
				removed := v.CollToSendToSP + v.CollGasCompensation + v.CollSurplus
				if systemColl, err = fixedpoint.Sub(systemColl, removed); err != nil {
					return fmt.Errorf("system coll: %w", ErrCalculation)
				}
				stillRecovery, err := pool.checkRecoveryMode(systemColl, systemDebt, price)
				if err != nil {
					return err
				}
				backToNormal = !stillRecovery
			case icr < pool.MCR:
				if v, err = l.normal(trove, remaining); err != nil {
					return err
				}
			default:
				continue
			}
			remaining -= v.DebtToOffset
			if err := totals.add(v); err != nil {
				return err
			}
		}
		return s.settleLiquidation(sp, caller, totals)
	})
	if err != nil {
		return LiquidationTotals{}, err
	}
	e.logger.Info("batch liquidation", "troves", len(owners), "debt", totals.TotalDebtInSequence, "coll", totals.TotalCollInSequence)
	e.telemetry.ObserveLiquidation(totals.TotalDebtInSequence, totals.TotalCollInSequence)
	return totals, nil
}

// settleLiquidation applies the aggregate of a liquidation sequence to the
// pools and moves the tokens. The system snapshots are taken once offset,
// redistribution and surplus have left the active aggregate, excluding the
// collateral gas compensation that is paid out last.
func (s *session) settleLiquidation(sp *StabilityPool, caller common.Address, totals LiquidationTotals) error {
	pool := s.pool
	if totals.TotalDebtInSequence == 0 {
		return ErrLiquidateZeroDebt
	}
	if totals.TotalDebtToOffset > 0 && sp.TotalUSVDeposits > 0 {
		issuance, err := s.issue()
		if err != nil {
			return err
		}
		if err := s.accumulator(sp).offset(totals.TotalDebtToOffset, totals.TotalCollToSendToSP, issuance); err != nil {
			return err
		}
	}
	if err := pool.moveOffsetToStabilityPool(sp, totals.TotalDebtToOffset, totals.TotalCollToSendToSP, s.tx); err != nil {
		return err
	}
	if err := s.tx.PutStabilityPool(sp); err != nil {
		return err
	}
	if err := pool.redistribute(totals.TotalDebtToRedistribute, totals.TotalCollToRedistribute); err != nil {
		return err
	}
	var err error
	if totals.TotalCollSurplus > 0 {
		if pool.ActiveColl, err = fixedpoint.Sub(pool.ActiveColl, totals.TotalCollSurplus); err != nil {
			return fmt.Errorf("surplus: %w", ErrCalculation)
		}
		if pool.TotalSurplus, err = fixedpoint.Add(pool.TotalSurplus, totals.TotalCollSurplus); err != nil {
			return err
		}
	}
	if err := pool.updateSystemSnapshotsExcludeCollRemainder(totals.TotalCollGasCompensation, s.tx); err != nil {
		return err
	}
	if pool.ActiveColl, err = fixedpoint.Sub(pool.ActiveColl, totals.TotalCollGasCompensation); err != nil {
		return fmt.Errorf("gas compensation: %w", ErrCalculation)
	}
	s.tx.Emit(events.Liquidation{
		Liquidator:          caller,
		LiquidatedDebt:      totals.TotalDebtInSequence,
		LiquidatedColl:      totals.TotalCollInSequence - totals.TotalCollSurplus - totals.TotalCollGasCompensation,
		CollGasCompensation: totals.TotalCollGasCompensation,
		USVGasCompensation:  totals.TotalUSVGasCompensation,
	})

	if err := s.ledger.Transfer(AssetUSV, GasPoolAccount, caller, totals.TotalUSVGasCompensation); err != nil {
		return err
	}
	if err := s.ledger.Transfer(AssetCollateral, ActivePoolAccount, caller, totals.TotalCollGasCompensation); err != nil {
		return err
	}
	if err := s.ledger.Transfer(AssetCollateral, ActivePoolAccount, StabilityPoolAccount, totals.TotalCollToSendToSP); err != nil {
		return err
	}
	return s.ledger.Burn(AssetUSV, StabilityPoolAccount, totals.TotalDebtToOffset)
}
