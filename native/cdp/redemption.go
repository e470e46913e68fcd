package cdp

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

// Redemption requests collateral at face value for usvAmount stablecoin.
//
// Candidates walk the sorted list upwards from the tail: candidates[i].Next
// must equal candidates[i-1]. The first candidate is the trove just below
// the redemption range (ICR < MCR), or the zero address when the range
// starts at the tail. Hint positions the last, partially redeemed trove.
type Redemption struct {
	Amount     uint64
	MaxFee     uint64
	Candidates []common.Address
	Hint       Hint
}

type redemptionTotals struct {
	redeemed  uint64
	collDrawn uint64
	gasToBurn uint64
}

// Redeem exchanges stablecoin for collateral drawn from the riskiest troves
// that are still above MCR.
func (e *Engine) Redeem(ctx context.Context, redeemer common.Address, req Redemption) (RedemptionResult, error) {
	var result RedemptionResult
	err := e.execute(ctx, events.OperationRedeemCollateral, func(s *session) error {
		var err error
		result, err = s.redeem(redeemer, req)
		return err
	})
	if err != nil {
		return RedemptionResult{}, err
	}
	e.logger.Info("redemption", "redeemer", redeemer.Hex(), "usv", result.RedeemedUSV, "coll", result.CollSent, "fee", result.CollFee)
	e.telemetry.ObserveRedemption(result.RedeemedUSV, result.CollFee)
	return result, nil
}

func (s *session) redeem(redeemer common.Address, req Redemption) (RedemptionResult, error) {
	pool := s.pool
	params := s.engine.params
	if req.MaxFee < params.RedemptionFeeFloor || req.MaxFee > fixedpoint.DecimalPrecision {
		return RedemptionResult{}, ErrInvalidRedeemMaxFee
	}
	price, err := s.price()
	if err != nil {
		return RedemptionResult{}, err
	}
	tcr, err := pool.TCR(price)
	if err != nil {
		return RedemptionResult{}, err
	}
	if tcr < pool.MCR {
		return RedemptionResult{}, ErrTCRBelowMCR
	}
	if req.Amount == 0 {
		return RedemptionResult{}, ErrZeroRedeemAmount
	}
	balance, err := s.ledger.BalanceOf(AssetUSV, redeemer)
	if err != nil {
		return RedemptionResult{}, err
	}
	if balance < req.Amount {
		return RedemptionResult{}, ErrInsufficientUSVBalance
	}
	supplyAtStart, err := pool.EntireDebt()
	if err != nil {
		return RedemptionResult{}, err
	}

	troves, err := s.skimCandidates(req.Candidates, price)
	if err != nil {
		return RedemptionResult{}, err
	}

	var totals redemptionTotals
	remaining := req.Amount
	for _, trove := range troves {
		if remaining == 0 {
			break
		}
		redeemed, coll, cancelled, err := s.redeemFromTrove(trove, remaining, price, req.Hint)
		if err != nil {
			return RedemptionResult{}, err
		}
		if cancelled {
			break
		}
		totals.redeemed += redeemed
		totals.collDrawn += coll
		remaining -= redeemed
		if !trove.IsActive() {
			totals.gasToBurn += pool.GasCompensation
		}
	}
	if totals.collDrawn == 0 {
		return RedemptionResult{}, ErrZeroCollDrawn
	}

	if _, err := pool.updateBaseRateFromRedemption(totals.collDrawn, price, supplyAtStart, s.now, s.tx); err != nil {
		return RedemptionResult{}, err
	}
	fee, err := pool.RedemptionFee(totals.collDrawn, params)
	if err != nil {
		return RedemptionResult{}, err
	}
	if err := requireUserAcceptsFee(fee, totals.collDrawn, req.MaxFee); err != nil {
		return RedemptionResult{}, err
	}
	toRedeemer := totals.collDrawn - fee

	s.tx.Emit(events.Redemption{
		Redeemer:     redeemer,
		AttemptedUSV: req.Amount,
		ActualUSV:    totals.redeemed,
		CollSent:     toRedeemer,
		CollFee:      fee,
	})
	if pool.ActiveDebt, err = fixedpoint.Sub(pool.ActiveDebt, totals.redeemed); err != nil {
		return RedemptionResult{}, fmt.Errorf("active debt: %w", ErrCalculation)
	}
	if pool.ActiveColl, err = fixedpoint.Sub(pool.ActiveColl, totals.collDrawn); err != nil {
		return RedemptionResult{}, fmt.Errorf("active coll: %w", ErrCalculation)
	}

	if err := s.ledger.Burn(AssetUSV, GasPoolAccount, totals.gasToBurn); err != nil {
		return RedemptionResult{}, err
	}
	if err := s.ledger.Burn(AssetUSV, redeemer, totals.redeemed); err != nil {
		return RedemptionResult{}, err
	}
	if err := s.ledger.Transfer(AssetCollateral, ActivePoolAccount, redeemer, toRedeemer); err != nil {
		return RedemptionResult{}, err
	}
	if err := s.ledger.Transfer(AssetCollateral, ActivePoolAccount, FeeSinkAccount, fee); err != nil {
		return RedemptionResult{}, err
	}
	return RedemptionResult{
		AttemptedUSV: req.Amount,
		RedeemedUSV:  totals.redeemed,
		CollDrawn:    totals.collDrawn,
		CollFee:      fee,
		CollSent:     toRedeemer,
	}, nil
}

// skimCandidates validates the caller supplied walk and returns the troves
// to redeem from, starting at the first one with ICR >= MCR.
func (s *session) skimCandidates(candidates []common.Address, price uint64) ([]*Trove, error) {
	pool := s.pool
	zero := common.Address{}
	start := -1
	troves := make([]*Trove, len(candidates))
	for i, owner := range candidates {
		if owner == zero {
			if i != 0 {
				return nil, fmt.Errorf("%w: zero candidate at %d", ErrInvalidHint, i)
			}
			continue
		}
		trove, err := s.tx.GetTrove(owner)
		if err != nil {
			return nil, err
		}
		if trove == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAccount, owner.Hex())
		}
		if !trove.IsActive() {
			return nil, ErrTroveNotActive
		}
		troves[i] = trove
		icr, err := trove.CurrentICR(pool, price)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			if icr >= pool.MCR {
				return nil, fmt.Errorf("%w: first candidate must be below MCR", ErrInvalidHint)
			}
			continue
		}
		if trove.Next != candidates[i-1] {
			return nil, fmt.Errorf("%w: %s does not precede %s", ErrInvalidHint, owner.Hex(), candidates[i-1].Hex())
		}
		if start < 0 && icr >= pool.MCR {
			start = i
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: no candidate at or above MCR", ErrInvalidHint)
	}
	return troves[start:], nil
}

// redeemFromTrove draws up to remaining stablecoin worth of collateral from
// trove. A partial redemption that would leave less than the minimum net
// debt is cancelled.
func (s *session) redeemFromTrove(trove *Trove, remaining, price uint64, hint Hint) (redeemed, collDrawn uint64, cancelled bool, err error) {
	pool := s.pool
	if err := trove.applyPendingRewards(pool, s.tx); err != nil {
		return 0, 0, false, err
	}
	// Applied rewards persist even when the redemption below is cancelled.
	if err := s.tx.PutTrove(trove); err != nil {
		return 0, 0, false, err
	}
	net, err := pool.NetDebt(trove.Debt)
	if err != nil {
		return 0, 0, false, err
	}
	lot := fixedpoint.Min(remaining, net)
	collLot, err := fixedpoint.MulDiv(lot, fixedpoint.DecimalPrecision, price)
	if err != nil {
		return 0, 0, false, err
	}
	if collLot > trove.Coll {
		return 0, 0, false, fmt.Errorf("collateral lot %d exceeds %d: %w", collLot, trove.Coll, ErrCalculation)
	}
	newDebt := trove.Debt - lot
	newColl := trove.Coll - collLot

	if newDebt == pool.GasCompensation {
		if err := trove.removeStake(pool); err != nil {
			return 0, 0, false, err
		}
		if err := trove.close(pool, TroveClosedByRedemption); err != nil {
			return 0, 0, false, err
		}
		if pool.ActiveDebt, err = fixedpoint.Sub(pool.ActiveDebt, pool.GasCompensation); err != nil {
			return 0, 0, false, fmt.Errorf("active debt: %w", ErrCalculation)
		}
		if err := trove.accountSurplus(newColl, s.tx); err != nil {
			return 0, 0, false, err
		}
		if pool.ActiveColl, err = fixedpoint.Sub(pool.ActiveColl, newColl); err != nil {
			return 0, 0, false, fmt.Errorf("active coll: %w", ErrCalculation)
		}
		if pool.TotalSurplus, err = fixedpoint.Add(pool.TotalSurplus, newColl); err != nil {
			return 0, 0, false, err
		}
		s.tx.Emit(events.TroveUpdated{Owner: trove.Owner, Operation: events.OperationRedeemCollateral})
		if err := s.sorted().remove(trove); err != nil {
			return 0, 0, false, err
		}
		return lot, collLot, false, nil
	}

	newNet, err := pool.NetDebt(newDebt)
	if err != nil {
		return 0, 0, false, err
	}
	if newNet < pool.MinNetDebt {
		return 0, 0, true, nil
	}
	nicr, err := fixedpoint.ComputeNominalCR(newColl, newDebt)
	if err != nil {
		return 0, 0, false, err
	}
	trove.Debt = newDebt
	trove.Coll = newColl
	if _, err := trove.updateStakeAndTotalStakes(pool, s.tx); err != nil {
		return 0, 0, false, err
	}
	s.tx.Emit(events.TroveUpdated{
		Owner:     trove.Owner,
		Debt:      newDebt,
		Coll:      newColl,
		Stake:     trove.Stake,
		Operation: events.OperationRedeemCollateral,
	})
	if err := s.sorted().reinsert(trove, nicr, hint); err != nil {
		return 0, 0, false, err
	}
	return lot, collLot, false, nil
}
