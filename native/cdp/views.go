package cdp

import (
	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/core/events"
)

// TroveView is a trove together with its pending-inclusive amounts.
type TroveView struct {
	Trove       *Trove
	EntireDebt  uint64
	EntireColl  uint64
	PendingDebt uint64
	PendingColl uint64
	NICR        uint64
}

func (e *Engine) readPool() (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNotInitialized
	}
	return pool, nil
}

// Pool returns a copy of the pool state.
func (e *Engine) Pool() (*PoolState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pool, err := e.readPool()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// StabilityPool returns a copy of the stability pool state.
func (e *Engine) StabilityPool() (*StabilityPool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.readPool(); err != nil {
		return nil, err
	}
	sp, err := e.state.GetStabilityPool()
	if err != nil || sp == nil {
		return nil, err
	}
	return sp.Clone(), nil
}

// Issuance returns a copy of the reward issuance state.
func (e *Engine) Issuance() (*Issuance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.readPool(); err != nil {
		return nil, err
	}
	issuance, err := e.state.GetIssuance()
	if err != nil || issuance == nil {
		return nil, err
	}
	return issuance.Clone(), nil
}

// Trove returns owner's trove, or nil when it never existed.
func (e *Engine) Trove(owner common.Address) (*TroveView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pool, err := e.readPool()
	if err != nil {
		return nil, err
	}
	trove, err := e.state.GetTrove(owner)
	if err != nil || trove == nil {
		return nil, err
	}
	return troveView(pool, trove.Clone())
}

func troveView(pool *PoolState, trove *Trove) (*TroveView, error) {
	debt, coll, pendingDebt, pendingColl, err := trove.EntireDebtAndColl(pool)
	if err != nil {
		return nil, err
	}
	nicr, err := trove.CurrentNICR(pool)
	if err != nil {
		return nil, err
	}
	return &TroveView{
		Trove:       trove,
		EntireDebt:  debt,
		EntireColl:  coll,
		PendingDebt: pendingDebt,
		PendingColl: pendingColl,
		NICR:        nicr,
	}, nil
}

// PendingRewards returns the redistributed debt and collateral owner's
// trove has not applied yet.
func (e *Engine) PendingRewards(owner common.Address) (debt, coll uint64, err error) {
	view, err := e.Trove(owner)
	if err != nil || view == nil {
		return 0, 0, err
	}
	return view.PendingDebt, view.PendingColl, nil
}

// SortedTroves lists up to limit troves from the head of the sorted list.
// A non-positive limit lists them all.
func (e *Engine) SortedTroves(limit int) ([]*TroveView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pool, err := e.readPool()
	if err != nil {
		return nil, err
	}
	var out []*TroveView
	list := sortedTroves{state: e.state, pool: pool, emit: events.NoopEmitter{}}
	err = list.walk(limit, func(t *Trove) error {
		view, err := troveView(pool, t.Clone())
		if err != nil {
			return err
		}
		out = append(out, view)
		return nil
	})
	return out, err
}

// FindInsertPosition returns a hint for nicr computed by scanning from the
// head. exclude is skipped so a trove can look up its own new position.
func (e *Engine) FindInsertPosition(nicr uint64, exclude common.Address) (Hint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pool, err := e.readPool()
	if err != nil {
		return Hint{}, err
	}
	list := sortedTroves{state: e.state, pool: pool, emit: events.NoopEmitter{}}
	return list.findInsertPosition(nicr, exclude)
}

// TCR returns the total collateral ratio at price.
func (e *Engine) TCR(price uint64) (uint64, error) {
	pool, err := e.Pool()
	if err != nil {
		return 0, err
	}
	return pool.TCR(price)
}

// RecoveryMode reports whether the system is in recovery mode at price.
func (e *Engine) RecoveryMode(price uint64) (bool, error) {
	pool, err := e.Pool()
	if err != nil {
		return false, err
	}
	return pool.RecoveryMode(price)
}

// Deposit returns depositor's stability pool record, or nil.
func (e *Engine) Deposit(depositor common.Address) (*Deposit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.readPool(); err != nil {
		return nil, err
	}
	d, err := e.state.GetDeposit(depositor)
	if err != nil || d == nil {
		return nil, err
	}
	return d.Clone(), nil
}

// DepositorGains derives depositor's compounded deposit and unclaimed
// gains without mutating state.
func (e *Engine) DepositorGains(depositor common.Address) (DepositorGains, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.readPool(); err != nil {
		return DepositorGains{}, err
	}
	sp, err := e.state.GetStabilityPool()
	if err != nil {
		return DepositorGains{}, err
	}
	if sp == nil {
		return DepositorGains{}, ErrNotInitialized
	}
	d, err := e.state.GetDeposit(depositor)
	if err != nil || d == nil {
		return DepositorGains{}, err
	}
	acc := accumulator{state: e.state, sp: sp, emit: events.NoopEmitter{}}
	compounded, err := acc.compoundedDeposit(d)
	if err != nil {
		return DepositorGains{}, err
	}
	collGain, err := acc.depositorCollGain(d)
	if err != nil {
		return DepositorGains{}, err
	}
	rewardGain, err := acc.depositorRewardGain(d)
	if err != nil {
		return DepositorGains{}, err
	}
	return DepositorGains{
		CompoundedDeposit: compounded,
		CollGain:          collGain,
		RewardGain:        rewardGain,
		ClaimableColl:     d.ClaimableColl,
		ClaimableReward:   d.ClaimableReward,
	}, nil
}

// Balance returns the ledger balance of addr.
func (e *Engine) Balance(asset Asset, addr common.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.GetBalance(asset, addr)
}
