package pricefeed

import (
	"context"
	"sync"

	"usvprotocol/native/fixedpoint"
)

// StaticPrimary serves a configurable primary reading. The daemon uses it for
// config-pinned feeds and the oracle poller updates it in place.
type StaticPrimary struct {
	mu  sync.RWMutex
	msg PythPrice
}

// NewStaticPrimary constructs a static primary source.
func NewStaticPrimary(msg PythPrice) *StaticPrimary {
	return &StaticPrimary{msg: msg}
}

// Set replaces the served reading.
func (s *StaticPrimary) Set(msg PythPrice) {
	s.mu.Lock()
	s.msg = msg
	s.mu.Unlock()
}

// LatestPrice implements PrimarySource.
func (s *StaticPrimary) LatestPrice(context.Context) (PythPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg, nil
}

// StaticSecondary serves a configurable secondary round.
type StaticSecondary struct {
	mu    sync.RWMutex
	round SecondaryRound
}

// NewStaticSecondary constructs a static secondary source.
func NewStaticSecondary(round SecondaryRound) *StaticSecondary {
	return &StaticSecondary{round: round}
}

// Set replaces the served round.
func (s *StaticSecondary) Set(round SecondaryRound) {
	s.mu.Lock()
	s.round = round
	s.mu.Unlock()
}

// LatestRound implements SecondarySource.
func (s *StaticSecondary) LatestRound(context.Context) (SecondaryRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round, nil
}

// FixedRate converts deposits at a fixed tokens-per-FeedDecimalPrecision rate.
// Stale marks the pool as not updated for the current epoch.
type FixedRate struct {
	mu      sync.RWMutex
	perUnit uint64
	stale   bool
}

// NewFixedRate constructs a rate provider. A perUnit of FeedDecimalPrecision
// is parity.
func NewFixedRate(perUnit uint64) *FixedRate {
	return &FixedRate{perUnit: perUnit}
}

// Set replaces the rate and staleness flag.
func (r *FixedRate) Set(perUnit uint64, stale bool) {
	r.mu.Lock()
	r.perUnit, r.stale = perUnit, stale
	r.mu.Unlock()
}

// PoolTokensForDeposit implements RateProvider.
func (r *FixedRate) PoolTokensForDeposit(_ context.Context, amount uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stale {
		return 0, ErrPoolNotUpdated
	}
	if amount == FeedDecimalPrecision {
		return r.perUnit, nil
	}
	return ratioScale(amount, r.perUnit), nil
}

func ratioScale(amount, perUnit uint64) uint64 {
	out, err := fixedpoint.MulDiv(amount, perUnit, FeedDecimalPrecision)
	if err != nil {
		return 0
	}
	return out
}
