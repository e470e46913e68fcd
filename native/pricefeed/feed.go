// Package pricefeed blends a confidence-interval primary source and a
// round-based secondary source into one validated price. A five state
// failover machine decides which source is trusted on each fetch and falls
// back to the last good price whenever neither yields trustworthy data.
package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

// Feed owns the failover state. It is safe for concurrent use.
type Feed struct {
	mu        sync.Mutex
	state     State
	primary   PrimarySource
	secondary SecondarySource
	rate      RateProvider
	store     Store
	emitter   events.Emitter
	logger    *slog.Logger
	// pending holds events of the transition in progress until it commits.
	pending events.Buffer
}

// Option configures a Feed.
type Option func(*Feed)

// WithStore persists state after every change.
func WithStore(store Store) Option {
	return func(f *Feed) { f.store = store }
}

// WithEmitter routes status and price events.
func WithEmitter(emitter events.Emitter) Option {
	return func(f *Feed) {
		if emitter != nil {
			f.emitter = emitter
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDevPrice puts the feed in dev mode, returning price from every fetch.
func WithDevPrice(price uint64) Option {
	return func(f *Feed) {
		if price == 0 {
			price = DefaultDevPrice
		}
		f.state.IsDev = true
		f.state.DevPrice = price
	}
}

// NewFeed constructs a feed over the supplied sources. Persisted state, when a
// store is configured, replaces the initial state.
func NewFeed(primary PrimarySource, secondary SecondarySource, rate RateProvider, opts ...Option) (*Feed, error) {
	f := &Feed{
		primary:   primary,
		secondary: secondary,
		rate:      rate,
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.store != nil {
		stored, ok, err := f.store.LoadPriceFeed()
		if err != nil {
			return nil, fmt.Errorf("pricefeed: load state: %w", err)
		}
		if ok {
			dev, devPrice := f.state.IsDev, f.state.DevPrice
			f.state = stored
			if dev {
				f.state.IsDev, f.state.DevPrice = true, devPrice
			}
		}
	}
	return f, nil
}

// State returns a copy of the feed state.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Init requires a live primary reading and seeds the last good price from it.
func (f *Feed) Init(ctx context.Context, now int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.IsDev {
		f.state.Initialized = true
		return f.persist()
	}
	msg, err := f.primary.LatestPrice(ctx)
	if err != nil {
		return fmt.Errorf("pricefeed: primary: %w", err)
	}
	if isPythBroken(msg, now) || isPythFrozen(msg, now) {
		return ErrPrimaryNotWorking
	}
	before := f.state
	f.state.Status = StatusPythWorking
	f.state.Initialized = true
	if _, err := f.updatePrice(uint64(msg.Price)); err != nil {
		f.rollback(before)
		return err
	}
	return f.commit(before)
}

// FetchPrice reads both sources, advances the failover machine and returns
// the price at target precision.
func (f *Feed) FetchPrice(ctx context.Context, now int64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.IsDev {
		return f.state.DevPrice, nil
	}
	if !f.state.Initialized {
		return 0, ErrNotInitialized
	}
	round, err := f.secondary.LatestRound(ctx)
	if err != nil {
		return 0, fmt.Errorf("pricefeed: secondary: %w", err)
	}
	secondaryPrice, err := f.secondaryPrice(ctx, round)
	if err != nil {
		return 0, err
	}
	msg, err := f.primary.LatestPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("pricefeed: primary: %w", err)
	}
	before := f.state
	price, err := f.update(msg, round, secondaryPrice, now)
	if err != nil {
		f.rollback(before)
		f.logger.Error("price feed rejected reading", "primary", msg.Price, "secondary", round.Answer, "error", err)
		return 0, err
	}
	if before == f.state {
		f.pending.FlushTo(f.emitter)
		return price, nil
	}
	if err := f.commit(before); err != nil {
		return 0, err
	}
	return price, nil
}

// DevChangePrice overrides the dev price.
func (f *Feed) DevChangePrice(price uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.IsDev {
		return ErrOnlyDevMode
	}
	f.state.DevPrice = price
	return f.persist()
}

func (f *Feed) secondaryPrice(ctx context.Context, round SecondaryRound) (uint64, error) {
	if round.Answer <= 0 {
		return 0, nil
	}
	rate, err := f.rate.PoolTokensForDeposit(ctx, FeedDecimalPrecision)
	if err != nil {
		return 0, fmt.Errorf("pricefeed: rate: %w", err)
	}
	if rate == 0 {
		return 0, ErrInvalidRate
	}
	price, err := fixedpoint.MulDiv(uint64(round.Answer), FeedDecimalPrecision, rate)
	if err != nil {
		return 0, fmt.Errorf("pricefeed: convert answer: %w", err)
	}
	return price, nil
}

func (f *Feed) persist() error {
	if f.store == nil {
		return nil
	}
	if err := f.store.StorePriceFeed(f.state); err != nil {
		return fmt.Errorf("pricefeed: store state: %w", err)
	}
	return nil
}

// commit persists the new state and releases the staged events. A failed
// write restores before.
func (f *Feed) commit(before State) error {
	if err := f.persist(); err != nil {
		f.rollback(before)
		return err
	}
	for _, evt := range f.pending.Events() {
		if changed, ok := evt.(events.PriceFeedStatusChanged); ok {
			f.logger.Info("price feed status changed", "from", changed.From, "to", changed.To)
		}
	}
	f.pending.FlushTo(f.emitter)
	return nil
}

func (f *Feed) rollback(before State) {
	f.state = before
	f.pending.FlushTo(nil)
}

func (f *Feed) setStatus(status Status) {
	if f.state.Status == status {
		return
	}
	f.pending.Emit(events.PriceFeedStatusChanged{From: f.state.Status.String(), To: status.String()})
	f.state.Status = status
}

func (f *Feed) updatePrice(price uint64) (uint64, error) {
	scaled, err := fixedpoint.MulDiv(price, TargetDecimalPrecision, FeedDecimalPrecision)
	if err != nil {
		return 0, fmt.Errorf("pricefeed: rescale price %d: %w", price, err)
	}
	f.state.LastGoodPrice = scaled
	f.pending.Emit(events.LastGoodPriceUpdated{Price: scaled})
	return scaled, nil
}

// ratio saturates on overflow. Its callers compare the result against an
// upper bound, so a saturated value rejects the reading. Never use it to
// produce a price.
func ratio(num, den uint64) uint64 {
	out, err := fixedpoint.MulDiv(num, FeedDecimalPrecision, den)
	if err != nil {
		return math.MaxUint64
	}
	return out
}
