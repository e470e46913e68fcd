// Package cdp implements the collateralised debt engine: troves and their
// sorted list, liquidation with stability pool offset and redistribution,
// redemption at face value, and the stability pool product-sum accumulator.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/core/events"
	nativecommon "usvprotocol/native/common"
	"usvprotocol/observability/metrics"
)

const moduleName = "cdp"

// PriceSource supplies the collateral price scaled to 1e9.
type PriceSource interface {
	FetchPrice(ctx context.Context, now int64) (uint64, error)
}

// DevPriceSetter is implemented by price sources that accept a manual
// price in dev mode.
type DevPriceSetter interface {
	DevChangePrice(price uint64) error
}

// Engine orchestrates the state transitions of a single market. Every
// mutating call runs under the engine mutex inside its own transaction and
// either commits completely or leaves the state untouched.
type Engine struct {
	mu           sync.Mutex
	state        State
	params       Params
	oracle       PriceSource
	pauses       nativecommon.PauseView
	emitter      events.Emitter
	logger       *slog.Logger
	clock        func() time.Time
	devTimestamp uint64
	telemetry    *metrics.CDPMetrics
}

// NewEngine constructs an engine for params. Zero parameters take the
// protocol defaults.
func NewEngine(params Params) *Engine {
	params.EnsureDefaults()
	return &Engine{
		params:    params,
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		clock:     time.Now,
		telemetry: metrics.CDP(),
	}
}

func (e *Engine) SetState(state State) { e.state = state }

func (e *Engine) SetOracle(oracle PriceSource) { e.oracle = oracle }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter routes committed events to emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetClock overrides the wall clock used for fee decay and issuance.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// Params returns the market configuration.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) now() uint64 {
	if e.devTimestamp != 0 {
		return e.devTimestamp
	}
	ts := e.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Init creates the pool, stability pool and issuance records.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.params.Validate(); err != nil {
		return err
	}
	return e.execute(ctx, "init", func(s *session) error {
		existing, err := s.tx.GetPool()
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyInitialized
		}
		s.pool = newPoolState(e.params, s.now)
		if err := s.tx.PutStabilityPool(newStabilityPool()); err != nil {
			return err
		}
		return s.tx.PutIssuance(newIssuance(e.params, s.now))
	})
}

// FundIssuance mints reward tokens into the issuance vault.
func (e *Engine) FundIssuance(ctx context.Context, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return e.execute(ctx, "fundIssuance", func(s *session) error {
		return s.ledger.Mint(AssetReward, IssuanceVaultAccount, amount)
	})
}

// MintCollateral credits collateral to an account. It stands in for the
// bridge that brings external collateral onto the ledger.
func (e *Engine) MintCollateral(ctx context.Context, to common.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return e.execute(ctx, "mintCollateral", func(s *session) error {
		return s.ledger.Mint(AssetCollateral, to, amount)
	})
}

// FetchPrice returns the current oracle price.
func (e *Engine) FetchPrice(ctx context.Context) (uint64, error) {
	if e == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetchPrice(ctx, e.now())
}

func (e *Engine) fetchPrice(ctx context.Context, now uint64) (uint64, error) {
	if e.oracle == nil {
		return 0, errNilOracle
	}
	price, err := e.oracle.FetchPrice(ctx, int64(now))
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	return price, nil
}

// DevChangePrice overrides the oracle price when running in dev mode.
func (e *Engine) DevChangePrice(price uint64) error {
	if !e.params.DevMode {
		return ErrOnlyDevMode
	}
	setter, ok := e.oracle.(DevPriceSetter)
	if !ok {
		return ErrOnlyDevMode
	}
	return setter.DevChangePrice(price)
}

// DevSetTimestamp pins the engine clock when running in dev mode. Zero
// returns control to the wall clock.
func (e *Engine) DevSetTimestamp(ts uint64) error {
	if !e.params.DevMode {
		return ErrOnlyDevMode
	}
	e.mu.Lock()
	e.devTimestamp = ts
	e.mu.Unlock()
	return nil
}

// session carries the per-operation transaction and the records most
// operations touch.
type session struct {
	ctx    context.Context
	tx     *txn
	now    uint64
	pool   *PoolState
	ledger Ledger
	engine *Engine

	lastPrice uint64
}

func (s *session) stabilityPool() (*StabilityPool, error) {
	sp, err := s.tx.GetStabilityPool()
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, ErrNotInitialized
	}
	return sp, nil
}

func (s *session) issuance() (*Issuance, error) {
	issuance, err := s.tx.GetIssuance()
	if err != nil {
		return nil, err
	}
	if issuance == nil {
		return nil, ErrNotInitialized
	}
	return issuance, nil
}

func (s *session) price() (uint64, error) {
	price, err := s.engine.fetchPrice(s.ctx, s.now)
	if err != nil {
		return 0, err
	}
	s.lastPrice = price
	return price, nil
}

func (s *session) sorted() sortedTroves {
	return sortedTroves{state: s.tx, pool: s.pool, emit: s.tx}
}

func (s *session) accumulator(sp *StabilityPool) accumulator {
	return accumulator{state: s.tx, sp: sp, emit: s.tx}
}

func (s *session) trove(owner common.Address) (*Trove, error) {
	trove, err := s.tx.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if trove == nil {
		trove = newTrove(owner)
	}
	return trove, nil
}

func (s *session) activeTrove(owner common.Address) (*Trove, error) {
	trove, err := s.trove(owner)
	if err != nil {
		return nil, err
	}
	if !trove.IsActive() {
		return nil, ErrTroveNotActive
	}
	return trove, nil
}

// issue accrues rewards and returns the amount for updateG.
func (s *session) issue() (uint64, error) {
	issuance, err := s.issuance()
	if err != nil {
		return 0, err
	}
	amount, err := issuance.issue(s.now, s.tx)
	if err != nil {
		return 0, err
	}
	if err := s.tx.PutIssuance(issuance); err != nil {
		return 0, err
	}
	return amount, nil
}

func (e *Engine) execute(ctx context.Context, operation string, fn func(*session) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := newTxn(e.state)
	s := &session{ctx: ctx, tx: tx, now: e.now(), ledger: NewLedger(tx), engine: e}
	if operation != "init" {
		pool, err := tx.GetPool()
		if err != nil {
			return err
		}
		if pool == nil {
			return ErrNotInitialized
		}
		s.pool = pool
	}
	if err := fn(s); err != nil {
		e.telemetry.ObserveOperationError(operation, IsFatal(err))
		level := slog.LevelDebug
		if IsFatal(err) {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "cdp operation rejected", "operation", operation, "error", err)
		return err
	}
	if err := tx.PutPool(s.pool); err != nil {
		return err
	}
	if err := tx.commit(); err != nil {
		return fmt.Errorf("cdp: commit %s: %w", operation, err)
	}
	tx.events.FlushTo(e.emitter)
	e.observe(operation, s)
	return nil
}

// observe publishes the committed aggregates. TCR is only reported when the
// operation fetched a price.
func (e *Engine) observe(operation string, s *session) {
	e.telemetry.ObserveOperation(operation)
	if s.lastPrice != 0 {
		if tcr, err := s.pool.TCR(s.lastPrice); err == nil {
			e.telemetry.SetSystem(tcr, tcr < s.pool.CCR, s.pool.TroveSize, s.pool.BaseRate)
		}
	}
	if s.tx.sp != nil {
		e.telemetry.SetStabilityPool(s.tx.sp.TotalUSVDeposits, s.tx.sp.TotalCollateral)
	}
}
