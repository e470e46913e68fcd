package pricefeed

import (
	"context"
	"errors"
)

const (
	// Timeout is the maximum age in seconds before a reading is frozen.
	Timeout int64 = 14_400
	// MaxConfidenceRate bounds conf/price at feed precision (5%).
	MaxConfidenceRate uint64 = 5_000_000
	// FeedDecimalPrecision is the precision both sources report in.
	FeedDecimalPrecision uint64 = 100_000_000
	// TargetDecimalPrecision is the precision of accepted prices.
	TargetDecimalPrecision uint64 = 1_000_000_000
	// MaxPriceDifference bounds the relative disagreement of both sources (5%).
	MaxPriceDifference uint64 = 5_000_000
	// DefaultDevPrice is used when dev mode is enabled without a price.
	DefaultDevPrice uint64 = 130_000_000_000
)

var (
	// ErrPrimaryNotWorking rejects initialisation while the primary source is broken or frozen.
	ErrPrimaryNotWorking = errors.New("pricefeed: pyth must be working and current")
	// ErrOnlyDevMode rejects dev-only operations on a production feed.
	ErrOnlyDevMode = errors.New("pricefeed: only supported in dev mode")
	// ErrPoolNotUpdated reports a stale stake pool exchange rate.
	ErrPoolNotUpdated = errors.New("pricefeed: stake pool rate out of date")
	// ErrInvalidRate reports a zero exchange rate from the rate provider.
	ErrInvalidRate = errors.New("pricefeed: invalid stake pool rate")
	// ErrNotInitialized is returned by FetchPrice before Init succeeded.
	ErrNotInitialized = errors.New("pricefeed: feed not initialised")
)

// Status is the failover state of the feed.
type Status uint8

const (
	StatusPythWorking Status = iota
	StatusUsingXPythUntrusted
	StatusBothOraclesUntrusted
	StatusUsingXPythFrozen
	StatusUsingPythXUntrusted
)

func (s Status) String() string {
	switch s {
	case StatusPythWorking:
		return "pythWorking"
	case StatusUsingXPythUntrusted:
		return "usingXPythUntrusted"
	case StatusBothOraclesUntrusted:
		return "bothOraclesUntrusted"
	case StatusUsingXPythFrozen:
		return "usingXPythFrozen"
	case StatusUsingPythXUntrusted:
		return "usingPythXUntrusted"
	default:
		return "unknown"
	}
}

// PythPrice is a confidence-interval reading from the primary source.
type PythPrice struct {
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	PublishTime int64  `json:"publishTime"`
}

// SecondaryRound is a round reading from the secondary source. Answer is
// denominated in the underlying asset and converted with the stake pool rate.
type SecondaryRound struct {
	RoundID   uint32 `json:"roundId"`
	Slot      uint64 `json:"slot"`
	Timestamp uint32 `json:"timestamp"`
	Answer    int64  `json:"answer"`
}

// PrimarySource supplies the latest primary reading.
type PrimarySource interface {
	LatestPrice(ctx context.Context) (PythPrice, error)
}

// SecondarySource supplies the latest secondary round.
type SecondarySource interface {
	LatestRound(ctx context.Context) (SecondaryRound, error)
}

// RateProvider converts a deposit of the underlying asset into wrapper
// tokens. Implementations return ErrPoolNotUpdated when their data is stale.
type RateProvider interface {
	PoolTokensForDeposit(ctx context.Context, amount uint64) (uint64, error)
}

// State is the persisted portion of the feed.
type State struct {
	Status        Status
	LastGoodPrice uint64
	Initialized   bool
	IsDev         bool
	DevPrice      uint64
}

// Store persists feed state between restarts.
type Store interface {
	LoadPriceFeed() (State, bool, error)
	StorePriceFeed(State) error
}
