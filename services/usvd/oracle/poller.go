// Package oracle refreshes the price feed sources on a fixed interval and
// drives the feed's failover machine between user operations.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"usvprotocol/native/pricefeed"
	"usvprotocol/observability/metrics"
	telemetry "usvprotocol/observability/otel"
)

// PriceFetcher advances the feed. The cdp engine implements it.
type PriceFetcher interface {
	FetchPrice(ctx context.Context) (uint64, error)
}

// StateView exposes the feed state for metrics.
type StateView interface {
	State() pricefeed.State
}

// Poller copies fresh readings into the feed's static sources and then
// fetches a price so status transitions happen even when nobody trades.
type Poller struct {
	logger        *slog.Logger
	interval      time.Duration
	now           func() time.Time
	primary       PrimaryFetcher
	secondary     SecondaryFetcher
	primarySink   *pricefeed.StaticPrimary
	secondarySink *pricefeed.StaticSecondary
	engine        PriceFetcher
	feed          StateView
	once          sync.Once
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the wall clock handed to fetchers.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// Sinks are the static sources the feed reads from.
type Sinks struct {
	Primary   *pricefeed.StaticPrimary
	Secondary *pricefeed.StaticSecondary
}

// New constructs a poller.
func New(engine PriceFetcher, feed StateView, sinks Sinks, primary PrimaryFetcher, secondary SecondaryFetcher, interval time.Duration, opts ...Option) (*Poller, error) {
	if engine == nil {
		return nil, fmt.Errorf("price fetcher required")
	}
	if sinks.Primary == nil || sinks.Secondary == nil {
		return nil, fmt.Errorf("source sinks required")
	}
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("primary and secondary fetchers required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	p := &Poller{
		logger:        slog.Default(),
		interval:      interval,
		now:           time.Now,
		primary:       primary,
		secondary:     secondary,
		primarySink:   sinks.Primary,
		secondarySink: sinks.Secondary,
		engine:        engine,
		feed:          feed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Refresh pulls one reading from each fetcher into the sinks. A failing
// fetcher leaves its last reading in place so the feed can age it out.
func (p *Poller) Refresh(ctx context.Context) {
	now := p.now()
	if msg, err := p.primary.FetchPrimary(ctx, now); err != nil {
		p.logger.Warn("primary source failed", "source", p.primary.Name(), "error", err)
	} else {
		p.primarySink.Set(msg)
	}
	if round, err := p.secondary.FetchSecondary(ctx, now); err != nil {
		p.logger.Warn("secondary source failed", "source", p.secondary.Name(), "error", err)
	} else {
		p.secondarySink.Set(round)
	}
}

// Tick refreshes the sources and fetches a price through the engine.
func (p *Poller) Tick(ctx context.Context) error {
	ctx, span := telemetry.Tracer().Start(ctx, "oracle.tick")
	defer span.End()
	p.Refresh(ctx)
	price, err := p.engine.FetchPrice(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int64("oracle.price", int64(price)))
	if p.feed != nil {
		status := p.feed.State().Status.String()
		span.SetAttributes(attribute.String("oracle.status", status))
		metrics.CDP().SetOracle(status, price)
	}
	return nil
}

// Run blocks, ticking until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.once.Do(func() {
		p.logger.Info("oracle poller started", "interval", p.interval.String())
	})
	for {
		if err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("oracle tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
