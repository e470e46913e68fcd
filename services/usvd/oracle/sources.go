package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"usvprotocol/native/pricefeed"
	"usvprotocol/services/usvd/config"
)

// PrimaryFetcher retrieves the latest primary reading.
type PrimaryFetcher interface {
	Name() string
	FetchPrimary(ctx context.Context, now time.Time) (pricefeed.PythPrice, error)
}

// SecondaryFetcher retrieves the latest secondary round.
type SecondaryFetcher interface {
	Name() string
	FetchSecondary(ctx context.Context, now time.Time) (pricefeed.SecondaryRound, error)
}

// Registry constructs fetchers from configuration.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry with a default HTTP client.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Primary builds the primary fetcher described by cfg.
func (r *Registry) Primary(cfg config.SourceConfig) (PrimaryFetcher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.OracleSourceStatic, "":
		return &staticPrimary{price: cfg.Price, conf: cfg.Conf}, nil
	case config.OracleSourceHTTP:
		return &httpPrimary{getter: r.getter(cfg)}, nil
	default:
		return nil, fmt.Errorf("unknown oracle source type %q", cfg.Type)
	}
}

// Secondary builds the secondary fetcher described by cfg.
func (r *Registry) Secondary(cfg config.SourceConfig) (SecondaryFetcher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.OracleSourceStatic, "":
		return &staticSecondary{answer: cfg.Answer}, nil
	case config.OracleSourceHTTP:
		return &httpSecondary{getter: r.getter(cfg)}, nil
	default:
		return nil, fmt.Errorf("unknown oracle source type %q", cfg.Type)
	}
}

func (r *Registry) getter(cfg config.SourceConfig) jsonGetter {
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout.Duration > 0 {
		clone := *client
		clone.Timeout = cfg.Timeout.Duration
		client = &clone
	}
	return jsonGetter{client: client, endpoint: strings.TrimSpace(cfg.Endpoint)}
}

// staticPrimary republishes a pinned price with a fresh timestamp so the feed
// never sees it as frozen.
type staticPrimary struct {
	price int64
	conf  uint64
}

func (s *staticPrimary) Name() string { return "static-primary" }

func (s *staticPrimary) FetchPrimary(_ context.Context, now time.Time) (pricefeed.PythPrice, error) {
	return pricefeed.PythPrice{Price: s.price, Conf: s.conf, PublishTime: now.Unix()}, nil
}

type staticSecondary struct {
	mu     sync.Mutex
	answer int64
	round  uint32
}

func (s *staticSecondary) Name() string { return "static-secondary" }

func (s *staticSecondary) FetchSecondary(_ context.Context, now time.Time) (pricefeed.SecondaryRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round++
	return pricefeed.SecondaryRound{
		RoundID:   s.round,
		Slot:      uint64(s.round),
		Timestamp: uint32(now.Unix()),
		Answer:    s.answer,
	}, nil
}

type jsonGetter struct {
	client   *http.Client
	endpoint string
}

func (g jsonGetter) get(ctx context.Context, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: status %d: %s", g.endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", g.endpoint, err)
	}
	return nil
}

type httpPrimary struct {
	getter jsonGetter
}

func (h *httpPrimary) Name() string { return h.getter.endpoint }

func (h *httpPrimary) FetchPrimary(ctx context.Context, _ time.Time) (pricefeed.PythPrice, error) {
	var msg pricefeed.PythPrice
	if err := h.getter.get(ctx, &msg); err != nil {
		return pricefeed.PythPrice{}, err
	}
	return msg, nil
}

type httpSecondary struct {
	getter jsonGetter
}

func (h *httpSecondary) Name() string { return h.getter.endpoint }

func (h *httpSecondary) FetchSecondary(ctx context.Context, _ time.Time) (pricefeed.SecondaryRound, error) {
	var round pricefeed.SecondaryRound
	if err := h.getter.get(ctx, &round); err != nil {
		return pricefeed.SecondaryRound{}, err
	}
	return round, nil
}
