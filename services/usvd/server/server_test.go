package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"usvprotocol/core/events"
	"usvprotocol/core/state"
	"usvprotocol/native/cdp"
	nativecommon "usvprotocol/native/common"
	"usvprotocol/native/fixedpoint"
	"usvprotocol/native/pricefeed"
	"usvprotocol/services/usvd/journal"
	"usvprotocol/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	handler http.Handler
	engine  *cdp.Engine
	pauses  *nativecommon.Pauses
	hub     *Hub
}

func newFixture(t *testing.T, secret string, limit RateLimit) *fixture {
	t.Helper()
	ctx := context.Background()
	manager := state.NewManager(storage.NewMemDB())
	feed, err := pricefeed.NewFeed(nil, nil, nil, pricefeed.WithDevPrice(0), pricefeed.WithStore(manager))
	require.NoError(t, err)
	require.NoError(t, feed.Init(ctx, time.Now().Unix()))

	j, err := journal.Open("file:"+filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	hub := NewHub(8, nil)
	pauses := nativecommon.NewPauses()
	engine := cdp.NewEngine(cdp.Params{DevMode: true})
	engine.SetState(state.NewCDPState(manager))
	engine.SetOracle(feed)
	engine.SetPauses(pauses)
	engine.SetEmitter(events.NewFanout(j, hub))
	require.NoError(t, engine.Init(ctx))

	if limit.RequestsPerMinute == 0 {
		limit = RateLimit{RequestsPerMinute: 60_000, Burst: 1_000}
	}
	srv, err := New(Config{
		Engine:    engine,
		Feed:      feed,
		Pauses:    pauses,
		Journal:   j,
		Hub:       hub,
		Auth:      AuthConfig{Secret: secret},
		RateLimit: limit,
	})
	require.NoError(t, err)
	return &fixture{handler: srv.Handler(), engine: engine, pauses: pauses, hub: hub}
}

type call struct {
	method  string
	path    string
	body    any
	account common.Address
	token   string
}

func (f *fixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.RemoteAddr = "192.0.2.1:1234"
	if c.account != (common.Address{}) {
		req.Header.Set(DevAccountHeader, c.account.Hex())
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestOpenTroveAndViews(t *testing.T) {
	f := newFixture(t, "", RateLimit{})
	owner := common.HexToAddress("0xb0b")

	rec := f.do(t, call{method: http.MethodPost, path: "/v1/admin/mint-collateral", body: map[string]string{
		"to": owner.Hex(), "amount": "100000000000",
	}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, call{method: http.MethodPost, path: "/v1/troves", account: owner, body: map[string]any{
		"coll": "100000000000", "usv": "2000000000000", "maxFee": "1000000000",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var trove troveJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trove))
	require.Equal(t, "active", trove.Status)
	require.Equal(t, uint64(2_210_000_000_000), trove.Debt)
	require.NotZero(t, trove.ICR)

	rec = f.do(t, call{method: http.MethodGet, path: "/v1/troves/" + owner.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, call{method: http.MethodGet, path: "/v1/system"})
	require.Equal(t, http.StatusOK, rec.Code)
	var sys systemJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sys))
	require.Equal(t, pricefeed.DefaultDevPrice, sys.Price)
	require.Equal(t, uint64(1), sys.Pool.TroveSize)
	require.False(t, sys.RecoveryMode)
	require.True(t, sys.Oracle.Dev)

	rec = f.do(t, call{method: http.MethodGet, path: "/v1/balances/" + owner.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)
	var bal balancesJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.Equal(t, uint64(2_000_000_000_000), bal.USV)
	require.Zero(t, bal.Collateral)

	nicr, err := fixedpoint.ComputeNominalCR(50_000_000_000, 2_210_000_000_000)
	require.NoError(t, err)
	rec = f.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/v1/hints/insert?nicr=%d", nicr)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), strings.ToLower(owner.Hex()[2:]))

	rec = f.do(t, call{method: http.MethodGet, path: "/v1/events?limit=5"})
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Events []journalEntryJSON `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.NotEmpty(t, listed.Events)
	require.Equal(t, uint64(1), listed.Events[0].Seq)

	rec = f.do(t, call{method: http.MethodGet, path: "/v1/troves/not-an-address"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, call{method: http.MethodGet, path: "/v1/troves/" + common.HexToAddress("0x1234").Hex()})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, "", RateLimit{})
	owner := common.HexToAddress("0xb0b")
	require.NoError(t, f.engine.MintCollateral(context.Background(), owner, 100_000_000_000))

	rec := f.do(t, call{method: http.MethodPost, path: "/v1/troves", account: owner, body: map[string]any{
		"coll": "100000000000", "usv": "1", "maxFee": "1000000000",
	}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), cdp.ErrDebtLessThanMin.Error())

	rec = f.do(t, call{method: http.MethodPost, path: "/v1/troves", account: owner, body: map[string]any{"coll": 5}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/v1/admin/pause", body: map[string]any{"module": "cdp", "paused": true}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.pauses.IsPaused("cdp"))
	rec = f.do(t, call{method: http.MethodPost, path: "/v1/stability-pool/deposits", account: owner, body: map[string]string{"amount": "1"}})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/v1/troves/close"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", cdp.ErrCalculation), http.StatusInternalServerError},
		{fixedpoint.ErrOverflow, http.StatusInternalServerError},
		{cdp.ErrNotInitialized, http.StatusServiceUnavailable},
		{pricefeed.ErrPoolNotUpdated, http.StatusServiceUnavailable},
		{cdp.ErrOnlyDevMode, http.StatusForbidden},
		{cdp.ErrICRBelowMCR, http.StatusUnprocessableEntity},
		{errors.New("other"), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestTokenScopes(t *testing.T) {
	f := newFixture(t, testSecret, RateLimit{})
	owner := common.HexToAddress("0xb0b")
	now := time.Now()

	account, err := SignToken(testSecret, "", owner, []string{ScopeAccount}, time.Hour, now)
	require.NoError(t, err)
	operator, err := SignToken(testSecret, "", owner, []string{ScopeOperator}, time.Hour, now)
	require.NoError(t, err)
	expired, err := SignToken(testSecret, "", owner, []string{ScopeOperator}, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	forged, err := SignToken(strings.Repeat("x", 32), "", owner, []string{ScopeOperator}, time.Hour, now)
	require.NoError(t, err)

	mint := map[string]string{"to": owner.Hex(), "amount": "10"}
	rec := f.do(t, call{method: http.MethodPost, path: "/v1/admin/mint-collateral", body: mint})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, call{method: http.MethodPost, path: "/v1/admin/mint-collateral", body: mint, account: owner})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, call{method: http.MethodPost, path: "/v1/admin/mint-collateral", body: mint, token: account})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, call{method: http.MethodPost, path: "/v1/admin/mint-collateral", body: mint, token: expired})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, call{method: http.MethodPost, path: "/v1/admin/mint-collateral", body: mint, token: forged})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, call{method: http.MethodPost, path: "/v1/admin/mint-collateral", body: mint, token: operator})
	require.Equal(t, http.StatusNoContent, rec.Code)

	balance, err := f.engine.Balance(cdp.AssetCollateral, owner)
	require.NoError(t, err)
	require.Equal(t, uint64(10), balance)

	rec = f.do(t, call{method: http.MethodPost, path: "/v1/liquidations", body: map[string]any{"owners": []string{owner.Hex()}}, token: account})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiterThrottles(t *testing.T) {
	f := newFixture(t, "", RateLimit{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		rec := f.do(t, call{method: http.MethodGet, path: "/healthz"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(t, call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(1, nil)
	records, cancel := hub.Subscribe("cdp.")
	defer cancel()

	hub.Emit(events.NodeAdded{Owner: common.HexToAddress("0x01"), NICR: 1})
	hub.Emit(events.NodeRemoved{Owner: common.HexToAddress("0x01")})
	hub.Emit(events.PriceFeedStatusChanged{})

	rec := <-records
	require.Equal(t, events.TypeNodeAdded, rec.Type)
	select {
	case extra := <-records:
		t.Fatalf("unexpected record %s", extra.Type)
	default:
	}
	cancel()
	require.Zero(t, hub.Subscribers())
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, "", RateLimit{})
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events/stream?type=cdp.", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	f.hub.Emit(events.NodeAdded{Owner: common.HexToAddress("0x02"), NICR: 7})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var rec events.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, events.TypeNodeAdded, rec.Type)
}
