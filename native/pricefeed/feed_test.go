package pricefeed

import (
	"context"
	"errors"
	"testing"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

const testNow int64 = 1_000_000

func dec(value uint64, decimals int) uint64 {
	for i := 0; i < decimals; i++ {
		value *= 10
	}
	return value
}

func pyth(price int64, conf uint64, publish int64) PythPrice {
	return PythPrice{Price: price, Conf: conf, PublishTime: publish}
}

func xRound(timestamp uint32, answer uint64) SecondaryRound {
	return SecondaryRound{RoundID: 1, Slot: 1, Timestamp: timestamp, Answer: int64(answer)}
}

func newTestFeed(last uint64, status Status) *Feed {
	f, _ := NewFeed(nil, nil, nil)
	f.state = State{Status: status, LastGoodPrice: last, Initialized: true}
	return f
}

func TestPythWorkingRescalesPrices(t *testing.T) {
	f := newTestFeed(0, StatusPythWorking)
	cl := xRound(1_000_000, dec(10, 8))
	cases := []struct {
		price int64
		want  uint64
	}{
		{int64(dec(10, 8)), 10_000_000_000},
		{int64(dec(1, 17)), dec(1, 18)},
		{int64(dec(1, 4)), dec(1, 5)},
		{123_456_789_000, 1_234_567_890_000},
	}
	for _, tc := range cases {
		got, err := f.update(pyth(tc.price, 10, testNow), cl, dec(10, 8), testNow)
		if err != nil {
			t.Fatalf("price %d: %v", tc.price, err)
		}
		if got != tc.want || f.state.LastGoodPrice != tc.want {
			t.Fatalf("price %d: got %d last %d want %d", tc.price, got, f.state.LastGoodPrice, tc.want)
		}
		if f.state.Status != StatusPythWorking {
			t.Fatalf("unexpected status %s", f.state.Status)
		}
	}
}

func TestPythBrokenFallsBackToSecondary(t *testing.T) {
	f := newTestFeed(0, StatusPythWorking)
	broken := pyth(-5000, 1, testNow)
	cases := []struct {
		secondaryPrice uint64
		want           uint64
	}{
		{dec(123, 8), 123_000_000_000},
		{dec(1, 17), dec(1, 18)},
		{dec(1, 4), dec(1, 5)},
		{123_456_789_000, 1_234_567_890_000},
	}
	for _, tc := range cases {
		if _, err := f.update(broken, xRound(1_000_000, tc.secondaryPrice), tc.secondaryPrice, testNow); err != nil {
			t.Fatalf("update: %v", err)
		}
		if f.state.Status != StatusUsingXPythUntrusted {
			t.Fatalf("unexpected status %s", f.state.Status)
		}
		if f.state.LastGoodPrice != tc.want {
			t.Fatalf("last good price %d want %d", f.state.LastGoodPrice, tc.want)
		}
	}
}

func TestPythWorkingTransitions(t *testing.T) {
	cases := []struct {
		name       string
		last       uint64
		msg        PythPrice
		round      SecondaryRound
		clPrice    uint64
		wantStatus Status
		wantPrice  uint64
	}{
		{"zero conf", dec(999, 9), pyth(int64(dec(999, 8)), 0, testNow), xRound(1_000_000, dec(123, 8)), dec(123, 8), StatusUsingXPythUntrusted, dec(123, 9)},
		{"zero timestamp", dec(999, 9), pyth(int64(dec(999, 8)), 1, 0), xRound(1_000_000, dec(123, 8)), dec(123, 8), StatusUsingXPythUntrusted, dec(123, 9)},
		{"future timestamp", dec(999, 9), pyth(int64(dec(999, 8)), 1, testNow+1), xRound(1_000_000, dec(123, 8)), dec(123, 8), StatusUsingXPythUntrusted, dec(123, 9)},
		{"negative price", dec(999, 9), pyth(-99_900_000_000, 1, testNow), xRound(1_000_000, dec(123, 8)), dec(123, 8), StatusUsingXPythUntrusted, dec(123, 9)},
		{"both broken", dec(999, 9), pyth(0, 1, testNow), xRound(1_000_000, 0), 0, StatusBothOraclesUntrusted, dec(999, 9)},
		{"pyth broken secondary frozen", dec(999, 9), pyth(0, 1, testNow), xRound(uint32(testNow-Timeout-1), dec(123, 8)), dec(123, 8), StatusUsingXPythUntrusted, dec(999, 9)},
		{"pyth frozen", dec(999, 9), pyth(int64(dec(999, 8)), 1, testNow-14401), xRound(1_000_000, dec(123, 8)), dec(123, 8), StatusUsingXPythFrozen, dec(123, 9)},
		{"pyth frozen secondary broken", dec(999, 9), pyth(int64(dec(123, 8)), 1, testNow-14401), xRound(1_000_000, 0), 0, StatusUsingPythXUntrusted, dec(999, 9)},
		{"pyth frozen secondary frozen", dec(999, 9), pyth(int64(dec(123, 8)), 1, testNow-14401), xRound(uint32(testNow-14401), dec(123, 8)), dec(123, 8), StatusUsingXPythFrozen, dec(999, 9)},
		{"pyth stale under timeout", dec(999, 9), pyth(int64(dec(321, 8)), 1, testNow-14399), xRound(1_000_000, dec(123, 8)), dec(123, 8), StatusPythWorking, dec(321, 9)},
		{"conf above max", dec(999, 9), pyth(int64(dec(321, 8)), 1_606_000_000, testNow), xRound(1_000_000, dec(123, 8)), dec(123, 8), StatusUsingXPythUntrusted, dec(123, 9)},
		{"conf above max similar", dec(999, 9), pyth(int64(dec(321, 8)), 1_606_000_000, testNow), xRound(1_000_000, dec(321, 8)), dec(321, 8), StatusPythWorking, dec(321, 9)},
		{"conf above max secondary frozen", dec(999, 9), pyth(int64(dec(321, 8)), 1_606_000_000, testNow), xRound(uint32(testNow-14401), dec(321, 8)), dec(321, 8), StatusUsingXPythUntrusted, dec(999, 9)},
		{"conf above max secondary broken", dec(999, 9), pyth(int64(dec(321, 8)), 1_606_000_000, testNow), xRound(1_000_000, 0), 0, StatusBothOraclesUntrusted, dec(999, 9)},
		{"both working", dec(101, 9), pyth(int64(dec(102, 8)), 1, testNow), xRound(1_000_000, dec(103, 8)), dec(103, 8), StatusPythWorking, dec(102, 9)},
		{"secondary broken", dec(101, 9), pyth(int64(dec(102, 8)), 1, testNow), xRound(1_000_000, 0), 0, StatusUsingPythXUntrusted, dec(102, 9)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFeed(tc.last, StatusPythWorking)
			got, err := f.update(tc.msg, tc.round, tc.clPrice, testNow)
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if f.state.Status != tc.wantStatus {
				t.Fatalf("status %s want %s", f.state.Status, tc.wantStatus)
			}
			if got != tc.wantPrice || f.state.LastGoodPrice != tc.wantPrice {
				t.Fatalf("price %d (last %d) want %d", got, f.state.LastGoodPrice, tc.wantPrice)
			}
		})
	}
}

func TestDegradedStateTransitions(t *testing.T) {
	live := pyth(int64(dec(102, 8)), 1, testNow)
	frozenPyth := pyth(int64(dec(102, 8)), 1, testNow-14401)
	brokenPyth := pyth(0, 1, testNow)
	similar := xRound(1_000_000, dec(103, 8))
	distant := xRound(1_000_000, dec(150, 8))
	broken := xRound(1_000_000, 0)
	frozen := xRound(uint32(testNow-14401), dec(103, 8))
	price := func(r SecondaryRound) uint64 { return uint64(r.Answer) }

	cases := []struct {
		name       string
		from       Status
		msg        PythPrice
		round      SecondaryRound
		wantStatus Status
		wantPrice  uint64
	}{
		{"secondary mode recovers", StatusUsingXPythUntrusted, live, similar, StatusPythWorking, dec(102, 9)},
		{"secondary mode secondary breaks", StatusUsingXPythUntrusted, live, broken, StatusBothOraclesUntrusted, dec(101, 9)},
		{"secondary mode secondary frozen", StatusUsingXPythUntrusted, live, frozen, StatusUsingXPythUntrusted, dec(101, 9)},
		{"secondary mode keeps secondary", StatusUsingXPythUntrusted, live, distant, StatusUsingXPythUntrusted, dec(150, 9)},
		{"both untrusted recovers", StatusBothOraclesUntrusted, live, similar, StatusPythWorking, dec(102, 9)},
		{"both untrusted stays", StatusBothOraclesUntrusted, live, distant, StatusBothOraclesUntrusted, dec(101, 9)},
		{"pyth frozen mode pyth broken", StatusUsingXPythFrozen, brokenPyth, similar, StatusUsingXPythUntrusted, dec(103, 9)},
		{"pyth frozen mode all broken", StatusUsingXPythFrozen, brokenPyth, broken, StatusBothOraclesUntrusted, dec(101, 9)},
		{"pyth frozen mode pyth broken secondary frozen", StatusUsingXPythFrozen, brokenPyth, frozen, StatusUsingXPythUntrusted, dec(101, 9)},
		{"pyth frozen mode still frozen", StatusUsingXPythFrozen, frozenPyth, similar, StatusUsingXPythFrozen, dec(103, 9)},
		{"pyth frozen mode frozen secondary broken", StatusUsingXPythFrozen, frozenPyth, broken, StatusUsingPythXUntrusted, dec(101, 9)},
		{"pyth frozen mode both frozen", StatusUsingXPythFrozen, frozenPyth, frozen, StatusUsingXPythFrozen, dec(101, 9)},
		{"pyth frozen mode pyth live secondary broken", StatusUsingXPythFrozen, live, broken, StatusUsingPythXUntrusted, dec(102, 9)},
		{"pyth frozen mode pyth live secondary frozen", StatusUsingXPythFrozen, live, frozen, StatusUsingXPythFrozen, dec(101, 9)},
		{"pyth frozen mode recovers", StatusUsingXPythFrozen, live, similar, StatusPythWorking, dec(102, 9)},
		{"pyth frozen mode distrusts pyth", StatusUsingXPythFrozen, live, distant, StatusUsingXPythUntrusted, dec(150, 9)},
		{"pyth mode pyth breaks", StatusUsingPythXUntrusted, brokenPyth, broken, StatusBothOraclesUntrusted, dec(101, 9)},
		{"pyth mode pyth frozen", StatusUsingPythXUntrusted, frozenPyth, broken, StatusUsingPythXUntrusted, dec(101, 9)},
		{"pyth mode recovers", StatusUsingPythXUntrusted, live, similar, StatusPythWorking, dec(102, 9)},
		{"pyth mode conf above max", StatusUsingPythXUntrusted, pyth(int64(dec(321, 8)), 1_606_000_000, testNow), broken, StatusBothOraclesUntrusted, dec(101, 9)},
		{"pyth mode keeps pyth", StatusUsingPythXUntrusted, live, broken, StatusUsingPythXUntrusted, dec(102, 9)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFeed(dec(101, 9), tc.from)
			got, err := f.update(tc.msg, tc.round, price(tc.round), testNow)
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if f.state.Status != tc.wantStatus {
				t.Fatalf("status %s want %s", f.state.Status, tc.wantStatus)
			}
			if got != tc.wantPrice {
				t.Fatalf("price %d want %d", got, tc.wantPrice)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !isPythBroken(pyth(0, 1, testNow), testNow) || !isPythBroken(pyth(1, 0, testNow), testNow) {
		t.Fatalf("zero price or zero conf must be broken")
	}
	if !isPythBroken(pyth(1, 1, 0), testNow) || !isPythBroken(pyth(1, 1, testNow+1), testNow) {
		t.Fatalf("zero or future publish time must be broken")
	}
	if isPythBroken(pyth(1, 1, testNow), testNow) {
		t.Fatalf("valid reading reported broken")
	}
	for _, r := range []SecondaryRound{
		{RoundID: 0, Slot: 1, Timestamp: 1, Answer: 1},
		{RoundID: 1, Slot: 0, Timestamp: 1, Answer: 1},
		{RoundID: 1, Slot: 1, Timestamp: 0, Answer: 1},
		{RoundID: 1, Slot: 1, Timestamp: 1, Answer: 0},
	} {
		if !isSecondaryBroken(r) {
			t.Fatalf("round %+v should be broken", r)
		}
	}
	if isPythFrozen(pyth(1, 1, testNow-Timeout), testNow) || !isPythFrozen(pyth(1, 1, testNow-Timeout-1), testNow) {
		t.Fatalf("frozen boundary mismatch")
	}
	if !bothSimilarPrice(100, 105) || bothSimilarPrice(100, 106) {
		t.Fatalf("similarity boundary mismatch")
	}
	if bothSimilarPrice(0, 0) {
		t.Fatalf("zero prices cannot be compared")
	}
}

type memStore struct {
	state State
	saved bool
}

func (m *memStore) LoadPriceFeed() (State, bool, error) { return m.state, m.saved, nil }
func (m *memStore) StorePriceFeed(s State) error {
	m.state, m.saved = s, true
	return nil
}

func TestFetchPriceSequence(t *testing.T) {
	primary := NewStaticPrimary(pyth(int64(dec(100, 8)), 1, testNow))
	secondary := NewStaticSecondary(xRound(1_000_000, dec(101, 8)))
	rate := NewFixedRate(FeedDecimalPrecision)
	store := &memStore{}
	var sink events.Buffer
	f, err := NewFeed(primary, secondary, rate, WithStore(store), WithEmitter(&sink))
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	ctx := context.Background()
	if _, err := f.FetchPrice(ctx, testNow); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialised, got %v", err)
	}
	if err := f.Init(ctx, testNow); err != nil {
		t.Fatalf("init: %v", err)
	}
	if store.state.LastGoodPrice != dec(100, 9) {
		t.Fatalf("initial price %d", store.state.LastGoodPrice)
	}

	primary.Set(pyth(-1, 1, testNow))
	got, err := f.FetchPrice(ctx, testNow)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != dec(101, 9) || f.State().Status != StatusUsingXPythUntrusted {
		t.Fatalf("fallback price %d status %s", got, f.State().Status)
	}

	primary.Set(pyth(int64(dec(100, 8)), 1, testNow))
	got, err = f.FetchPrice(ctx, testNow)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != dec(100, 9) || f.State().Status != StatusPythWorking {
		t.Fatalf("recovered price %d status %s", got, f.State().Status)
	}
	if store.state.Status != StatusPythWorking {
		t.Fatalf("state not persisted")
	}

	var transitions int
	for _, evt := range sink.Events() {
		if evt.EventType() == events.TypePriceFeedStatusChanged {
			transitions++
		}
	}
	if transitions != 2 {
		t.Fatalf("expected 2 status changes, got %d", transitions)
	}

	rate.Set(FeedDecimalPrecision, true)
	if _, err := f.FetchPrice(ctx, testNow); !errors.Is(err, ErrPoolNotUpdated) {
		t.Fatalf("expected stale pool error, got %v", err)
	}
}

func TestSecondaryPriceUsesStakeRate(t *testing.T) {
	f, _ := NewFeed(nil, nil, NewFixedRate(dec(8, 7)))
	got, err := f.secondaryPrice(context.Background(), xRound(1, dec(100, 8)))
	if err != nil {
		t.Fatalf("secondary price: %v", err)
	}
	if got != dec(125, 8) {
		t.Fatalf("converted price %d", got)
	}
}

func TestInitRejectsFrozenPrimary(t *testing.T) {
	primary := NewStaticPrimary(pyth(int64(dec(100, 8)), 1, testNow-Timeout-1))
	f, _ := NewFeed(primary, NewStaticSecondary(SecondaryRound{}), NewFixedRate(FeedDecimalPrecision))
	if err := f.Init(context.Background(), testNow); !errors.Is(err, ErrPrimaryNotWorking) {
		t.Fatalf("expected primary not working, got %v", err)
	}
}

func TestDevMode(t *testing.T) {
	f, _ := NewFeed(nil, nil, nil)
	if err := f.DevChangePrice(5); !errors.Is(err, ErrOnlyDevMode) {
		t.Fatalf("expected dev mode error, got %v", err)
	}
	dev, _ := NewFeed(nil, nil, nil, WithDevPrice(0))
	got, err := dev.FetchPrice(context.Background(), testNow)
	if err != nil || got != DefaultDevPrice {
		t.Fatalf("dev price %d, %v", got, err)
	}
	if err := dev.DevChangePrice(42); err != nil {
		t.Fatalf("dev change: %v", err)
	}
	if got, _ := dev.FetchPrice(context.Background(), testNow); got != 42 {
		t.Fatalf("dev price after change %d", got)
	}
}

func TestOverflowingPrimaryPriceIsRejected(t *testing.T) {
	primary := NewStaticPrimary(pyth(int64(dec(100, 8)), 1, testNow))
	secondary := NewStaticSecondary(xRound(1_000_000, dec(100, 8)))
	store := &memStore{}
	var sink events.Buffer
	f, err := NewFeed(primary, secondary, NewFixedRate(FeedDecimalPrecision), WithStore(store), WithEmitter(&sink))
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	ctx := context.Background()
	if err := f.Init(ctx, testNow); err != nil {
		t.Fatalf("init: %v", err)
	}
	emitted := len(sink.Events())

	// 2e18 at feed precision is 2e19 at target precision, past uint64.
	primary.Set(pyth(2_000_000_000_000_000_000, 1, testNow))
	if _, err := f.FetchPrice(ctx, testNow); !errors.Is(err, fixedpoint.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	st := f.State()
	if st.LastGoodPrice != dec(100, 9) || st.Status != StatusPythWorking {
		t.Fatalf("state changed: price %d status %s", st.LastGoodPrice, st.Status)
	}
	if store.state.LastGoodPrice != dec(100, 9) {
		t.Fatalf("stored price %d", store.state.LastGoodPrice)
	}
	if len(sink.Events()) != emitted {
		t.Fatalf("events leaked from rejected reading")
	}

	// The largest primary price that still rescales is accepted.
	top := int64(^uint64(0) / 10)
	primary.Set(pyth(top, 1, testNow))
	secondary.Set(xRound(1_000_000, uint64(top)))
	got, err := f.FetchPrice(ctx, testNow)
	if err != nil {
		t.Fatalf("fetch at top of range: %v", err)
	}
	if got != uint64(top)*10 {
		t.Fatalf("top price %d", got)
	}

	fresh := newTestFeed(dec(100, 9), StatusPythWorking)
	if _, err := fresh.update(pyth(2_000_000_000_000_000_000, 1, testNow), xRound(1_000_000, dec(100, 8)), dec(100, 8), testNow); !errors.Is(err, fixedpoint.ErrOverflow) {
		t.Fatalf("expected overflow from update, got %v", err)
	}
}

func TestOverflowingSecondaryPriceIsRejected(t *testing.T) {
	primary := NewStaticPrimary(pyth(int64(dec(100, 8)), 1, testNow))
	secondary := NewStaticSecondary(xRound(1_000_000, dec(100, 8)))
	var sink events.Buffer
	f, err := NewFeed(primary, secondary, NewFixedRate(FeedDecimalPrecision), WithEmitter(&sink))
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	ctx := context.Background()
	if err := f.Init(ctx, testNow); err != nil {
		t.Fatalf("init: %v", err)
	}
	emitted := len(sink.Events())

	// Primary breaks and the fallback answer cannot be rescaled.
	primary.Set(pyth(-1, 1, testNow))
	secondary.Set(xRound(1_000_000, 2_000_000_000_000_000_000))
	if _, err := f.FetchPrice(ctx, testNow); !errors.Is(err, fixedpoint.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	st := f.State()
	if st.Status != StatusPythWorking || st.LastGoodPrice != dec(100, 9) {
		t.Fatalf("partial transition kept: status %s price %d", st.Status, st.LastGoodPrice)
	}
	if len(sink.Events()) != emitted {
		t.Fatalf("status change emitted for rejected reading")
	}

	// A tiny stake rate overflows the answer conversion itself.
	small, _ := NewFeed(primary, NewStaticSecondary(xRound(1_000_000, dec(1, 12))), NewFixedRate(1))
	small.state = State{Status: StatusPythWorking, LastGoodPrice: dec(100, 9), Initialized: true}
	if _, err := small.FetchPrice(ctx, testNow); !errors.Is(err, fixedpoint.ErrOverflow) {
		t.Fatalf("expected conversion overflow, got %v", err)
	}
}
