package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestFlattenTroveUpdated(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	rec := Flatten(TroveUpdated{Owner: owner, Debt: 2000, Coll: 30, Stake: 30, Operation: OperationOpenTrove})
	if rec.Type != TypeTroveUpdated {
		t.Fatalf("unexpected type: %s", rec.Type)
	}
	if rec.Attributes["owner"] != owner.Hex() {
		t.Fatalf("unexpected owner attr: %s", rec.Attributes["owner"])
	}
	if rec.Attributes["debt"] != "2000" || rec.Attributes["operation"] != OperationOpenTrove {
		t.Fatalf("unexpected attrs: %+v", rec.Attributes)
	}
}

func TestFlattenWideValues(t *testing.T) {
	p := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	rec := Flatten(PUpdated{P: p})
	if rec.Attributes["p"] != p.Dec() {
		t.Fatalf("unexpected p attr: %s", rec.Attributes["p"])
	}
	if Flatten(PUpdated{}).Attributes["p"] != "0" {
		t.Fatalf("nil accumulator should render as zero")
	}
}

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(BaseRateUpdated{BaseRate: 1})
	buf.Emit(LastFeeOpTimeUpdated{Time: 2})
	var sink Buffer
	buf.FlushTo(NewFanout(&sink))
	got := sink.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].EventType() != TypeBaseRateUpdated || got[1].EventType() != TypeLastFeeOpTimeUpdated {
		t.Fatalf("unexpected order: %s, %s", got[0].EventType(), got[1].EventType())
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("buffer not reset after flush")
	}
}
