package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTokenSupplyAttributes(t *testing.T) {
	rec := Flatten(TokenSupply{Token: " usv ", Total: 900, Delta: 100, Reason: SupplyReasonBurn})
	if rec.Type != TypeTokenSupply {
		t.Fatalf("unexpected type: %s", rec.Type)
	}
	if rec.Attributes["token"] != "USV" || rec.Attributes["total"] != "900" {
		t.Fatalf("unexpected attrs: %+v", rec.Attributes)
	}
	delta, err := ParseSupplyDelta(rec.Attributes)
	if err != nil || delta != -100 {
		t.Fatalf("burn delta %d (%v)", delta, err)
	}

	mint := Flatten(TokenSupply{Total: 5, Delta: 5, Reason: SupplyReasonMint})
	if mint.Attributes["token"] != "UNKNOWN" || mint.Attributes["delta"] != "5" {
		t.Fatalf("unexpected mint attrs: %+v", mint.Attributes)
	}
}

func TestTransferAttributes(t *testing.T) {
	from := common.HexToAddress("0x01")
	to := common.HexToAddress("0x02")
	rec := Flatten(Transfer{Asset: "COLL", From: from, To: to, Amount: 42})
	if rec.Attributes["from"] != from.Hex() || rec.Attributes["to"] != to.Hex() {
		t.Fatalf("unexpected parties: %+v", rec.Attributes)
	}
	if rec.Attributes["amount"] != "42" || rec.Attributes["asset"] != "COLL" {
		t.Fatalf("unexpected attrs: %+v", rec.Attributes)
	}
	if _, ok := Flatten(Transfer{}).Attributes["asset"]; ok {
		t.Fatalf("empty asset rendered")
	}
}
