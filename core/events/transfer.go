package events

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TypeTransfer is emitted for ledger balance movements between holders.
const TypeTransfer = "ledger.transfer"

// Transfer records a balance moving from one holder to another.
type Transfer struct {
	Asset  string
	From   common.Address
	To     common.Address
	Amount uint64
}

// EventType satisfies the Event interface.
func (Transfer) EventType() string { return TypeTransfer }

// Attributes renders the transfer for journals and streams.
func (e Transfer) Attributes() map[string]string {
	attrs := map[string]string{
		"from":   e.From.Hex(),
		"to":     e.To.Hex(),
		"amount": formatAmount(e.Amount),
	}
	if asset := strings.TrimSpace(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return attrs
}
