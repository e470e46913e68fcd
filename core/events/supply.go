package events

import (
	"strconv"
	"strings"
)

const (
	// TypeTokenSupply is emitted whenever a ledger asset supply changes.
	TypeTokenSupply = "token.supply"

	// SupplyReasonMint identifies mint driven supply increases.
	SupplyReasonMint = "mint"
	// SupplyReasonBurn identifies burn driven supply decreases.
	SupplyReasonBurn = "burn"
)

// TokenSupply captures a supply delta for a ledger asset.
type TokenSupply struct {
	Token  string
	Total  uint64
	Delta  uint64
	Reason string
}

// EventType satisfies the Event interface.
func (TokenSupply) EventType() string { return TypeTokenSupply }

// Attributes renders the supply change for journals and streams. Burns carry
// a negative delta.
func (e TokenSupply) Attributes() map[string]string {
	token := strings.ToUpper(strings.TrimSpace(e.Token))
	if token == "" {
		token = "UNKNOWN"
	}
	attrs := map[string]string{
		"token": token,
		"total": formatAmount(e.Total),
	}
	reason := strings.TrimSpace(e.Reason)
	delta := formatAmount(e.Delta)
	if reason == SupplyReasonBurn && e.Delta > 0 {
		delta = "-" + delta
	}
	attrs["delta"] = delta
	if reason != "" {
		attrs["reason"] = reason
	}
	return attrs
}

// ParseSupplyDelta reads the signed delta back out of a supply record.
func ParseSupplyDelta(attrs map[string]string) (int64, error) {
	return strconv.ParseInt(attrs["delta"], 10, 64)
}
