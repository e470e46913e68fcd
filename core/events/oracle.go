package events

import "strconv"

const (
	// TypePriceFeedStatusChanged is emitted when the oracle failover state moves.
	TypePriceFeedStatusChanged = "pricefeed.statusChanged"
	// TypeLastGoodPriceUpdated is emitted when a new price is accepted.
	TypeLastGoodPriceUpdated = "pricefeed.lastGoodPriceUpdated"
)

// PriceFeedStatusChanged captures a failover transition.
type PriceFeedStatusChanged struct {
	From string
	To   string
}

// EventType satisfies the Event interface.
func (PriceFeedStatusChanged) EventType() string { return TypePriceFeedStatusChanged }

// Attributes renders the event for journals and streams.
func (e PriceFeedStatusChanged) Attributes() map[string]string {
	return map[string]string{"from": e.From, "to": e.To}
}

// LastGoodPriceUpdated captures an accepted price at target precision.
type LastGoodPriceUpdated struct {
	Price uint64
}

// EventType satisfies the Event interface.
func (LastGoodPriceUpdated) EventType() string { return TypeLastGoodPriceUpdated }

// Attributes renders the event for journals and streams.
func (e LastGoodPriceUpdated) Attributes() map[string]string {
	return map[string]string{"price": strconv.FormatUint(e.Price, 10)}
}
