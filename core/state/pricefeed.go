package state

import "usvprotocol/native/pricefeed"

var _ pricefeed.Store = (*Manager)(nil)

// LoadPriceFeed implements pricefeed.Store.
func (m *Manager) LoadPriceFeed() (pricefeed.State, bool, error) {
	var stored pricefeed.State
	ok, err := m.KVGet(priceFeedKey, &stored)
	if err != nil || !ok {
		return pricefeed.State{}, false, err
	}
	return stored, true, nil
}

// StorePriceFeed implements pricefeed.Store. Feed state is written directly,
// outside any engine batch.
func (m *Manager) StorePriceFeed(st pricefeed.State) error {
	return m.KVPut(priceFeedKey, st)
}
