package state

import (
	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/native/cdp"
)

// CDPState adapts a Manager to the engine's storage surface.
type CDPState struct {
	m *Manager
}

// NewCDPState returns the engine state stored in m.
func NewCDPState(m *Manager) *CDPState {
	return &CDPState{m: m}
}

var (
	_ cdp.State   = (*CDPState)(nil)
	_ cdp.Batcher = (*CDPState)(nil)
)

// Batch implements cdp.Batcher so each engine commit is one storage write.
func (s *CDPState) Batch() (cdp.State, func() error) {
	batched, flush := s.m.Batch()
	return &CDPState{m: batched}, flush
}

func (s *CDPState) GetPool() (*cdp.PoolState, error) {
	pool := new(cdp.PoolState)
	ok, err := s.m.KVGet(cdpPoolKey, pool)
	if err != nil || !ok {
		return nil, err
	}
	return pool, nil
}

func (s *CDPState) PutPool(pool *cdp.PoolState) error {
	return s.m.KVPut(cdpPoolKey, pool)
}

func (s *CDPState) GetTrove(owner common.Address) (*cdp.Trove, error) {
	trove := new(cdp.Trove)
	ok, err := s.m.KVGet(TroveKey(owner), trove)
	if err != nil || !ok {
		return nil, err
	}
	return trove, nil
}

func (s *CDPState) PutTrove(trove *cdp.Trove) error {
	return s.m.KVPut(TroveKey(trove.Owner), trove)
}

func (s *CDPState) GetStabilityPool() (*cdp.StabilityPool, error) {
	sp := new(cdp.StabilityPool)
	ok, err := s.m.KVGet(cdpStabilityPoolKey, sp)
	if err != nil || !ok {
		return nil, err
	}
	return sp, nil
}

func (s *CDPState) PutStabilityPool(sp *cdp.StabilityPool) error {
	return s.m.KVPut(cdpStabilityPoolKey, sp)
}

func (s *CDPState) GetEpochScale(epoch, scale uint64) (*cdp.EpochScale, error) {
	record := new(cdp.EpochScale)
	ok, err := s.m.KVGet(EpochScaleKey(epoch, scale), record)
	if err != nil || !ok {
		return nil, err
	}
	return record, nil
}

func (s *CDPState) PutEpochScale(record *cdp.EpochScale) error {
	return s.m.KVPut(EpochScaleKey(record.Epoch, record.Scale), record)
}

func (s *CDPState) GetDeposit(depositor common.Address) (*cdp.Deposit, error) {
	deposit := new(cdp.Deposit)
	ok, err := s.m.KVGet(DepositKey(depositor), deposit)
	if err != nil || !ok {
		return nil, err
	}
	return deposit, nil
}

func (s *CDPState) PutDeposit(deposit *cdp.Deposit) error {
	return s.m.KVPut(DepositKey(deposit.Depositor), deposit)
}

func (s *CDPState) GetIssuance() (*cdp.Issuance, error) {
	issuance := new(cdp.Issuance)
	ok, err := s.m.KVGet(cdpIssuanceKey, issuance)
	if err != nil || !ok {
		return nil, err
	}
	return issuance, nil
}

func (s *CDPState) PutIssuance(issuance *cdp.Issuance) error {
	return s.m.KVPut(cdpIssuanceKey, issuance)
}

// Balances default to zero. Zero balances are deleted rather than stored.
func (s *CDPState) GetBalance(asset cdp.Asset, addr common.Address) (uint64, error) {
	var amount uint64
	if _, err := s.m.KVGet(BalanceKey(asset, addr), &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func (s *CDPState) PutBalance(asset cdp.Asset, addr common.Address, amount uint64) error {
	if amount == 0 {
		return s.m.KVDelete(BalanceKey(asset, addr))
	}
	return s.m.KVPut(BalanceKey(asset, addr), amount)
}

func (s *CDPState) GetSupply(asset cdp.Asset) (uint64, error) {
	var amount uint64
	if _, err := s.m.KVGet(SupplyKey(asset), &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func (s *CDPState) PutSupply(asset cdp.Asset, amount uint64) error {
	return s.m.KVPut(SupplyKey(asset), amount)
}
