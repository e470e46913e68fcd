package cdp

import (
	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/core/events"
)

type epochScaleKey struct {
	epoch uint64
	scale uint64
}

type balanceKey struct {
	asset Asset
	addr  common.Address
}

// txn buffers every read and write of a single engine operation on top of a
// base State. Records are cloned on first read so the base is never mutated;
// commit writes the dirty set back and releases the buffered events.
type txn struct {
	base State

	pool     *PoolState
	sp       *StabilityPool
	issuance *Issuance

	troves      map[common.Address]*Trove
	deposits    map[common.Address]*Deposit
	epochScales map[epochScaleKey]*EpochScale
	balances    map[balanceKey]uint64
	supplies    map[Asset]uint64

	poolDirty     bool
	spDirty       bool
	issuanceDirty bool
	dirtyTroves   map[common.Address]struct{}
	dirtyDeposits map[common.Address]struct{}
	dirtyScales   map[epochScaleKey]struct{}
	dirtyBalances map[balanceKey]struct{}
	dirtySupplies map[Asset]struct{}

	events events.Buffer
}

func newTxn(base State) *txn {
	return &txn{
		base:          base,
		troves:        make(map[common.Address]*Trove),
		deposits:      make(map[common.Address]*Deposit),
		epochScales:   make(map[epochScaleKey]*EpochScale),
		balances:      make(map[balanceKey]uint64),
		supplies:      make(map[Asset]uint64),
		dirtyTroves:   make(map[common.Address]struct{}),
		dirtyDeposits: make(map[common.Address]struct{}),
		dirtyScales:   make(map[epochScaleKey]struct{}),
		dirtyBalances: make(map[balanceKey]struct{}),
		dirtySupplies: make(map[Asset]struct{}),
	}
}

func (t *txn) Emit(evt events.Event) { t.events.Emit(evt) }

func (t *txn) GetPool() (*PoolState, error) {
	if t.pool != nil {
		return t.pool, nil
	}
	pool, err := t.base.GetPool()
	if err != nil || pool == nil {
		return nil, err
	}
	t.pool = pool.Clone()
	return t.pool, nil
}

func (t *txn) PutPool(pool *PoolState) error {
	t.pool = pool
	t.poolDirty = true
	return nil
}

func (t *txn) GetTrove(owner common.Address) (*Trove, error) {
	if trove, ok := t.troves[owner]; ok {
		return trove, nil
	}
	trove, err := t.base.GetTrove(owner)
	if err != nil || trove == nil {
		return nil, err
	}
	trove = trove.Clone()
	t.troves[owner] = trove
	return trove, nil
}

func (t *txn) PutTrove(trove *Trove) error {
	t.troves[trove.Owner] = trove
	t.dirtyTroves[trove.Owner] = struct{}{}
	return nil
}

func (t *txn) GetStabilityPool() (*StabilityPool, error) {
	if t.sp != nil {
		return t.sp, nil
	}
	sp, err := t.base.GetStabilityPool()
	if err != nil || sp == nil {
		return nil, err
	}
	t.sp = sp.Clone()
	return t.sp, nil
}

func (t *txn) PutStabilityPool(sp *StabilityPool) error {
	t.sp = sp
	t.spDirty = true
	return nil
}

func (t *txn) GetEpochScale(epoch, scale uint64) (*EpochScale, error) {
	key := epochScaleKey{epoch: epoch, scale: scale}
	if record, ok := t.epochScales[key]; ok {
		return record, nil
	}
	record, err := t.base.GetEpochScale(epoch, scale)
	if err != nil || record == nil {
		return nil, err
	}
	record = record.Clone()
	t.epochScales[key] = record
	return record, nil
}

func (t *txn) PutEpochScale(record *EpochScale) error {
	key := epochScaleKey{epoch: record.Epoch, scale: record.Scale}
	t.epochScales[key] = record
	t.dirtyScales[key] = struct{}{}
	return nil
}

func (t *txn) GetDeposit(depositor common.Address) (*Deposit, error) {
	if deposit, ok := t.deposits[depositor]; ok {
		return deposit, nil
	}
	deposit, err := t.base.GetDeposit(depositor)
	if err != nil || deposit == nil {
		return nil, err
	}
	deposit = deposit.Clone()
	t.deposits[depositor] = deposit
	return deposit, nil
}

func (t *txn) PutDeposit(deposit *Deposit) error {
	t.deposits[deposit.Depositor] = deposit
	t.dirtyDeposits[deposit.Depositor] = struct{}{}
	return nil
}

func (t *txn) GetIssuance() (*Issuance, error) {
	if t.issuance != nil {
		return t.issuance, nil
	}
	issuance, err := t.base.GetIssuance()
	if err != nil || issuance == nil {
		return nil, err
	}
	t.issuance = issuance.Clone()
	return t.issuance, nil
}

func (t *txn) PutIssuance(issuance *Issuance) error {
	t.issuance = issuance
	t.issuanceDirty = true
	return nil
}

func (t *txn) GetBalance(asset Asset, addr common.Address) (uint64, error) {
	key := balanceKey{asset: asset, addr: addr}
	if amount, ok := t.balances[key]; ok {
		return amount, nil
	}
	amount, err := t.base.GetBalance(asset, addr)
	if err != nil {
		return 0, err
	}
	t.balances[key] = amount
	return amount, nil
}

func (t *txn) PutBalance(asset Asset, addr common.Address, amount uint64) error {
	key := balanceKey{asset: asset, addr: addr}
	t.balances[key] = amount
	t.dirtyBalances[key] = struct{}{}
	return nil
}

func (t *txn) GetSupply(asset Asset) (uint64, error) {
	if amount, ok := t.supplies[asset]; ok {
		return amount, nil
	}
	amount, err := t.base.GetSupply(asset)
	if err != nil {
		return 0, err
	}
	t.supplies[asset] = amount
	return amount, nil
}

func (t *txn) PutSupply(asset Asset, amount uint64) error {
	t.supplies[asset] = amount
	t.dirtySupplies[asset] = struct{}{}
	return nil
}

// commit writes the dirty set to the base state. When the base implements
// Batcher the writes land in a single batch.
func (t *txn) commit() error {
	if batcher, ok := t.base.(Batcher); ok {
		batch, flush := batcher.Batch()
		if err := t.writeTo(batch); err != nil {
			return err
		}
		return flush()
	}
	return t.writeTo(t.base)
}

func (t *txn) writeTo(base State) error {
	if t.poolDirty {
		if err := base.PutPool(t.pool); err != nil {
			return err
		}
	}
	if t.spDirty {
		if err := base.PutStabilityPool(t.sp); err != nil {
			return err
		}
	}
	if t.issuanceDirty {
		if err := base.PutIssuance(t.issuance); err != nil {
			return err
		}
	}
	for owner := range t.dirtyTroves {
		if err := base.PutTrove(t.troves[owner]); err != nil {
			return err
		}
	}
	for depositor := range t.dirtyDeposits {
		if err := base.PutDeposit(t.deposits[depositor]); err != nil {
			return err
		}
	}
	for key := range t.dirtyScales {
		if err := base.PutEpochScale(t.epochScales[key]); err != nil {
			return err
		}
	}
	for key := range t.dirtyBalances {
		if err := base.PutBalance(key.asset, key.addr, t.balances[key]); err != nil {
			return err
		}
	}
	for asset := range t.dirtySupplies {
		if err := base.PutSupply(asset, t.supplies[asset]); err != nil {
			return err
		}
	}
	return nil
}
