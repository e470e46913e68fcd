package cdp

import "github.com/ethereum/go-ethereum/common"

// Asset identifies one of the tokens moved by the engine.
type Asset uint8

const (
	AssetUSV Asset = iota + 1
	AssetCollateral
	AssetReward
)

func (a Asset) String() string {
	switch a {
	case AssetUSV:
		return "usv"
	case AssetCollateral:
		return "collateral"
	case AssetReward:
		return "reward"
	default:
		return "unknown"
	}
}

// State is the storage surface the engine runs against. Getters return nil
// without an error when a record does not exist.
type State interface {
	GetPool() (*PoolState, error)
	PutPool(pool *PoolState) error
	GetTrove(owner common.Address) (*Trove, error)
	PutTrove(trove *Trove) error
	GetStabilityPool() (*StabilityPool, error)
	PutStabilityPool(sp *StabilityPool) error
	GetEpochScale(epoch, scale uint64) (*EpochScale, error)
	PutEpochScale(record *EpochScale) error
	GetDeposit(depositor common.Address) (*Deposit, error)
	PutDeposit(deposit *Deposit) error
	GetIssuance() (*Issuance, error)
	PutIssuance(issuance *Issuance) error
	GetBalance(asset Asset, addr common.Address) (uint64, error)
	PutBalance(asset Asset, addr common.Address, amount uint64) error
	GetSupply(asset Asset) (uint64, error)
	PutSupply(asset Asset, amount uint64) error
}

// Batcher is implemented by states that can apply a group of writes
// atomically. Batch returns a write-only view and the function that flushes
// it; reads through the view are not required to observe pending writes.
type Batcher interface {
	Batch() (State, func() error)
}
