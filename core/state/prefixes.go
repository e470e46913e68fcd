package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/native/cdp"
)

var (
	cdpPoolKey          = []byte("cdp/pool")
	cdpStabilityPoolKey = []byte("cdp/stability-pool")
	cdpIssuanceKey      = []byte("cdp/issuance")
	cdpTrovePrefix      = []byte("cdp/trove/")
	cdpDepositPrefix    = []byte("cdp/deposit/")
	priceFeedKey        = []byte("pricefeed/state")
)

func prefixed(prefix []byte, addr common.Address) []byte {
	key := make([]byte, len(prefix)+common.AddressLength)
	copy(key, prefix)
	copy(key[len(prefix):], addr.Bytes())
	return key
}

// TroveKey is the unhashed key of a trove record.
func TroveKey(owner common.Address) []byte { return prefixed(cdpTrovePrefix, owner) }

// DepositKey is the unhashed key of a stability pool deposit.
func DepositKey(depositor common.Address) []byte { return prefixed(cdpDepositPrefix, depositor) }

// EpochScaleKey is the unhashed key of the S and G sums at an epoch and scale.
func EpochScaleKey(epoch, scale uint64) []byte {
	return []byte(fmt.Sprintf("cdp/epoch-scale/%d/%d", epoch, scale))
}

// BalanceKey is the unhashed key of an account balance.
func BalanceKey(asset cdp.Asset, addr common.Address) []byte {
	return prefixed([]byte(fmt.Sprintf("balance/%s/", asset)), addr)
}

// SupplyKey is the unhashed key of an asset's total supply.
func SupplyKey(asset cdp.Asset) []byte {
	return []byte(fmt.Sprintf("supply/%s", asset))
}
