package server

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"usvprotocol/native/cdp"
	"usvprotocol/native/fixedpoint"
	"usvprotocol/services/usvd/journal"
)

// Amounts travel as decimal strings so JavaScript clients keep full
// precision.

type hintJSON struct {
	Prev common.Address `json:"prev"`
	Next common.Address `json:"next"`
}

func (h hintJSON) hint() cdp.Hint { return cdp.Hint{Prev: h.Prev, Next: h.Next} }

func hintFrom(h cdp.Hint) hintJSON { return hintJSON{Prev: h.Prev, Next: h.Next} }

type openTroveRequest struct {
	Coll   uint64   `json:"coll,string"`
	USV    uint64   `json:"usv,string"`
	MaxFee uint64   `json:"maxFee,string"`
	Hint   hintJSON `json:"hint"`
}

type adjustTroveRequest struct {
	CollDeposit    uint64   `json:"collDeposit,string"`
	CollWithdrawal uint64   `json:"collWithdrawal,string"`
	USVChange      uint64   `json:"usvChange,string"`
	IsDebtIncrease bool     `json:"isDebtIncrease"`
	MaxFee         uint64   `json:"maxFee,string"`
	Hint           hintJSON `json:"hint"`
}

type redeemRequest struct {
	Amount     uint64           `json:"amount,string"`
	MaxFee     uint64           `json:"maxFee,string"`
	Candidates []common.Address `json:"candidates"`
	Hint       hintJSON         `json:"hint"`
}

type amountRequest struct {
	Amount uint64 `json:"amount,string"`
}

type withdrawDepositRequest struct {
	Amount uint64         `json:"amount,string"`
	Lowest common.Address `json:"lowest"`
}

type liquidateRequest struct {
	Owners []common.Address `json:"owners"`
}

type priceRequest struct {
	Price uint64 `json:"price,string"`
}

type timestampRequest struct {
	Timestamp uint64 `json:"timestamp,string"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type mintRequest struct {
	To     common.Address `json:"to"`
	Amount uint64         `json:"amount,string"`
}

type troveJSON struct {
	Owner       common.Address `json:"owner"`
	Status      string         `json:"status"`
	Debt        uint64         `json:"debt,string"`
	Coll        uint64         `json:"coll,string"`
	Stake       uint64         `json:"stake,string"`
	EntireDebt  uint64         `json:"entireDebt,string"`
	EntireColl  uint64         `json:"entireColl,string"`
	PendingDebt uint64         `json:"pendingDebt,string"`
	PendingColl uint64         `json:"pendingColl,string"`
	NICR        uint64         `json:"nicr,string"`
	ICR         uint64         `json:"icr,string,omitempty"`
	Surplus     uint64         `json:"surplus,string"`
	Prev        common.Address `json:"prev"`
	Next        common.Address `json:"next"`
}

func troveFrom(view *cdp.TroveView, price uint64) troveJSON {
	t := view.Trove
	out := troveJSON{
		Owner:       t.Owner,
		Status:      t.Status.String(),
		Debt:        t.Debt,
		Coll:        t.Coll,
		Stake:       t.Stake,
		EntireDebt:  view.EntireDebt,
		EntireColl:  view.EntireColl,
		PendingDebt: view.PendingDebt,
		PendingColl: view.PendingColl,
		NICR:        view.NICR,
		Surplus:     t.Surplus,
		Prev:        t.Prev,
		Next:        t.Next,
	}
	if price != 0 && view.EntireDebt != 0 {
		if icr, err := fixedpoint.ComputeCR(view.EntireColl, view.EntireDebt, price); err == nil {
			out.ICR = icr
		}
	}
	return out
}

type poolJSON struct {
	MCR                  uint64         `json:"mcr,string"`
	CCR                  uint64         `json:"ccr,string"`
	MinNetDebt           uint64         `json:"minNetDebt,string"`
	GasCompensation      uint64         `json:"gasCompensation,string"`
	ActiveColl           uint64         `json:"activeColl,string"`
	ActiveDebt           uint64         `json:"activeDebt,string"`
	LiquidatedColl       uint64         `json:"liquidatedColl,string"`
	ClosedDebt           uint64         `json:"closedDebt,string"`
	TotalStakes          uint64         `json:"totalStakes,string"`
	BaseRate             uint64         `json:"baseRate,string"`
	LastFeeOperationTime uint64         `json:"lastFeeOperationTime,string"`
	TotalSurplus         uint64         `json:"totalSurplus,string"`
	TroveSize            uint64         `json:"troveSize,string"`
	TroveHead            common.Address `json:"troveHead"`
	TroveTail            common.Address `json:"troveTail"`
	LColl                string         `json:"lColl"`
	LUSVDebt             string         `json:"lUsvDebt"`
}

func poolFrom(p *cdp.PoolState) poolJSON {
	return poolJSON{
		MCR:                  p.MCR,
		CCR:                  p.CCR,
		MinNetDebt:           p.MinNetDebt,
		GasCompensation:      p.GasCompensation,
		ActiveColl:           p.ActiveColl,
		ActiveDebt:           p.ActiveDebt,
		LiquidatedColl:       p.LiquidatedColl,
		ClosedDebt:           p.ClosedDebt,
		TotalStakes:          p.TotalStakes,
		BaseRate:             p.BaseRate,
		LastFeeOperationTime: p.LastFeeOperationTime,
		TotalSurplus:         p.TotalSurplus,
		TroveSize:            p.TroveSize,
		TroveHead:            p.TroveHead,
		TroveTail:            p.TroveTail,
		LColl:                wideString(p.LColl),
		LUSVDebt:             wideString(p.LUSVDebt),
	}
}

type stabilityPoolJSON struct {
	TotalUSVDeposits uint64 `json:"totalUsvDeposits,string"`
	TotalCollateral  uint64 `json:"totalCollateral,string"`
	P                string `json:"p"`
	CurrentScale     uint64 `json:"currentScale,string"`
	CurrentEpoch     uint64 `json:"currentEpoch,string"`
}

func stabilityPoolFrom(sp *cdp.StabilityPool) stabilityPoolJSON {
	return stabilityPoolJSON{
		TotalUSVDeposits: sp.TotalUSVDeposits,
		TotalCollateral:  sp.TotalCollateral,
		P:                wideString(sp.P),
		CurrentScale:     sp.CurrentScale,
		CurrentEpoch:     sp.CurrentEpoch,
	}
}

type issuanceJSON struct {
	Enabled          bool   `json:"enabled"`
	EmissionRate     uint64 `json:"emissionRate,string"`
	LastIssuanceTime uint64 `json:"lastIssuanceTime,string"`
	TotalIssued      uint64 `json:"totalIssued,string"`
}

type oracleJSON struct {
	Status        string `json:"status"`
	LastGoodPrice uint64 `json:"lastGoodPrice,string"`
	Initialized   bool   `json:"initialized"`
	Dev           bool   `json:"dev"`
}

type systemJSON struct {
	Price         uint64            `json:"price,string"`
	TCR           uint64            `json:"tcr,string"`
	RecoveryMode  bool              `json:"recoveryMode"`
	Oracle        oracleJSON        `json:"oracle"`
	Pool          poolJSON          `json:"pool"`
	StabilityPool stabilityPoolJSON `json:"stabilityPool"`
	Issuance      *issuanceJSON     `json:"issuance,omitempty"`
	Paused        []string          `json:"paused"`
}

type depositJSON struct {
	Depositor         common.Address `json:"depositor"`
	InitialValue      uint64         `json:"initialValue,string"`
	CompoundedDeposit uint64         `json:"compoundedDeposit,string"`
	CollGain          uint64         `json:"collGain,string"`
	RewardGain        uint64         `json:"rewardGain,string"`
	ClaimableColl     uint64         `json:"claimableColl,string"`
	ClaimableReward   uint64         `json:"claimableReward,string"`
}

type balancesJSON struct {
	Account    common.Address `json:"account"`
	USV        uint64         `json:"usv,string"`
	Collateral uint64         `json:"collateral,string"`
	Reward     uint64         `json:"reward,string"`
}

type liquidationJSON struct {
	TotalDebt           uint64 `json:"totalDebt,string"`
	TotalColl           uint64 `json:"totalColl,string"`
	CollGasCompensation uint64 `json:"collGasCompensation,string"`
	USVGasCompensation  uint64 `json:"usvGasCompensation,string"`
	DebtOffset          uint64 `json:"debtOffset,string"`
	CollToStabilityPool uint64 `json:"collToStabilityPool,string"`
	DebtRedistributed   uint64 `json:"debtRedistributed,string"`
	CollRedistributed   uint64 `json:"collRedistributed,string"`
	CollSurplus         uint64 `json:"collSurplus,string"`
}

func liquidationFrom(t cdp.LiquidationTotals) liquidationJSON {
	return liquidationJSON{
		TotalDebt:           t.TotalDebtInSequence,
		TotalColl:           t.TotalCollInSequence,
		CollGasCompensation: t.TotalCollGasCompensation,
		USVGasCompensation:  t.TotalUSVGasCompensation,
		DebtOffset:          t.TotalDebtToOffset,
		CollToStabilityPool: t.TotalCollToSendToSP,
		DebtRedistributed:   t.TotalDebtToRedistribute,
		CollRedistributed:   t.TotalCollToRedistribute,
		CollSurplus:         t.TotalCollSurplus,
	}
}

type redemptionJSON struct {
	AttemptedUSV uint64 `json:"attemptedUsv,string"`
	RedeemedUSV  uint64 `json:"redeemedUsv,string"`
	CollDrawn    uint64 `json:"collDrawn,string"`
	CollFee      uint64 `json:"collFee,string"`
	CollSent     uint64 `json:"collSent,string"`
}

type journalEntryJSON struct {
	Seq        uint64            `json:"seq,string"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Hash       string            `json:"hash"`
	PrevHash   string            `json:"prevHash"`
	CreatedAt  string            `json:"createdAt"`
}

func journalEntryFrom(e journal.Entry) (journalEntryJSON, error) {
	rec, err := e.Record()
	if err != nil {
		return journalEntryJSON{}, err
	}
	return journalEntryJSON{
		Seq:        e.Seq,
		ID:         e.ID.String(),
		Type:       e.Type,
		Attributes: rec.Attributes,
		Hash:       e.Hash,
		PrevHash:   e.PrevHash,
		CreatedAt:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}, nil
}

func wideString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
