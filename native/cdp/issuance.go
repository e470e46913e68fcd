package cdp

import (
	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

func newIssuance(params Params, now uint64) *Issuance {
	return &Issuance{
		Enabled:          params.EmissionEnabled,
		EmissionRate:     params.EmissionRate,
		LastIssuanceTime: now,
	}
}

// issue accrues reward tokens for the time elapsed since the last call. The
// tokens stay in the issuance vault until depositors claim them.
func (i *Issuance) issue(now uint64, emit events.Emitter) (uint64, error) {
	if i == nil || !i.Enabled {
		return 0, nil
	}
	var elapsed uint64
	if now > i.LastIssuanceTime {
		elapsed = now - i.LastIssuanceTime
	}
	amount, err := fixedpoint.Mul(elapsed, i.EmissionRate)
	if err != nil {
		return 0, err
	}
	total, err := fixedpoint.Add(i.TotalIssued, amount)
	if err != nil {
		return 0, err
	}
	if now > i.LastIssuanceTime {
		i.LastIssuanceTime = now
	}
	i.TotalIssued = total
	emit.Emit(events.TotalIssuedUpdated{TotalIssued: total})
	return amount, nil
}
