package cdp

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"usvprotocol/native/fixedpoint"
)

const (
	// DefaultMCR is the minimum collateral ratio (110%).
	DefaultMCR uint64 = 1_100_000_000
	// DefaultCCR is the critical system collateral ratio (150%).
	DefaultCCR uint64 = 1_500_000_000
	// DefaultMinNetDebt is the smallest net debt a trove may carry.
	DefaultMinNetDebt uint64 = 1_800_000_000_000
	// DefaultGasCompensation is the stablecoin reserve locked per trove.
	DefaultGasCompensation uint64 = 200_000_000_000
	// DefaultCollGasCompDivisor yields a 0.5% collateral gas compensation.
	DefaultCollGasCompDivisor uint64 = 200

	// MinuteDecayFactor halves the base rate every 720 minutes.
	MinuteDecayFactor uint64 = 999_037_759
	// RedemptionFeeFloor is the minimum redemption fee (0.5%).
	RedemptionFeeFloor uint64 = 5_000_000
	// BorrowingFeeFloor is the minimum borrowing fee (0.5%).
	BorrowingFeeFloor uint64 = 5_000_000
	// MaxBorrowingFee caps the borrowing fee at 5%.
	MaxBorrowingFee uint64 = 50_000_000
	// ScaleFactor rescales the stability pool product before it loses precision.
	ScaleFactor uint64 = 100_000
	// MaxEmissionRate caps reward token emission per second.
	MaxEmissionRate uint64 = 10_000_000_000

	secondsPerMinute uint64 = 60
)

var (
	errParamsCCR      = errors.New("cdp params: ccr must exceed mcr")
	errParamsMCR      = errors.New("cdp params: mcr must exceed 100%")
	errParamsDivisor  = errors.New("cdp params: collateral gas compensation divisor must be positive")
	errParamsFloor    = errors.New("cdp params: fee floors must not exceed 100%")
	errParamsMaxFee   = errors.New("cdp params: max borrowing fee must be between the floor and 100%")
	errParamsEmission = errors.New("cdp params: exceed maximum emission rate")
)

// Params captures the market configuration. Zero values are replaced by the
// protocol defaults in EnsureDefaults.
type Params struct {
	MCR                uint64 `toml:"mcr"`
	CCR                uint64 `toml:"ccr"`
	MinNetDebt         uint64 `toml:"min_net_debt"`
	GasCompensation    uint64 `toml:"gas_compensation"`
	CollGasCompDivisor uint64 `toml:"coll_gas_comp_divisor"`
	BorrowingFeeFloor  uint64 `toml:"borrowing_fee_floor"`
	RedemptionFeeFloor uint64 `toml:"redemption_fee_floor"`
	MaxBorrowingFee    uint64 `toml:"max_borrowing_fee"`
	EmissionRate       uint64 `toml:"emission_rate"`
	EmissionEnabled    bool   `toml:"emission_enabled"`
	DevMode            bool   `toml:"dev_mode"`
}

// DefaultParams returns the protocol defaults.
func DefaultParams() Params {
	p := Params{}
	p.EnsureDefaults()
	return p
}

// EnsureDefaults fills zero fields with the protocol defaults.
func (p *Params) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.MCR == 0 {
		p.MCR = DefaultMCR
	}
	if p.CCR == 0 {
		p.CCR = DefaultCCR
	}
	if p.MinNetDebt == 0 {
		p.MinNetDebt = DefaultMinNetDebt
	}
	if p.GasCompensation == 0 {
		p.GasCompensation = DefaultGasCompensation
	}
	if p.CollGasCompDivisor == 0 {
		p.CollGasCompDivisor = DefaultCollGasCompDivisor
	}
	if p.BorrowingFeeFloor == 0 {
		p.BorrowingFeeFloor = BorrowingFeeFloor
	}
	if p.RedemptionFeeFloor == 0 {
		p.RedemptionFeeFloor = RedemptionFeeFloor
	}
	if p.MaxBorrowingFee == 0 {
		p.MaxBorrowingFee = MaxBorrowingFee
	}
}

// Validate rejects inconsistent parameter sets.
func (p Params) Validate() error {
	if p.MCR <= fixedpoint.DecimalPrecision {
		return errParamsMCR
	}
	if p.CCR <= p.MCR {
		return errParamsCCR
	}
	if p.CollGasCompDivisor == 0 {
		return errParamsDivisor
	}
	if p.BorrowingFeeFloor > fixedpoint.DecimalPrecision || p.RedemptionFeeFloor > fixedpoint.DecimalPrecision {
		return errParamsFloor
	}
	if p.MaxBorrowingFee < p.BorrowingFeeFloor || p.MaxBorrowingFee > fixedpoint.DecimalPrecision {
		return errParamsMaxFee
	}
	if p.EmissionRate > MaxEmissionRate {
		return fmt.Errorf("%w: %d", errParamsEmission, p.EmissionRate)
	}
	return nil
}

// LoadParams decodes a TOML parameter file, fills defaults and validates the
// result. Unknown keys are rejected.
func LoadParams(path string) (Params, error) {
	var p Params
	meta, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Params{}, fmt.Errorf("cdp params: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Params{}, fmt.Errorf("cdp params: unknown keys %v", undecoded)
	}
	p.EnsureDefaults()
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
