package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CDPMetrics exposes the collateralised debt engine collectors.
type CDPMetrics struct {
	operations      *prometheus.CounterVec
	liquidated      *prometheus.CounterVec
	redeemed        prometheus.Counter
	redemptionFees  prometheus.Counter
	tcr             prometheus.Gauge
	recoveryMode    prometheus.Gauge
	troves          prometheus.Gauge
	stabilityPool   *prometheus.GaugeVec
	baseRate        prometheus.Gauge
	oracleStatus    *prometheus.GaugeVec
	oraclePrice     prometheus.Gauge
	operationErrors *prometheus.CounterVec
}

var (
	cdpOnce     sync.Once
	cdpRegistry *CDPMetrics
)

// CDP returns the process wide collectors, registering them on first use.
func CDP() *CDPMetrics {
	cdpOnce.Do(func() {
		cdpRegistry = &CDPMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "usv_cdp_operations_total",
				Help: "Count of committed engine operations by kind.",
			}, []string{"operation"}),
			liquidated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "usv_cdp_liquidated_total",
				Help: "Debt and collateral removed from troves by liquidation.",
			}, []string{"asset"}),
			redeemed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "usv_cdp_redeemed_usv_total",
				Help: "Stablecoin redeemed against trove collateral.",
			}),
			redemptionFees: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "usv_cdp_redemption_fee_coll_total",
				Help: "Collateral withheld as redemption fees.",
			}),
			tcr: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "usv_cdp_tcr",
				Help: "Total collateral ratio as a fraction (1.0 = 100%).",
			}),
			recoveryMode: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "usv_cdp_recovery_mode",
				Help: "1 while the system is in recovery mode.",
			}),
			troves: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "usv_cdp_troves",
				Help: "Number of active troves.",
			}),
			stabilityPool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "usv_cdp_stability_pool",
				Help: "Stability pool balances by asset.",
			}, []string{"asset"}),
			baseRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "usv_cdp_base_rate",
				Help: "Current fee base rate as a fraction.",
			}),
			oracleStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "usv_oracle_status",
				Help: "1 for the active price feed status.",
			}, []string{"status"}),
			oraclePrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "usv_oracle_last_good_price",
				Help: "Last good collateral price as a fraction.",
			}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "usv_cdp_operation_errors_total",
				Help: "Rejected engine operations by kind and failure class.",
			}, []string{"operation", "class"}),
		}
		prometheus.MustRegister(
			cdpRegistry.operations,
			cdpRegistry.liquidated,
			cdpRegistry.redeemed,
			cdpRegistry.redemptionFees,
			cdpRegistry.tcr,
			cdpRegistry.recoveryMode,
			cdpRegistry.troves,
			cdpRegistry.stabilityPool,
			cdpRegistry.baseRate,
			cdpRegistry.oracleStatus,
			cdpRegistry.oraclePrice,
			cdpRegistry.operationErrors,
		)
	})
	return cdpRegistry
}

const scale = 1e9

func (m *CDPMetrics) ObserveOperation(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.operations.WithLabelValues(operation).Inc()
}

// ObserveOperationError records a rejected operation. Fatal errors are
// invariant violations, everything else a precondition failure.
func (m *CDPMetrics) ObserveOperationError(operation string, fatal bool) {
	if m == nil {
		return
	}
	class := "precondition"
	if fatal {
		class = "fatal"
	}
	m.operationErrors.WithLabelValues(operation, class).Inc()
}

func (m *CDPMetrics) ObserveLiquidation(debt, coll uint64) {
	if m == nil {
		return
	}
	m.liquidated.WithLabelValues("debt").Add(float64(debt) / scale)
	m.liquidated.WithLabelValues("coll").Add(float64(coll) / scale)
}

func (m *CDPMetrics) ObserveRedemption(redeemed, fee uint64) {
	if m == nil {
		return
	}
	m.redeemed.Add(float64(redeemed) / scale)
	m.redemptionFees.Add(float64(fee) / scale)
}

// SetSystem publishes the aggregate snapshot taken after a commit.
func (m *CDPMetrics) SetSystem(tcr uint64, recovery bool, troves uint64, baseRate uint64) {
	if m == nil {
		return
	}
	m.tcr.Set(float64(tcr) / scale)
	if recovery {
		m.recoveryMode.Set(1)
	} else {
		m.recoveryMode.Set(0)
	}
	m.troves.Set(float64(troves))
	m.baseRate.Set(float64(baseRate) / scale)
}

func (m *CDPMetrics) SetStabilityPool(deposits, coll uint64) {
	if m == nil {
		return
	}
	m.stabilityPool.WithLabelValues("usv").Set(float64(deposits) / scale)
	m.stabilityPool.WithLabelValues("coll").Set(float64(coll) / scale)
}

// SetOracle marks status as the active price feed status.
func (m *CDPMetrics) SetOracle(status string, price uint64) {
	if m == nil {
		return
	}
	m.oracleStatus.Reset()
	m.oracleStatus.WithLabelValues(status).Set(1)
	m.oraclePrice.Set(float64(price) / scale)
}
