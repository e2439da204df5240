// Package power adapts the sync schedule to device power and thermal state.
//
// The policy itself is a pure mapping from (low-power mode, thermal state)
// to a Tuning; the Monitor samples the device on an interval and emits a
// Tuning on its channel whenever the mapping's answer changes. The engine
// applies the new tuning to its next scheduled cycle — in-flight cycles are
// never interrupted.
package power

import "time"

// ThermalState describes the device's thermal pressure level.
type ThermalState int

const (
	// ThermalNominal means no thermal pressure.
	ThermalNominal ThermalState = iota
	// ThermalFair means mild pressure; no schedule change on its own.
	ThermalFair
	// ThermalSerious means the device is hot and work should back off.
	ThermalSerious
	// ThermalCritical means imminent throttling; back off aggressively.
	ThermalCritical
)

// String returns a human-readable representation of the thermal state.
func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Tuning is the schedule the policy hands the sync engine: how many pending
// records one cycle may drain and how long to wait between cycles.
type Tuning struct {
	BatchSize    int
	BaseInterval time.Duration
}

// Schedule tiers. Serious or critical thermal pressure always wins;
// low-power mode alone takes the middle tier.
var (
	// DefaultTuning is the unconstrained schedule.
	DefaultTuning = Tuning{BatchSize: 50, BaseInterval: 30 * time.Second}

	// LowPowerTuning trades latency for battery.
	LowPowerTuning = Tuning{BatchSize: 25, BaseInterval: 2 * time.Minute}

	// BackoffTuning is the aggressive tier under thermal pressure.
	BackoffTuning = Tuning{BatchSize: 5, BaseInterval: 10 * time.Minute}
)

// Plan maps the device state to a Tuning. Pure and total: every input pair
// yields one of the three tiers.
func Plan(lowPower bool, thermal ThermalState) Tuning {
	if thermal == ThermalSerious || thermal == ThermalCritical {
		return BackoffTuning
	}
	if lowPower {
		return LowPowerTuning
	}
	return DefaultTuning
}
