package power

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsSampler reads power and thermal state from the Linux sysfs tree.
//
// Low-power is inferred from the first battery under /sys/class/power_supply:
// discharging with capacity at or below LowBatteryPercent. Thermal state is
// the hottest zone under /sys/class/thermal mapped onto the four-level scale.
// Hosts without batteries or thermal zones report (false, nominal), so the
// policy degrades to the default schedule on servers and in containers.
type SysfsSampler struct {
	// PowerSupplyDir overrides /sys/class/power_supply. For tests.
	PowerSupplyDir string

	// ThermalDir overrides /sys/class/thermal. For tests.
	ThermalDir string

	// LowBatteryPercent is the capacity threshold for low-power mode
	// (default: 20).
	LowBatteryPercent int
}

// Sample implements Sampler.
func (s *SysfsSampler) Sample() (bool, ThermalState, error) {
	return s.sampleLowPower(), s.sampleThermal(), nil
}

func (s *SysfsSampler) sampleLowPower() bool {
	dir := s.PowerSupplyDir
	if dir == "" {
		dir = "/sys/class/power_supply"
	}
	threshold := s.LowBatteryPercent
	if threshold <= 0 {
		threshold = 20
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}

	for _, entry := range entries {
		base := filepath.Join(dir, entry.Name())

		typ, err := os.ReadFile(filepath.Join(base, "type"))
		if err != nil || strings.TrimSpace(string(typ)) != "Battery" {
			continue
		}

		status, err := os.ReadFile(filepath.Join(base, "status"))
		if err != nil || strings.TrimSpace(string(status)) != "Discharging" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(base, "capacity"))
		if err != nil {
			continue
		}
		capacity, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}
		if capacity <= threshold {
			return true
		}
	}
	return false
}

func (s *SysfsSampler) sampleThermal() ThermalState {
	dir := s.ThermalDir
	if dir == "" {
		dir = "/sys/class/thermal"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ThermalNominal
	}

	// Track the hottest zone in millidegrees C.
	maxTemp := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "thermal_zone") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name(), "temp"))
		if err != nil {
			continue
		}
		temp, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}
		if temp > maxTemp {
			maxTemp = temp
		}
	}

	switch {
	case maxTemp >= 95000:
		return ThermalCritical
	case maxTemp >= 85000:
		return ThermalSerious
	case maxTemp >= 70000:
		return ThermalFair
	default:
		return ThermalNominal
	}
}
