// Package emf defines the value types shared by the EMFAD device engine:
// the carrier frequency configuration, device status snapshots, calibrated
// readings and calibration results.
package emf

import (
	"fmt"
	"time"
)

// NumFrequencies is the number of carrier frequencies the instrument supports.
const NumFrequencies = 7

// carrierFrequencies lists the supported carrier frequencies in Hz.
// The set is fixed by the instrument hardware.
var carrierFrequencies = [NumFrequencies]float64{
	19000.0,
	23400.0,
	70000.0,
	77500.0,
	124000.0,
	129100.0,
	135600.0,
}

// Frequencies returns the supported carrier frequencies in Hz, lowest first.
func Frequencies() []float64 {
	f := make([]float64, NumFrequencies)
	copy(f, carrierFrequencies[:])
	return f
}

// FrequencyConfig describes which carrier frequencies are active and which
// one is currently selected. The frequency list itself is fixed; only the
// active subset and the selection vary. The zero value is not valid, use
// NewFrequencyConfig or DefaultFrequencyConfig.
type FrequencyConfig struct {
	active   [NumFrequencies]bool
	selected int
}

// NewFrequencyConfig builds a configuration from the indices of the active
// frequencies and the selected index. The selected index must refer to an
// active frequency.
func NewFrequencyConfig(active []int, selected int) (FrequencyConfig, error) {
	var c FrequencyConfig
	if len(active) == 0 {
		return c, fmt.Errorf("frequency config: no active frequencies")
	}
	for _, i := range active {
		if i < 0 || i >= NumFrequencies {
			return c, fmt.Errorf("frequency config: active index %d out of range [0,%d)", i, NumFrequencies)
		}
		c.active[i] = true
	}
	if selected < 0 || selected >= NumFrequencies {
		return c, fmt.Errorf("frequency config: selected index %d out of range [0,%d)", selected, NumFrequencies)
	}
	if !c.active[selected] {
		return c, fmt.Errorf("frequency config: selected index %d is not active", selected)
	}
	c.selected = selected
	return c, nil
}

// DefaultFrequencyConfig returns a configuration with all frequencies active
// and the lowest one selected.
func DefaultFrequencyConfig() FrequencyConfig {
	var c FrequencyConfig
	for i := range c.active {
		c.active[i] = true
	}
	return c
}

// Selected returns the currently selected carrier frequency in Hz.
func (c FrequencyConfig) Selected() float64 {
	return carrierFrequencies[c.selected]
}

// SelectedIndex returns the index of the selected frequency.
func (c FrequencyConfig) SelectedIndex() int {
	return c.selected
}

// IsActive reports whether the frequency at index i is active.
func (c FrequencyConfig) IsActive(i int) bool {
	return i >= 0 && i < NumFrequencies && c.active[i]
}

// ActiveIndices returns the indices of all active frequencies, ascending.
func (c FrequencyConfig) ActiveIndices() []int {
	var out []int
	for i, on := range c.active {
		if on {
			out = append(out, i)
		}
	}
	return out
}

// WithSelected returns a copy of the configuration with a different selected
// index. The index must refer to an active frequency.
func (c FrequencyConfig) WithSelected(i int) (FrequencyConfig, error) {
	if i < 0 || i >= NumFrequencies {
		return c, fmt.Errorf("frequency config: selected index %d out of range [0,%d)", i, NumFrequencies)
	}
	if !c.active[i] {
		return c, fmt.Errorf("frequency config: selected index %d is not active", i)
	}
	c.selected = i
	return c, nil
}

// DeviceStatus is a snapshot of the link state of a connected instrument.
// It is maintained by the session owning the transport read loop; everybody
// else receives copies.
type DeviceStatus struct {
	Connected  bool
	Link       string // port name or BLE address
	BatteryPct uint8
	LastComm   time.Time
	ErrorCount int // consecutive command failures
}

// EMFReading is one calibrated measurement. Readings are created by the
// signal decoder and handed to the caller; the engine never retains them.
type EMFReading struct {
	Frequency   float64 // Hz
	Real        float64
	Imag        float64
	Magnitude   float64
	Phase       float64 // degrees
	Depth       float64 // meters, 0 when the signal is too weak
	Temperature float64 // degrees Celsius
	BatteryPct  uint8
	Quality     float64 // [0,1] signal-strength proxy
	CalOffset   float64 // calibration offset applied, 0 when uncalibrated
	Timestamp   time.Time
}

// AxisFit holds the correction constants for one axis produced by the
// autobalance procedure.
type AxisFit struct {
	Offset float64
	Scale  float64
}

// CalibrationSnapshot is the immutable result of one completed autobalance
// run, emitted exactly once when the run is saved.
type CalibrationSnapshot struct {
	X, Y, Z   AxisFit
	Completed time.Time
}
