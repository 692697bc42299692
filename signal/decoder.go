// Package signal turns raw measurement payloads into calibrated EMF
// readings. Decoding is a pure transformation: the same payload and
// frequency configuration always produce the same reading.
package signal

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/emflab/emfad/emf"
)

// Measurement payload layout, little-endian:
//
//	bytes  0..7   float64 frequency (Hz)
//	bytes  8..15  float64 real component
//	bytes 16..23  float64 imaginary component
//	bytes 24..27  float32 temperature (Celsius)
//	byte   28     battery percentage
const payloadSize = 29

// Frequency bands and their calibration constants. Lower carrier
// frequencies penetrate deeper and need a larger constant.
const (
	bandLowMax = 25000.0 // Hz
	bandMidMax = 80000.0 // Hz

	kLow  = 900.0
	kMid  = 700.0
	kHigh = 500.0

	attenuation = 0.1
)

// TruncatedError reports a measurement payload shorter than the fixed
// layout requires.
type TruncatedError struct {
	Want, Got int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("signal: payload truncated: need %d bytes, have %d", e.Want, e.Got)
}

// BandError reports a payload frequency for which no calibration band
// exists (non-positive or non-finite).
type BandError struct {
	Frequency float64
}

func (e *BandError) Error() string {
	return fmt.Sprintf("signal: no calibration band for frequency %g Hz", e.Frequency)
}

// IndexError reports an out-of-range access into a fixed working buffer.
type IndexError struct {
	Name  string
	Index int
	Bound int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("signal: %s index %d out of range [0,%d)", e.Name, e.Index, e.Bound)
}

// calibrationConstant selects the band constant for a carrier frequency.
func calibrationConstant(freq float64) (float64, error) {
	if freq <= 0 || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return 0, &BandError{Frequency: freq}
	}
	switch {
	case freq < bandLowMax:
		return kLow, nil
	case freq <= bandMidMax:
		return kMid, nil
	default:
		return kHigh, nil
	}
}

// Decoder converts measurement payloads into readings. CalOffset, when
// set from a saved calibration, is subtracted from the raw magnitude
// before the depth estimate is computed.
type Decoder struct {
	CalOffset float64
}

// Decode parses one measurement payload against the active frequency
// configuration and returns the calibrated reading. A short payload
// yields a TruncatedError, an unusable frequency a BandError. Errors are
// per payload; the caller drops the payload and continues with the next
// frame.
func (d *Decoder) Decode(payload []byte, cfg emf.FrequencyConfig) (emf.EMFReading, error) {
	var r emf.EMFReading
	if len(payload) < payloadSize {
		return r, &TruncatedError{Want: payloadSize, Got: len(payload)}
	}

	freq := math.Float64frombits(binary.LittleEndian.Uint64(payload[0:8]))
	re := math.Float64frombits(binary.LittleEndian.Uint64(payload[8:16]))
	im := math.Float64frombits(binary.LittleEndian.Uint64(payload[16:24]))
	temp := math.Float32frombits(binary.LittleEndian.Uint32(payload[24:28]))
	battery := payload[28]

	k, err := calibrationConstant(freq)
	if err != nil {
		return r, err
	}

	magnitude := math.Sqrt(re*re + im*im)
	phase := math.Atan2(im, re) * 180 / math.Pi

	// The depth formula takes the log of the calibrated signal; a signal
	// at or below zero has no defined depth and reads as surface level.
	calibrated := (magnitude - d.CalOffset) * (k / 1000.0)
	depth := 0.0
	if calibrated > 0 {
		depth = -math.Log(calibrated/1000.0) / attenuation
	}

	r = emf.EMFReading{
		Frequency:   freq,
		Real:        re,
		Imag:        im,
		Magnitude:   magnitude,
		Phase:       phase,
		Depth:       depth,
		Temperature: float64(temp),
		BatteryPct:  battery,
		Quality:     clamp(magnitude/1000.0, 0, 1),
		CalOffset:   d.CalOffset,
		Timestamp:   time.Now(),
	}
	// The wire frequency should match a supported carrier; when it does
	// not (older firmware truncates to the selected slot), trust the
	// configuration over the payload.
	if !supportedFrequency(freq) {
		r.Frequency = cfg.Selected()
	}
	return r, nil
}

func supportedFrequency(freq float64) bool {
	for _, f := range emf.Frequencies() {
		if math.Abs(f-freq) < 0.5 {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
