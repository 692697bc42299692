package signal

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/emflab/emfad/emf"
)

// buildPayload assembles a measurement payload in the wire layout.
func buildPayload(freq, re, im float64, temp float32, battery byte) []byte {
	p := make([]byte, payloadSize)
	binary.LittleEndian.PutUint64(p[0:8], math.Float64bits(freq))
	binary.LittleEndian.PutUint64(p[8:16], math.Float64bits(re))
	binary.LittleEndian.PutUint64(p[16:24], math.Float64bits(im))
	binary.LittleEndian.PutUint32(p[24:28], math.Float32bits(temp))
	p[28] = battery
	return p
}

func TestDecodeKnownReading(t *testing.T) {
	// 19 kHz carrier, 800 + 600i: magnitude is exactly 1000.
	payload := buildPayload(19000.0, 800.0, 600.0, 22.5, 80)

	dec := &Decoder{}
	r, err := dec.Decode(payload, emf.DefaultFrequencyConfig())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if r.Magnitude != 1000.0 {
		t.Errorf("magnitude %v, want 1000.0", r.Magnitude)
	}
	if math.Abs(r.Phase-36.87) > 0.01 {
		t.Errorf("phase %v, want 36.87", r.Phase)
	}
	if r.Depth <= 0 || math.IsNaN(r.Depth) || math.IsInf(r.Depth, 0) {
		t.Errorf("depth %v, want a finite positive value", r.Depth)
	}
	if r.Temperature != 22.5 {
		t.Errorf("temperature %v, want 22.5", r.Temperature)
	}
	if r.BatteryPct != 80 {
		t.Errorf("battery %d, want 80", r.BatteryPct)
	}
	if r.Quality != 1.0 {
		t.Errorf("quality %v, want 1.0 (clamped)", r.Quality)
	}
}

func TestDecodeTruncated(t *testing.T) {
	dec := &Decoder{}
	_, err := dec.Decode(make([]byte, 10), emf.DefaultFrequencyConfig())

	var truncated *TruncatedError
	if !errors.As(err, &truncated) {
		t.Fatalf("expected TruncatedError, got %v", err)
	}
	if truncated.Got != 10 || truncated.Want != payloadSize {
		t.Errorf("TruncatedError{Want:%d Got:%d}, want {Want:%d Got:10}",
			truncated.Want, truncated.Got, payloadSize)
	}
}

func TestDecodeDepthNeverNaN(t *testing.T) {
	tests := []struct {
		name      string
		re, im    float64
		calOffset float64
	}{
		{"zero signal", 0, 0, 0},
		{"offset exceeds magnitude", 3, 4, 100},
		{"offset equals magnitude", 3, 4, 5},
		{"tiny signal large offset", 1e-9, 0, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dec := &Decoder{CalOffset: tc.calOffset}
			payload := buildPayload(19000.0, tc.re, tc.im, 20.0, 50)
			r, err := dec.Decode(payload, emf.DefaultFrequencyConfig())
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if r.Depth != 0 {
				t.Errorf("depth %v, want 0 for non-positive calibrated signal", r.Depth)
			}
		})
	}
}

func TestDecodeBandSelection(t *testing.T) {
	tests := []struct {
		freq float64
		want float64
	}{
		{19000.0, kLow},
		{23400.0, kLow},
		{70000.0, kMid},
		{77500.0, kMid},
		{124000.0, kHigh},
		{129100.0, kHigh},
		{135600.0, kHigh},
	}

	for _, tc := range tests {
		k, err := calibrationConstant(tc.freq)
		if err != nil {
			t.Errorf("frequency %v: %v", tc.freq, err)
			continue
		}
		if k != tc.want {
			t.Errorf("frequency %v: constant %v, want %v", tc.freq, k, tc.want)
		}
	}
}

func TestDecodeDeterministic(t *testing.T) {
	cfg := emf.DefaultFrequencyConfig()
	dec := &Decoder{}

	for _, freq := range emf.Frequencies() {
		payload := buildPayload(freq, 123.4, -56.7, 19.0, 42)
		a, err := dec.Decode(payload, cfg)
		if err != nil {
			t.Fatalf("frequency %v: %v", freq, err)
		}
		b, err := dec.Decode(payload, cfg)
		if err != nil {
			t.Fatalf("frequency %v: %v", freq, err)
		}
		// Everything except the timestamp must match exactly.
		a.Timestamp = b.Timestamp
		if a != b {
			t.Errorf("frequency %v: decode is not deterministic", freq)
		}
	}
}

func TestDecodeInvalidFrequency(t *testing.T) {
	dec := &Decoder{}
	for _, freq := range []float64{0, -19000, math.NaN(), math.Inf(1)} {
		payload := buildPayload(freq, 1, 1, 20, 50)
		_, err := dec.Decode(payload, emf.DefaultFrequencyConfig())
		var bandErr *BandError
		if !errors.As(err, &bandErr) {
			t.Errorf("frequency %v: expected BandError, got %v", freq, err)
		}
	}
}

func TestQualityClamp(t *testing.T) {
	tests := []struct {
		re, im float64
		want   float64
	}{
		{0, 0, 0},
		{300, 400, 0.5},
		{3000, 4000, 1.0},
	}

	dec := &Decoder{}
	for _, tc := range tests {
		payload := buildPayload(19000.0, tc.re, tc.im, 20, 50)
		r, err := dec.Decode(payload, emf.DefaultFrequencyConfig())
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if r.Quality != tc.want {
			t.Errorf("re=%v im=%v: quality %v, want %v", tc.re, tc.im, r.Quality, tc.want)
		}
	}
}

func TestWindowBounds(t *testing.T) {
	w := NewWindow("line", 4)
	for i := 0; i < 6; i++ {
		w.Push(float64(i))
	}
	if w.Len() != 4 {
		t.Fatalf("window length %d, want 4", w.Len())
	}

	// Oldest two samples were evicted.
	if v, err := w.At(0); err != nil || v != 2 {
		t.Errorf("At(0) = %v, %v; want 2, nil", v, err)
	}
	if v, err := w.At(3); err != nil || v != 5 {
		t.Errorf("At(3) = %v, %v; want 5, nil", v, err)
	}

	for _, i := range []int{-1, 4, 100} {
		_, err := w.At(i)
		var indexErr *IndexError
		if !errors.As(err, &indexErr) {
			t.Errorf("At(%d): expected IndexError, got %v", i, err)
			continue
		}
		if indexErr.Name != "line" || indexErr.Index != i || indexErr.Bound != 4 {
			t.Errorf("At(%d): IndexError %+v", i, indexErr)
		}
	}

	if got, want := w.Mean(), 3.5; got != want {
		t.Errorf("mean %v, want %v", got, want)
	}
}
