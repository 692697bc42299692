package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emflab/emfad/emf"
)

func TestStoreRoundTrip(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "survey.db"))
	defer store.Close()

	ctx := context.Background()
	sessionID, err := store.CreateSession(ctx, "fake-port", map[string]any{"selected": 0})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sessionID == "" {
		t.Fatal("empty session id")
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		reading := emf.EMFReading{
			Frequency:   19000,
			Real:        800,
			Imag:        600,
			Magnitude:   1000,
			Phase:       36.87,
			Depth:       1.05,
			Temperature: 22.5,
			BatteryPct:  80,
			Quality:     1,
			Timestamp:   now.Add(time.Duration(i) * time.Second),
		}
		if err := store.StoreReading(ctx, sessionID, reading); err != nil {
			t.Fatalf("StoreReading %d: %v", i, err)
		}
	}

	n, err := store.CountReadings(ctx, sessionID)
	if err != nil {
		t.Fatalf("CountReadings: %v", err)
	}
	if n != 3 {
		t.Errorf("stored %d readings, want 3", n)
	}

	snapshot := emf.CalibrationSnapshot{
		X:         emf.AxisFit{Offset: 1, Scale: 0.5},
		Y:         emf.AxisFit{Offset: 2, Scale: 0.25},
		Z:         emf.AxisFit{Offset: 3, Scale: 0.125},
		Completed: now,
	}
	if err := store.StoreCalibration(ctx, sessionID, snapshot); err != nil {
		t.Fatalf("StoreCalibration: %v", err)
	}
}

func TestStoreCloseIdempotent(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "survey.db"))
	if _, err := store.CreateSession(context.Background(), "fake", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
