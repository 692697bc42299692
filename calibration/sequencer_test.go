package calibration

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/emflab/emfad/protocol"
)

// scriptedSender answers orientation queries from a script and succeeds
// on everything else. Setting failOn makes that command fail.
type scriptedSender struct {
	orientations [][3]float64
	next         int
	failOn       protocol.Opcode
	sent         []protocol.Opcode
}

var errScripted = errors.New("scripted failure")

func (s *scriptedSender) SendCommand(ctx context.Context, req protocol.CommandRequest) (*protocol.CommandResponse, error) {
	s.sent = append(s.sent, req.Op)
	if req.Op == s.failOn {
		return nil, errScripted
	}
	if req.Op != protocol.OpQueryOrientation {
		return &protocol.CommandResponse{Op: req.Op}, nil
	}

	o := s.orientations[s.next%len(s.orientations)]
	s.next++
	payload := make([]byte, orientationPayloadSize)
	binary.LittleEndian.PutUint64(payload[0:8], math.Float64bits(o[0]))
	binary.LittleEndian.PutUint64(payload[8:16], math.Float64bits(o[1]))
	binary.LittleEndian.PutUint64(payload[16:24], math.Float64bits(o[2]))
	return &protocol.CommandResponse{Op: req.Op, Payload: payload}, nil
}

func runFullSequence(t *testing.T, seq *Sequencer) {
	t.Helper()
	ctx := context.Background()
	if err := seq.StartCompass(ctx); err != nil {
		t.Fatalf("StartCompass: %v", err)
	}
	if err := seq.CollectHorizontal(ctx); err != nil {
		t.Fatalf("CollectHorizontal: %v", err)
	}
	if err := seq.CollectVertical(ctx); err != nil {
		t.Fatalf("CollectVertical: %v", err)
	}
	if err := seq.FinishCompass(ctx); err != nil {
		t.Fatalf("FinishCompass: %v", err)
	}
}

func TestFullCalibrationRun(t *testing.T) {
	sender := &scriptedSender{
		orientations: [][3]float64{
			{-2, 10, 5},
			{4, 30, 8},
			{1, 20, 11},
			{0, 15, 6},
		},
	}
	seq := New(sender, WithWindowSize(4))

	runFullSequence(t, seq)

	snapshot, err := seq.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// X: min -2, max 4 -> offset 1, scale 1/3.
	if snapshot.X.Offset != 1 || math.Abs(snapshot.X.Scale-1.0/3) > 1e-12 {
		t.Errorf("X fit %+v, want offset 1 scale 1/3", snapshot.X)
	}
	// Y: min 10, max 30 -> offset 20, scale 0.1.
	if snapshot.Y.Offset != 20 || math.Abs(snapshot.Y.Scale-0.1) > 1e-12 {
		t.Errorf("Y fit %+v, want offset 20 scale 0.1", snapshot.Y)
	}
	// Z: min 5, max 11 -> offset 8, scale 1/3.
	if snapshot.Z.Offset != 8 || math.Abs(snapshot.Z.Scale-1.0/3) > 1e-12 {
		t.Errorf("Z fit %+v, want offset 8 scale 1/3", snapshot.Z)
	}
	if snapshot.Completed.IsZero() {
		t.Error("snapshot completion time not set")
	}

	// The sequencer is reusable after Save.
	if seq.State() != NotStarted {
		t.Errorf("state %s after Save, want not-started", seq.State())
	}
	runFullSequence(t, seq)
	if _, err := seq.Save(); err != nil {
		t.Fatalf("second run Save: %v", err)
	}
}

func TestDegenerateWindow(t *testing.T) {
	// Identical samples: no spread on any axis.
	sender := &scriptedSender{orientations: [][3]float64{{1, 2, 3}}}
	seq := New(sender, WithWindowSize(4))

	ctx := context.Background()
	if err := seq.StartCompass(ctx); err != nil {
		t.Fatalf("StartCompass: %v", err)
	}

	err := seq.CollectHorizontal(ctx)
	if !errors.Is(err, ErrDegenerateWindow) {
		t.Fatalf("expected ErrDegenerateWindow, got %v", err)
	}
	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) || phaseErr.Phase != CollectingHorizontal {
		t.Errorf("expected PhaseError in collecting-horizontal, got %v", err)
	}
	if seq.State() != NotStarted {
		t.Errorf("state %s after failure, want not-started", seq.State())
	}
}

func TestPhaseFailureResets(t *testing.T) {
	sender := &scriptedSender{
		orientations: [][3]float64{{-1, -1, -1}, {1, 1, 1}},
		failOn:       protocol.OpCalVertical,
	}
	seq := New(sender, WithWindowSize(2))

	ctx := context.Background()
	if err := seq.StartCompass(ctx); err != nil {
		t.Fatalf("StartCompass: %v", err)
	}
	if err := seq.CollectHorizontal(ctx); err != nil {
		t.Fatalf("CollectHorizontal: %v", err)
	}

	err := seq.CollectVertical(ctx)
	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("expected PhaseError, got %v", err)
	}
	if phaseErr.Phase != CollectingVertical {
		t.Errorf("failing phase %s, want collecting-vertical", phaseErr.Phase)
	}
	if !errors.Is(err, errScripted) {
		t.Errorf("cause not preserved: %v", err)
	}
	if seq.State() != NotStarted {
		t.Errorf("state %s after failure, want not-started", seq.State())
	}
}

func TestNoSnapshotOutsideSaved(t *testing.T) {
	sender := &scriptedSender{orientations: [][3]float64{{-1, -1, -1}, {1, 1, 1}}}
	seq := New(sender, WithWindowSize(2))
	ctx := context.Background()

	// Save is only legal right after FinishCompass.
	states := []func() error{
		func() error { _, err := seq.Save(); return err },
		func() error { return seq.StartCompass(ctx) },
		func() error { _, err := seq.Save(); return err },
		func() error { return seq.CollectHorizontal(ctx) },
		func() error { _, err := seq.Save(); return err },
	}
	wantErr := []bool{true, false, true, false, true}

	for i, step := range states {
		err := step()
		if wantErr[i] {
			var transitionErr *TransitionError
			if !errors.As(err, &transitionErr) {
				t.Fatalf("step %d: expected TransitionError, got %v", i, err)
			}
		} else if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestOutOfOrderTransitions(t *testing.T) {
	sender := &scriptedSender{orientations: [][3]float64{{0, 0, 0}}}
	seq := New(sender)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"vertical before horizontal", func() error { return seq.CollectVertical(ctx) }},
		{"finish before collection", func() error { return seq.FinishCompass(ctx) }},
		{"horizontal before start", func() error { return seq.CollectHorizontal(ctx) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			var transitionErr *TransitionError
			if !errors.As(err, &transitionErr) {
				t.Fatalf("expected TransitionError, got %v", err)
			}
			if seq.State() != NotStarted {
				t.Errorf("state %s, want not-started", seq.State())
			}
		})
	}
}
