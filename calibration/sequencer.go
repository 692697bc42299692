// Package calibration drives the multi-phase autobalance procedure of the
// EMFAD instrument: compass start, a horizontal and a vertical collection
// window, compass finish, save. The sequence is strictly linear; any
// failure discards the partial run and resets to the beginning, so two
// runs can never merge into inconsistent offsets.
package calibration

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/emflab/emfad/emf"
	"github.com/emflab/emfad/protocol"
)

// State is the position of the sequencer in the autobalance procedure.
type State int

const (
	NotStarted State = iota
	CompassStarted
	CollectingHorizontal
	HorizontalFinished
	CollectingVertical
	VerticalFinished
	CompassFinished
	Saved
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case CompassStarted:
		return "compass-started"
	case CollectingHorizontal:
		return "collecting-horizontal"
	case HorizontalFinished:
		return "horizontal-finished"
	case CollectingVertical:
		return "collecting-vertical"
	case VerticalFinished:
		return "vertical-finished"
	case CompassFinished:
		return "compass-finished"
	case Saved:
		return "saved"
	}
	return "unknown"
}

// DefaultWindowSize is the number of orientation samples collected per
// phase.
const DefaultWindowSize = 32

// orientationPayloadSize is three little-endian float64 axis values.
const orientationPayloadSize = 24

// CommandSender issues one command and returns its correlated response.
// Satisfied by *session.Session.
type CommandSender interface {
	SendCommand(ctx context.Context, req protocol.CommandRequest) (*protocol.CommandResponse, error)
}

type sample struct {
	x, y, z float64
}

// Sequencer runs the autobalance procedure against one instrument.
// Not safe for concurrent use; one calibration runs at a time.
type Sequencer struct {
	sender     CommandSender
	logger     *slog.Logger
	windowSize int

	state      State
	horizontal []sample
	vertical   []sample
	fitX, fitY emf.AxisFit
	fitZ       emf.AxisFit
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger for the sequencer.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

// WithWindowSize overrides the number of samples collected per phase.
func WithWindowSize(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.windowSize = n
		}
	}
}

// New creates a sequencer issuing commands through the given sender.
func New(sender CommandSender, options ...Option) *Sequencer {
	s := &Sequencer{
		sender:     sender,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		windowSize: DefaultWindowSize,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// State returns the current procedure state.
func (s *Sequencer) State() State {
	return s.state
}

// reset discards all partial results and returns to NotStarted.
func (s *Sequencer) reset() {
	s.state = NotStarted
	s.horizontal = nil
	s.vertical = nil
	s.fitX, s.fitY, s.fitZ = emf.AxisFit{}, emf.AxisFit{}, emf.AxisFit{}
}

// failPhase resets the run and wraps the cause with the failing phase.
func (s *Sequencer) failPhase(phase State, cause error) error {
	s.logger.Warn("calibration phase failed",
		slog.String("phase", phase.String()),
		slog.String("error", cause.Error()))
	s.reset()
	return &PhaseError{Phase: phase, Err: cause}
}

// StartCompass begins a new autobalance run.
func (s *Sequencer) StartCompass(ctx context.Context) error {
	if s.state != NotStarted {
		return &TransitionError{From: s.state, Op: "StartCompass"}
	}
	if _, err := s.sender.SendCommand(ctx, protocol.CommandRequest{Op: protocol.OpCalCompassStart}); err != nil {
		return s.failPhase(CompassStarted, err)
	}
	s.state = CompassStarted
	return nil
}

// CollectHorizontal arms horizontal collection, gathers one sample window
// and fits the X and Y axes. A window with no spread on either axis fails
// with ErrDegenerateWindow.
func (s *Sequencer) CollectHorizontal(ctx context.Context) error {
	if s.state != CompassStarted {
		return &TransitionError{From: s.state, Op: "CollectHorizontal"}
	}
	s.state = CollectingHorizontal

	if _, err := s.sender.SendCommand(ctx, protocol.CommandRequest{Op: protocol.OpCalHorizontal}); err != nil {
		return s.failPhase(CollectingHorizontal, err)
	}
	window, err := s.collectWindow(ctx)
	if err != nil {
		return s.failPhase(CollectingHorizontal, err)
	}
	s.horizontal = window

	if s.fitX, err = fitAxis(window, func(p sample) float64 { return p.x }); err != nil {
		return s.failPhase(CollectingHorizontal, err)
	}
	if s.fitY, err = fitAxis(window, func(p sample) float64 { return p.y }); err != nil {
		return s.failPhase(CollectingHorizontal, err)
	}

	s.state = HorizontalFinished
	return nil
}

// CollectVertical arms vertical collection, gathers one sample window and
// fits the Z axis.
func (s *Sequencer) CollectVertical(ctx context.Context) error {
	if s.state != HorizontalFinished {
		return &TransitionError{From: s.state, Op: "CollectVertical"}
	}
	s.state = CollectingVertical

	if _, err := s.sender.SendCommand(ctx, protocol.CommandRequest{Op: protocol.OpCalVertical}); err != nil {
		return s.failPhase(CollectingVertical, err)
	}
	window, err := s.collectWindow(ctx)
	if err != nil {
		return s.failPhase(CollectingVertical, err)
	}
	s.vertical = window

	if s.fitZ, err = fitAxis(window, func(p sample) float64 { return p.z }); err != nil {
		return s.failPhase(CollectingVertical, err)
	}

	s.state = VerticalFinished
	return nil
}

// FinishCompass closes the collection part of the procedure on the
// instrument.
func (s *Sequencer) FinishCompass(ctx context.Context) error {
	if s.state != VerticalFinished {
		return &TransitionError{From: s.state, Op: "FinishCompass"}
	}
	if _, err := s.sender.SendCommand(ctx, protocol.CommandRequest{Op: protocol.OpCalCompassFinish}); err != nil {
		return s.failPhase(CompassFinished, err)
	}
	s.state = CompassFinished
	return nil
}

// Save emits the calibration snapshot for this run and resets the
// sequencer for the next one. A snapshot is only ever produced here.
func (s *Sequencer) Save() (emf.CalibrationSnapshot, error) {
	if s.state != CompassFinished {
		return emf.CalibrationSnapshot{}, &TransitionError{From: s.state, Op: "Save"}
	}
	s.state = Saved
	snapshot := emf.CalibrationSnapshot{
		X:         s.fitX,
		Y:         s.fitY,
		Z:         s.fitZ,
		Completed: time.Now(),
	}
	s.logger.Info("calibration saved",
		slog.Float64("offsetX", snapshot.X.Offset),
		slog.Float64("offsetY", snapshot.Y.Offset),
		slog.Float64("offsetZ", snapshot.Z.Offset))
	s.reset()
	return snapshot, nil
}

// collectWindow queries one orientation sample per iteration until the
// window is full.
func (s *Sequencer) collectWindow(ctx context.Context) ([]sample, error) {
	window := make([]sample, 0, s.windowSize)
	for len(window) < s.windowSize {
		resp, err := s.sender.SendCommand(ctx, protocol.CommandRequest{Op: protocol.OpQueryOrientation})
		if err != nil {
			return nil, err
		}
		p, err := parseOrientation(resp.Payload)
		if err != nil {
			return nil, err
		}
		window = append(window, p)
	}
	return window, nil
}

// parseOrientation decodes one orientation response: three little-endian
// float64 axis values.
func parseOrientation(payload []byte) (sample, error) {
	if len(payload) < orientationPayloadSize {
		return sample{}, &OrientationError{Got: len(payload), Want: orientationPayloadSize}
	}
	return sample{
		x: math.Float64frombits(binary.LittleEndian.Uint64(payload[0:8])),
		y: math.Float64frombits(binary.LittleEndian.Uint64(payload[8:16])),
		z: math.Float64frombits(binary.LittleEndian.Uint64(payload[16:24])),
	}, nil
}

// fitAxis computes min-max centering constants for one axis:
// offset = (max+min)/2, scale = 2/(max-min). A window without spread has
// no usable scale and fails rather than dividing by zero.
func fitAxis(window []sample, axis func(sample) float64) (emf.AxisFit, error) {
	if len(window) == 0 {
		return emf.AxisFit{}, ErrDegenerateWindow
	}
	lo, hi := axis(window[0]), axis(window[0])
	for _, p := range window[1:] {
		v := axis(p)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return emf.AxisFit{}, ErrDegenerateWindow
	}
	return emf.AxisFit{
		Offset: (hi + lo) / 2,
		Scale:  2 / (hi - lo),
	}, nil
}
