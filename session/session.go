// Package session owns one logical connection to an EMFAD instrument.
// A single goroutine runs the transport read loop, decodes frames and
// dispatches them: responses resolve the in-flight command, measurement
// frames go to the stream, anything else is dropped with a warning.
// Commands are strictly serialized; concurrent SendCommand calls queue in
// FIFO order.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/emflab/emfad/emf"
	"github.com/emflab/emfad/protocol"
	"github.com/emflab/emfad/transport"
)

// Session errors.
var (
	ErrTimeout   = errors.New("session: command timed out")
	ErrLinkLost  = errors.New("session: link lost")
	ErrCancelled = errors.New("session: cancelled")
)

// State is the connection state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateCommandInFlight
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateCommandInFlight:
		return "command-in-flight"
	}
	return "unknown"
}

const (
	// readPollTimeout bounds each ReadChunk call so the loop notices
	// cancellation promptly.
	readPollTimeout = 250 * time.Millisecond

	// measurementBuffer is the stream depth; the oldest frame is dropped
	// when the consumer falls behind a live instrument.
	measurementBuffer = 64
)

type pendingCommand struct {
	want protocol.Opcode
	resp chan *protocol.CommandResponse
}

// Session serializes commands to one instrument and surfaces its
// unsolicited measurement frames.
type Session struct {
	tr     transport.Transport
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	status   emf.DeviceStatus
	pending  *pendingCommand
	queue    []chan struct{}
	linkDown chan struct{}
	done     chan struct{}
	closed   bool

	measurements chan *protocol.Frame
	dropped      int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for the session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a session over the given transport. The transport must be
// closed; Connect opens it.
func New(tr transport.Transport, options ...Option) *Session {
	s := &Session{
		tr:           tr,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		linkDown:     make(chan struct{}),
		done:         make(chan struct{}),
		measurements: make(chan *protocol.Frame, measurementBuffer),
	}
	for _, option := range options {
		option(s)
	}
	s.logger = s.logger.With(slog.String("link", tr.Describe()))
	return s
}

// Connect opens the transport and starts the read loop.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session: connect from state %s", s.state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	if err := s.tr.Open(ctx); err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return fmt.Errorf("session: opening transport: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.mu.Lock()
	s.state = StateReady
	s.status = emf.DeviceStatus{
		Connected: true,
		Link:      s.tr.Describe(),
		LastComm:  time.Now(),
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(loopCtx)

	s.logger.Info("connected")
	return nil
}

// Status returns a snapshot of the device status.
func (s *Session) Status() emf.DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Measurements returns the stream of unsolicited measurement frames.
// The channel is closed when the session closes or the link is lost.
// Single consumer; ordering is receipt order.
func (s *Session) Measurements() <-chan *protocol.Frame {
	return s.measurements
}

// SendCommand writes the encoded request and waits for the matching
// response, up to the timeout class of the command. Calls are serialized:
// at most one command is in flight, later callers wait in FIFO order.
// A timeout increments the status error counter; link loss fails all
// queued calls with ErrLinkLost.
func (s *Session) SendCommand(ctx context.Context, req protocol.CommandRequest) (*protocol.CommandResponse, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrCancelled
	}
	if !s.status.Connected {
		s.mu.Unlock()
		return nil, ErrLinkLost
	}
	pending := &pendingCommand{
		want: req.Op.Response(),
		resp: make(chan *protocol.CommandResponse, 1),
	}
	s.pending = pending
	s.state = StateCommandInFlight
	s.mu.Unlock()

	clearPending := func() {
		s.mu.Lock()
		if s.pending == pending {
			s.pending = nil
		}
		if s.state == StateCommandInFlight {
			s.state = StateReady
		}
		s.mu.Unlock()
	}

	if err := s.tr.Write(protocol.EncodeCommand(req)); err != nil {
		clearPending()
		if errors.Is(err, transport.ErrDisconnected) {
			return nil, ErrLinkLost
		}
		return nil, fmt.Errorf("session: writing %s: %w", req.Op, err)
	}

	timer := time.NewTimer(req.Op.Timeout())
	defer timer.Stop()

	select {
	case resp := <-pending.resp:
		clearPending()
		s.mu.Lock()
		s.status.LastComm = time.Now()
		s.status.ErrorCount = 0
		s.mu.Unlock()
		return resp, nil

	case <-timer.C:
		clearPending()
		s.mu.Lock()
		s.status.ErrorCount++
		s.mu.Unlock()
		s.logger.Warn("command timed out", slog.String("command", req.Op.String()))
		return nil, ErrTimeout

	case <-s.done:
		clearPending()
		return nil, ErrCancelled

	case <-s.linkDown:
		clearPending()
		return nil, ErrLinkLost

	case <-ctx.Done():
		clearPending()
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// acquire takes a place in the FIFO command queue and returns when this
// caller holds the command slot.
func (s *Session) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrCancelled
	}
	turn := make(chan struct{})
	s.queue = append(s.queue, turn)
	if len(s.queue) == 1 {
		close(turn)
	}
	s.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-s.done:
		s.abandon(turn)
		return ErrCancelled
	case <-s.linkDown:
		s.abandon(turn)
		return ErrLinkLost
	case <-ctx.Done():
		s.abandon(turn)
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// release hands the command slot to the next queued caller.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		s.queue = s.queue[1:]
	}
	if len(s.queue) > 0 {
		close(s.queue[0])
	}
}

// abandon removes a waiter that gave up before its turn.
func (s *Session) abandon(turn chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range s.queue {
		if ch == turn {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			// If the abandoned waiter was at the head, promote the next.
			if i == 0 && len(s.queue) > 0 {
				select {
				case <-s.queue[0]:
				default:
					close(s.queue[0])
				}
			}
			return
		}
	}
}

// readLoop owns the transport and is the only writer of DeviceStatus.
func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	dec := protocol.NewDecoder()

	for {
		chunk, err := s.tr.ReadChunk(ctx, readPollTimeout)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, transport.ErrIOTimeout) {
				continue
			}
			s.logger.Warn("link lost", slog.String("error", err.Error()))
			s.fail()
			return
		}

		dec.Feed(chunk)
		for {
			frame, ok := dec.Next()
			if !ok {
				break
			}
			s.dispatch(frame)
		}
		if n := dec.Discarded(); n > 0 {
			s.logger.Warn("discarded garbage bytes", slog.Int("count", n))
		}
	}
}

// dispatch routes one decoded frame: in-flight response, measurement, or
// status push. Unexpected frames are dropped with a warning.
func (s *Session) dispatch(frame *protocol.Frame) {
	s.mu.Lock()
	pending := s.pending
	if pending != nil && frame.Op == pending.want {
		// Clear inside the same critical section as the match, so a
		// command that timed out and released cannot have its successor's
		// slot wiped by its own stale response.
		s.pending = nil
		s.sniffStatus(frame)
		s.mu.Unlock()
		pending.resp <- &protocol.CommandResponse{
			Op:      frame.Op &^ 0x80,
			Payload: frame.Payload,
		}
		return
	}
	s.mu.Unlock()

	switch {
	case frame.Op.IsMeasurement():
		s.pushMeasurement(frame)

	case frame.Op == protocol.OpStatusNotify:
		s.mu.Lock()
		s.sniffStatus(frame)
		s.status.LastComm = time.Now()
		s.mu.Unlock()

	default:
		s.logger.Warn("dropping unexpected frame",
			slog.String("opcode", frame.Op.String()),
			slog.Int("len", frame.Len()))
	}
}

// sniffStatus updates the battery level from status-bearing frames.
// Caller holds s.mu.
func (s *Session) sniffStatus(frame *protocol.Frame) {
	op := frame.Op &^ 0x80
	if (op == protocol.OpStatus || frame.Op == protocol.OpStatusNotify) && len(frame.Payload) >= 1 {
		s.status.BatteryPct = frame.Payload[0]
	}
}

// pushMeasurement forwards a measurement frame, dropping the oldest
// buffered frame when the consumer cannot keep up.
func (s *Session) pushMeasurement(frame *protocol.Frame) {
	select {
	case s.measurements <- frame:
		return
	default:
	}
	select {
	case <-s.measurements:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n%measurementBuffer == 1 {
			s.logger.Warn("measurement consumer falling behind", slog.Int("dropped", n))
		}
	default:
		// The consumer drained the channel between the failed send and
		// the pop; nothing was lost.
	}
	// The read loop is the only sender, so the pop (or the concurrent
	// drain) guarantees a free slot and this send cannot block or drop.
	s.measurements <- frame
}

// fail marks the link as lost: pending and queued commands error out,
// the measurement stream closes, status flips to disconnected.
func (s *Session) fail() {
	s.mu.Lock()
	if !s.status.Connected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.status.Connected = false
	s.pending = nil
	close(s.linkDown)
	close(s.measurements)
	s.mu.Unlock()
}

// Close cancels the in-flight command, terminates the measurement stream
// and closes the transport. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	alive := s.status.Connected
	close(s.done)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	err := s.tr.Close()
	s.wg.Wait()

	s.mu.Lock()
	if alive && s.status.Connected {
		s.state = StateDisconnected
		s.status.Connected = false
		close(s.linkDown)
		close(s.measurements)
	}
	s.mu.Unlock()

	s.logger.Info("session closed")
	return err
}
