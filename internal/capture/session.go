// Package capture implements the feedback session state machine: camera
// acquisition, timed countdown, recording, review, submission, and verdict.
// Transitions are driven by typed events through a per-state handler table;
// deferred work (timer ticks, submission results) is guarded by a generation
// counter so nothing stale ever mutates a session that has moved on.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signlab/signcoach/internal/camera"
	"github.com/signlab/signcoach/internal/diaglog"
	"github.com/signlab/signcoach/internal/recorder"
	"github.com/signlab/signcoach/internal/submit"
	"github.com/signlab/signcoach/internal/vocab"
)

// State is the feedback session state.
type State string

const (
	StateIdle          State = "Idle"
	StateCountdown     State = "Countdown"
	StateRecording     State = "Recording"
	StateReadyToSubmit State = "ReadyToSubmit"
	StateProcessing    State = "Processing"
	StateCorrect       State = "Correct"
	StateIncorrect     State = "Incorrect"
)

// CountdownTicks is the number of one-second countdown ticks before
// recording starts.
const CountdownTicks = 3

// ErrInvalidEvent is returned when an event is not accepted in the current
// state.
var ErrInvalidEvent = errors.New("event not valid in current state")

// Submitter uploads a clip and returns a verdict. Satisfied by
// submit.Client; tests substitute a fake.
type Submitter interface {
	Submit(ctx context.Context, clip *recorder.Clip, expectedClassID string) (*submit.Verdict, error)
}

// stateNeedsCamera lists the states during which the session owns the
// camera. Every transition into any other state releases it first.
var stateNeedsCamera = map[State]bool{
	StateCountdown:     true,
	StateRecording:     true,
	StateReadyToSubmit: true,
}

// handler processes one event for one state.
type handler func(s *Session, ev event) error

// handlers is the transition table. Word changes are not in the table: they
// reset unconditionally from every state and are handled before dispatch.
var handlers = map[State]handler{
	StateIdle:          (*Session).handleIdle,
	StateCountdown:     (*Session).handleCountdown,
	StateRecording:     (*Session).handleRecording,
	StateReadyToSubmit: (*Session).handleReadyToSubmit,
	StateProcessing:    (*Session).handleProcessing,
	StateCorrect:       (*Session).handleVerdict,
	StateIncorrect:     (*Session).handleVerdict,
}

// Session is one word-practice capture session. All mutation happens behind
// the mutex; at most one session owns the camera at a time.
type Session struct {
	mu sync.Mutex

	state State
	gen   uint64

	words     []string
	wordIdx   int
	word      string
	expected  string // expected dataset class id, empty when unmapped
	attemptID string

	cam       *camera.Manager
	stream    camera.Stream
	rec       recorder.Recorder
	submitter Submitter
	mapper    *vocab.Mapper
	logger    *diaglog.Logger

	clip               *recorder.Clip
	countdownRemaining int
	countdownTimer     *time.Timer
	tickInterval       time.Duration
	submitCancel       context.CancelFunc

	lastVerdict *submit.Verdict
	lastErrKind string
	lastErr     string

	onUpdate func()
}

// NewSession creates a session positioned at the first vocabulary word.
func NewSession(cam *camera.Manager, rec recorder.Recorder, submitter Submitter, mapper *vocab.Mapper, logger *diaglog.Logger) *Session {
	if logger == nil {
		logger = diaglog.NewNoOp()
	}
	s := &Session{
		state:        StateIdle,
		words:        mapper.Words(),
		cam:          cam,
		rec:          rec,
		submitter:    submitter,
		mapper:       mapper,
		logger:       logger,
		tickInterval: time.Second,
	}
	if len(s.words) > 0 {
		s.setWordLocked(s.words[0])
	}
	return s
}

// OnUpdate registers a callback invoked after every state change, outside
// the session lock. Used to push status snapshots.
func (s *Session) OnUpdate(fn func()) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// dispatch routes an event through the handler table for the current state.
func (s *Session) dispatch(ev event) error {
	s.mu.Lock()
	h := handlers[s.state]
	err := h(s, ev)
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return err
}

// Start begins the countdown for the current word.
func (s *Session) Start() error { return s.dispatch(startEvent{}) }

// Stop finalizes the current recording, or cancels a running countdown.
func (s *Session) Stop() error { return s.dispatch(stopEvent{}) }

// Submit uploads the attached clip for a verdict.
func (s *Session) Submit() error { return s.dispatch(submitEvent{}) }

// Retry discards the current clip or verdict and returns to Idle.
func (s *Session) Retry() error { return s.dispatch(retryEvent{}) }

// AttachClip attaches an externally supplied clip (upload path) and moves
// the session to ReadyToSubmit. Valid from Idle and Incorrect.
func (s *Session) AttachClip(clip *recorder.Clip) error {
	return s.dispatch(uploadEvent{clip: clip})
}

// SetWord switches the practice word, resetting the session from any state.
func (s *Session) SetWord(word string) error {
	s.mu.Lock()
	for i, w := range s.words {
		if w == word {
			s.wordIdx = i
			break
		}
	}
	s.changeWordLocked(word)
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// Next advances to the next vocabulary word, wrapping at the end.
func (s *Session) Next() error { return s.step(1) }

// Previous moves to the previous vocabulary word, wrapping at the start.
func (s *Session) Previous() error { return s.step(-1) }

func (s *Session) step(delta int) error {
	s.mu.Lock()
	if len(s.words) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("vocabulary is empty")
	}
	s.wordIdx = (s.wordIdx + delta + len(s.words)) % len(s.words)
	s.changeWordLocked(s.words[s.wordIdx])
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// changeWordLocked performs the unconditional word-change reset: cancel
// timer, abort in-flight submission, discard clip, release camera, Idle.
func (s *Session) changeWordLocked(word string) {
	prev := s.word
	s.resetLocked("word_change")
	s.setWordLocked(word)
	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentStateMachine,
		Event:     diaglog.EventWordChanged,
		Payload:   map[string]interface{}{"from": prev, "to": word},
	})
}

func (s *Session) setWordLocked(word string) {
	s.word = word
	if id, ok := s.mapper.IDForWord(word); ok {
		s.expected = id
	} else {
		s.expected = ""
	}
}

// Close releases every resource the session may hold. Called on shutdown.
func (s *Session) Close() {
	s.mu.Lock()
	s.resetLocked("shutdown")
	s.mu.Unlock()
}

// ── state handlers ──────────────────────────────────────────────────────────

func (s *Session) handleIdle(ev event) error {
	switch ev := ev.(type) {
	case startEvent:
		return s.beginCountdownLocked()
	case uploadEvent:
		return s.attachLocked(ev.clip)
	default:
		return s.invalid(ev)
	}
}

func (s *Session) handleCountdown(ev event) error {
	switch ev := ev.(type) {
	case tickEvent:
		if ev.gen != s.gen {
			// Stale tick from a cancelled countdown.
			return nil
		}
		return s.tickLocked()
	case stopEvent:
		// Cancel the countdown without recording.
		s.resetLocked("countdown_cancelled")
		return nil
	default:
		return s.invalid(ev)
	}
}

func (s *Session) handleRecording(ev event) error {
	switch ev := ev.(type) {
	case stopEvent:
		return s.finalizeRecordingLocked()
	default:
		return s.invalid(ev)
	}
}

func (s *Session) handleReadyToSubmit(ev event) error {
	switch ev := ev.(type) {
	case submitEvent:
		return s.beginSubmissionLocked()
	case retryEvent:
		s.resetLocked("retry")
		return nil
	default:
		return s.invalid(ev)
	}
}

func (s *Session) handleProcessing(ev event) error {
	switch ev := ev.(type) {
	case resultEvent:
		if ev.gen != s.gen {
			// Stale response: the session was reset mid-flight.
			return nil
		}
		s.applyResultLocked(ev)
		return nil
	default:
		return s.invalid(ev)
	}
}

func (s *Session) handleVerdict(ev event) error {
	switch ev := ev.(type) {
	case retryEvent:
		s.resetLocked("retry")
		return nil
	case uploadEvent:
		if s.state == StateCorrect {
			return s.invalid(ev)
		}
		s.resetLocked("upload_after_incorrect")
		return s.attachLocked(ev.clip)
	default:
		return s.invalid(ev)
	}
}

func (s *Session) invalid(ev event) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidEvent, ev.eventName(), s.state)
}

// ── transition actions ──────────────────────────────────────────────────────

// transitionTo moves the session to next, releasing the camera first
// whenever next does not require it. Bumping the generation invalidates
// any tick or submission result scheduled before this point.
func (s *Session) transitionTo(next State) {
	if !stateNeedsCamera[next] {
		_ = s.cam.Release()
	}
	s.state = next
	s.gen++
}

func (s *Session) beginCountdownLocked() error {
	stream, err := s.cam.Acquire(context.Background())
	if err != nil {
		s.lastErrKind = cameraErrorKind(err)
		s.lastErr = err.Error()
		s.transitionTo(StateIdle)
		return err
	}
	s.stream = stream

	s.attemptID = uuid.NewString()
	s.lastVerdict = nil
	s.lastErrKind = ""
	s.lastErr = ""
	s.clip = nil
	s.transitionTo(StateCountdown)
	s.countdownRemaining = CountdownTicks

	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentStateMachine,
		Event:     diaglog.EventCountdownStart,
		AttemptID: s.attemptID,
		Payload:   map[string]interface{}{"word": s.word, "ticks": CountdownTicks},
	})

	s.armTickLocked()
	return nil
}

func (s *Session) armTickLocked() {
	gen := s.gen
	s.countdownTimer = time.AfterFunc(s.tickInterval, func() {
		_ = s.dispatch(tickEvent{gen: gen})
	})
}

func (s *Session) tickLocked() error {
	s.countdownRemaining--
	s.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentStateMachine,
		Event:     diaglog.EventCountdownTick,
		AttemptID: s.attemptID,
		Payload:   map[string]interface{}{"remaining": s.countdownRemaining},
	})

	if s.countdownRemaining > 0 {
		s.armTickLocked()
		return nil
	}

	if err := s.rec.Start(s.stream); err != nil {
		s.lastErrKind = "DeviceUnavailable"
		s.lastErr = err.Error()
		s.resetLocked("recorder_start_failed")
		return fmt.Errorf("failed to start recording: %w", err)
	}
	s.transitionTo(StateRecording)
	return nil
}

func (s *Session) finalizeRecordingLocked() error {
	clip, err := s.rec.Stop("user_stop")
	if err != nil {
		s.lastErrKind = "DeviceUnavailable"
		s.lastErr = err.Error()
		s.resetLocked("recorder_stop_failed")
		return fmt.Errorf("failed to finalize recording: %w", err)
	}
	s.clip = clip
	s.transitionTo(StateReadyToSubmit)
	return nil
}

func (s *Session) attachLocked(clip *recorder.Clip) error {
	if clip == nil {
		return fmt.Errorf("no clip supplied")
	}
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	s.attemptID = clip.ID
	s.clip = clip
	s.lastVerdict = nil
	s.lastErrKind = ""
	s.lastErr = ""
	s.transitionTo(StateReadyToSubmit)
	return nil
}

func (s *Session) beginSubmissionLocked() error {
	clip := s.clip
	expected := s.expected

	s.transitionTo(StateProcessing)
	gen := s.gen

	ctx, cancel := context.WithCancel(context.Background())
	s.submitCancel = cancel

	go func() {
		verdict, err := s.submitter.Submit(ctx, clip, expected)
		_ = s.dispatch(resultEvent{gen: gen, verdict: verdict, err: err})
	}()
	return nil
}

func (s *Session) applyResultLocked(ev resultEvent) {
	s.submitCancel = nil

	if ev.err != nil {
		kind := submit.KindOf(ev.err)
		if kind == "" {
			kind = submit.KindTransport
		}
		s.lastErrKind = string(kind)
		s.lastErr = ev.err.Error()
		s.transitionTo(StateIncorrect)
		return
	}

	s.lastVerdict = ev.verdict
	s.lastErrKind = ""
	s.lastErr = ""
	if ev.verdict.Correct {
		s.transitionTo(StateCorrect)
	} else {
		s.transitionTo(StateIncorrect)
	}
}

// resetLocked returns the session to Idle from any state: cancels the
// countdown timer, aborts any in-flight submission, discards the clip, and
// releases the camera.
func (s *Session) resetLocked(reason string) {
	if s.countdownTimer != nil {
		s.countdownTimer.Stop()
		s.countdownTimer = nil
		if s.state == StateCountdown {
			s.logger.Log(diaglog.LogEntry{
				Component: diaglog.ComponentStateMachine,
				Event:     diaglog.EventCountdownCancel,
				AttemptID: s.attemptID,
				Reason:    reason,
			})
		}
	}
	if s.submitCancel != nil {
		s.submitCancel()
		s.submitCancel = nil
	}
	if s.state == StateRecording {
		// Best effort: discard whatever the recorder buffered.
		_, _ = s.rec.Stop(reason)
	}
	if s.clip != nil {
		s.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentStateMachine,
			Event:     diaglog.EventClipDiscarded,
			AttemptID: s.attemptID,
			Reason:    reason,
		})
		s.clip = nil
	}
	s.stream = nil
	s.countdownRemaining = 0
	s.transitionTo(StateIdle)
}

func cameraErrorKind(err error) string {
	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		return "PermissionDenied"
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return "DeviceUnavailable"
	case errors.Is(err, camera.ErrBusy):
		return "DeviceUnavailable"
	default:
		return "DeviceUnavailable"
	}
}

// ── snapshot ────────────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of the session for status reporting.
type Snapshot struct {
	State              State
	Word               string
	ExpectedClassID    string
	AttemptID          string
	CountdownRemaining int
	CameraHeld         bool
	ClipAttached       bool
	PredictedClassID   string
	LastErrorKind      string
	LastError          string
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:              s.state,
		Word:               s.word,
		ExpectedClassID:    s.expected,
		AttemptID:          s.attemptID,
		CountdownRemaining: s.countdownRemaining,
		CameraHeld:         s.cam.Held(),
		ClipAttached:       s.clip != nil,
		LastErrorKind:      s.lastErrKind,
		LastError:          s.lastErr,
	}
	if s.lastVerdict != nil {
		snap.PredictedClassID = s.lastVerdict.PredictedClassID
	}
	return snap
}

// Clip returns the currently attached clip, or nil.
func (s *Session) Clip() *recorder.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clip
}

// Word returns the current practice word.
func (s *Session) Word() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.word
}

// SetTickInterval overrides the countdown tick interval. Tests use this to
// avoid real one-second waits.
func (s *Session) SetTickInterval(d time.Duration) {
	s.mu.Lock()
	s.tickInterval = d
	s.mu.Unlock()
}
