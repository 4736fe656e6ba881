// Package reveal drives the paced emission of reply chunks to an observer.
// A Scheduler runs at most one job at a time; starting a job cancels the
// previous one.
package reveal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/pacedchat/internal/observability"
)

type State string

const (
	StateIdle      State = "idle"
	StateEmitting  State = "emitting"
	StateCancelled State = "cancelled"
	StateCompleted State = "completed"
)

var (
	ErrNoChunks = errors.New("reveal: no chunks to emit")
	ErrClosed   = errors.New("reveal: scheduler closed")
)

// JobInfo is a snapshot of one reveal job.
type JobInfo struct {
	ID        string    `json:"job_id"`
	Total     int       `json:"total"`
	Emitted   int       `json:"emitted"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

type job struct {
	id        string
	chunks    []string
	cursor    int
	cancelled bool
	state     State
	reason    string
	startedAt time.Time
	endedAt   time.Time
	observer  Observer
	timer     Timer
}

func (j *job) info() JobInfo {
	return JobInfo{
		ID:        j.id,
		Total:     len(j.chunks),
		Emitted:   j.cursor,
		State:     j.state,
		Reason:    j.reason,
		StartedAt: j.startedAt,
		EndedAt:   j.endedAt,
	}
}

type Option func(*Scheduler)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

type Scheduler struct {
	mu      sync.Mutex
	pacing  Pacing
	clock   Clock
	logger  zerolog.Logger
	metrics *observability.Metrics

	active  *job
	last    JobInfo
	hasLast bool
	closed  bool
}

func NewScheduler(pacing Pacing, clock Clock, opts ...Option) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	s := &Scheduler{
		pacing: pacing,
		clock:  clock,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "reveal").Logger()
	return s
}

// Start cancels any running job and begins revealing chunks to observer.
// The first chunk is emitted after Pacing.FirstDelay.
func (s *Scheduler) Start(chunks []string, observer Observer) (JobInfo, error) {
	if len(chunks) == 0 {
		return JobInfo{}, ErrNoChunks
	}
	if observer == nil {
		observer = ObserverFuncs{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return JobInfo{}, ErrClosed
	}
	s.cancelLocked("superseded")

	j := &job{
		id:        uuid.NewString(),
		chunks:    append([]string(nil), chunks...),
		state:     StateEmitting,
		startedAt: s.clock.Now(),
		observer:  observer,
	}
	s.active = j
	s.scheduleLocked(j, s.pacing.FirstDelay)
	s.metrics.ObserveRevealJob("started")
	s.logger.Debug().Str("job_id", j.id).Int("chunks", len(j.chunks)).Msg("reveal job started")
	return j.info(), nil
}

// Cancel stops the running job, keeping whatever it already emitted.
// It reports whether a job was running.
func (s *Scheduler) Cancel() bool {
	return s.CancelWithReason("skipped")
}

// CancelWithReason is Cancel with the reason recorded on the job.
func (s *Scheduler) CancelWithReason(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(reason)
}

// State is Emitting while a job runs and Idle otherwise; see Last for how
// the previous job ended.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return StateEmitting
	}
	return StateIdle
}

func (s *Scheduler) Active() (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return JobInfo{}, false
	}
	return s.active.info(), true
}

// Last returns the most recent job that reached Completed or Cancelled.
func (s *Scheduler) Last() (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Close cancels the running job and rejects further Start calls.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked("closed")
	s.closed = true
}

func (s *Scheduler) scheduleLocked(j *job, d time.Duration) {
	j.timer = s.clock.After(d, func() { s.step(j) })
}

func (s *Scheduler) step(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Timers of superseded jobs may still fire; they must not emit.
	if s.active != j || j.cancelled {
		return
	}

	text := j.chunks[j.cursor]
	j.cursor++
	s.emitLocked(j, j.cursor-1, text)

	if j.cursor >= len(j.chunks) {
		s.completeLocked(j)
		return
	}
	s.scheduleLocked(j, s.pacing.Delay(text))
}

func (s *Scheduler) emitLocked(j *job, index int, text string) {
	s.metrics.ObserveRevealChunk()
	err := guard(func() error { return j.observer.OnChunk(j.info(), index, text) })
	if err == nil {
		return
	}
	failure := &ObserverFailure{JobID: j.id, Index: index, Err: err}
	s.metrics.ObserveObserverFailure()
	s.logger.Warn().Err(failure).Str("job_id", j.id).Int("index", index).Msg("observer failed; continuing reveal")
}

func (s *Scheduler) completeLocked(j *job) {
	j.state = StateCompleted
	j.endedAt = s.clock.Now()
	s.finishLocked(j)
	s.metrics.ObserveRevealJob("completed")
	s.metrics.ObserveRevealDuration(j.endedAt.Sub(j.startedAt))
	if err := guard(func() error { j.observer.OnComplete(j.info()); return nil }); err != nil {
		s.logger.Warn().Err(err).Str("job_id", j.id).Msg("observer failed on completion")
	}
	s.logger.Debug().Str("job_id", j.id).Int("chunks", len(j.chunks)).Msg("reveal job completed")
}

func (s *Scheduler) cancelLocked(reason string) bool {
	j := s.active
	if j == nil {
		return false
	}
	j.cancelled = true
	j.state = StateCancelled
	j.reason = reason
	j.endedAt = s.clock.Now()
	if j.timer != nil {
		j.timer.Stop()
	}
	s.finishLocked(j)
	s.metrics.ObserveRevealJob("cancelled")
	if co, ok := j.observer.(CancelObserver); ok {
		if err := guard(func() error { co.OnCancel(j.info()); return nil }); err != nil {
			s.logger.Warn().Err(err).Str("job_id", j.id).Msg("observer failed on cancel")
		}
	}
	s.logger.Debug().
		Str("job_id", j.id).
		Str("reason", reason).
		Int("emitted", j.cursor).
		Int("total", len(j.chunks)).
		Msg("reveal job cancelled")
	return true
}

func (s *Scheduler) finishLocked(j *job) {
	s.active = nil
	s.last = j.info()
	s.hasLast = true
}

// guard turns a panicking observer into an error.
func guard(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f()
}
