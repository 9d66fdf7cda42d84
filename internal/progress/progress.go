// Package progress reports the advance of long-running analysis runs.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Emitter receives progress events.
type Emitter interface {
	Emit(event string, data any)
}

// Event names for the run lifecycle
const (
	EventRunStarted   = "RunStarted"
	EventRunProgress  = "RunProgress"
	EventRunCompleted = "RunCompleted"
	EventRunFailed    = "RunFailed"
)

// Throttle interval for progress events
const throttleInterval = 100 * time.Millisecond

// ProgressEvent is emitted while a run advances.
type ProgressEvent struct {
	RunID   string `json:"run_id"`
	Kind    string `json:"kind"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// StartedEvent is emitted when a run begins.
type StartedEvent struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`
	Total int    `json:"total"`
}

// CompletedEvent is emitted when a run finishes.
type CompletedEvent struct {
	RunID    string        `json:"run_id"`
	Kind     string        `json:"kind"`
	Duration time.Duration `json:"duration_ms"`
}

// FailedEvent is emitted when a run stops on an error.
type FailedEvent struct {
	RunID    string        `json:"run_id"`
	Kind     string        `json:"kind"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration_ms"`
}

// Reporter emits throttled progress for one run. A nil Reporter, or one without an
// emitter, is silent, so drivers can call it unconditionally.
type Reporter struct {
	emitter Emitter
	runID   string
	kind    string
	total   int
	start   time.Time

	mu         sync.Mutex
	done       int
	lastReport time.Time
}

// NewReporter creates a reporter for a run of total iterations.
func NewReporter(emitter Emitter, runID, kind string, total int) *Reporter {
	return &Reporter{
		emitter: emitter,
		runID:   runID,
		kind:    kind,
		total:   total,
	}
}

// Start emits RunStarted and starts the clock.
func (r *Reporter) Start() {
	if r == nil || r.emitter == nil {
		return
	}
	r.mu.Lock()
	r.start = time.Now()
	r.mu.Unlock()

	r.emitter.Emit(EventRunStarted, StartedEvent{RunID: r.runID, Kind: r.kind, Total: r.total})
}

// Done counts one finished iteration. It is safe for concurrent use; events are
// throttled except for the last iteration.
func (r *Reporter) Done(message string) {
	if r == nil || r.emitter == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.done++
	if r.done < r.total && time.Since(r.lastReport) < throttleInterval {
		return
	}
	r.lastReport = time.Now()

	r.emitter.Emit(EventRunProgress, ProgressEvent{
		RunID:   r.runID,
		Kind:    r.kind,
		Current: r.done,
		Total:   r.total,
		Message: message,
	})
}

// Finish emits RunCompleted, or RunFailed when err is not nil.
func (r *Reporter) Finish(err error) {
	if r == nil || r.emitter == nil {
		return
	}
	r.mu.Lock()
	duration := time.Since(r.start)
	r.mu.Unlock()

	if err != nil {
		r.emitter.Emit(EventRunFailed, FailedEvent{
			RunID:    r.runID,
			Kind:     r.kind,
			Error:    err.Error(),
			Duration: duration,
		})
		return
	}
	r.emitter.Emit(EventRunCompleted, CompletedEvent{RunID: r.runID, Kind: r.kind, Duration: duration})
}

// LogEmitter writes events to a logger.
type LogEmitter struct {
	log zerolog.Logger
}

// NewLogEmitter creates an emitter that logs through log.
func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log.With().Str("component", "progress").Logger()}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(event string, data any) {
	switch ev := data.(type) {
	case ProgressEvent:
		e.log.Info().
			Str("run_id", ev.RunID).
			Str("kind", ev.Kind).
			Int("current", ev.Current).
			Int("total", ev.Total).
			Msg(ev.Message)
	case FailedEvent:
		e.log.Error().
			Str("run_id", ev.RunID).
			Str("kind", ev.Kind).
			Str("error", ev.Error).
			Dur("duration", ev.Duration).
			Msg(event)
	default:
		e.log.Info().Interface("data", data).Msg(event)
	}
}
