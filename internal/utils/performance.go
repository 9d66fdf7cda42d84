// Package utils holds small helpers shared by the pipeline stages.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Thresholds above which a stage is reported as slow.
const (
	slowStage     = 10 * time.Second
	verySlowStage = 60 * time.Second
)

// Timer measures how long a pipeline stage takes.
type Timer struct {
	start time.Time
	name  string
	log   zerolog.Logger
}

// NewTimer starts a timer for the named stage.
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
		log:   log,
	}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	return t.StopWithFields(nil)
}

// StopWithFields logs the elapsed time together with extra fields.
func (t *Timer) StopWithFields(fields map[string]any) time.Duration {
	duration := time.Since(t.start)

	event := t.log.Debug().
		Str("operation", t.name).
		Dur("duration_ms", duration).
		Float64("duration_seconds", duration.Seconds())
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg("Performance measurement")

	// Warn if the stage took longer than expected
	if duration > verySlowStage {
		t.log.Warn().
			Str("operation", t.name).
			Dur("duration", duration).
			Msg("Slow operation detected (>60s)")
	} else if duration > slowStage {
		t.log.Info().
			Str("operation", t.name).
			Dur("duration", duration).
			Msg("Operation took longer than expected (>10s)")
	}

	return duration
}

// OperationTimer provides a defer-friendly way to measure a stage.
//
// Usage:
//
//	defer utils.OperationTimer("estimate", log)()
func OperationTimer(operation string, log zerolog.Logger) func() {
	t := NewTimer(operation, log)
	return func() {
		t.Stop()
	}
}
