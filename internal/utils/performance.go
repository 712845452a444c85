// Package utils holds small helpers shared across the backtest packages.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Timer is a simple performance timer for measuring operation duration
type Timer struct {
	start time.Time
	name  string
	log   zerolog.Logger
}

// NewTimer creates a new timer with the given name
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
		log:   log,
	}
}

// Stop stops the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	return t.StopWithContext(nil)
}

// StopWithContext stops the timer and logs with additional context
func (t *Timer) StopWithContext(context map[string]interface{}) time.Duration {
	duration := time.Since(t.start)

	event := t.log.Debug().
		Str("operation", t.name).
		Dur("duration_ms", duration)

	for key, value := range context {
		switch v := value.(type) {
		case string:
			event = event.Str(key, v)
		case int:
			event = event.Int(key, v)
		case float64:
			event = event.Float64(key, v)
		case bool:
			event = event.Bool(key, v)
		default:
			event = event.Interface(key, v)
		}
	}

	event.Msg("Performance measurement")

	if duration > 10*time.Second {
		t.log.Warn().
			Str("operation", t.name).
			Dur("duration", duration).
			Msg("Slow operation detected (>10s)")
	}

	return duration
}

// PerformanceMetrics holds aggregated performance metrics
type PerformanceMetrics struct {
	OperationName string
	CallCount     int64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
}

// Record adds one measured call.
func (pm *PerformanceMetrics) Record(d time.Duration) {
	if pm.CallCount == 0 || d < pm.MinDuration {
		pm.MinDuration = d
	}
	if d > pm.MaxDuration {
		pm.MaxDuration = d
	}
	pm.CallCount++
	pm.TotalDuration += d
}

// AvgDuration is the mean duration per call.
func (pm *PerformanceMetrics) AvgDuration() time.Duration {
	if pm.CallCount == 0 {
		return 0
	}
	return pm.TotalDuration / time.Duration(pm.CallCount)
}

// LogMetrics logs the aggregated performance metrics
func (pm *PerformanceMetrics) LogMetrics(log zerolog.Logger) {
	if pm.CallCount == 0 {
		return
	}

	log.Info().
		Str("operation", pm.OperationName).
		Int64("call_count", pm.CallCount).
		Dur("total_duration", pm.TotalDuration).
		Dur("avg_duration", pm.AvgDuration()).
		Dur("min_duration", pm.MinDuration).
		Dur("max_duration", pm.MaxDuration).
		Msg("Performance metrics summary")
}
