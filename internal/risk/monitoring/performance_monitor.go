package monitoring

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Operation names recorded by the monitor.
const (
	OperationMonitorVault = "monitor_vault"
	OperationHousekeeping = "housekeeping"
)

const responseWindow = 100

// PerformanceMetrics is a snapshot of the monitor's rolling counters.
type PerformanceMetrics struct {
	TotalChecks int64   `json:"total_checks"`
	ErrorCount  int64   `json:"error_count"`
	SuccessRate float64 `json:"success_rate"`

	// AverageResponseTime is an incremental mean over every recorded check.
	AverageResponseTime time.Duration `json:"average_response_time"`
	MinResponseTime     time.Duration `json:"min_response_time"`
	MaxResponseTime     time.Duration `json:"max_response_time"`
	P95ResponseTime     time.Duration `json:"p95_response_time"`

	ChecksPerSecond float64          `json:"checks_per_second"`
	ErrorsByType    map[string]int64 `json:"errors_by_type"`
	LastCheckAt     time.Time        `json:"last_check_at"`

	OperationMetrics map[string]*OperationMetrics `json:"operation_metrics"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Operation       string        `json:"operation"`
	Count           int64         `json:"count"`
	ErrorCount      int64         `json:"error_count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	LastExecuted    time.Time     `json:"last_executed"`
}

// OperationContext carries the start of a monitored operation.
type OperationContext struct {
	Operation string
	StartTime time.Time
}

// PerformanceMonitor keeps the monitor's performance counters. It is safe for
// concurrent use.
type PerformanceMonitor struct {
	mu      sync.RWMutex
	metrics PerformanceMetrics

	responseTimes []time.Duration
	timestamps    []time.Time

	logger *zap.Logger
}

// NewPerformanceMonitor creates a new performance monitor
func NewPerformanceMonitor(logger *zap.Logger) *PerformanceMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	pm := &PerformanceMonitor{logger: logger}
	pm.reset()
	return pm
}

// StartOperation begins timing an operation.
func (pm *PerformanceMonitor) StartOperation(operation string) *OperationContext {
	return &OperationContext{Operation: operation, StartTime: time.Now()}
}

// EndOperation records the operation's latency. A non-nil err counts as a
// failed check.
func (pm *PerformanceMonitor) EndOperation(ctx *OperationContext, err error) time.Duration {
	duration := time.Since(ctx.StartTime)
	pm.Record(ctx.Operation, duration, err)
	return duration
}

// Record adds one check with an explicit duration.
func (pm *PerformanceMonitor) Record(operation string, duration time.Duration, err error) {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	m := &pm.metrics
	m.TotalChecks++
	if err != nil {
		m.ErrorCount++
		m.ErrorsByType[fmt.Sprintf("%T", err)]++
	}
	m.SuccessRate = float64(m.TotalChecks-m.ErrorCount) / float64(m.TotalChecks)
	m.LastCheckAt = now

	// Incremental mean: avg += (x - avg) / n
	m.AverageResponseTime += (duration - m.AverageResponseTime) / time.Duration(m.TotalChecks)
	if m.TotalChecks == 1 || duration < m.MinResponseTime {
		m.MinResponseTime = duration
	}
	if duration > m.MaxResponseTime {
		m.MaxResponseTime = duration
	}

	pm.updateOperationMetrics(operation, duration, err, now)
	pm.updateTimeSeries(duration, now)

	if err != nil {
		pm.logger.Warn("Risk check failed",
			zap.String("operation", operation),
			zap.Duration("duration", duration),
			zap.Error(err))
		return
	}
	pm.logger.Debug("Risk check completed",
		zap.String("operation", operation),
		zap.Duration("duration", duration))
}

func (pm *PerformanceMonitor) updateOperationMetrics(operation string, duration time.Duration, err error, now time.Time) {
	op, ok := pm.metrics.OperationMetrics[operation]
	if !ok {
		op = &OperationMetrics{Operation: operation}
		pm.metrics.OperationMetrics[operation] = op
	}
	op.Count++
	if err != nil {
		op.ErrorCount++
	}
	op.TotalDuration += duration
	op.AverageDuration = op.TotalDuration / time.Duration(op.Count)
	op.LastExecuted = now
}

// updateTimeSeries keeps the last responseWindow samples for percentile and
// throughput figures.
func (pm *PerformanceMonitor) updateTimeSeries(duration time.Duration, now time.Time) {
	if len(pm.responseTimes) >= responseWindow {
		pm.responseTimes = pm.responseTimes[1:]
		pm.timestamps = pm.timestamps[1:]
	}
	pm.responseTimes = append(pm.responseTimes, duration)
	pm.timestamps = append(pm.timestamps, now)

	if len(pm.responseTimes) >= 5 {
		sorted := append([]time.Duration(nil), pm.responseTimes...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		pm.metrics.P95ResponseTime = sorted[int(0.95*float64(len(sorted)))]
	}

	if len(pm.timestamps) >= 2 {
		span := pm.timestamps[len(pm.timestamps)-1].Sub(pm.timestamps[0])
		if span > 0 {
			pm.metrics.ChecksPerSecond = float64(len(pm.timestamps)) / span.Seconds()
		}
	}
}

// GetMetrics returns a copy of current metrics
func (pm *PerformanceMonitor) GetMetrics() PerformanceMetrics {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := pm.metrics
	out.ErrorsByType = make(map[string]int64, len(pm.metrics.ErrorsByType))
	for k, v := range pm.metrics.ErrorsByType {
		out.ErrorsByType[k] = v
	}
	out.OperationMetrics = make(map[string]*OperationMetrics, len(pm.metrics.OperationMetrics))
	for k, v := range pm.metrics.OperationMetrics {
		op := *v
		out.OperationMetrics[k] = &op
	}
	return out
}

// SuccessRate returns (totalChecks - errorCount) / totalChecks, or 1 before
// the first check.
func (pm *PerformanceMonitor) SuccessRate() float64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.metrics.SuccessRate
}

// OperationSuccessRate returns the success rate of a single operation type.
func (pm *PerformanceMonitor) OperationSuccessRate(operation string) float64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	op, ok := pm.metrics.OperationMetrics[operation]
	if !ok || op.Count == 0 {
		return 0
	}
	return float64(op.Count-op.ErrorCount) / float64(op.Count)
}

// Reset resets all metrics
func (pm *PerformanceMonitor) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.reset()
}

func (pm *PerformanceMonitor) reset() {
	pm.metrics = PerformanceMetrics{
		SuccessRate:      1,
		ErrorsByType:     make(map[string]int64),
		OperationMetrics: make(map[string]*OperationMetrics),
	}
	pm.responseTimes = make([]time.Duration, 0, responseWindow)
	pm.timestamps = make([]time.Time, 0, responseWindow)
}
