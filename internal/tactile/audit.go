package tactile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fidsweep/internal/logging"
)

// AuditLogger fans execution events out to callbacks, an optional JSON Lines
// file, and running metrics. Its Log method is meant to be installed as an
// ExecutorConfig.AuditCallback.
type AuditLogger struct {
	mu sync.RWMutex

	callbacks  []func(AuditEvent)
	fileLogger *AuditFileLogger
	metrics    *ExecutionMetrics
}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{metrics: NewExecutionMetrics()}
}

// Attach routes exec's audit events to l.
func (l *AuditLogger) Attach(exec AuditedExecutor) {
	exec.SetAuditCallback(l.Log)
}

// AddCallback adds a callback function for audit events.
func (l *AuditLogger) AddCallback(callback func(AuditEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// EnableFileLogging appends every event to path as one JSON object per line.
func (l *AuditLogger) EnableFileLogging(path string) error {
	fl, err := NewAuditFileLogger(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileLogger != nil {
		l.fileLogger.Close()
	}
	l.fileLogger = fl
	return nil
}

// Close closes the audit file, if any.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLogger != nil {
		err := l.fileLogger.Close()
		l.fileLogger = nil
		return err
	}
	return nil
}

// Log records one event.
func (l *AuditLogger) Log(event AuditEvent) {
	l.mu.RLock()
	callbacks := l.callbacks
	fileLogger := l.fileLogger
	metrics := l.metrics
	l.mu.RUnlock()

	metrics.RecordEvent(event)

	for _, cb := range callbacks {
		cb(event)
	}

	if fileLogger != nil {
		if err := fileLogger.Write(event); err != nil {
			logging.TactileWarn("Audit file write failed: %v", err)
		}
	}
}

// Metrics returns the current execution metrics.
func (l *AuditLogger) Metrics() ExecutionMetricsSnapshot {
	return l.metrics.Snapshot()
}

// AuditFileLogger writes audit events to a file in JSON Lines format.
type AuditFileLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func NewAuditFileLogger(path string) (*AuditFileLogger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditFileLogger{file: file, path: path}, nil
}

// Write appends one event. The captured output is left out; it is in the run ledger.
func (l *AuditFileLogger) Write(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log not open")
	}

	if event.Result != nil {
		trimmed := *event.Result
		trimmed.Stdout, trimmed.Stderr, trimmed.Combined = "", "", ""
		trimmed.Command = nil
		event.Result = &trimmed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = l.file.Write(append(data, '\n'))
	return err
}

func (l *AuditFileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ExecutionMetrics tracks aggregate execution statistics.
type ExecutionMetrics struct {
	mu sync.Mutex

	started   int64
	succeeded int64
	nonZero   int64
	killed    int64
	errored   int64

	totalDuration  time.Duration
	totalCPUTimeMs int64
	peakRSSBytes   int64

	byBinary map[string]int64
}

func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{byBinary: make(map[string]int64)}
}

// RecordEvent updates metrics based on an audit event.
func (m *ExecutionMetrics) RecordEvent(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Type {
	case AuditEventStart:
		m.started++
		m.byBinary[event.Command.Binary]++
		return
	case AuditEventComplete:
		if event.Result != nil && event.Result.ExitCode == 0 {
			m.succeeded++
		} else {
			m.nonZero++
		}
	case AuditEventKilled:
		m.killed++
	case AuditEventError:
		m.errored++
	}

	if r := event.Result; r != nil {
		m.totalDuration += r.Duration
		if r.ResourceUsage != nil {
			m.totalCPUTimeMs += r.ResourceUsage.TotalCPUTimeMs()
			if r.ResourceUsage.MaxRSSBytes > m.peakRSSBytes {
				m.peakRSSBytes = r.ResourceUsage.MaxRSSBytes
			}
		}
	}
}

// ExecutionMetricsSnapshot is a point-in-time copy of ExecutionMetrics.
type ExecutionMetricsSnapshot struct {
	Started        int64            `json:"started"`
	Succeeded      int64            `json:"succeeded"`
	NonZeroExit    int64            `json:"non_zero_exit"`
	Killed         int64            `json:"killed"`
	Errored        int64            `json:"errored"`
	TotalDuration  time.Duration    `json:"total_duration"`
	TotalCPUTimeMs int64            `json:"total_cpu_time_ms"`
	PeakRSSBytes   int64            `json:"peak_rss_bytes"`
	ByBinary       map[string]int64 `json:"by_binary"`
}

// Finished counts executions that reached a terminal event.
func (s ExecutionMetricsSnapshot) Finished() int64 {
	return s.Succeeded + s.NonZeroExit + s.Killed + s.Errored
}

func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byBinary := make(map[string]int64, len(m.byBinary))
	for k, v := range m.byBinary {
		byBinary[k] = v
	}
	return ExecutionMetricsSnapshot{
		Started:        m.started,
		Succeeded:      m.succeeded,
		NonZeroExit:    m.nonZero,
		Killed:         m.killed,
		Errored:        m.errored,
		TotalDuration:  m.totalDuration,
		TotalCPUTimeMs: m.totalCPUTimeMs,
		PeakRSSBytes:   m.peakRSSBytes,
		ByBinary:       byBinary,
	}
}
