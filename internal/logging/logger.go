// Package logging provides the leveled logger every engine component uses
// to report device, QP, and task lifecycle events — QP recovery
// ("recovering qp", "device", dev.name, "qp", qp.Handle.ID), CQE
// classification ("wr flush error", "wrid", cqe.WRID), and channel-thread
// CPU pinning. It never touches the data plane itself.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps a stdlib *log.Logger with levels and the key=value arg
// formatting every call site in internal/engine passes alongside its
// message (device names, QP handles, WR ids, CQE statuses).
type Logger struct {
	logger *log.Logger
	level  LogLevel
	mu     sync.Mutex
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel orders the severities a device's event stream can be filtered
// to, from per-WR tracing (LevelDebug) up to QP-recovery/failure reporting
// (LevelError).
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config selects a Logger's minimum level and destination, e.g. routing a
// benchmark binary's Logger to stdout at LevelDebug while production
// device contexts keep the LevelInfo default.
type Config struct {
	Level  LogLevel
	Output io.Writer
}

// DefaultConfig returns the level (LevelInfo) and destination (stderr)
// every deviceContext's logger runs with absent explicit configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a Logger against config, or DefaultConfig() if config
// is nil.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  config.Level,
	}
}

// Default returns the package-wide logger every internal/engine component
// reaches for via logging.Default(), creating it with DefaultConfig() on
// first use.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the package-wide logger, the seam a benchmark
// binary or test harness uses to redirect every device context's log
// output without threading a Logger through NewDevice.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// formatArgs renders trailing key/value pairs ("device", name, "qp", id)
// as " device=name qp=id", the shape every call site in poller.go and
// recovery.go passes after its message.
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(args))
}

// Debug logs per-WR/per-CQE tracing detail, e.g. a domain QP retired after
// recovery.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", msg, args...)
}

// Info logs a device or QP lifecycle milestone, e.g. a default QP
// recovered.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, "[INFO]", msg, args...)
}

// Warn logs a recoverable anomaly: a WR post error, a stalled recovery
// retry, a strict-FIFO dispatch missing an intermediate completion.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, "[WARN]", msg, args...)
}

// Error logs a condition the caller could not recover from on its own.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, "[ERROR]", msg, args...)
}

// Debugf is Debug with printf-style formatting, for call sites building a
// single formatted string rather than key/value pairs.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

// Warnf is Warn with printf-style formatting, used by recovery.go to
// report a failed default-QP recreation attempt along with the error.
func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf logs at LevelInfo, kept for callers migrating from a bare
// *log.Logger.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Debug, Info, Warn, and Error below log through the package-wide default
// logger, for call sites that have no Logger of their own to hold.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
