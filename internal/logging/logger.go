// Package logging provides config-driven categorized logging for the fixme sidecar.
// Every category is a named child of one zap logger. Output goes to stderr by
// default because stdout carries the RPC stream.
// When debug_mode is false only warnings and errors are written, and the
// per-category toggles are ignored.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup, config, wiring
	CategoryRPC     Category = "rpc"     // Request dispatch, framing, writes
	CategoryCapture Category = "capture" // Microphone capture sessions
	CategoryIntent  Category = "intent"  // Reply classification, locale table
	CategoryFix     Category = "fix"     // Step executor / permission gate
	CategoryTactile Category = "tactile" // Command execution
	CategoryOracle  Category = "oracle"  // Diagnosis, Q&A, chat, translation
	CategorySpeech  Category = "speech"  // TTS and transcription
	CategoryStore   Category = "store"   // Execution audit trail
)

// Settings mirrors config.LoggingConfig to avoid an import cycle.
type Settings struct {
	Level      string
	DebugMode  bool
	Format     string // "json" or "console"
	File       string // empty = stderr
	Categories map[string]bool
}

// Logger is a category-scoped logger. A Logger with a nil sugar is a no-op.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	base     = zap.NewNop()
	settings Settings
	loggers  = make(map[Category]*Logger)
	logFile  *os.File
)

// Initialize builds the root zap logger. If out is nil, output goes to
// settings.File or, when that is empty, to stderr.
func Initialize(s Settings, out io.Writer) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var sink zapcore.WriteSyncer
	switch {
	case out != nil:
		sink = zapcore.Lock(zapcore.AddSync(out))
	case s.File != "":
		f, err := os.OpenFile(s.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", s.File, err)
		}
		logFile = f
		sink = zapcore.AddSync(f)
	default:
		sink = zapcore.Lock(os.Stderr)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if strings.EqualFold(s.Format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	level := parseLevel(s.Level)
	if !s.DebugMode && level < zapcore.WarnLevel {
		level = zapcore.WarnLevel
	}

	base = zap.New(zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(level)))
	settings = s
	loggers = make(map[Category]*Logger)
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsCategoryEnabled returns whether a specific category is enabled.
// Outside debug mode every category is enabled so warnings still surface.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if !settings.DebugMode || settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{category: category}
	if categoryEnabledLocked(category) {
		l.sugar = base.Named(string(category)).Sugar()
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes buffered entries and closes the log file, if any.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

// BootError logs error to the boot category
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

// RPC logs to the rpc category
func RPC(format string, args ...interface{}) { Get(CategoryRPC).Info(format, args...) }

// RPCDebug logs debug to the rpc category
func RPCDebug(format string, args ...interface{}) { Get(CategoryRPC).Debug(format, args...) }

// RPCWarn logs warning to the rpc category
func RPCWarn(format string, args ...interface{}) { Get(CategoryRPC).Warn(format, args...) }

// RPCError logs error to the rpc category
func RPCError(format string, args ...interface{}) { Get(CategoryRPC).Error(format, args...) }

// Capture logs to the capture category
func Capture(format string, args ...interface{}) { Get(CategoryCapture).Info(format, args...) }

// CaptureDebug logs debug to the capture category
func CaptureDebug(format string, args ...interface{}) { Get(CategoryCapture).Debug(format, args...) }

// CaptureWarn logs warning to the capture category
func CaptureWarn(format string, args ...interface{}) { Get(CategoryCapture).Warn(format, args...) }

// Intent logs to the intent category
func Intent(format string, args ...interface{}) { Get(CategoryIntent).Info(format, args...) }

// IntentDebug logs debug to the intent category
func IntentDebug(format string, args ...interface{}) { Get(CategoryIntent).Debug(format, args...) }

// IntentWarn logs warning to the intent category
func IntentWarn(format string, args ...interface{}) { Get(CategoryIntent).Warn(format, args...) }

// Fix logs to the fix category
func Fix(format string, args ...interface{}) { Get(CategoryFix).Info(format, args...) }

// FixDebug logs debug to the fix category
func FixDebug(format string, args ...interface{}) { Get(CategoryFix).Debug(format, args...) }

// FixWarn logs warning to the fix category
func FixWarn(format string, args ...interface{}) { Get(CategoryFix).Warn(format, args...) }

// Tactile logs to the tactile category
func Tactile(format string, args ...interface{}) { Get(CategoryTactile).Info(format, args...) }

// TactileDebug logs debug to the tactile category
func TactileDebug(format string, args ...interface{}) { Get(CategoryTactile).Debug(format, args...) }

// TactileWarn logs warning to the tactile category
func TactileWarn(format string, args ...interface{}) { Get(CategoryTactile).Warn(format, args...) }

// TactileError logs error to the tactile category
func TactileError(format string, args ...interface{}) { Get(CategoryTactile).Error(format, args...) }

// Oracle logs to the oracle category
func Oracle(format string, args ...interface{}) { Get(CategoryOracle).Info(format, args...) }

// OracleDebug logs debug to the oracle category
func OracleDebug(format string, args ...interface{}) { Get(CategoryOracle).Debug(format, args...) }

// OracleWarn logs warning to the oracle category
func OracleWarn(format string, args ...interface{}) { Get(CategoryOracle).Warn(format, args...) }

// Speech logs to the speech category
func Speech(format string, args ...interface{}) { Get(CategorySpeech).Info(format, args...) }

// SpeechWarn logs warning to the speech category
func SpeechWarn(format string, args ...interface{}) { Get(CategorySpeech).Warn(format, args...) }

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) { Get(CategoryStore).Warn(format, args...) }

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// WithRequestID creates a request-scoped logger carrying the correlation id.
func WithRequestID(category Category, requestID string) *Logger {
	return Get(category).With("req", requestID)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
