// logging.go — structured logging for the eventbox package.
//
// This mirrors the teacher's (joeycumines/go-utilpkg/eventloop) pluggable
// Logger design: a small package-defined interface, a LogEntry value
// type, and a no-op-friendly default so logging never adds overhead
// unless a caller opts in. Where the teacher hand-rolled a JSON/pretty
// writer, the default here is backed by github.com/joeycumines/logiface +
// github.com/joeycumines/stumpy (the pack's own "model" logiface logger),
// so a caller can swap in any other logiface backend (zerolog, logrus,
// slog adapters) without this package knowing about it.
package eventbox

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// LogLevel mirrors the severities eventbox itself ever emits.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is a single structured log record produced by the library.
type LogEntry struct {
	Level     LogLevel
	Category  string // "dispatch", "sanitizer", "action", "threadpool", "shutdown"
	Name      string // call/action/pool-request name, if applicable
	Message   string
	Err       error
	Fields    map[string]any
	Timestamp time.Time
}

// Logger is the structured logging interface eventbox writes through.
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// noopLogger discards everything.
type noopLogger struct{}

func (noopLogger) Log(LogEntry) {}

func (noopLogger) IsEnabled(LogLevel) bool { return false }

// logifaceLogger adapts eventbox's Logger interface onto a
// logiface.Logger[*stumpy.Event], the pack's own structured-JSON logiface
// backend.
type logifaceLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// defaultLogger builds the default production logger: logiface, backed
// by stumpy, writing JSON lines (stumpy defaults to os.Stderr when no
// writer option is supplied).
func defaultLogger() Logger {
	return &logifaceLogger{
		l: stumpy.L.New(
			stumpy.L.WithStumpy(),
		),
	}
}

func (d *logifaceLogger) IsEnabled(level LogLevel) bool {
	return d.l.Level() >= toLogifaceLevel(level)
}

func (d *logifaceLogger) Log(entry LogEntry) {
	b := d.l.Build(toLogifaceLevel(entry.Level))
	if b == nil {
		return
	}
	if entry.Category != "" {
		b = b.Str("category", entry.Category)
	}
	if entry.Name != "" {
		b = b.Str("name", entry.Name)
	}
	for k, v := range entry.Fields {
		b = b.Str(k, fmt.Sprint(v))
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

func toLogifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

// defaultGuardTimeLog is the implementation installed by
// WithGuardTime(time.Duration); it identifies the offending call by name,
// the nearest thing this library has to "the nearest caller frame outside
// the library" — Go call bodies are closures, not named methods that can
// be resolved generically.
func defaultGuardTimeLog(elapsed time.Duration, name string, threshold time.Duration) {
	globalGuardLogger().Log(LogEntry{
		Level:    LevelWarn,
		Category: "dispatch",
		Name:     name,
		Message:  "event-scope body exceeded guard time",
		Fields: map[string]any{
			"elapsed":   elapsed.String(),
			"threshold": threshold.String(),
		},
		Timestamp: time.Now(),
	})
}

// globalGuardLoggerValue backs the default (threshold-based) guard-time
// observer returned from WithGuardTime, which is built before any Core
// exists and so cannot reach a per-instance Logger. It is the only logger
// the package writes to.
var globalGuardLoggerValue Logger = defaultLogger()

func globalGuardLogger() Logger { return globalGuardLoggerValue }

// SetGlobalGuardLogger overrides the logger used by the default
// (threshold-based) guard-time observer. A Logger set per Core with
// WithLogger does not affect it.
func SetGlobalGuardLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	globalGuardLoggerValue = logger
}
