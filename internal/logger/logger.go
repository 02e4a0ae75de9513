// Package logger implements the process-wide logger exposed to plugins:
// five severity levels, a file sink plus a console sink, and a
// console-only path (Con) that never touches the file.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level mirrors the fixed FATAL..DEBUG scale of the callback surface.
type Level int

const (
	FATAL Level = iota
	ERROR
	WARN
	INFO
	DEBUG
)

func (l Level) String() string {
	switch l {
	case FATAL:
		return "FATAL"
	case ERROR:
		return "ERROR"
	case WARN:
		return "WARN"
	case INFO:
		return "INFO"
	case DEBUG:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name case-insensitively to a Level, defaulting to
// INFO for anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "FATAL":
		return FATAL
	case "ERROR":
		return ERROR
	case "WARN", "WARNING":
		return WARN
	case "DEBUG":
		return DEBUG
	default:
		return INFO
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case FATAL:
		return logrus.FatalLevel
	case ERROR:
		return logrus.ErrorLevel
	case WARN:
		return logrus.WarnLevel
	case DEBUG:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is the dependency-injected sink passed through a context value to
// every operation, rather than a process-wide singleton. Plugins receive
// it explicitly via the callback surface instead of importing a global.
type Logger struct {
	threshold Level
	file      *logrus.Logger
	console   *logrus.Logger
	closer    io.Closer
}

// New builds a Logger writing to logPath (created/appended) for the file
// sink, and to stdout/stderr for the console sink, matching the original's
// FATAL/ERROR/WARN -> stderr, INFO/DEBUG -> stdout split.
func New(logPath string, threshold Level) (*Logger, error) {
	l := &Logger{threshold: threshold}

	fileLog := logrus.New()
	fileLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		fileLog.SetOutput(f)
		l.closer = f
	} else {
		fileLog.SetOutput(io.Discard)
	}
	fileLog.SetLevel(logrus.TraceLevel)
	l.file = fileLog

	conLog := logrus.New()
	conLog.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	conLog.SetOutput(os.Stdout)
	conLog.SetLevel(logrus.TraceLevel)
	l.console = conLog

	return l, nil
}

// Close releases the underlying file handle, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// SetLevel changes the threshold applied to both sinks.
func (l *Logger) SetLevel(level Level) { l.threshold = level }

func (l *Logger) enabled(level Level) bool { return level <= l.threshold }

// Log appends message to both the file and console sinks at level, subject
// to the current threshold. Severe levels (FATAL/ERROR/WARN) route to
// stderr on the console sink; INFO/DEBUG route to stdout.
func (l *Logger) Log(level Level, message string) {
	if !l.enabled(level) {
		return
	}
	l.file.Log(level.logrus(), message)
	l.writeConsole(level, message)
}

// Con writes message to the console sink only; it is never persisted to
// the log file.
func (l *Logger) Con(level Level, message string) {
	if !l.enabled(level) {
		return
	}
	l.writeConsole(level, message)
}

func (l *Logger) writeConsole(level Level, message string) {
	if level <= WARN {
		l.console.SetOutput(os.Stderr)
	} else {
		l.console.SetOutput(os.Stdout)
	}
	l.console.Log(level.logrus(), message)
}
