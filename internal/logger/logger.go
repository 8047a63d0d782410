package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a convenience alias for structured log fields
type Fields map[string]interface{}

// LevelLogger writes printf-style messages at a fixed logrus level
type LevelLogger struct {
	base  *logrus.Logger
	level logrus.Level
}

// Printf logs a formatted message at the logger's level
func (l *LevelLogger) Printf(format string, args ...interface{}) {
	l.base.Logf(l.level, format, args...)
}

// Println logs its arguments at the logger's level
func (l *LevelLogger) Println(args ...interface{}) {
	l.base.Logln(l.level, args...)
}

var (
	Info    *LevelLogger
	Warn    *LevelLogger
	Debug   *LevelLogger
	Verbose *LevelLogger
	Error   *LevelLogger
	Always  *LevelLogger // Always logs to file regardless of log level

	// Current log level for filtering
	currentLogLevel string

	base   *logrus.Logger
	always *logrus.Logger
)

// Options controls where and how log lines are written
type Options struct {
	Level      string
	File       string
	Format     string // "text" or "json"
	MaxSizeMB  int
	MaxBackups int
	Console    bool
}

func init() {
	// Usable before InitWithConfig runs (tests, library callers)
	l := newLogrus(os.Stderr, "text")
	l.SetLevel(logrus.InfoLevel)
	install(l, l, "info")
}

func Init() error {
	return InitWithLevel("info")
}

func InitWithLevel(logLevel string) error {
	return InitWithConfig(logLevel, "chainsense.log")
}

func InitWithConfig(logLevel, logFilePath string) error {
	return InitWithOptions(Options{Level: logLevel, File: logFilePath, Format: "text", MaxSizeMB: 50, MaxBackups: 3})
}

// InitWithOptions wires the level loggers to a rotated log file
func InitWithOptions(opts Options) error {
	if opts.File == "" {
		return fmt.Errorf("log file path is required")
	}
	if dir := filepath.Dir(opts.File); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   false,
	}

	var out io.Writer = rotator
	if opts.Console {
		out = io.MultiWriter(rotator, os.Stdout)
	}

	l := newLogrus(out, opts.Format)
	l.SetLevel(logrusLevel(opts.Level))
	l.AddHook(&stderrHook{})

	a := newLogrus(rotator, opts.Format)
	a.SetLevel(logrus.InfoLevel)

	install(l, a, opts.Level)
	return nil
}

func install(l, a *logrus.Logger, level string) {
	currentLogLevel = strings.ToLower(level)
	base = l
	always = a

	Info = &LevelLogger{base: l, level: logrus.InfoLevel}
	Warn = &LevelLogger{base: l, level: logrus.WarnLevel}
	Debug = &LevelLogger{base: l, level: logrus.DebugLevel}
	Verbose = &LevelLogger{base: l, level: logrus.TraceLevel}
	Error = &LevelLogger{base: l, level: logrus.ErrorLevel}
	Always = &LevelLogger{base: a, level: logrus.InfoLevel}
}

func newLogrus(out io.Writer, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetReportCaller(true)

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  "2006/01/02 15:04:05",
			CallerPrettyfier: callerPrettyfier,
		})
	}
	l.AddHook(&callerHook{})
	return l
}

// logrusLevel maps the app's level names onto logrus levels
func logrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	case "verbose":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// shouldLog determines if a log level should be active
func shouldLog(level string) bool {
	levels := map[string]int{
		"error":   0,
		"warn":    1,
		"info":    2,
		"debug":   3,
		"verbose": 4,
	}

	currentLevel, exists := levels[currentLogLevel]
	if !exists {
		currentLevel = 2 // default to info
	}

	requiredLevel, exists := levels[level]
	if !exists {
		return false
	}

	return currentLevel >= requiredLevel
}

// IsVerbose reports whether verbose (trace) output is enabled
func IsVerbose() bool {
	return shouldLog("verbose")
}

// WithComponent returns a structured entry tagged with a component name
func WithComponent(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// WithFields returns a structured entry carrying the given fields
func WithFields(fields Fields) *logrus.Entry {
	return base.WithFields(logrus.Fields(fields))
}

// stderrHook mirrors error-level entries to stderr
type stderrHook struct{}

func (h *stderrHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *stderrHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = os.Stderr.WriteString(line)
	return err
}
