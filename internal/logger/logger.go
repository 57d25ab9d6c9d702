// Package logger wraps zerolog. Lines go to the console and, when a log file
// is configured, to that file as JSON.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Logger is a zerolog.Logger with component helpers.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Options configure a Logger. Zero values give info level on a colored stderr console.
type Options struct {
	Level string
	File  string
	// JSON writes raw JSON lines to the console instead of the pretty form.
	JSON    bool
	Console io.Writer
}

// New builds a logger from opts. An unknown level falls back to info.
func New(opts Options) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if !opts.JSON {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05", NoColor: opts.Console != nil}
	}

	l := &Logger{}
	sink := console
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		l.file = f
		sink = zerolog.MultiLevelWriter(console, f)
	}

	l.Logger = zerolog.New(sink).Level(lvl).With().Timestamp().Logger()
	return l, nil
}

// With returns a child logger tagged with a component name.
func (l *Logger) With(component string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("component", component).Logger()}
}

// ForRun tags every line with the drain or export run id.
func (l *Logger) ForRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("run_id", runID).Logger()}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Global is the process-wide logger set by Init.
var Global *Logger

// Init builds the global logger, closing the previous one.
func Init(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	if Global != nil {
		_ = Global.Close()
	}
	Global = l
	return nil
}

// Get returns the global logger, or a no-op logger before Init.
func Get() *Logger {
	if Global == nil {
		return Nop()
	}
	return Global
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}
