// Package logger holds the process-wide zerolog logger used by the CLI.
// Library packages take a zerolog.Logger option instead of reaching for
// this global.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Log is the global logger instance
	Log = zerolog.Nop()

	fileWriter *lumberjack.Logger
)

// FileConfig controls the optional rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

func (c FileConfig) maxSizeMB() int {
	if c.MaxSizeMB <= 0 {
		return 20
	}
	return c.MaxSizeMB
}

func (c FileConfig) maxBackups() int {
	if c.MaxBackups <= 0 {
		return 3
	}
	return c.MaxBackups
}

// Init sets up console logging on stderr, plus a JSON log file when
// file.Path is set. Match traces are only emitted at debug level.
func Init(debug bool, file FileConfig) error {
	return initWith(os.Stderr, debug, file)
}

func initWith(console io.Writer, debug bool, file FileConfig) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.RFC3339,
	}

	if err := CloseFileWriter(); err != nil {
		return err
	}
	if file.Path != "" {
		if err := os.MkdirAll(filepath.Dir(file.Path), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		fileWriter = &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.maxSizeMB(),
			MaxBackups: file.maxBackups(),
			LocalTime:  true,
		}
		// Console stays human-readable, the file gets JSON.
		out = io.MultiWriter(out, fileWriter)
	}

	Log = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
	return nil
}

// CloseFileWriter closes the log file if one is open.
func CloseFileWriter() error {
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// FilePath returns the current log file, or "" when logging to console only.
func FilePath() string {
	if fileWriter != nil {
		return fileWriter.Filename
	}
	return ""
}

// For returns a child logger tagged with the component name.
func For(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}
