// Package logging builds the zerolog logger shared by slideseg components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Options controls where log messages go
type Options struct {
	// Level is a zerolog level name such as debug, info or warn
	Level string

	// File, when set, receives JSON log lines through a rotating writer
	File string

	// MaxSize is the rotation size in megabytes
	MaxSize int

	// MaxAge is the number of days rotated files are kept
	MaxAge int
}

// New creates a logger. Without a log file, messages go to stderr through a
// console writer.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	if opts.File == "" {
		w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		return NewWithWriter(w, level), nopCloser{}, nil
	}

	l := &lumberjack.Logger{
		Filename: opts.File,
		MaxSize:  opts.MaxSize, // megabytes
		MaxAge:   opts.MaxAge,  // days
	}
	return NewWithWriter(l, level), l, nil
}

// NewWithWriter creates a timestamped logger writing to w
func NewWithWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Component returns a child logger tagged with a component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
