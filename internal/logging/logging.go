// Package logging builds the process logger: zerolog does the writing and
// slog is the API the rest of the code sees.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Options selects level and output format.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // auto, console, json
	Out    io.Writer
}

// New returns a slog.Logger backed by zerolog.
func New(opts Options) (*slog.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var zl zerolog.Logger
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "console":
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Stamp})
	case "json":
		zl = zerolog.New(out)
	case "", "auto":
		if isTerminal(out) {
			zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Stamp})
		} else {
			zl = zerolog.New(out)
		}
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	zl = zl.With().Timestamp().Logger()
	return slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: lvl})), nil
}

// ParseLevel maps a level name to a slog level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
