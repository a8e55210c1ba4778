package logging

import (
	"fmt"
	"log/slog"
)

// Err returns the "error" attribute for err.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Handle formats a listener handle the way it is printed everywhere else.
func Handle(h uint64) slog.Attr {
	return slog.String("handle", fmt.Sprintf("%#016x", h))
}

// Topic logs a topic by its string form.
func Topic(t fmt.Stringer) slog.Attr {
	return slog.String("topic", t.String())
}

// Component tags a logger with the subsystem that owns it.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
