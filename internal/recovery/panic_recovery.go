// Package recovery keeps a panicking background goroutine from taking the
// whole gateway down.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine; a panic is logged with its stack and swallowed.
func Go(logger *slog.Logger, name string, fn func()) {
	go Run(logger, name, fn)
}

// Run calls fn and reports whether it panicked.
func Run(logger *slog.Logger, name string, fn func()) (panicked bool) {
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logger.Error("goroutine_panic_recovered",
				slog.String("worker_name", name),
				slog.String("error", fmt.Sprintf("%v", r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
	return false
}
