package rpcerr

import (
	"fmt"
	"log/slog"
	"os"
)

// Fatal reports an internal invariant violation and terminates the process.
//
// Per spec.md §7: "All other internal invariant violations are fatal; the
// engine aborts with a diagnostic rather than proceeding on corrupt state."
// This is never recovered from and never returned as an *Error to callers.
func Fatal(msg string, args ...any) {
	slog.Error(fmt.Sprintf("fatal: %s", msg), args...)
	os.Exit(2)
}
