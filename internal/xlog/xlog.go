// Package xlog provides the structured logging used around contention
// events and benchmark runs. None of the repos retained in the
// retrieval pack import a third-party structured logger from the code
// actually kept (see DESIGN.md), so this wraps the standard library's
// log/slog rather than inventing a logging convention of its own.
package xlog

import (
	"log/slog"
	"os"
)

// Default is the package-level logger used by the ordered-set
// implementations and the benchmark harness. Tests and embedders may
// replace it outright by assigning a new *slog.Logger to Default.
var Default = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Retry logs a single contention-induced restart. level names which
// part of the structure the restart occurred at: "node" for a
// found/target node whose lock or state changed, "pred" for a stale
// predecessor in a skip-list tower, or "rebalance" for an abandoned
// BST retrace step. It logs at debug level, below the Info threshold of
// Default's handler, so with Default the event is discarded.
func Retry(op, level string, key uint64) {
	Default.Debug("contention retry", "op", op, "level", level, "key", key)
}

// BenchmarkSummary logs one line per finished benchmark run.
func BenchmarkSummary(threads int, duration string, finds, inserts, removes int64) {
	Default.Info("benchmark complete",
		"threads", threads,
		"duration", duration,
		"finds", finds,
		"inserts", inserts,
		"removes", removes,
	)
}
