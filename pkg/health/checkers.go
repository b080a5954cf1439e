package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck flags a goroutine leak: it fails once the live goroutine
// count exceeds threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when any of the recent stop-the-world GC pauses
// exceeded threshold, a signal of memory pressure or an oversized heap.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(_ context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)

		var max time.Duration
		for _, ns := range stats.PauseNs {
			if p := time.Duration(ns); p > max {
				max = p
			}
		}
		if max > threshold {
			return errors.Errorf("GC pause %s exceeds threshold %s", max, threshold)
		}
		return nil
	}
}
