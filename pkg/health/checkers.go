package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running,
// which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when any recent stop-the-world GC pause exceeded
// threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(_ context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}

// PingCheck adapts a dependency ping, such as a database pool or Redis
// client, to a CheckFunc.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// FreshnessCheck fails when last reports a time older than maxAge. A zero
// time fails only once grace has elapsed since the check was created, so a
// worker that has not finished its first cycle yet stays healthy.
func FreshnessCheck(last func() time.Time, maxAge, grace time.Duration) CheckFunc {
	return freshnessCheck(last, maxAge, grace, time.Now)
}

func freshnessCheck(last func() time.Time, maxAge, grace time.Duration, now func() time.Time) CheckFunc {
	created := now()
	return func(_ context.Context) error {
		t := last()
		current := now()
		if t.IsZero() {
			if current.Sub(created) > grace {
				return errors.Errorf("no successful run within %s of start", grace)
			}
			return nil
		}
		if age := current.Sub(t); age > maxAge {
			return errors.Errorf("last successful run %s ago exceeds %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}
