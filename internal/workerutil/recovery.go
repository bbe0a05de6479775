// Package workerutil runs background goroutines with panic recovery.
package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultMaxRetries     = 10
)

// RecoveryOptions configures RunWithPanicRecovery. Zero numeric fields use
// the defaults (100ms initial backoff, 5s cap, 10 attempts). Nil callbacks
// are no-ops.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetries is the total number of attempts. 1 means run once.
	MaxRetries int

	// OnPanic runs after each recovered panic, before the backoff wait.
	// attempt is 1-based.
	OnPanic func(worker string, attempt int)
	// OnFatal runs once when every attempt panicked.
	OnFatal func(worker string, maxRetries int)
	// IsShutdown stops restarts while the owner is tearing down.
	IsShutdown func() bool
}

func (opts RecoveryOptions) withDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-PANIC] MaxBackoff below InitialBackoff, clamping",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery starts fn on a goroutine tracked by wg and restarts
// it with exponential backoff when it panics. A normal return, a cancelled
// ctx or IsShutdown ends the worker.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	opts = opts.withDefaults()
	wg.Go(func() {
		superviseLoop(ctx, name, fn, opts)
	})
}

func superviseLoop(ctx context.Context, name string, fn func(ctx context.Context), opts RecoveryOptions) {
	delay := opts.InitialBackoff
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if !callRecovered(name, func() { fn(ctx) }) || ctx.Err() != nil {
			return
		}
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-PANIC] owner shutting down, worker not restarted", "worker", name)
			return
		}
		slog.Warn("[DEBUG-PANIC] restarting worker after panic",
			"worker", name,
			"attempt", attempt,
			"restartDelay", delay,
		)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt)
		}
		if attempt == opts.MaxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	slog.Error("[DEBUG-PANIC] worker gave up after repeated panics",
		"worker", name,
		"maxRetries", opts.MaxRetries,
	)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

// RunOnce starts fn on a goroutine tracked by wg. A panic is logged and
// reported to onPanic (may be nil) but never restarted.
func RunOnce(name string, wg *sync.WaitGroup, fn func(), onPanic func(recovered any)) {
	wg.Go(func() {
		var recovered any
		if callRecoveredValue(name, fn, &recovered) && onPanic != nil {
			onPanic(recovered)
		}
	})
}

// callRecovered runs fn and reports whether it panicked.
func callRecovered(name string, fn func()) bool {
	var ignored any
	return callRecoveredValue(name, fn, &ignored)
}

func callRecoveredValue(name string, fn func(), recovered *any) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] background goroutine recovered from panic",
				"worker", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			*recovered = r
			panicked = true
		}
	}()
	fn()
	return false
}

// nextBackoff doubles current up to maxBackoff, guarding overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
