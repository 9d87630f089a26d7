// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventbox

import "time"

// GuardTimeFunc is invoked after every event-scope body with the elapsed
// wall-clock duration and the name of the call that ran, so a host
// application can detect a body that blocked the event scope for too
// long. See spec §4.1 "Guard time".
type GuardTimeFunc func(elapsed time.Duration, name string)

// loopConfig holds configuration resolved from Option values, mirroring
// the teacher's loopOptions/LoopOption/resolveLoopOptions shape,
// generalised to this package's three documented keys (threadpool,
// guard_time, gc_actions).
type loopConfig struct {
	pool      ActionPool
	guardTime GuardTimeFunc
	gcActions bool
	logger    Logger
}

// Option configures a Core instance.
type Option interface {
	applyLoop(*loopConfig)
}

type optionFunc func(*loopConfig)

func (f optionFunc) applyLoop(cfg *loopConfig) { f(cfg) }

// WithThreadPool configures the pool used to host Actions. Without this
// option, each ActionCall gets its own dedicated goroutine (the "one new
// thread per action" default policy).
func WithThreadPool(pool ActionPool) Option {
	return optionFunc(func(cfg *loopConfig) {
		cfg.pool = pool
	})
}

// WithGuardTime installs a guard-time observer. Passing a time.Duration
// installs the default observer, which logs a warning whenever an
// event-scope body exceeds the threshold; passing a GuardTimeFunc
// installs a user-supplied observer directly; passing nil disables
// guard-time diagnostics entirely.
func WithGuardTime(v any) Option {
	return optionFunc(func(cfg *loopConfig) {
		switch t := v.(type) {
		case nil:
			cfg.guardTime = nil
		case GuardTimeFunc:
			cfg.guardTime = t
		case time.Duration:
			threshold := t
			cfg.guardTime = func(elapsed time.Duration, name string) {
				if elapsed > threshold {
					defaultGuardTimeLog(elapsed, name, threshold)
				}
			}
		default:
			panic("eventbox: WithGuardTime expects nil, a time.Duration, or a GuardTimeFunc")
		}
	})
}

// WithGCActions sets the gc_actions hint: when the ThreadPool's pending
// queue grows, it may trigger a single GC cycle from an internal
// goroutine to help release workers blocked on abandoned work. It is a
// hint, not a guarantee.
func WithGCActions(enabled bool) Option {
	return optionFunc(func(cfg *loopConfig) {
		cfg.gcActions = enabled
	})
}

// WithLogger sets the Core's structured [Logger] (by default one built on
// logiface+stumpy; see logging.go). The Core itself writes no entries
// through it: guard-time overruns reported by the default observer of
// WithGuardTime(time.Duration) go to the package-level logger set with
// SetGlobalGuardLogger, and no scope-violation or action lifecycle
// events are logged.
func WithLogger(logger Logger) Option {
	return optionFunc(func(cfg *loopConfig) {
		cfg.logger = logger
	})
}

// resolveOptions applies Option values over the package defaults,
// following the teacher's eager resolve-at-construction-time discipline.
func resolveOptions(opts []Option) *loopConfig {
	cfg := &loopConfig{
		pool:   newPerActionPool(),
		logger: defaultLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyLoop(cfg)
	}
	return cfg
}
