package pool

import (
	"context"
	"fmt"
	"time"
)

// Builder accumulates and validates a pool's tunables before constructing
// it. Parameters are initialized to the defaults below; call Build (eager)
// or BuildUnchecked (lazy) to hand the manager over and get a Pool.
type Builder[C any] struct {
	maxSize           int
	minIdle           int
	hasMinIdle        bool
	testOnCheckOut    bool
	maxLifetime       time.Duration
	hasMaxLifetime    bool
	idleTimeout       time.Duration
	hasIdleTimeout    bool
	connectionTimeout time.Duration
	reaperRate        time.Duration
	errorSink         ErrorSink
}

// NewBuilder returns a Builder seeded with the defaults documented on each
// setter below.
func NewBuilder[C any]() *Builder[C] {
	return &Builder[C]{
		maxSize:           10,
		testOnCheckOut:    true,
		maxLifetime:       30 * time.Minute,
		hasMaxLifetime:    true,
		idleTimeout:       10 * time.Minute,
		hasIdleTimeout:    true,
		connectionTimeout: 30 * time.Second,
		reaperRate:        30 * time.Second,
		errorSink:         NopErrorSink{},
	}
}

// MaxSize sets the absolute upper bound on live+pending connections.
// Defaults to 10. Panics if max_size is not positive.
func (b *Builder[C]) MaxSize(maxSize int) *Builder[C] {
	if maxSize <= 0 {
		panic("pool: max_size must be greater than zero")
	}
	b.maxSize = maxSize
	return b
}

// MinIdle sets the idle count the pool eagerly maintains, up to max_size.
// Defaults to unset (the pool does not proactively maintain any idle
// connections beyond what callers create demand for).
func (b *Builder[C]) MinIdle(minIdle int) *Builder[C] {
	b.minIdle = minIdle
	b.hasMinIdle = true
	return b
}

// TestOnCheckOut controls whether a connection is validated via the
// manager before being handed to a caller. Defaults to true.
func (b *Builder[C]) TestOnCheckOut(test bool) *Builder[C] {
	b.testOnCheckOut = test
	return b
}

// MaxLifetime sets the maximum age a connection is allowed to reach before
// the reaper closes it. Pass 0 to disable lifetime-based reaping. Defaults
// to 30 minutes. Panics if a nonzero duration is not positive.
func (b *Builder[C]) MaxLifetime(d time.Duration) *Builder[C] {
	if d < 0 {
		panic("pool: max_lifetime must be greater than zero")
	}
	b.maxLifetime = d
	b.hasMaxLifetime = d > 0
	return b
}

// IdleTimeout sets the maximum time a connection may sit idle before the
// reaper closes it. Pass 0 to disable idle-based reaping. Defaults to 10
// minutes. Panics if a nonzero duration is not positive.
func (b *Builder[C]) IdleTimeout(d time.Duration) *Builder[C] {
	if d < 0 {
		panic("pool: idle_timeout must be greater than zero")
	}
	b.idleTimeout = d
	b.hasIdleTimeout = d > 0
	return b
}

// ConnectionTimeout sets the deadline for a caller waiting on checkout and
// for one connector's retry loop. Defaults to 30 seconds. Panics if d is
// not positive.
func (b *Builder[C]) ConnectionTimeout(d time.Duration) *Builder[C] {
	if d <= 0 {
		panic("pool: connection_timeout must be greater than zero")
	}
	b.connectionTimeout = d
	return b
}

// ReaperRate sets the scan period for the background reaper. Defaults to
// 30 seconds.
func (b *Builder[C]) ReaperRate(d time.Duration) *Builder[C] {
	if d <= 0 {
		panic("pool: reaper_rate must be greater than zero")
	}
	b.reaperRate = d
	return b
}

// ErrorSink sets the consumer of errors from background replenishment and
// reaping. Defaults to NopErrorSink.
func (b *Builder[C]) ErrorSink(sink ErrorSink) *Builder[C] {
	b.errorSink = sink
	return b
}

func (b *Builder[C]) validate() error {
	if b.hasMinIdle && b.minIdle > b.maxSize {
		return fmt.Errorf("pool: min_idle (%d) must be no larger than max_size (%d)", b.minIdle, b.maxSize)
	}
	return nil
}

// Build consumes the builder and returns a Pool that has already
// established its configured minimum idle connections (or failed trying).
// The manager's error is surfaced directly if the initial replenishment
// fails.
func (b *Builder[C]) Build(ctx context.Context, manager Manager[C]) (*Pool[C], error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	p := newPool(b, manager)
	if err := p.shared.replenishIdleConnections(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// BuildUnchecked consumes the builder and returns a Pool immediately,
// scheduling the initial replenishment as a background task. Errors
// encountered while replenishing go to the configured ErrorSink instead of
// failing construction.
func (b *Builder[C]) BuildUnchecked(manager Manager[C]) (*Pool[C], error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	p := newPool(b, manager)
	p.spawnReplenishing()
	return p, nil
}
