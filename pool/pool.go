package pool

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// settings holds the frozen, validated tunables produced by a Builder.
type settings struct {
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

// sharedPool is the guts of a Pool: the manager, the frozen settings, and
// the mutex-guarded internals. A Pool is just a handle to one of these;
// the reaper reaches it through a weak.Pointer so it never keeps it alive
// on its own. Replenish and connect goroutines hold a strong reference
// while they run, so they keep it alive until they finish.
type sharedPool[C any] struct {
	manager Manager[C]
	cfg     settings

	mu sync.Mutex
	in internals[C]

	replenisher replenisher
}

// Pool is a generic connection pool bounded by a Builder's configuration.
// The zero value is not usable; construct one via Builder.Build or
// Builder.BuildUnchecked. A Pool may be shared freely across goroutines;
// all of its methods are safe for concurrent use.
type Pool[C any] struct {
	shared *sharedPool[C]
}

func newPool[C any](b *Builder[C], manager Manager[C]) *Pool[C] {
	sp := &sharedPool[C]{
		manager: manager,
		cfg: settings{
			maxSize:           b.maxSize,
			minIdle:           b.minIdle,
			hasMinIdle:        b.hasMinIdle,
			testOnCheckOut:    b.testOnCheckOut,
			maxLifetime:       b.maxLifetime,
			hasMaxLifetime:    b.hasMaxLifetime,
			idleTimeout:       b.idleTimeout,
			hasIdleTimeout:    b.hasIdleTimeout,
			connectionTimeout: b.connectionTimeout,
			reaperRate:        b.reaperRate,
			errorSink:         b.errorSink,
		},
	}
	startReaper(sp)
	return &Pool[C]{shared: sp}
}

// State is a point-in-time snapshot of the pool's population.
type State struct {
	// Connections is the number of live connections (idle + checked out).
	Connections int
	// IdleConnections is the number of connections currently idle.
	IdleConnections int
}

// State returns a snapshot of the pool's current population. It spins
// until it can acquire the lock uncontended rather than queueing behind
// any in-flight mutating operation, so it never deadlocks against Get,
// put-back, the connector, or the reaper.
func (p *Pool[C]) State() State {
	sp := p.shared
	for !sp.mu.TryLock() {
		runtime.Gosched()
	}
	defer sp.mu.Unlock()
	return State{
		Connections:     sp.in.numConns,
		IdleConnections: len(sp.in.idle),
	}
}

// Get retrieves a connection from the pool, waiting on the FIFO queue if
// none are idle (a connect is started for the wait when the pool is below
// capacity). It returns ErrTimedOut
// (wrapped in *RunError) if connection_timeout elapses first.
func (p *Pool[C]) Get(ctx context.Context) (*PooledConnection[C], error) {
	c, err := p.shared.getConn(ctx)
	if err != nil {
		return nil, err
	}
	return newPooledConnection(p, c), nil
}

// Run calls fn with a checked-out connection and always returns the
// connection to the pool before returning to the caller, regardless of
// whether fn succeeds. fn reports its own result alongside the connection
// it was given, since it may (and for some backends must) return a
// different connection value than the one it received.
func (p *Pool[C]) Run(ctx context.Context, fn func(ctx context.Context, c C) (C, error)) error {
	pc, err := p.Get(ctx)
	if err != nil {
		return err
	}

	c, fnErr := fn(ctx, pc.conn.value)
	pc.conn.value = c
	pc.Release()

	if fnErr != nil {
		return userError(fnErr)
	}
	return nil
}

// DedicatedConnection opens a connection via the manager that is handed to
// the caller outside of the pool's bookkeeping entirely: it does not count
// against max_size, is never validated or reaped by this pool, and must be
// closed by the caller through whatever mechanism the connection type
// provides. Useful for a connection that must outlive normal pool
// recycling (e.g. a long-lived subscribe/listen connection).
func (p *Pool[C]) DedicatedConnection(ctx context.Context) (C, error) {
	return p.shared.manager.Connect(ctx)
}

// getConn implements the checkout loop: pop an idle entry and
// validate it (retrying on validation failure), or register as a waiter
// and block until delivery or timeout.
func (sp *sharedPool[C]) getConn(ctx context.Context) (conn[C], error) {
	for {
		sp.mu.Lock()
		ic, ok := sp.in.popIdle()
		if !ok {
			sp.mu.Unlock()
			break
		}

		if sp.in.slotsAvailable(sp.cfg.maxSize) > 0 {
			sp.triggerReplenish()
		}
		sp.mu.Unlock()

		if !sp.cfg.testOnCheckOut {
			return ic.conn, nil
		}

		if err := sp.manager.IsValid(ctx, ic.conn.value); err == nil {
			return ic.conn, nil
		}

		sp.mu.Lock()
		sp.in.numConns--
		needsReplenish := sp.in.numConns+sp.in.pendingConns < sp.cfg.maxSize
		sp.mu.Unlock()
		if needsReplenish {
			sp.triggerReplenish()
		}
		// Drop this entry and retry from the top of the loop.
	}

	w := newWaiter[C]()
	sp.mu.Lock()
	sp.in.waiters = append(sp.in.waiters, w)
	spawnConnect := sp.in.slotsAvailable(sp.cfg.maxSize) > 0
	sp.mu.Unlock()

	if spawnConnect {
		go func() {
			if err := sp.addConnection(context.Background()); err != nil {
				sp.cfg.errorSink.Sink(err)
			}
		}()
	}

	timer := time.NewTimer(sp.cfg.connectionTimeout)
	defer timer.Stop()

	select {
	case c := <-w.ch:
		return c, nil
	case <-timer.C:
		close(w.cancelled)
		// The returner may have started a send in the instant before we
		// closed cancelled; the select inside putIdleConn resolves that
		// race atomically, so no further synchronization is needed here.
		sp.mu.Lock()
		sp.in.removeWaiter(w)
		sp.mu.Unlock()
		return conn[C]{}, timedOutError()
	case <-ctx.Done():
		close(w.cancelled)
		sp.mu.Lock()
		sp.in.removeWaiter(w)
		sp.mu.Unlock()
		return conn[C]{}, ctx.Err()
	}
}

// putBack is the return half of the checkout/return protocol:
// probe has_broken synchronously, then either drop the connection or
// rebuild it as a fresh idle record and hand it to the next waiter or the
// idle deque.
func (sp *sharedPool[C]) putBack(c conn[C]) {
	broken := sp.manager.HasBroken(c.value)

	sp.mu.Lock()
	if broken {
		sp.in.numConns--
		needsReplenish := sp.in.numConns+sp.in.pendingConns < sp.cfg.maxSize
		sp.mu.Unlock()
		if needsReplenish {
			sp.triggerReplenish()
		}
		return
	}

	sp.in.putIdleConn(makeIdle(c))
	sp.mu.Unlock()
}
