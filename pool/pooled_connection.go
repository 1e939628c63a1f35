package pool

import (
	"runtime"
	"sync/atomic"
)

// PooledConnection is the smart handle a caller gets back from Get. Its
// only responsibility is to return the underlying connection to the pool
// exactly once. Go has no destructors, so the caller must call Release
// (aliased as Close) explicitly, typically via defer.
//
// As a backstop, a released-or-not cleanup fires if a PooledConnection is
// garbage collected while still checked out: it cannot safely run the
// pool's asynchronous return path from a finalizer goroutine, so instead
// it reports the leak to the pool's ErrorSink. Callers should still treat
// this as a bug to fix, not a safety net to rely on: the leaked
// connection is unavailable to every other caller until the cleanup runs,
// which is not on any particular schedule.
type PooledConnection[C any] struct {
	pool     *Pool[C]
	conn     conn[C]
	released atomic.Bool
	cleanup  runtime.Cleanup
}

func newPooledConnection[C any](p *Pool[C], c conn[C]) *PooledConnection[C] {
	pc := &PooledConnection[C]{pool: p, conn: c}
	pc.cleanup = runtime.AddCleanup(pc, reportLeakedConnection[C], p.shared)
	return pc
}

func reportLeakedConnection[C any](sp *sharedPool[C]) {
	sp.cfg.errorSink.Sink(errLeakedConnection)
}

// Conn returns the underlying connection value. It remains valid until
// Release is called; using it afterward is a caller bug.
func (pc *PooledConnection[C]) Conn() C {
	return pc.conn.value
}

// Release returns the connection to the pool: the manager's HasBroken is
// probed synchronously, then the connection is either discarded or handed
// to the next waiter or parked idle. Release is idempotent; calling it
// more than once after the first is a no-op.
func (pc *PooledConnection[C]) Release() {
	if !pc.released.CompareAndSwap(false, true) {
		return
	}
	pc.cleanup.Stop()
	pc.pool.shared.putBack(pc.conn)
}

// Close is an alias for Release, matching the naming a caller reaching for
// a defer-closeable handle expects.
func (pc *PooledConnection[C]) Close() {
	pc.Release()
}
