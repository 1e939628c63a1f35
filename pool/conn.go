package pool

import "time"

// conn wraps one live backend connection together with the instant it was
// opened. birth never changes after creation; it is what enforces
// max_lifetime.
type conn[C any] struct {
	value C
	birth time.Time
}

// idleConn is a conn currently parked in the pool's idle deque. idleStart
// is refreshed every time the connection returns to idle and is what
// enforces idle_timeout.
type idleConn[C any] struct {
	conn      conn[C]
	idleStart time.Time
}

func makeIdle[C any](c conn[C]) idleConn[C] {
	return idleConn[C]{conn: c, idleStart: time.Now()}
}
