package pool

// waiter is the receiving side of a single-delivery rendezvous between a
// caller blocked in Get and whoever next returns a connection. The channel
// is unbuffered: a send only completes when the waiting caller is actively
// receiving. cancelled is closed by the waiting caller if it gives up
// (context done or connection_timeout elapsed) before a send arrives; the
// delivering side races w.ch against w.cancelled so it can detect an
// abandoned waiter without ever blocking on a receiver that is gone for
// good.
type waiter[C any] struct {
	ch        chan conn[C]
	cancelled chan struct{}
}

func newWaiter[C any]() *waiter[C] {
	return &waiter[C]{
		ch:        make(chan conn[C]),
		cancelled: make(chan struct{}),
	}
}

// internals is the locked shared state of a Pool: the idle deque, the
// waiter FIFO, and the two counters that together bound concurrent backend
// load. Every field here is guarded by sharedPool.mu; see pool.go.
type internals[C any] struct {
	idle    []idleConn[C]
	waiters []*waiter[C]

	numConns     int
	pendingConns int
}

// popIdle removes and returns the oldest idle connection (head of the
// deque), or false if idle is empty. Checkout pops the front; return pushes
// the back (see putIdleConn), so idle entries age and become eligible for
// idle-timeout reaping instead of being continuously refreshed.
func (in *internals[C]) popIdle() (idleConn[C], bool) {
	if len(in.idle) == 0 {
		var zero idleConn[C]
		return zero, false
	}
	ic := in.idle[0]
	in.idle = in.idle[1:]
	return ic, true
}

// putIdleConn hands a freshly-returned or freshly-connected record to the
// oldest queued waiter, if any, falling through to the next waiter whenever
// a delivery attempt finds a dead receiver. With no waiters left it parks
// the record in idle. The invariant that waiters non-empty implies idle
// empty follows directly from always preferring delivery over parking.
//
// Must be called with the lock held; this is the one place the pool lock
// is held across a blocking handoff, never across I/O.
func (in *internals[C]) putIdleConn(ic idleConn[C]) {
	for len(in.waiters) > 0 {
		w := in.waiters[0]
		in.waiters = in.waiters[1:]

		select {
		case w.ch <- ic.conn:
			return
		case <-w.cancelled:
			// Receiver gave up before we could hand it off; try the
			// next waiter in line with the same record.
		}
	}
	in.idle = append(in.idle, ic)
}

// removeWaiter drops w from the waiter queue, used when a caller abandons
// its wait after registering but the cancellation races a delivery. Safe
// to call even if w already left the queue via putIdleConn.
func (in *internals[C]) removeWaiter(w *waiter[C]) {
	for i, cand := range in.waiters {
		if cand == w {
			in.waiters = append(in.waiters[:i], in.waiters[i+1:]...)
			return
		}
	}
}

// slotsAvailable reports how many more connections could be opened right
// now without exceeding max_size.
func (in *internals[C]) slotsAvailable(maxSize int) int {
	n := maxSize - in.numConns - in.pendingConns
	if n < 0 {
		return 0
	}
	return n
}
