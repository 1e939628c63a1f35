package pool

import (
	"context"
	"time"
)

// minConnectBackoff is the initial delay between connect retries.
const minConnectBackoff = 200 * time.Millisecond

// addConnection attempts to open exactly one new connection for the pool,
// honoring the current slot budget. It is the sole path by which numConns
// grows and the sole consumer of a pendingConns slot.
//
// If the pool has no room (num_conns + pending_conns >= max_size) this
// returns immediately without error; that is not a failure, just a
// no-op, since another caller may have filled the last slot first.
//
// Otherwise it claims a pending slot, releases the lock, and retries
// manager.Connect with exponential backoff (starting at 200ms, doubling,
// capped at connection_timeout/2) until it succeeds, ctx is done, or
// connection_timeout elapses since the first attempt. Background-triggered
// connectors (replenish, reaper refills) pass context.Background(), since
// they are bounded only by the wall-clock budget, not tied to any one
// waiting caller.
func (sp *sharedPool[C]) addConnection(ctx context.Context) error {
	sp.mu.Lock()
	if sp.in.slotsAvailable(sp.cfg.maxSize) <= 0 {
		sp.mu.Unlock()
		return nil
	}
	sp.in.pendingConns++
	sp.mu.Unlock()

	start := time.Now()
	delay := time.Duration(0)

	for {
		c, err := sp.manager.Connect(ctx)
		if err == nil {
			now := time.Now()
			sp.mu.Lock()
			sp.in.pendingConns--
			sp.in.numConns++
			sp.in.putIdleConn(makeIdle(conn[C]{value: c, birth: now}))
			sp.mu.Unlock()
			return nil
		}

		if time.Since(start) >= sp.cfg.connectionTimeout {
			sp.mu.Lock()
			sp.in.pendingConns--
			sp.mu.Unlock()
			return err
		}

		if delay < minConnectBackoff {
			delay = minConnectBackoff
		} else {
			delay *= 2
		}
		if capDelay := sp.cfg.connectionTimeout / 2; delay > capDelay {
			delay = capDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			sp.mu.Lock()
			sp.in.pendingConns--
			sp.mu.Unlock()
			return ctx.Err()
		}
	}
}
