package pool

import (
	"context"
	"time"
	"weak"
)

// startReaper arms the background reaper task if at least one of
// max_lifetime or idle_timeout is configured. The task holds only a weak
// reference to the shared pool state; once every strong Pool handle is
// gone, the next tick fails to upgrade the weak pointer and the goroutine
// exits. This is how pool teardown eventually stops the background task
// without the pool needing an explicit Close.
func startReaper[C any](sp *sharedPool[C]) {
	if !sp.cfg.hasMaxLifetime && !sp.cfg.hasIdleTimeout {
		return
	}

	weakShared := weak.Make(sp)
	go reapLoop(weakShared, sp.cfg.reaperRate)
}

func reapLoop[C any](weakShared weak.Pointer[sharedPool[C]], rate time.Duration) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for range ticker.C {
		sp := weakShared.Value()
		if sp == nil {
			return
		}
		sp.reapOnce()
	}
}

// reapOnce scans idle in place and drops every entry that fails any
// configured predicate (idle_timeout, max_lifetime). It does not itself
// enforce min_idle against the idle-timeout predicate: an idle connection
// past its deadline is always worse than a fresh one, so it is dropped
// unconditionally and a replenish is scheduled afterward to bring idle back
// up toward min_idle.
func (sp *sharedPool[C]) reapOnce() {
	now := time.Now()

	sp.mu.Lock()
	before := len(sp.in.idle)
	kept := sp.in.idle[:0:0]
	for _, ic := range sp.in.idle {
		keep := true
		if sp.cfg.hasIdleTimeout {
			keep = keep && now.Sub(ic.idleStart) < sp.cfg.idleTimeout
		}
		if sp.cfg.hasMaxLifetime {
			keep = keep && now.Sub(ic.conn.birth) < sp.cfg.maxLifetime
		}
		if keep {
			kept = append(kept, ic)
		}
	}
	sp.in.idle = kept
	sp.in.numConns -= before - len(kept)
	needsReplenish := sp.in.numConns+sp.in.pendingConns < sp.cfg.maxSize
	sp.mu.Unlock()

	if needsReplenish {
		sp.triggerReplenish()
	}
}

// triggerReplenish schedules a non-blocking replenish pass, coalesced
// through sp.replenisher.
func (sp *sharedPool[C]) triggerReplenish() {
	sp.replenisher.trigger(func() {
		if err := sp.replenishIdleConnections(context.Background()); err != nil {
			sp.cfg.errorSink.Sink(err)
		}
	})
}
