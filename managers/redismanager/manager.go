// Package redismanager implements pool.Manager for dedicated, single-node
// Redis client connections, using PING as the liveness probe.
//
// A dedicated client pooled through this package is useful whenever a
// caller wants a Redis connection whose lifecycle it controls directly
// (e.g. one held across a blocking command or a subscription) rather than
// reaching into go-redis's own internal pool, which this package
// deliberately does not replace for ordinary request/response use.
package redismanager

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the dial parameters for every connection this Manager opens.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Conn wraps a dedicated *redis.Client with broken-connection tracking. The
// pool.Manager[*Conn] reports HasBroken from a flag set by a go-redis hook
// observing every command the caller issues, rather than probing the
// connection directly: HasBroken must not do I/O, so it can only report
// what has already been seen to fail.
type Conn struct {
	*redis.Client
	broken *atomic.Bool
}

// newConn wraps c and arms a GC-time cleanup that closes the underlying
// client once the wrapper itself becomes unreachable. The pool's Manager
// contract has no Destroy/Close step, so a Conn dropped after a failed
// validation or a broken-on-return probe would otherwise leak its TCP
// connection until the process exits.
//
// The broken flag is its own allocation and the hook holds only that, not
// the Conn: the client retains its hooks, so a hook holding the Conn would
// keep it reachable from the cleanup's client argument and the cleanup
// could never fire.
func newConn(c *redis.Client) *Conn {
	broken := new(atomic.Bool)
	c.AddHook(brokenHook{broken: broken})
	conn := &Conn{Client: c, broken: broken}
	runtime.AddCleanup(conn, func(client *redis.Client) { client.Close() }, c)
	return conn
}

// brokenHook flips the shared broken flag on any command or pipeline
// error, so that a later HasBroken sees it without having to issue a probe
// of its own.
type brokenHook struct {
	broken *atomic.Bool
}

func (h brokenHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h brokenHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && err != redis.Nil {
			h.broken.Store(true)
		}
		return err
	}
}

func (h brokenHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && err != redis.Nil {
			h.broken.Store(true)
		}
		return err
	}
}

// Manager implements pool.Manager[*Conn] against a single Redis address.
type Manager struct {
	cfg Config
}

// New returns a Manager dialing cfg.Addr for every connection it opens.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Connect dials a new dedicated client and verifies it with PING.
func (m *Manager) Connect(ctx context.Context) (*Conn, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         m.cfg.Addr,
		Password:     m.cfg.Password,
		DB:           m.cfg.DB,
		DialTimeout:  m.cfg.DialTimeout,
		ReadTimeout:  m.cfg.ReadTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redismanager: ping %s: %w", m.cfg.Addr, err)
	}

	return newConn(client), nil
}

// IsValid re-probes the connection with PING.
func (m *Manager) IsValid(ctx context.Context, c *Conn) error {
	if err := c.Ping(ctx).Err(); err != nil {
		c.broken.Store(true)
		return err
	}
	return nil
}

// HasBroken reports whether any command issued through c, or an IsValid
// probe of it, has ever failed; the flag is never cleared. It never itself
// performs I/O.
func (m *Manager) HasBroken(c *Conn) bool {
	return c.broken.Load()
}
