// Package mssqlmanager implements pool.Manager for SQL Server connections
// via github.com/microsoft/go-mssqldb.
//
// Each logical connection is its own *sql.DB capped at MaxOpenConns(1):
// pool.Pool is the connection pool here, and a second layer of pooling
// underneath it inside database/sql would just hide the behaviour this
// module exists to provide.
package mssqlmanager

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

// Config holds the connection parameters for a single SQL Server instance.
type Config struct {
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	ConnectionTimeout time.Duration
}

// dsn builds the sqlserver:// connection string go-mssqldb expects, via
// net/url so a password containing "@", ":", or "/" doesn't corrupt the
// connection string or get misparsed as part of the host.
func (c Config) dsn() string {
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	q := url.Values{}
	q.Set("database", c.Database)
	if c.ConnectionTimeout > 0 {
		q.Set("connection timeout", strconv.Itoa(int(c.ConnectionTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Conn wraps a single-connection *sql.DB with broken tracking. Exec/Query
// go through this wrapper rather than the raw *sql.DB so a failing call is
// observed and remembered for HasBroken.
type Conn struct {
	db     *sql.DB
	broken atomic.Bool
}

func newConn(db *sql.DB) *Conn {
	c := &Conn{db: db}
	runtime.AddCleanup(c, func(d *sql.DB) { d.Close() }, db)
	return c
}

// ExecContext runs a statement against the underlying connection, marking
// it broken on failure so a later HasBroken reports it without doing I/O.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		c.broken.Store(true)
	}
	return res, err
}

// QueryContext runs a query against the underlying connection, marking it
// broken on failure.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		c.broken.Store(true)
	}
	return rows, err
}

// QueryRowContext runs a single-row query against the underlying connection.
// Errors surface through Row.Scan, so unlike ExecContext/QueryContext this
// cannot mark the connection broken synchronously here.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// Manager implements pool.Manager[*Conn] against a single SQL Server
// instance described by Config.
type Manager struct {
	cfg Config
}

// New returns a Manager dialing the given SQL Server instance for every
// connection it opens.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Connect opens a new single-connection *sql.DB and verifies it with
// PingContext.
func (m *Manager) Connect(ctx context.Context) (*Conn, error) {
	db, err := sql.Open("sqlserver", m.cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("mssqlmanager: sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssqlmanager: ping %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}

	return newConn(db), nil
}

// IsValid runs "SELECT 1" against the connection.
func (m *Manager) IsValid(ctx context.Context, c *Conn) error {
	var result int
	if err := c.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		c.broken.Store(true)
		return err
	}
	return nil
}

// HasBroken reports whether a prior Exec/Query through c has failed. It
// never itself performs I/O.
func (m *Manager) HasBroken(c *Conn) bool {
	return c.broken.Load()
}
