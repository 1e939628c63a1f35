package poolyaml

import "github.com/joao-brasil/asyncpool/pool"

// Apply returns a new Builder seeded with pool.NewBuilder's defaults and
// then overridden field-by-field with whatever s explicitly set, leaving
// everything else at Builder's own default. A non-positive MaxSize,
// ConnectionTimeout or ReaperRate counts as unset and keeps the default;
// a negative MaxLifetime or IdleTimeout that was set panics exactly as the
// corresponding Builder setter does, since a malformed config file is a
// startup-time bug, not a runtime one.
func Apply[C any](s Settings) *pool.Builder[C] {
	b := pool.NewBuilder[C]()
	if s.MaxSize > 0 {
		b.MaxSize(s.MaxSize)
	}
	if s.HasMinIdle {
		b.MinIdle(s.MinIdle)
	}
	if s.TestOnCheckOut != nil {
		b.TestOnCheckOut(*s.TestOnCheckOut)
	}
	if s.HasMaxLifetime {
		b.MaxLifetime(s.MaxLifetime)
	}
	if s.HasIdleTimeout {
		b.IdleTimeout(s.IdleTimeout)
	}
	if s.ConnectionTimeout > 0 {
		b.ConnectionTimeout(s.ConnectionTimeout)
	}
	if s.ReaperRate > 0 {
		b.ReaperRate(s.ReaperRate)
	}
	return b
}
