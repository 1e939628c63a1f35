// Package poolyaml loads pool.Builder tunables from a YAML document: parse
// into a plain struct, validate mandatory fields, then apply only the
// fields the document actually set. Defaults are left to pool.Builder
// itself, since Builder already knows them.
package poolyaml

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the parsed, validated form of one pool entry. MinIdle,
// MaxLifetime and IdleTimeout are applied only when their Has* flag is set,
// and then even when zero; TestOnCheckOut is applied when non-nil. For
// MaxSize, ConnectionTimeout and ReaperRate a non-positive value means
// "leave the Builder default in place". There is no applyDefaults pass
// here because pool.NewBuilder already seeded sensible defaults; poolyaml
// only ever overrides them.
type Settings struct {
	Name              string
	MaxSize           int
	MinIdle           int
	HasMinIdle        bool
	TestOnCheckOut    *bool
	MaxLifetime       time.Duration
	HasMaxLifetime    bool
	IdleTimeout       time.Duration
	HasIdleTimeout    bool
	ConnectionTimeout time.Duration
	ReaperRate        time.Duration
}

// duration wraps time.Duration so "30s"-style YAML scalars decode through
// time.ParseDuration; yaml.v3 would otherwise only accept raw nanosecond
// integers.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// Document is the root shape of a pool configuration file: a list of named
// pool settings.
type Document struct {
	Pools []rawSettings `yaml:"pools"`
}

// rawSettings is the literal YAML shape; it exists so MinIdle/TestOnCheckOut/
// MaxLifetime/IdleTimeout can tell "unset" apart from "set to zero" before
// Settings collapses that into the Has* booleans.
type rawSettings struct {
	Name              string    `yaml:"name"`
	MaxSize           int       `yaml:"max_size"`
	MinIdle           *int      `yaml:"min_idle"`
	TestOnCheckOut    *bool     `yaml:"test_on_check_out"`
	MaxLifetime       *duration `yaml:"max_lifetime"`
	IdleTimeout       *duration `yaml:"idle_timeout"`
	ConnectionTimeout duration  `yaml:"connection_timeout"`
	ReaperRate        duration  `yaml:"reaper_rate"`
}

// Load reads and parses a pool configuration document from path, validating
// that every entry has a name and returning the parsed Settings in document
// order (see ByName for lookup by name).
func Load(path string) ([]Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pool config %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pool config %s: %w", path, err)
	}

	if len(doc.Pools) == 0 {
		return nil, fmt.Errorf("at least one pool must be configured")
	}

	out := make([]Settings, 0, len(doc.Pools))
	for i, raw := range doc.Pools {
		if raw.Name == "" {
			return nil, fmt.Errorf("pools[%d].name is required", i)
		}
		s := Settings{
			Name:              raw.Name,
			MaxSize:           raw.MaxSize,
			ConnectionTimeout: time.Duration(raw.ConnectionTimeout),
			ReaperRate:        time.Duration(raw.ReaperRate),
			TestOnCheckOut:    raw.TestOnCheckOut,
		}
		if raw.MinIdle != nil {
			s.MinIdle = *raw.MinIdle
			s.HasMinIdle = true
		}
		if raw.MaxLifetime != nil {
			s.MaxLifetime = time.Duration(*raw.MaxLifetime)
			s.HasMaxLifetime = true
		}
		if raw.IdleTimeout != nil {
			s.IdleTimeout = time.Duration(*raw.IdleTimeout)
			s.HasIdleTimeout = true
		}
		out = append(out, s)
	}
	return out, nil
}

// ByName returns the Settings entry with the given name, if present.
func ByName(all []Settings, name string) (Settings, bool) {
	for _, s := range all {
		if s.Name == name {
			return s, true
		}
	}
	return Settings{}, false
}
