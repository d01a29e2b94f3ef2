// Package config loads and validates ZipTag's runtime configuration.
//
// ZipTag is embedded, not deployed as a 12-factor server, so configuration
// comes from a YAML file (or an in-memory Config a host constructs
// directly) rather than environment variables. Every option enumerated in
// the specification's external-interfaces section has a field here with a
// documented default.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Path = "/var/lib/myapp/ziptag"
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable ZipTag exposes. Default() sets every option
// to its documented default and Load() merges a YAML file over those
// defaults (see Load for how zero values are treated); a Config built by
// hand should call Validate() before use.
type Config struct {
	// Path is the data directory holding the WAL segments, snapshots, and
	// MANIFEST. Required — there is no default.
	Path string `yaml:"path"`

	// FlushIntervalMS is how often the WAL flusher fsyncs the tail of the
	// log. 0 means fsync on every commit (synchronous durability).
	FlushIntervalMS int `yaml:"flush_interval_ms"`

	// Workers bounds the executor's join worker pool. 0 selects
	// runtime.NumCPU().
	Workers int `yaml:"workers"`

	// MaxValBytes is the maximum encoded length of a tag value. The spec's
	// two drafts disagree (65536 vs 1024); this implementation follows the
	// tighter, later draft as the default.
	MaxValBytes int `yaml:"max_val_bytes"`

	// MaxTTypeBytes bounds a ttype identifier's length.
	MaxTTypeBytes int `yaml:"max_ttype_bytes"`

	// ParallelThreshold is the set size above which the executor
	// partitions work across the worker pool instead of running inline.
	ParallelThreshold int `yaml:"parallel_threshold"`

	// MemoCacheEntries bounds the planner's memoization cache.
	MemoCacheEntries int64 `yaml:"memo_cache_entries"`

	// StrictTypes, when true, turns an unknown-ttype reference in a query
	// into a QueryTypeError instead of an implicit empty set.
	StrictTypes bool `yaml:"strict_types"`

	// SnapshotCompression enables zstd compression of snapshot files.
	SnapshotCompression bool `yaml:"snapshot_compression"`
}

// Default returns a Config with every option set to its documented
// default. Path is left empty — callers must set it.
func Default() *Config {
	return &Config{
		FlushIntervalMS:     200,
		Workers:             0,
		MaxValBytes:         1024,
		MaxTTypeBytes:       64,
		ParallelThreshold:   1024,
		MemoCacheEntries:    10_000,
		StrictTypes:         false,
		SnapshotCompression: true,
	}
}

// Load reads a YAML config file over Default(): options the file omits keep
// their default, and max_val_bytes, max_ttype_bytes, parallel_threshold and
// memo_cache_entries set to 0 fall back to their default, while an explicit
// 0 for flush_interval_ms or workers is kept. A missing file is not an error — Default()
// is returned with Path left empty, matching the teacher's
// "LoadFromEnv never fails" convention applied to file-based config.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	loaded := *cfg
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&loaded)
	return &loaded, nil
}

// applyDefaults fills in zero-valued numeric fields after a YAML file has
// been merged over Default(), so a config file only needs to name the
// options it wants to override. FlushIntervalMS and Workers are left alone:
// 0 is a meaningful setting for both.
func applyDefaults(c *Config) {
	d := Default()
	if c.MaxValBytes == 0 {
		c.MaxValBytes = d.MaxValBytes
	}
	if c.MaxTTypeBytes == 0 {
		c.MaxTTypeBytes = d.MaxTTypeBytes
	}
	if c.ParallelThreshold == 0 {
		c.ParallelThreshold = d.ParallelThreshold
	}
	if c.MemoCacheEntries == 0 {
		c.MemoCacheEntries = d.MemoCacheEntries
	}
}

// ResolvedWorkers returns Workers, substituting runtime.NumCPU() for the
// 0-means-default sentinel.
func (c *Config) ResolvedWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Validate rejects out-of-range configuration synchronously, before a
// Store is opened against it.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("config: path is required")
	}
	if c.FlushIntervalMS < 0 {
		return fmt.Errorf("config: flush_interval_ms must be >= 0, got %d", c.FlushIntervalMS)
	}
	if c.MaxValBytes <= 0 {
		return fmt.Errorf("config: max_val_bytes must be > 0, got %d", c.MaxValBytes)
	}
	if c.MaxTTypeBytes <= 0 || c.MaxTTypeBytes > 64 {
		return fmt.Errorf("config: max_ttype_bytes must be in (0,64], got %d", c.MaxTTypeBytes)
	}
	if c.ParallelThreshold <= 0 {
		return fmt.Errorf("config: parallel_threshold must be > 0, got %d", c.ParallelThreshold)
	}
	if c.MemoCacheEntries <= 0 {
		return fmt.Errorf("config: memo_cache_entries must be > 0, got %d", c.MemoCacheEntries)
	}
	return nil
}

// String returns a log-safe representation (there are no secrets in this
// Config, but the shape mirrors the teacher's redacted Config.String()).
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Path: %s, FlushIntervalMS: %d, Workers: %d, MaxValBytes: %d, ParallelThreshold: %d}",
		c.Path, c.FlushIntervalMS, c.ResolvedWorkers(), c.MaxValBytes, c.ParallelThreshold,
	)
}
