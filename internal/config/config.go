// Package config loads .grove.toml from a project root and merges it over
// the defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

// FileName is the name of the project configuration file.
const FileName = ".grove.toml"

type Config struct {
	Index     Index     `toml:"index"`
	Parse     Parse     `toml:"parse"`
	Documents Documents `toml:"documents"`
	Workspace Workspace `toml:"workspace"`
	Watch     Watch     `toml:"watch"`
	Storage   Storage   `toml:"storage"`
}

type Index struct {
	Window            int `toml:"window"`
	AsyncBatch        int `toml:"async_batch"`
	BackoffFactor     int `toml:"backoff_factor"`
	PersistDebounceMs int `toml:"persist_debounce_ms"`
	MaxFuzzySkips     int `toml:"max_fuzzy_skips"`
}

type Parse struct {
	CacheSize int `toml:"cache_size"`
	TimeoutMs int `toml:"timeout_ms"`
}

type Documents struct {
	FileCacheSize int `toml:"file_cache_size"`
}

type Workspace struct {
	Include          []string `toml:"include"`
	Exclude          []string `toml:"exclude"`
	RespectGitignore bool     `toml:"respect_gitignore"`
}

type Watch struct {
	DebounceMs int `toml:"debounce_ms"`
}

type Storage struct {
	// Path of the snapshot database, relative to the project root unless
	// absolute. Empty keeps the snapshot in memory.
	Path string `toml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Index: Index{
			Window:            50,
			AsyncBatch:        70,
			BackoffFactor:     4,
			PersistDebounceMs: 50,
			MaxFuzzySkips:     12,
		},
		Parse: Parse{
			CacheSize: 150,
			TimeoutMs: 1000,
		},
		Documents: Documents{
			FileCacheSize: 200,
		},
		Workspace: Workspace{
			Include: []string{"**/*"},
			Exclude: []string{
				"**/.git/**",
				"**/node_modules/**",
				"**/vendor/**",
				"**/.grove/**",
				"**/dist/**",
				"**/build/**",
				"**/target/**",
			},
			RespectGitignore: true,
		},
		Watch: Watch{
			DebounceMs: 100,
		},
		Storage: Storage{
			Path: ".grove/index.db",
		},
	}
}

// Load reads FileName from root, if present, over the defaults and
// validates the result.
func Load(root string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("config: read: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseBytes decodes TOML over the defaults and validates the result.
func ParseBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, 0, len(strict.Errors))
			for _, e := range strict.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return fmt.Errorf("config: unknown keys in %s: %s", FileName, strings.Join(keys, ", "))
		}
		return fmt.Errorf("config: decode %s: %w", FileName, err)
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("index.window", c.Index.Window)
	positive("index.async_batch", c.Index.AsyncBatch)
	positive("index.persist_debounce_ms", c.Index.PersistDebounceMs)
	positive("parse.cache_size", c.Parse.CacheSize)
	positive("parse.timeout_ms", c.Parse.TimeoutMs)
	positive("documents.file_cache_size", c.Documents.FileCacheSize)
	positive("watch.debounce_ms", c.Watch.DebounceMs)
	if c.Index.BackoffFactor < 0 {
		errs = append(errs, fmt.Errorf("index.backoff_factor must not be negative, got %d", c.Index.BackoffFactor))
	}
	if c.Index.MaxFuzzySkips < 0 {
		errs = append(errs, fmt.Errorf("index.max_fuzzy_skips must not be negative, got %d", c.Index.MaxFuzzySkips))
	}
	for _, p := range append(append([]string(nil), c.Workspace.Include...), c.Workspace.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("workspace: invalid glob %q", p))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// PersistDebounce returns index.persist_debounce_ms as a duration.
func (c *Config) PersistDebounce() time.Duration {
	return time.Duration(c.Index.PersistDebounceMs) * time.Millisecond
}

// ParseTimeout returns parse.timeout_ms as a duration.
func (c *Config) ParseTimeout() time.Duration {
	return time.Duration(c.Parse.TimeoutMs) * time.Millisecond
}

// WatchDebounce returns watch.debounce_ms as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}

// StoragePath resolves storage.path against root. It returns "" when the
// snapshot is kept in memory.
func (c *Config) StoragePath(root string) string {
	p := c.Storage.Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
