package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Wildcard import resolution modes.
const (
	// WildcardOrdered resolves `from X import *` against the exports of X only
	// when X precedes the importing file in scan order.
	WildcardOrdered = "ordered"
	// WildcardComplete resolves wildcards after every file's exports are known.
	WildcardComplete = "complete"
)

// Parse failure policies.
const (
	OnParseErrorSkip  = "skip"
	OnParseErrorAbort = "abort"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration options for deadpy.
type Config struct {
	Scan     ScanConfig     `koanf:"scan" toml:"scan"`
	Liveness LivenessConfig `koanf:"liveness" toml:"liveness"`
	Imports  ImportsConfig  `koanf:"imports" toml:"imports"`
	Errors   ErrorsConfig   `koanf:"errors" toml:"errors"`
	Cache    CacheConfig    `koanf:"cache" toml:"cache"`
	Output   OutputConfig   `koanf:"output" toml:"output"`
	Workers  int            `koanf:"workers" toml:"workers"`
}

// ScanConfig controls which files are analyzed.
type ScanConfig struct {
	// ExcludeDirs are directory names skipped anywhere in the tree.
	ExcludeDirs []string `koanf:"exclude_dirs" toml:"exclude_dirs"`
	// Patterns are gitignore-syntax patterns matched against root-relative paths.
	Patterns    []string `koanf:"patterns" toml:"patterns"`
	Gitignore   bool     `koanf:"gitignore" toml:"gitignore"`
	MaxFileSize int64    `koanf:"max_file_size" toml:"max_file_size"`
}

// LivenessConfig holds the heuristics that presume declarations live.
type LivenessConfig struct {
	SpecialMethods   []string `koanf:"special_methods" toml:"special_methods"`
	FrameworkMethods []string `koanf:"framework_methods" toml:"framework_methods"`
	OverrideNames    []string `koanf:"override_names" toml:"override_names"`
	DunderIsLive     bool     `koanf:"dunder_is_live" toml:"dunder_is_live"`
	DecoratedMethods bool     `koanf:"decorated_methods_live" toml:"decorated_methods_live"`
	ConnectMethod    string   `koanf:"connect_method" toml:"connect_method"`
	Markers          bool     `koanf:"markers" toml:"markers"`
	// MarkersForceUnused reports a function or method named by a dead-code
	// marker in its file as unused even when it is called.
	MarkersForceUnused bool `koanf:"markers_force_unused" toml:"markers_force_unused"`
	UnusedImports      bool `koanf:"unused_imports" toml:"unused_imports"`
}

// ImportsConfig controls import resolution.
type ImportsConfig struct {
	Wildcard string `koanf:"wildcard" toml:"wildcard"`
}

// ErrorsConfig controls how per-file failures are handled.
type ErrorsConfig struct {
	OnParseError string `koanf:"on_parse_error" toml:"on_parse_error"`
}

// CacheConfig controls report caching.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled" toml:"enabled"`
	Dir     string `koanf:"dir" toml:"dir"`
	TTL     int    `koanf:"ttl" toml:"ttl"` // TTL in hours
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format  string `koanf:"format" toml:"format"` // text, json, markdown, toon, yaml
	File    string `koanf:"file" toml:"file"`
	Color   bool   `koanf:"color" toml:"color"`
	Verbose bool   `koanf:"verbose" toml:"verbose"`
}

// DefaultSpecialMethods are Python data-model methods invoked by the runtime.
var DefaultSpecialMethods = []string{
	"__init__", "__new__", "__del__", "__str__", "__repr__",
	"__eq__", "__lt__", "__gt__", "__hash__", "__call__",
}

// DefaultFrameworkMethods are Qt event handlers, signals and UI setup hooks.
var DefaultFrameworkMethods = []string{
	"event", "mousePressEvent", "mouseMoveEvent", "mouseReleaseEvent",
	"keyPressEvent", "paintEvent", "closeEvent",
	"clicked", "activated", "textChanged", "buttonsChanged",
	"initUI", "setupUi", "createConnections",
}

// DefaultOverrideNames are generic names commonly overridden or called by frameworks.
var DefaultOverrideNames = []string{
	"run", "main", "update", "handle", "process", "save", "load",
	"setup", "teardown", "execute", "start", "stop", "close", "reset", "validate",
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scan: ScanConfig{
			ExcludeDirs: []string{
				"__pycache__",
				"venv",
				".venv",
				"tests",
				".git",
			},
			Gitignore: false,
		},
		Liveness: LivenessConfig{
			SpecialMethods:   append([]string(nil), DefaultSpecialMethods...),
			FrameworkMethods: append([]string(nil), DefaultFrameworkMethods...),
			OverrideNames:    append([]string(nil), DefaultOverrideNames...),
			DunderIsLive:     true,
			DecoratedMethods: true,
			ConnectMethod:    "connect",
			Markers:          true,
			UnusedImports:    true,
		},
		Imports: ImportsConfig{
			Wildcard: WildcardComplete,
		},
		Errors: ErrorsConfig{
			OnParseError: OnParseErrorSkip,
		},
		Cache: CacheConfig{
			Enabled: false,
			Dir:     ".deadpy/cache",
			TTL:     24,
		},
		Output: OutputConfig{
			Format: "text",
			File:   "dead_code_report.txt",
			Color:  true,
		},
	}
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	switch c.Imports.Wildcard {
	case WildcardOrdered, WildcardComplete:
	default:
		return fmt.Errorf("%w: imports.wildcard must be %q or %q (got %q)",
			ErrInvalidConfig, WildcardOrdered, WildcardComplete, c.Imports.Wildcard)
	}
	switch c.Errors.OnParseError {
	case OnParseErrorSkip, OnParseErrorAbort:
	default:
		return fmt.Errorf("%w: errors.on_parse_error must be %q or %q (got %q)",
			ErrInvalidConfig, OnParseErrorSkip, OnParseErrorAbort, c.Errors.OnParseError)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative (got %d)", ErrInvalidConfig, c.Workers)
	}
	if c.Scan.MaxFileSize < 0 {
		return fmt.Errorf("%w: scan.max_file_size must not be negative (got %d)", ErrInvalidConfig, c.Scan.MaxFileSize)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("%w: cache.ttl must not be negative (got %d)", ErrInvalidConfig, c.Cache.TTL)
	}
	return nil
}

// Load loads configuration from a file, layered over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	// Determine parser based on extension
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configNames are the file names searched by Find, in priority order.
var configNames = []string{
	"deadpy.toml",
	"deadpy.yaml",
	"deadpy.yml",
	"deadpy.json",
	".deadpy.toml",
	".deadpy.yaml",
	".deadpy.yml",
	".deadpy.json",
}

// Find returns the first config file found in dir or dir/.deadpy, or "".
func Find(dir string) string {
	for _, d := range []string{dir, filepath.Join(dir, ".deadpy")} {
		for _, name := range configNames {
			path := filepath.Join(d, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}

// LoadResult is a loaded config plus the file it came from ("" for defaults).
type LoadResult struct {
	Config *Config
	Source string
}

// LoadOrDefault loads the explicit path when given, otherwise the first config
// found from dir, otherwise the defaults.
func LoadOrDefault(path, dir string) (*LoadResult, error) {
	if path == "" {
		path = Find(dir)
	}
	if path == "" {
		return &LoadResult{Config: DefaultConfig()}, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Source: path}, nil
}

// IsExcludedDir reports whether a directory name is in the exclusion list.
func (c *Config) IsExcludedDir(name string) bool {
	for _, dir := range c.Scan.ExcludeDirs {
		if dir == name {
			return true
		}
	}
	return false
}
