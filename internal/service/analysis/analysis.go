package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/panbanda/deadpy/internal/cache"
	"github.com/panbanda/deadpy/internal/scanner"
	"github.com/panbanda/deadpy/pkg/analyzer/callgraph"
	"github.com/panbanda/deadpy/pkg/analyzer/liveness"
	"github.com/panbanda/deadpy/pkg/config"
)

// Progress receives stage progress from the analyzers.
type Progress interface {
	Start(stage string, total int)
	Tick()
}

// Service orchestrates scanning, caching and analysis.
type Service struct {
	config   *config.Config
	progress Progress
}

// Option configures a Service.
type Option func(*Service)

// WithConfig sets the configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

// WithProgress reports analysis progress to p.
func WithProgress(p Progress) Option {
	return func(s *Service) {
		s.progress = p
	}
}

// New creates a new analysis service.
func New(opts ...Option) *Service {
	s := &Service{
		config: config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeadCodeResult is a liveness report plus whether it came from the cache.
type DeadCodeResult struct {
	Report *liveness.Report
	Files  []string
	Cached bool
}

// AnalyzeDeadCode scans root and reports unused declarations. With caching
// enabled a stored report is reused while the configuration, the file list
// and every file's content are unchanged.
func (s *Service) AnalyzeDeadCode(ctx context.Context, root string) (*DeadCodeResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if s.progress != nil {
		s.progress.Start("Scanning files", -1)
	}
	files, err := scanner.NewScanner(s.config).ScanDir(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	store, key, hash := s.openCache(absRoot, files)
	if store != nil {
		if data, ok := store.Get(key, hash); ok {
			var report liveness.Report
			if err := json.Unmarshal(data, &report); err == nil {
				return &DeadCodeResult{Report: &report, Files: files, Cached: true}, nil
			}
			_ = store.Invalidate(key)
		}
	}

	opts := []liveness.Option{liveness.WithRoot(absRoot)}
	if s.progress != nil {
		opts = append(opts, liveness.WithProgress(s.progress))
	}
	report, err := liveness.New(s.config, opts...).AnalyzeFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	report.Root = absRoot

	if store != nil {
		if data, err := json.Marshal(report); err == nil {
			// A failed write only costs the next run a recompute.
			_ = store.Set(key, hash, data)
		}
	}
	return &DeadCodeResult{Report: report, Files: files}, nil
}

// CallGraphOptions configures call-graph analysis.
type CallGraphOptions struct {
	// Entries are extra reachability roots matched by node ID or name.
	Entries []string
}

// AnalyzeCallGraph builds the call graph of root.
func (s *Service) AnalyzeCallGraph(ctx context.Context, root string, opts CallGraphOptions) (*callgraph.Graph, error) {
	cgOpts := []callgraph.Option{callgraph.WithEntries(opts.Entries...)}
	if s.progress != nil {
		cgOpts = append(cgOpts, callgraph.WithProgress(s.progress))
	}
	return callgraph.New(s.config, cgOpts...).Analyze(ctx, root)
}

// openCache returns the report cache with this run's key and content hash,
// or a nil cache when caching is disabled or unavailable.
func (s *Service) openCache(root string, files []string) (*cache.Cache, string, string) {
	store, err := OpenCache(s.config, root)
	if err != nil || !store.Enabled() {
		return nil, "", ""
	}
	hash, err := cache.HashFiles(files)
	if err != nil {
		return nil, "", ""
	}
	return store, cache.Key(fingerprint(s.config), files), hash
}

// CacheDir returns the report cache directory for the project at root. A
// relative cache.dir is taken from root.
func CacheDir(cfg *config.Config, root string) string {
	if filepath.IsAbs(cfg.Cache.Dir) {
		return cfg.Cache.Dir
	}
	return filepath.Join(root, cfg.Cache.Dir)
}

// OpenCache opens the report cache of the project at root as configured.
func OpenCache(cfg *config.Config, root string) (*cache.Cache, error) {
	return cache.New(CacheDir(cfg, root), cfg.Cache.TTL, cfg.Cache.Enabled)
}

// fingerprint captures every setting that can change a report.
func fingerprint(cfg *config.Config) []byte {
	data, _ := json.Marshal(struct {
		Scan     config.ScanConfig
		Liveness config.LivenessConfig
		Imports  config.ImportsConfig
		Errors   config.ErrorsConfig
	}{cfg.Scan, cfg.Liveness, cfg.Imports, cfg.Errors})
	return data
}
