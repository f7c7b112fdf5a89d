// Package liveness finds Python functions, classes and methods that have no
// usage evidence anywhere in a project.
//
// Analysis runs in two passes over the scanned files. Pass 1 parses each file
// and records its declarations, import edges and dead-code markers. Once every
// file has finished pass 1, wildcard imports are expanded and pass 2 records
// the usage facts of each file. Both passes process files in parallel; a file's
// state is written only by the task processing that file.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/panbanda/deadpy/internal/fileproc"
	"github.com/panbanda/deadpy/internal/scanner"
	"github.com/panbanda/deadpy/pkg/config"
	"github.com/panbanda/deadpy/pkg/parser"
)

// Progress receives per-pass progress. Implementations must be safe for
// concurrent Tick calls.
type Progress interface {
	Start(stage string, total int)
	Tick()
}

// Analyzer runs liveness analysis.
type Analyzer struct {
	cfg        *config.Config
	root       string
	maxWorkers int
	progress   Progress
}

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithMaxWorkers bounds the number of files processed concurrently (0 = 2x NumCPU).
func WithMaxWorkers(n int) Option {
	return func(a *Analyzer) {
		a.maxWorkers = n
	}
}

// WithRoot sets the project root that bounds absolute import resolution. By
// default Analyze uses its root argument and the other entry points use the
// deepest directory containing every file.
func WithRoot(root string) Option {
	return func(a *Analyzer) {
		a.root = root
	}
}

// WithProgress reports pass progress to p.
func WithProgress(p Progress) Option {
	return func(a *Analyzer) {
		a.progress = p
	}
}

// New creates a liveness analyzer. A nil config means config.DefaultConfig().
func New(cfg *config.Config, opts ...Option) *Analyzer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	a := &Analyzer{
		cfg:        cfg,
		maxWorkers: cfg.Workers,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scans root for Python files and analyzes them.
func (a *Analyzer) Analyze(ctx context.Context, root string) (*Report, error) {
	files, err := scanner.NewScanner(a.cfg).ScanDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if a.root != "" {
		absRoot, err = filepath.Abs(a.root)
		if err != nil {
			return nil, err
		}
	}

	session, err := a.run(ctx, absRoot, files)
	if err != nil {
		return nil, err
	}
	report := session.Report()
	report.Root = absRoot
	return report, nil
}

// AnalyzeFiles analyzes an explicit list of files.
func (a *Analyzer) AnalyzeFiles(ctx context.Context, files []string) (*Report, error) {
	session, err := a.Run(ctx, files)
	if err != nil {
		return nil, err
	}
	return session.Report(), nil
}

// Run executes both passes and returns the finished session for querying.
// Paths are made absolute, deduplicated and sorted; that order is the scan order.
func (a *Analyzer) Run(ctx context.Context, files []string) (*Session, error) {
	root := a.root
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		root = abs
	}
	return a.run(ctx, root, files)
}

func (a *Analyzer) run(ctx context.Context, root string, files []string) (*Session, error) {
	paths, err := normalizePaths(files)
	if err != nil {
		return nil, err
	}
	s := newSession(a.cfg, root, paths)
	defer func() {
		for _, fs := range s.files {
			fs.releaseTree()
		}
	}()

	if err := a.declarationPass(ctx, s); err != nil {
		return nil, err
	}
	s.resolveAbsoluteImports()
	s.resolveWildcards(a.cfg.Imports.Wildcard)
	if err := a.usagePass(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *Analyzer) options(stage string, total int) fileproc.Options {
	opts := fileproc.Options{MaxWorkers: a.maxWorkers}
	if a.progress != nil {
		a.progress.Start(stage, total)
		opts.OnProgress = a.progress.Tick
	}
	return opts
}

func (a *Analyzer) declarationPass(ctx context.Context, s *Session) error {
	passOpts := passOptions{
		decoratedMethods: a.cfg.Liveness.DecoratedMethods,
		markers:          a.cfg.Liveness.Markers || a.cfg.Liveness.MarkersForceUnused,
	}
	paths := s.Files()

	_, errs := fileproc.MapFiles(ctx, paths, func(ctx context.Context, psr *parser.Parser, path string) (struct{}, error) {
		fs := s.index[path]
		source, err := os.ReadFile(path)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to read file: %w", err)
		}
		tree, err := psr.Parse(ctx, source, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return struct{}{}, ctxErr
			}
			return struct{}{}, &ParseError{Path: path, Err: err}
		}
		fs.tree = tree
		fs.collectDeclarations(source, passOpts)
		return struct{}{}, nil
	}, a.options("Collecting declarations", len(paths)))

	return a.handleErrors(ctx, s, errs)
}

func (a *Analyzer) usagePass(ctx context.Context, s *Session) error {
	var paths []string
	for _, fs := range s.files {
		if fs.skipped == nil {
			paths = append(paths, fs.path)
		}
	}
	connect := a.cfg.Liveness.ConnectMethod

	// The trees from pass 1 are reused, so no parser is needed here.
	_, errs := fileproc.Map(ctx, paths, func(_ context.Context, path string) (struct{}, error) {
		fs := s.index[path]
		fs.collectUsages(fs.tree.Source, connect)
		return struct{}{}, nil
	}, a.options("Collecting usages", len(paths)))

	return a.handleErrors(ctx, s, errs)
}

// handleErrors applies the parse failure policy. Parse failures are recorded
// on the file under the skip policy; every other error aborts the run, the
// first by path being returned.
func (a *Analyzer) handleErrors(ctx context.Context, s *Session, errs *fileproc.ProcessingErrors) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !errs.HasErrors() {
		return nil
	}

	skip := a.cfg.Errors.OnParseError == config.OnParseErrorSkip
	sorted := errs.Sorted()
	for _, pe := range sorted {
		if !skip || !errors.Is(pe.Err, ErrParseFailure) {
			return fmt.Errorf("%s: %w", pe.Path, pe.Err)
		}
	}
	// A file that failed to parse recorded nothing, so marking it is enough.
	for _, pe := range sorted {
		s.index[pe.Path].skipped = pe.Err
	}
	return nil
}

// resolveWildcards expands `from X import *` into X's exported names. Exports
// are a file's own top-level declarations and never grow from imports, so a
// single sweep reaches the fixed point. In ordered mode X is visible only when
// it precedes the importer in scan order.
func (s *Session) resolveWildcards(mode string) {
	for _, fs := range s.files {
		if fs.skipped != nil {
			continue
		}
		for _, src := range fs.wildcards {
			target, ok := s.index[src]
			if !ok || target.skipped != nil {
				continue
			}
			if mode == config.WildcardOrdered && target.index >= fs.index {
				continue
			}
			for name := range target.exports {
				fs.addImport(src, name)
			}
		}
	}
}

func normalizePaths(files []string) ([]string, error) {
	seen := make(map[string]struct{}, len(files))
	paths := make([]string, 0, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		paths = append(paths, abs)
	}
	sort.Strings(paths)
	return paths, nil
}
