// Package fileproc provides concurrent per-file processing with one parser per task.
package fileproc

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/panbanda/deadpy/pkg/parser"
	"github.com/sourcegraph/conc/pool"
)

// ProcessingError represents an error that occurred while processing a file.
type ProcessingError struct {
	Path string
	Err  error
}

func (e ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e ProcessingError) Unwrap() error {
	return e.Err
}

// ProcessingErrors collects multiple file processing errors.
type ProcessingErrors struct {
	Errors []ProcessingError
	mu     sync.Mutex
}

// Add appends an error to the collection (thread-safe).
func (e *ProcessingErrors) Add(path string, err error) {
	e.mu.Lock()
	e.Errors = append(e.Errors, ProcessingError{Path: path, Err: err})
	e.mu.Unlock()
}

// HasErrors returns true if any errors were collected.
func (e *ProcessingErrors) HasErrors() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Errors) > 0
}

// Sorted returns the collected errors ordered by path.
func (e *ProcessingErrors) Sorted() []ProcessingError {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]ProcessingError(nil), e.Errors...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Error implements the error interface.
func (e *ProcessingErrors) Error() string {
	errs := e.Sorted()
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	default:
		return fmt.Sprintf("%d files failed to process (first: %v)", len(errs), errs[0])
	}
}

// DefaultWorkerMultiplier is the multiplier applied to NumCPU for worker count.
// 2x is optimal for mixed I/O and CGO workloads.
const DefaultWorkerMultiplier = 2

// ProgressFunc is called after each file is processed.
type ProgressFunc func()

// Options tunes MapFiles.
type Options struct {
	// MaxWorkers bounds concurrency; <= 0 means 2x NumCPU.
	MaxWorkers int
	OnProgress ProgressFunc
}

// MapFiles processes files in parallel, calling fn for each file with a dedicated parser.
// results[i] belongs to files[i]; entries for failed files hold the zero value and
// the failure is recorded in the returned ProcessingErrors (nil when none failed).
// Each task writes only its own slot, so callers may treat the return as a barrier.
// Once ctx is done no new files are started and they are reported as ctx.Err().
func MapFiles[T any](ctx context.Context, files []string, fn func(context.Context, *parser.Parser, string) (T, error), opts Options) ([]T, *ProcessingErrors) {
	return Map(ctx, files, func(ctx context.Context, path string) (T, error) {
		psr := parser.New()
		defer psr.Close()
		return fn(ctx, psr, path)
	}, opts)
}

// Map is MapFiles for work that needs no parser.
func Map[T any](ctx context.Context, files []string, fn func(context.Context, string) (T, error), opts Options) ([]T, *ProcessingErrors) {
	if len(files) == 0 {
		return nil, nil
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() * DefaultWorkerMultiplier
	}

	results := make([]T, len(files))
	errs := &ProcessingErrors{}

	p := pool.New().WithMaxGoroutines(maxWorkers)
	for i, path := range files {
		p.Go(func() {
			defer func() {
				if opts.OnProgress != nil {
					opts.OnProgress()
				}
			}()

			if err := ctx.Err(); err != nil {
				errs.Add(path, err)
				return
			}

			result, err := fn(ctx, path)
			if err != nil {
				errs.Add(path, err)
				return
			}
			results[i] = result
		})
	}
	p.Wait()

	if !errs.HasErrors() {
		return results, nil
	}
	return results, errs
}
