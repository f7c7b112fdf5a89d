package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Tracker wraps a progress bar for file processing.
type Tracker struct {
	bar   *progressbar.ProgressBar
	label string
	w     io.Writer
}

func newSpinner(w io.Writer, label string) *Tracker {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	return &Tracker{bar: bar, label: label, w: w}
}

func newTracker(w io.Writer, label string, total int) *Tracker {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &Tracker{bar: bar, label: label, w: w}
}

// Tick increments the progress by 1. Safe for concurrent use.
func (t *Tracker) Tick() {
	t.bar.Add(1)
}

// FinishSuccess clears the bar completely (no output).
func (t *Tracker) FinishSuccess() {
	t.bar.Finish()
	t.bar.Clear()
}

// FinishError clears the bar and prints an error message.
func (t *Tracker) FinishError(err error) {
	t.bar.Finish()
	t.bar.Clear()
	fmt.Fprintf(t.w, "  %s error: %v\n", t.label, err)
}

// Stages shows one bar per analysis stage. Start replaces the current bar;
// Tick may be called from many goroutines. A disabled Stages draws nothing.
type Stages struct {
	mu      sync.RWMutex
	w       io.Writer
	current *Tracker
	enabled bool
}

// NewStagesWriter creates a stage reporter writing to w.
func NewStagesWriter(w io.Writer, enabled bool) *Stages {
	return &Stages{w: w, enabled: enabled}
}

// Start finishes the previous stage and opens a bar for the next one. A
// negative total shows a spinner.
func (s *Stages) Start(stage string, total int) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.FinishSuccess()
	}
	if total < 0 {
		s.current = newSpinner(s.w, stage)
		return
	}
	s.current = newTracker(s.w, stage, total)
}

// Tick advances the current stage.
func (s *Stages) Tick() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current != nil {
		s.current.Tick()
	}
}

// Finish clears the last bar. When err is non-nil it is reported under the
// stage that was running.
func (s *Stages) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	if err != nil {
		s.current.FinishError(err)
	} else {
		s.current.FinishSuccess()
	}
	s.current = nil
}
