package progress

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestStagesDisabled(t *testing.T) {
	var buf bytes.Buffer
	s := NewStagesWriter(&buf, false)

	s.Start("Collecting declarations", 3)
	s.Tick()
	s.Finish(nil)

	if buf.Len() != 0 {
		t.Errorf("disabled stages wrote %q", buf.String())
	}
}

func TestStagesConcurrentTicks(t *testing.T) {
	var buf bytes.Buffer
	s := NewStagesWriter(&buf, true)
	s.Start("Collecting usages", 50)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick()
		}()
	}
	wg.Wait()
	s.Finish(nil)

	if s.current != nil {
		t.Error("Finish() should drop the current bar")
	}
}

func TestStagesFinishError(t *testing.T) {
	var buf bytes.Buffer
	s := NewStagesWriter(&buf, true)
	s.Start("Collecting declarations", 1)
	s.Finish(errors.New("boom"))

	if !strings.Contains(buf.String(), "Collecting declarations error: boom") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestStagesTickBeforeStart(t *testing.T) {
	s := NewStagesWriter(&bytes.Buffer{}, true)
	s.Tick()
	s.Finish(nil)
}

func TestStagesSpinner(t *testing.T) {
	var buf bytes.Buffer
	s := NewStagesWriter(&buf, true)
	s.Start("Scanning files", -1)
	s.Tick()
	s.Start("Collecting declarations", 2)
	if s.current == nil || s.current.label != "Collecting declarations" {
		t.Fatal("Start() should replace the spinner with a bar")
	}
	s.Finish(nil)
}
