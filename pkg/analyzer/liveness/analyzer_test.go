package liveness

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/panbanda/deadpy/internal/scanner"
	"github.com/panbanda/deadpy/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func analyze(t *testing.T, root string, mutate func(*config.Config)) *Report {
	t.Helper()
	report, err := New(testConfig(mutate)).Analyze(context.Background(), root)
	require.NoError(t, err)
	return report
}

func runSession(t *testing.T, root string, mutate func(*config.Config)) *Session {
	t.Helper()
	cfg := testConfig(mutate)
	files, err := scanner.NewScanner(cfg).ScanDir(root)
	require.NoError(t, err)
	session, err := New(cfg).Run(context.Background(), files)
	require.NoError(t, err)
	return session
}

func TestAnalyze_AllowListedNamesAreLive(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.py": `class Model:
    def __init__(self):
        pass

    def __post_init__(self):
        pass

    def run(self):
        pass

    def paintEvent(self, event):
        pass

    def orphan(self):
        pass


def main():
    pass
`,
	})
	a := filepath.Join(root, "a.py")

	report := analyze(t, root, nil)
	assert.Equal(t, map[string][]string{"Model": {"orphan"}}, report.UnusedMethods(a))
	assert.Empty(t, report.UnusedFunctions(a))
	assert.Equal(t, []string{"Model"}, report.UnusedClasses(a))

	t.Run("dunder switch off", func(t *testing.T) {
		report := analyze(t, root, func(c *config.Config) { c.Liveness.DunderIsLive = false })
		assert.Equal(t, map[string][]string{"Model": {"__post_init__", "orphan"}}, report.UnusedMethods(a))
	})

	t.Run("lists are configuration", func(t *testing.T) {
		report := analyze(t, root, func(c *config.Config) {
			c.Liveness.OverrideNames = nil
			c.Liveness.FrameworkMethods = nil
		})
		assert.Equal(t, map[string][]string{"Model": {"run", "paintEvent", "orphan"}}, report.UnusedMethods(a))
		assert.Equal(t, []string{"main"}, report.UnusedFunctions(a))
	})
}

func TestAnalyze_UnusedHelperIsReported(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.py": "def helper():\n    pass\n\n\ndef used():\n    pass\n\n\nused()\n",
	})
	a := filepath.Join(root, "a.py")

	report := analyze(t, root, nil)
	assert.Equal(t, []string{"helper"}, report.UnusedFunctions(a))
	assert.Equal(t, 1, report.Summary.UnusedFunctions)
	assert.Equal(t, 2, report.Summary.Functions)
}

func TestAnalyze_ImportedElsewhereCountsAsUse(t *testing.T) {
	root := writeProject(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/a.py":        "def helper():\n    pass\n\n\nclass Tool:\n    def spin(self):\n        pass\n",
		"pkg/b.py":        "from .a import helper, Tool\n",
	})
	a := filepath.Join(root, "pkg", "a.py")

	report := analyze(t, root, nil)
	assert.Empty(t, report.UnusedFunctions(a), "imported without a call still counts")
	assert.Empty(t, report.UnusedClasses(a))
	assert.Equal(t, map[string][]string{"Tool": {"spin"}}, report.UnusedMethods(a))
}

func TestAnalyze_ImportSubtleties(t *testing.T) {
	t.Run("alias is the imported name", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"a.py": "def helper():\n    pass\n",
			"b.py": "from .a import helper as h\n",
		})
		report := analyze(t, root, nil)
		assert.Equal(t, []string{"helper"}, report.UnusedFunctions(filepath.Join(root, "a.py")))
	})

	t.Run("absolute import of a project module counts", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"a.py": "def helper():\n    pass\n",
			"b.py": "from a import helper\n",
		})
		report := analyze(t, root, nil)
		assert.Empty(t, report.UnusedFunctions(filepath.Join(root, "a.py")))
	})

	t.Run("absolute import of a package module counts", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"app/__init__.py":   "from app.core.tools import Tool\n",
			"app/core/tools.py": "class Tool:\n    pass\n\n\ndef spare():\n    pass\n",
			"app/main.py":       "import app.core.tools\nfrom app.core.tools import spare\n",
		})
		tools := filepath.Join(root, "app", "core", "tools.py")
		report := analyze(t, root, nil)
		assert.Empty(t, report.UnusedClasses(tools))
		assert.Empty(t, report.UnusedFunctions(tools))
	})

	t.Run("import resolves from the importer's directory first", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"util.py":         "def helper():\n    pass\n",
			"scripts/util.py": "def helper():\n    pass\n",
			"scripts/run.py":  "from util import helper\n",
		})
		report := analyze(t, root, nil)
		assert.Equal(t, []string{"helper"}, report.UnusedFunctions(filepath.Join(root, "util.py")))
		assert.Empty(t, report.UnusedFunctions(filepath.Join(root, "scripts", "util.py")))
	})

	t.Run("non-project module is opaque", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"a.py": "def helper():\n    pass\n",
			"b.py": "from os import helper\n",
		})
		report := analyze(t, root, nil)
		assert.Equal(t, []string{"helper"}, report.UnusedFunctions(filepath.Join(root, "a.py")))

		s := runSession(t, root, nil)
		edges := s.Imports(filepath.Join(root, "b.py"))
		require.Len(t, edges, 1)
		assert.Equal(t, "os", edges[0].Source)
	})

	t.Run("self import is ignored", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"a.py": "from .a import helper\n\n\ndef helper():\n    pass\n",
		})
		report := analyze(t, root, nil)
		assert.Equal(t, []string{"helper"}, report.UnusedFunctions(filepath.Join(root, "a.py")))
	})

	t.Run("class import does not cover its methods", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"a.py": "class Tool:\n    def spin(self):\n        pass\n",
			"b.py": "from .a import Tool\n",
		})
		report := analyze(t, root, nil)
		assert.Equal(t, map[string][]string{"Tool": {"spin"}}, report.UnusedMethods(filepath.Join(root, "a.py")))
	})
}

func TestAnalyze_DecoratedMethodIsUsed(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.py": `class Box:
    @property
    def value(self):
        return 1

    @staticmethod
    def build():
        pass

    def plain(self):
        pass


@decorator
def top():
    pass
`,
	})
	a := filepath.Join(root, "a.py")

	report := analyze(t, root, nil)
	assert.Equal(t, map[string][]string{"Box": {"plain"}}, report.UnusedMethods(a))
	assert.Equal(t, []string{"top"}, report.UnusedFunctions(a), "decorators only protect methods")

	report = analyze(t, root, func(c *config.Config) { c.Liveness.DecoratedMethods = false })
	assert.Equal(t, map[string][]string{"Box": {"value", "build", "plain"}}, report.UnusedMethods(a))
}

func TestAnalyze_ConnectMarksSlotUsed(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.py": `class Window:
    def __init__(self):
        self.button.clicked.connect(on_click)
        self.timer.timeout.connect(self.on_tick)

    def on_click(self):
        pass

    def on_tick(self):
        pass


signal.connect(on_click)
`,
	})
	a := filepath.Join(root, "a.py")

	report := analyze(t, root, nil)
	assert.Equal(t, map[string][]string{"Window": {"on_tick"}}, report.UnusedMethods(a))

	s := runSession(t, root, nil)
	assert.True(t, s.Used(a, MethodUse{Class: "Window", Method: "on_click"}))
	assert.False(t, s.Used(a, FunctionUse{Name: "signal.connect"}), "a connect call is not classified further")

	t.Run("connect method is configurable", func(t *testing.T) {
		report := analyze(t, root, func(c *config.Config) { c.Liveness.ConnectMethod = "bind" })
		assert.Equal(t, map[string][]string{"Window": {"on_click", "on_tick"}}, report.UnusedMethods(a))
	})
}

func TestAnalyze_AbsoluteWildcardOrder(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.py": "def early():\n    pass\n",
		"b.py": "from a import *\nfrom z import *\n",
		"z.py": "def late():\n    pass\n",
	})
	a := filepath.Join(root, "a.py")
	z := filepath.Join(root, "z.py")

	report := analyze(t, root, func(c *config.Config) { c.Imports.Wildcard = config.WildcardOrdered })
	assert.Empty(t, report.UnusedFunctions(a))
	assert.Equal(t, []string{"late"}, report.UnusedFunctions(z))

	report = analyze(t, root, func(c *config.Config) { c.Imports.Wildcard = config.WildcardComplete })
	assert.Empty(t, report.UnusedFunctions(a))
	assert.Empty(t, report.UnusedFunctions(z))
}

func TestAnalyze_UnusedImports(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.py": `from __future__ import annotations
import os
import os.path as osp
import json
from .b import helper, Tool as T, spare
from .c import *


def run():
    json.dumps(helper())
    return T
`,
		"b.py":            "def helper():\n    pass\n\n\nclass Tool:\n    pass\n\n\ndef spare():\n    pass\n",
		"c.py":            "def wild():\n    pass\n",
		"pkg/__init__.py": "from .impl import api, hidden\n\n__all__ = [\"api\"]\n",
		"pkg/impl.py":     "def api():\n    pass\n\n\ndef hidden():\n    pass\n",
		"user.py":         "from pkg import hidden\n\nhidden()\n",
	})
	a := filepath.Join(root, "a.py")
	pkgInit := filepath.Join(root, "pkg", "__init__.py")

	report := analyze(t, root, nil)
	assert.Equal(t, []string{"os", "osp", "spare"}, report.UnusedImports(a), "wildcards and __future__ are not bindings")
	assert.Empty(t, report.UnusedImports(pkgInit), "listed in __all__ or imported from here by another file")
	assert.Equal(t, 3, report.Summary.UnusedImports)

	fr, ok := report.File(a)
	require.True(t, ok)
	assert.Equal(t, ImportEntry{Name: "osp", Module: "os.path", Line: 3}, fr.Imports[1])
	assert.Equal(t, ImportEntry{Name: "spare", Module: ".b", Line: 5}, fr.Imports[2])

	var buf bytes.Buffer
	require.NoError(t, report.RenderText(&buf, false))
	assert.Contains(t, buf.String(), "=== Unused imports ===\n"+a+":\n  - os (from os, line 2)\n")

	report = analyze(t, root, func(c *config.Config) { c.Liveness.UnusedImports = false })
	assert.Nil(t, report.UnusedImports(a))
	assert.Zero(t, report.Summary.UnusedImports)
	assert.NotContains(t, renderText(t, report), "Unused imports")
}

func renderText(t *testing.T, report *Report) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, report.RenderText(&buf, false))
	return buf.String()
}

func TestAnalyze_WildcardOrder(t *testing.T) {
	root := writeProject(t, map[string]string{
		// a.py precedes b.py in scan order; z.py follows it.
		"a.py": "def early():\n    pass\n",
		"b.py": "from .a import *\nfrom .z import *\n",
		"z.py": "def late():\n    pass\n",
	})
	a := filepath.Join(root, "a.py")
	z := filepath.Join(root, "z.py")

	t.Run("ordered", func(t *testing.T) {
		report := analyze(t, root, func(c *config.Config) { c.Imports.Wildcard = config.WildcardOrdered })
		assert.Empty(t, report.UnusedFunctions(a), "exporter processed first contributes its names")
		assert.Equal(t, []string{"late"}, report.UnusedFunctions(z), "exporter processed later contributes nothing")
	})

	t.Run("complete", func(t *testing.T) {
		report := analyze(t, root, func(c *config.Config) { c.Imports.Wildcard = config.WildcardComplete })
		assert.Empty(t, report.UnusedFunctions(a))
		assert.Empty(t, report.UnusedFunctions(z))
	})

	t.Run("star is not an imported name", func(t *testing.T) {
		s := runSession(t, root, func(c *config.Config) { c.Imports.Wildcard = config.WildcardOrdered })
		edges := s.Imports(filepath.Join(root, "b.py"))
		require.Len(t, edges, 2)
		assert.Equal(t, ImportEdge{File: filepath.Join(root, "b.py"), Source: a, Names: []string{"early"}}, edges[0])
		assert.Equal(t, z, edges[1].Source)
		assert.Empty(t, edges[1].Names)
	})
}

func TestAnalyze_Idempotent(t *testing.T) {
	root := writeProject(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/a.py":        "def helper():\n    pass\n\n\nclass A:\n    def m(self):\n        pass\n",
		"pkg/b.py":        "from .a import *\n\n\ndef other():\n    pass\n",
		"pkg/c.py":        "# TODO dead code: function other\nclass C:\n    def x(self):\n        pass\n",
		"main.py":         "def broken(:\n",
	})

	render := func() []byte {
		report := analyze(t, root, func(c *config.Config) { c.Workers = 3 })
		var buf bytes.Buffer
		require.NoError(t, report.RenderText(&buf, false))
		return buf.Bytes()
	}

	first := render()
	for i := 0; i < 5; i++ {
		assert.Equal(t, string(first), string(render()))
	}

	s := runSession(t, root, nil)
	assert.Equal(t, s.Report(), s.Report())
}

func TestAnalyze_PositionsMatchSource(t *testing.T) {
	src := `import os


class Widget:
    async def refresh(self):
        pass

    class Inner:
        def deep(self):
            pass


@decorator
def helper():
    def nested():
        pass
    return nested


async def fetch():
    pass
`
	root := writeProject(t, map[string]string{"a.py": src})
	a := filepath.Join(root, "a.py")
	lines := strings.Split(src, "\n")

	s := runSession(t, root, nil)
	decls := s.Declarations(a)
	require.Len(t, decls, 7)

	for _, d := range decls {
		line := lines[d.Line-1]
		rest := line[d.Column:]
		keyword := "def "
		if d.Kind == KindClass {
			keyword = "class "
		}
		assert.True(t, strings.HasPrefix(rest, keyword) || strings.HasPrefix(rest, "async def "),
			"%s %s at %d:%d points at %q", d.Kind, d.Name, d.Line, d.Column, rest)
	}

	report := s.Report()
	fr, ok := report.File(a)
	require.True(t, ok)
	assert.Equal(t, []Entry{
		{Name: "helper", Line: 14, Column: 0},
		{Name: "nested", Line: 15, Column: 4},
		{Name: "fetch", Line: 20, Column: 0},
	}, fr.Functions)
	assert.Equal(t, []ClassMethods{
		{Class: "Inner", Methods: []Entry{{Name: "deep", Line: 9, Column: 8}}},
		{Class: "Widget", Methods: []Entry{{Name: "refresh", Line: 5, Column: 4}}},
	}, fr.Methods)
	assert.Equal(t, []Entry{
		{Name: "Widget", Line: 4, Column: 0},
		{Name: "Inner", Line: 8, Column: 4},
	}, fr.Classes)
}

func TestAnalyze_ParseFailurePolicy(t *testing.T) {
	root := writeProject(t, map[string]string{
		"good.py":   "def helper():\n    pass\n",
		"broken.py": "from .good import helper\ndef broken(:\n    pass\n",
		"latin.py":  "x = '\xff\xfe'\n",
	})
	good := filepath.Join(root, "good.py")

	t.Run("skip", func(t *testing.T) {
		report := analyze(t, root, nil)
		require.Len(t, report.Skipped, 2)
		assert.Equal(t, filepath.Join(root, "broken.py"), report.Skipped[0].Path)
		assert.Contains(t, report.Skipped[0].Reason, "syntax error")
		assert.Equal(t, filepath.Join(root, "latin.py"), report.Skipped[1].Path)
		assert.Equal(t, 1, report.Summary.FilesAnalyzed)
		assert.Equal(t, 2, report.Summary.FilesSkipped)
		// The broken file's import never happened.
		assert.Equal(t, []string{"helper"}, report.UnusedFunctions(good))
	})

	t.Run("abort", func(t *testing.T) {
		_, err := New(testConfig(func(c *config.Config) {
			c.Errors.OnParseError = config.OnParseErrorAbort
		})).Analyze(context.Background(), root)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrParseFailure)

		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, filepath.Join(root, "broken.py"), pe.Path)
	})
}

func TestAnalyze_ReadFailureAborts(t *testing.T) {
	_, err := New(nil).AnalyzeFiles(context.Background(), []string{filepath.Join(t.TempDir(), "gone.py")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrParseFailure)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAnalyze_Cancelled(t *testing.T) {
	root := writeProject(t, map[string]string{"a.py": "x = 1\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil).Analyze(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyze_MissingRoot(t *testing.T) {
	_, err := New(nil).Analyze(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestAnalyze_ExcludedDirectories(t *testing.T) {
	root := writeProject(t, map[string]string{
		"app.py":            "def helper():\n    pass\n",
		"tests/test_app.py": "from ..app import helper\n",
	})
	report := analyze(t, root, nil)
	assert.Equal(t, []string{"helper"}, report.UnusedFunctions(filepath.Join(root, "app.py")))

	report = analyze(t, root, func(c *config.Config) { c.Scan.ExcludeDirs = nil })
	assert.Empty(t, report.UnusedFunctions(filepath.Join(root, "app.py")))
}

type countingProgress struct {
	stages []string
	ticks  atomic.Int32
}

func (p *countingProgress) Start(stage string, total int) { p.stages = append(p.stages, stage) }
func (p *countingProgress) Tick()                         { p.ticks.Add(1) }

func TestAnalyze_Progress(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.py": "x = 1\n",
		"b.py": "y = 2\n",
	})
	p := &countingProgress{}
	_, err := New(nil, WithProgress(p), WithMaxWorkers(1)).Analyze(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"Collecting declarations", "Collecting usages"}, p.stages)
	assert.Equal(t, int32(4), p.ticks.Load())
}
