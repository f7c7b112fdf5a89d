package liveness

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
)

// Entry is one unused declaration.
type Entry struct {
	Name   string `json:"name" yaml:"name" toon:"name"`
	Line   uint32 `json:"line" yaml:"line" toon:"line"`
	Column uint32 `json:"column" yaml:"column" toon:"column"`
}

// ClassMethods groups the unused methods of one class.
type ClassMethods struct {
	Class   string  `json:"class" yaml:"class" toon:"class"`
	Methods []Entry `json:"methods" yaml:"methods" toon:"methods"`
}

// ImportEntry is an imported name never read in the importing file and never
// imported from it by another file.
type ImportEntry struct {
	Name   string `json:"name" yaml:"name" toon:"name"`
	Module string `json:"module" yaml:"module" toon:"module"`
	Line   uint32 `json:"line" yaml:"line" toon:"line"`
}

func (e ImportEntry) String() string {
	return fmt.Sprintf("%s (from %s, line %d)", e.Name, e.Module, e.Line)
}

// FileReport lists the unused declarations of one file. Empty groups are omitted.
type FileReport struct {
	Path      string         `json:"path" yaml:"path" toon:"path"`
	Functions []Entry        `json:"unused_functions,omitempty" yaml:"unused_functions,omitempty" toon:"unused_functions,omitempty"`
	Methods   []ClassMethods `json:"unused_methods,omitempty" yaml:"unused_methods,omitempty" toon:"unused_methods,omitempty"`
	Classes   []Entry        `json:"unused_classes,omitempty" yaml:"unused_classes,omitempty" toon:"unused_classes,omitempty"`
	Imports   []ImportEntry  `json:"unused_imports,omitempty" yaml:"unused_imports,omitempty" toon:"unused_imports,omitempty"`
}

// SkippedFile is a file left out of the analysis because it failed to parse.
type SkippedFile struct {
	Path   string `json:"path" yaml:"path" toon:"path"`
	Reason string `json:"reason" yaml:"reason" toon:"reason"`
}

// Summary holds aggregate counts.
type Summary struct {
	FilesAnalyzed   int `json:"files_analyzed" yaml:"files_analyzed" toon:"files_analyzed"`
	FilesSkipped    int `json:"files_skipped" yaml:"files_skipped" toon:"files_skipped"`
	Functions       int `json:"functions" yaml:"functions" toon:"functions"`
	Methods         int `json:"methods" yaml:"methods" toon:"methods"`
	Classes         int `json:"classes" yaml:"classes" toon:"classes"`
	UnusedFunctions int `json:"unused_functions" yaml:"unused_functions" toon:"unused_functions"`
	UnusedMethods   int `json:"unused_methods" yaml:"unused_methods" toon:"unused_methods"`
	UnusedClasses   int `json:"unused_classes" yaml:"unused_classes" toon:"unused_classes"`
	UnusedImports   int `json:"unused_imports" yaml:"unused_imports" toon:"unused_imports"`
}

// Report is the read-only result of an analysis. Files holds only files with
// at least one unused declaration, sorted by path.
type Report struct {
	Root    string        `json:"root,omitempty" yaml:"root,omitempty" toon:"root,omitempty"`
	Files   []FileReport  `json:"files" yaml:"files" toon:"files"`
	Markers []Marker      `json:"markers,omitempty" yaml:"markers,omitempty" toon:"markers,omitempty"`
	Skipped []SkippedFile `json:"skipped,omitempty" yaml:"skipped,omitempty" toon:"skipped,omitempty"`
	Summary Summary       `json:"summary" yaml:"summary" toon:"summary"`
}

// Report classifies every declaration of the session. It does not modify the
// session and returns an equal report each time it is called.
func (s *Session) Report() *Report {
	r := &Report{Files: []FileReport{}}

	for _, fs := range s.files {
		if fs.skipped != nil {
			r.Skipped = append(r.Skipped, SkippedFile{Path: fs.path, Reason: fs.skipped.Error()})
			continue
		}
		r.Summary.FilesAnalyzed++
		if s.cfg.Liveness.Markers {
			r.Markers = append(r.Markers, fs.markers...)
		}

		fr := FileReport{Path: fs.path}
		methods := make(map[string][]Entry)
		for _, d := range s.Declarations(fs.path) {
			switch d.Kind {
			case KindFunction:
				r.Summary.Functions++
			case KindMethod:
				r.Summary.Methods++
			case KindClass:
				r.Summary.Classes++
			}
			if s.IsLive(d) {
				continue
			}
			entry := Entry{Name: d.Name, Line: d.Line, Column: d.Column}
			switch d.Kind {
			case KindFunction:
				fr.Functions = append(fr.Functions, entry)
				r.Summary.UnusedFunctions++
			case KindMethod:
				methods[d.Class] = append(methods[d.Class], entry)
				r.Summary.UnusedMethods++
			case KindClass:
				fr.Classes = append(fr.Classes, entry)
				r.Summary.UnusedClasses++
			}
		}
		for _, class := range sortedClassNames(methods) {
			fr.Methods = append(fr.Methods, ClassMethods{Class: class, Methods: methods[class]})
		}

		if s.cfg.Liveness.UnusedImports {
			fr.Imports = s.unusedImports(fs)
			r.Summary.UnusedImports += len(fr.Imports)
		}

		if len(fr.Functions) > 0 || len(fr.Methods) > 0 || len(fr.Classes) > 0 || len(fr.Imports) > 0 {
			r.Files = append(r.Files, fr)
		}
	}
	r.Summary.FilesSkipped = len(r.Skipped)

	sort.SliceStable(r.Markers, func(i, j int) bool {
		if r.Markers[i].File != r.Markers[j].File {
			return r.Markers[i].File < r.Markers[j].File
		}
		return r.Markers[i].Line < r.Markers[j].Line
	})
	return r
}

func sortedClassNames(m map[string][]Entry) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// File returns the findings for path.
func (r *Report) File(path string) (FileReport, bool) {
	i := sort.Search(len(r.Files), func(i int) bool { return r.Files[i].Path >= path })
	if i < len(r.Files) && r.Files[i].Path == path {
		return r.Files[i], true
	}
	return FileReport{}, false
}

// UnusedFunctions returns the unused function names of path in source order.
func (r *Report) UnusedFunctions(path string) []string {
	fr, _ := r.File(path)
	return entryNames(fr.Functions)
}

// UnusedMethods returns the unused method names of path keyed by class.
func (r *Report) UnusedMethods(path string) map[string][]string {
	fr, ok := r.File(path)
	if !ok || len(fr.Methods) == 0 {
		return nil
	}
	out := make(map[string][]string, len(fr.Methods))
	for _, cm := range fr.Methods {
		out[cm.Class] = entryNames(cm.Methods)
	}
	return out
}

// UnusedClasses returns the unused class names of path in source order.
func (r *Report) UnusedClasses(path string) []string {
	fr, _ := r.File(path)
	return entryNames(fr.Classes)
}

// UnusedImports returns the unused imported names of path in source order.
func (r *Report) UnusedImports(path string) []string {
	fr, _ := r.File(path)
	if len(fr.Imports) == 0 {
		return nil
	}
	names := make([]string, len(fr.Imports))
	for i, e := range fr.Imports {
		names[i] = e.Name
	}
	return names
}

// Empty reports whether nothing unused was found.
func (r *Report) Empty() bool {
	return len(r.Files) == 0
}

func entryNames(entries []Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

func (e Entry) String() string {
	return fmt.Sprintf("%s (line %d, column %d)", e.Name, e.Line, e.Column)
}

// RenderData returns the report for structured serialization.
func (r *Report) RenderData() any {
	return r
}

// RenderText writes the plain report: unused functions, unused methods nested
// by class, unused classes, then unused imports, markers and skipped files when
// present.
func (r *Report) RenderText(w io.Writer, colored bool) error {
	heading := func(title string) {
		if colored {
			color.New(color.Bold, color.FgCyan).Fprintf(w, "=== %s ===\n", title)
		} else {
			fmt.Fprintf(w, "=== %s ===\n", title)
		}
	}
	path := func(p string) {
		if colored {
			color.New(color.Bold).Fprintf(w, "%s:\n", p)
		} else {
			fmt.Fprintf(w, "%s:\n", p)
		}
	}

	heading("Dead code analysis")
	fmt.Fprintln(w)

	heading("Unused functions")
	for _, fr := range r.Files {
		if len(fr.Functions) == 0 {
			continue
		}
		path(fr.Path)
		for _, e := range fr.Functions {
			fmt.Fprintf(w, "  - %s\n", e)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	heading("Unused methods")
	for _, fr := range r.Files {
		if len(fr.Methods) == 0 {
			continue
		}
		path(fr.Path)
		for _, cm := range fr.Methods {
			fmt.Fprintf(w, "  Class %s:\n", cm.Class)
			for _, e := range cm.Methods {
				fmt.Fprintf(w, "    - %s\n", e)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	heading("Unused classes")
	for _, fr := range r.Files {
		if len(fr.Classes) == 0 {
			continue
		}
		path(fr.Path)
		for _, e := range fr.Classes {
			fmt.Fprintf(w, "  - %s\n", e)
		}
		fmt.Fprintln(w)
	}

	if r.Summary.UnusedImports > 0 {
		fmt.Fprintln(w)
		heading("Unused imports")
		for _, fr := range r.Files {
			if len(fr.Imports) == 0 {
				continue
			}
			path(fr.Path)
			for _, e := range fr.Imports {
				fmt.Fprintf(w, "  - %s\n", e)
			}
			fmt.Fprintln(w)
		}
	}

	if len(r.Markers) > 0 {
		fmt.Fprintln(w)
		heading("Dead-code markers")
		current := ""
		for _, m := range r.Markers {
			if m.File != current {
				if current != "" {
					fmt.Fprintln(w)
				}
				current = m.File
				path(m.File)
			}
			target := m.Target
			if target == "" {
				target = "(unnamed)"
			}
			fmt.Fprintf(w, "  - %s (%s on line %d)\n", target, m.Tag, m.Line)
		}
		fmt.Fprintln(w)
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintln(w)
		heading("Skipped files")
		for _, sf := range r.Skipped {
			if colored {
				color.New(color.FgYellow).Fprintf(w, "  - %s: %s\n", sf.Path, sf.Reason)
			} else {
				fmt.Fprintf(w, "  - %s: %s\n", sf.Path, sf.Reason)
			}
		}
	}
	return nil
}

// RenderMarkdown writes the report as markdown.
func (r *Report) RenderMarkdown(w io.Writer) error {
	fmt.Fprintf(w, "# Dead code analysis\n\n")
	fmt.Fprintf(w, "%d files analyzed, %d unused functions, %d unused methods, %d unused classes.\n\n",
		r.Summary.FilesAnalyzed, r.Summary.UnusedFunctions, r.Summary.UnusedMethods, r.Summary.UnusedClasses)

	section := func(title string, has func(FileReport) bool, body func(FileReport)) {
		fmt.Fprintf(w, "## %s\n\n", title)
		for _, fr := range r.Files {
			if !has(fr) {
				continue
			}
			fmt.Fprintf(w, "### `%s`\n\n", fr.Path)
			body(fr)
			fmt.Fprintln(w)
		}
	}

	section("Unused functions",
		func(fr FileReport) bool { return len(fr.Functions) > 0 },
		func(fr FileReport) {
			for _, e := range fr.Functions {
				fmt.Fprintf(w, "- `%s` (line %d, column %d)\n", e.Name, e.Line, e.Column)
			}
		})
	section("Unused methods",
		func(fr FileReport) bool { return len(fr.Methods) > 0 },
		func(fr FileReport) {
			for _, cm := range fr.Methods {
				fmt.Fprintf(w, "- class `%s`\n", cm.Class)
				for _, e := range cm.Methods {
					fmt.Fprintf(w, "  - `%s` (line %d, column %d)\n", e.Name, e.Line, e.Column)
				}
			}
		})
	section("Unused classes",
		func(fr FileReport) bool { return len(fr.Classes) > 0 },
		func(fr FileReport) {
			for _, e := range fr.Classes {
				fmt.Fprintf(w, "- `%s` (line %d, column %d)\n", e.Name, e.Line, e.Column)
			}
		})

	if r.Summary.UnusedImports > 0 {
		section("Unused imports",
			func(fr FileReport) bool { return len(fr.Imports) > 0 },
			func(fr FileReport) {
				for _, e := range fr.Imports {
					fmt.Fprintf(w, "- `%s` from `%s` (line %d)\n", e.Name, e.Module, e.Line)
				}
			})
	}

	if len(r.Markers) > 0 {
		fmt.Fprintf(w, "## Dead-code markers\n\n")
		fmt.Fprintln(w, "| File | Line | Tag | Target |")
		fmt.Fprintln(w, "|------|------|-----|--------|")
		for _, m := range r.Markers {
			fmt.Fprintf(w, "| `%s` | %d | %s | %s |\n", m.File, m.Line, m.Tag, m.Target)
		}
		fmt.Fprintln(w)
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "## Skipped files\n\n")
		for _, sf := range r.Skipped {
			fmt.Fprintf(w, "- `%s`: %s\n", sf.Path, sf.Reason)
		}
		fmt.Fprintln(w)
	}
	return nil
}
