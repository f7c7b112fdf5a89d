package liveness

import (
	"sort"

	"github.com/panbanda/deadpy/pkg/config"
	"github.com/panbanda/deadpy/pkg/parser"
)

// fileState is everything the analysis knows about one file. Pass 1 and pass 2
// write only the state of the file they are processing.
type fileState struct {
	path  string
	index int // position in scan order

	tree *parser.ParseResult // held from pass 1 to the end of pass 2

	functions map[string]Position
	classes   map[string]Position
	methods   map[string]map[string]Position // class -> method -> position
	exports   map[string]struct{}

	imports   map[string]map[string]struct{} // source -> imported names
	absolute  map[string]struct{}            // module strings of non-relative imports
	wildcards []string                       // sources of `from X import *`
	bindings  []importBinding

	used    map[UsageFact]struct{}
	reads   map[string]struct{} // identifiers read anywhere in the file
	markers []Marker

	skipped error // parse failure under the skip policy
}

func newFileState(path string, index int) *fileState {
	return &fileState{
		path:      path,
		index:     index,
		functions: make(map[string]Position),
		classes:   make(map[string]Position),
		methods:   make(map[string]map[string]Position),
		exports:   make(map[string]struct{}),
		imports:   make(map[string]map[string]struct{}),
		absolute:  make(map[string]struct{}),
		used:      make(map[UsageFact]struct{}),
		reads:     make(map[string]struct{}),
	}
}

// importBinding is a name an import statement binds in the importing file.
type importBinding struct {
	name   string
	module string // as written, e.g. "os.path" or ".models"
	line   uint32
}

func (fs *fileState) bind(name, module string, line uint32) {
	fs.bindings = append(fs.bindings, importBinding{name: name, module: module, line: line})
}

func (fs *fileState) addImport(source, name string) {
	names, ok := fs.imports[source]
	if !ok {
		names = make(map[string]struct{})
		fs.imports[source] = names
	}
	if name != "" {
		names[name] = struct{}{}
	}
}

func (fs *fileState) record(fact UsageFact) {
	fs.used[fact] = struct{}{}
}

func (fs *fileState) releaseTree() {
	fs.tree.Close()
	fs.tree = nil
}

// Session owns the per-file state of one analysis run. It is built fresh by
// every Analyze call and is read-only once both passes are complete.
type Session struct {
	cfg   *config.Config
	root  string // bound for absolute import resolution
	allow *AllowList
	files []*fileState
	index map[string]*fileState
}

func newSession(cfg *config.Config, root string, paths []string) *Session {
	if root == "" {
		root = commonDir(paths)
	}
	s := &Session{
		cfg:   cfg,
		root:  root,
		allow: NewAllowList(cfg.Liveness),
		files: make([]*fileState, len(paths)),
		index: make(map[string]*fileState, len(paths)),
	}
	for i, p := range paths {
		fs := newFileState(p, i)
		s.files[i] = fs
		s.index[p] = fs
	}
	return s
}

// Files returns the analyzed paths in scan order.
func (s *Session) Files() []string {
	out := make([]string, len(s.files))
	for i, fs := range s.files {
		out[i] = fs.path
	}
	return out
}

// Declarations returns every declaration of path ordered by position.
func (s *Session) Declarations(path string) []Declaration {
	fs, ok := s.index[path]
	if !ok {
		return nil
	}
	var decls []Declaration
	for name, pos := range fs.functions {
		decls = append(decls, Declaration{Kind: KindFunction, Name: name, File: path, Position: pos})
	}
	for name, pos := range fs.classes {
		decls = append(decls, Declaration{Kind: KindClass, Name: name, File: path, Position: pos})
	}
	for class, methods := range fs.methods {
		for name, pos := range methods {
			decls = append(decls, Declaration{Kind: KindMethod, Name: name, Class: class, File: path, Position: pos})
		}
	}
	sortDeclarations(decls)
	return decls
}

// Imports returns the import edges of path ordered by source.
func (s *Session) Imports(path string) []ImportEdge {
	fs, ok := s.index[path]
	if !ok {
		return nil
	}
	edges := make([]ImportEdge, 0, len(fs.imports))
	for source, names := range fs.imports {
		edges = append(edges, ImportEdge{File: path, Source: source, Names: sortedKeys(names)})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Source < edges[j].Source })
	return edges
}

// Used reports whether fact was recorded for path.
func (s *Session) Used(path string, fact UsageFact) bool {
	fs, ok := s.index[path]
	if !ok {
		return false
	}
	_, used := fs.used[fact]
	return used
}

// IsLive applies the liveness rules to a declaration.
func (s *Session) IsLive(d Declaration) bool {
	if d.Kind != KindClass && s.allow.Contains(d.Name) {
		return true
	}
	fs, ok := s.index[d.File]
	if !ok {
		return false
	}
	var fact UsageFact
	switch d.Kind {
	case KindFunction:
		fact = FunctionUse{Name: d.Name}
	case KindMethod:
		fact = MethodUse{Class: d.Class, Method: d.Name}
	default:
		fact = ClassUse{Name: d.Name}
	}
	if s.cfg.Liveness.MarkersForceUnused && d.Kind != KindClass && fs.markedDead(d) {
		return false
	}
	if _, used := fs.used[fact]; used {
		return true
	}
	return s.importedElsewhere(d.File, d.QualifiedName())
}

// markedDead reports whether a dead-code marker in the file names d.
func (fs *fileState) markedDead(d Declaration) bool {
	for _, m := range fs.markers {
		if m.Target != "" && (m.Target == d.Name || m.Target == d.QualifiedName()) {
			return true
		}
	}
	return false
}

// unusedImports returns the bindings of fs that are never read in the file
// and that no other file imports from it.
func (s *Session) unusedImports(fs *fileState) []ImportEntry {
	var out []ImportEntry
	for _, b := range fs.bindings {
		if _, read := fs.reads[b.name]; read {
			continue
		}
		if s.importedElsewhere(fs.path, b.name) {
			continue
		}
		out = append(out, ImportEntry{Name: b.name, Module: b.module, Line: b.line})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// importedElsewhere reports whether a file other than owner imports name from owner.
func (s *Session) importedElsewhere(owner, name string) bool {
	for _, fs := range s.files {
		if fs.path == owner || fs.skipped != nil {
			continue
		}
		if names, ok := fs.imports[owner]; ok {
			if _, ok := names[name]; ok {
				return true
			}
		}
	}
	return false
}

func sortDeclarations(decls []Declaration) {
	sort.Slice(decls, func(i, j int) bool {
		if decls[i].Position != decls[j].Position {
			return decls[i].Position.Less(decls[j].Position)
		}
		if decls[i].Class != decls[j].Class {
			return decls[i].Class < decls[j].Class
		}
		return decls[i].Name < decls[j].Name
	})
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
