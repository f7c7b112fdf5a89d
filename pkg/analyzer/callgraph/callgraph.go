// Package callgraph builds a static call graph of a Python project and finds
// recursion cycles and functions unreachable from the chosen entry points.
package callgraph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/panbanda/deadpy/internal/fileproc"
	"github.com/panbanda/deadpy/internal/scanner"
	"github.com/panbanda/deadpy/pkg/config"
	"github.com/panbanda/deadpy/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// ErrParseFailure marks files that could not be parsed.
var ErrParseFailure = errors.New("parse failure")

// Progress receives collection progress. Tick is called concurrently.
type Progress interface {
	Start(stage string, total int)
	Tick()
}

// Analyzer builds call graphs.
type Analyzer struct {
	cfg        *config.Config
	entries    []string
	maxWorkers int
	progress   Progress
}

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithEntries sets the entry points used for reachability. An entry matches a
// node by its ID or its name (`func` or `Class.method`). Module nodes are
// always entry points.
func WithEntries(names ...string) Option {
	return func(a *Analyzer) {
		a.entries = append(a.entries, names...)
	}
}

// WithMaxWorkers bounds the number of files parsed concurrently (0 = 2x NumCPU).
func WithMaxWorkers(n int) Option {
	return func(a *Analyzer) {
		a.maxWorkers = n
	}
}

// WithProgress reports collection progress to p.
func WithProgress(p Progress) Option {
	return func(a *Analyzer) {
		a.progress = p
	}
}

// New creates a call-graph analyzer. A nil config means config.DefaultConfig().
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

// Analyze scans root and builds its call graph.
func (a *Analyzer) Analyze(ctx context.Context, root string) (*Graph, error) {
	if a.progress != nil {
		a.progress.Start("Scanning files", -1)
	}
	files, err := scanner.NewScanner(a.cfg).ScanDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return a.AnalyzeFiles(ctx, root, files)
}

// AnalyzeFiles builds the call graph of files. Node paths are relative to root.
func (a *Analyzer) AnalyzeFiles(ctx context.Context, root string, files []string) (*Graph, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	opts := fileproc.Options{MaxWorkers: a.maxWorkers}
	if a.progress != nil {
		a.progress.Start("Building call graph", len(sorted))
		opts.OnProgress = a.progress.Tick
	}

	results, errs := fileproc.MapFiles(ctx, sorted, func(ctx context.Context, psr *parser.Parser, path string) (*fileCalls, error) {
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		tree, err := psr.Parse(ctx, source, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %w", ErrParseFailure, err)
		}
		defer tree.Close()
		return collect(tree.Root(), source, relativePath(absRoot, path)), nil
	}, opts)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := &Graph{Root: absRoot, Entries: a.entries}
	skip := a.cfg.Errors.OnParseError == config.OnParseErrorSkip
	for _, pe := range errs.Sorted() {
		if !skip || !errors.Is(pe.Err, ErrParseFailure) {
			return nil, fmt.Errorf("%s: %w", pe.Path, pe.Err)
		}
		g.Skipped = append(g.Skipped, SkippedFile{Path: relativePath(absRoot, pe.Path), Reason: pe.Err.Error()})
	}

	var parsed []*fileCalls
	for _, fc := range results {
		if fc != nil {
			parsed = append(parsed, fc)
		}
	}

	b := newBuilder(parsed)
	b.resolve()
	g.Nodes, g.Edges = b.sorted()
	g.Cycles = findCycles(g.Nodes, g.Edges)
	g.Unreachable = unreachable(g.Nodes, g.Edges, a.entries)
	g.Summary = Summary{
		FilesAnalyzed: len(parsed),
		FilesSkipped:  len(g.Skipped),
		Nodes:         len(g.Nodes),
		Edges:         len(g.Edges),
		Cycles:        len(g.Cycles),
		Unreachable:   len(g.Unreachable),
	}
	return g, nil
}

func relativePath(root, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// fileCalls holds what one file declares, imports and calls.
type fileCalls struct {
	path      string
	defs      []Node
	functions map[string]struct{}
	classes   map[string]map[string]struct{}
	imports   map[string]string
	calls     []rawCall
}

// rawCall is an unresolved call site. receiver is empty for bare calls; class
// is the nearest enclosing class, used to resolve self calls.
type rawCall struct {
	caller   string
	class    string
	receiver string
	name     string
}

func moduleID(path string) string {
	return path + ":" + ModuleName
}

func collect(root *sitter.Node, source []byte, path string) *fileCalls {
	fc := &fileCalls{
		path:      path,
		functions: make(map[string]struct{}),
		classes:   make(map[string]map[string]struct{}),
		imports:   make(map[string]string),
	}
	fc.defs = append(fc.defs, Node{ID: moduleID(path), Name: ModuleName, File: path, Kind: KindModule})

	parser.Walk(root, func(node *sitter.Node, ancestors []*sitter.Node) bool {
		switch node.Type() {
		case "function_definition":
			fc.declare(node, ancestors, source)
		case "class_definition":
			name := parser.GetNodeText(node.ChildByFieldName("name"), source)
			if _, ok := fc.classes[name]; !ok {
				fc.classes[name] = make(map[string]struct{})
			}
		case "import_statement":
			fc.collectImport(node, source)
			return false
		case "import_from_statement":
			fc.collectImportFrom(node, source)
			return false
		case "call":
			fc.collectCall(node, ancestors, source)
		}
		return true
	})
	return fc
}

func (fc *fileCalls) declare(node *sitter.Node, ancestors []*sitter.Node, source []byte) {
	name := parser.GetNodeText(node.ChildByFieldName("name"), source)
	line := node.StartPoint().Row + 1
	owner := parser.DefinitionParent(ancestors)
	if owner != nil && owner.Type() == "class_definition" {
		class := parser.GetNodeText(owner.ChildByFieldName("name"), source)
		if fc.classes[class] == nil {
			fc.classes[class] = make(map[string]struct{})
		}
		fc.classes[class][name] = struct{}{}
		fc.defs = append(fc.defs, Node{
			ID:   fc.path + ":" + class + "." + name,
			Name: class + "." + name,
			File: fc.path,
			Kind: KindMethod,
			Line: line,
		})
		return
	}
	fc.functions[name] = struct{}{}
	fc.defs = append(fc.defs, Node{
		ID:   fc.path + ":" + name,
		Name: name,
		File: fc.path,
		Kind: KindFunction,
		Line: line,
	})
}

// collectImport binds `import a.b` to a and `import a.b as c` to a.b.
func (fc *fileCalls) collectImport(node *sitter.Node, source []byte) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			top, _, _ := strings.Cut(parser.GetNodeText(child, source), ".")
			fc.imports[top] = top
		case "aliased_import":
			module := parser.GetNodeText(child.ChildByFieldName("name"), source)
			if alias := parser.GetNodeText(child.ChildByFieldName("alias"), source); alias != "" {
				fc.imports[alias] = module
			}
		}
	}
}

// collectImportFrom binds each name of `from M import a, b as c` to M.a and
// M.b. Relative module text keeps its leading dots; wildcards bind nothing.
func (fc *fileCalls) collectImportFrom(node *sitter.Node, source []byte) {
	var (
		module    string
		sawImport bool
	)
	bind := func(local, name string) {
		if strings.HasSuffix(module, ".") {
			fc.imports[local] = module + name
		} else {
			fc.imports[local] = module + "." + name
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			module = parser.GetNodeText(child, source)
		case "dotted_name":
			text := parser.GetNodeText(child, source)
			if !sawImport {
				module = text
			} else {
				bind(text, text)
			}
		case "aliased_import":
			name := parser.GetNodeText(child.ChildByFieldName("name"), source)
			local := parser.GetNodeText(child.ChildByFieldName("alias"), source)
			if local == "" {
				local = name
			}
			bind(local, name)
		}
	}
}

func (fc *fileCalls) collectCall(call *sitter.Node, ancestors []*sitter.Node, source []byte) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return
	}
	caller, class := fc.callerOf(ancestors, source)

	switch fn.Type() {
	case "identifier":
		fc.calls = append(fc.calls, rawCall{caller: caller, class: class, name: parser.GetNodeText(fn, source)})
	case "attribute":
		receiver := fn.ChildByFieldName("object")
		if receiver == nil || receiver.Type() != "identifier" {
			return
		}
		fc.calls = append(fc.calls, rawCall{
			caller:   caller,
			class:    class,
			receiver: parser.GetNodeText(receiver, source),
			name:     parser.GetNodeText(fn.ChildByFieldName("attribute"), source),
		})
	}
}

// callerOf returns the node ID of the innermost function enclosing a call,
// or the module node, plus the name of the nearest enclosing class.
func (fc *fileCalls) callerOf(ancestors []*sitter.Node, source []byte) (string, string) {
	caller := ""
	class := ""
	for i := len(ancestors) - 1; i >= 0; i-- {
		switch ancestors[i].Type() {
		case "function_definition":
			if caller != "" {
				continue
			}
			name := parser.GetNodeText(ancestors[i].ChildByFieldName("name"), source)
			owner := parser.DefinitionParent(ancestors[:i])
			if owner != nil && owner.Type() == "class_definition" {
				caller = fc.path + ":" + parser.GetNodeText(owner.ChildByFieldName("name"), source) + "." + name
			} else {
				caller = fc.path + ":" + name
			}
		case "class_definition":
			if class == "" {
				class = parser.GetNodeText(ancestors[i].ChildByFieldName("name"), source)
			}
		}
		if caller != "" && class != "" {
			break
		}
	}
	if caller == "" {
		caller = moduleID(fc.path)
	}
	return caller, class
}

// builder resolves raw calls against every file's declarations.
type builder struct {
	files []*fileCalls
	nodes map[string]Node
	edges map[Edge]struct{}
	// owners maps a method name to the sorted IDs of every method declaring it.
	owners map[string][]string
}

func newBuilder(files []*fileCalls) *builder {
	b := &builder{
		files:  files,
		nodes:  make(map[string]Node),
		edges:  make(map[Edge]struct{}),
		owners: make(map[string][]string),
	}
	for _, fc := range files {
		for _, n := range fc.defs {
			if _, dup := b.nodes[n.ID]; dup {
				continue
			}
			b.nodes[n.ID] = n
			if n.Kind == KindMethod {
				_, method, _ := strings.Cut(n.Name, ".")
				b.owners[method] = append(b.owners[method], n.ID)
			}
		}
	}
	for _, ids := range b.owners {
		sort.Strings(ids)
	}
	return b
}

func (b *builder) resolve() {
	for _, fc := range b.files {
		for _, c := range fc.calls {
			if target := b.target(fc, c); target != "" {
				b.edges[Edge{From: c.caller, To: target}] = struct{}{}
			}
		}
	}
}

// target resolves one call. Bare calls go to a function of the same file, the
// constructor of a class of the same file, or an imported name. Attribute
// calls go to the enclosing class for self, the named local class, the first
// project class declaring the method, or the imported receiver. Anything else
// is dropped.
func (b *builder) target(fc *fileCalls, c rawCall) string {
	if c.receiver == "" {
		if _, ok := fc.functions[c.name]; ok {
			return fc.path + ":" + c.name
		}
		if methods, ok := fc.classes[c.name]; ok {
			if _, ok := methods["__init__"]; ok {
				return fc.path + ":" + c.name + ".__init__"
			}
			return ""
		}
		if imported, ok := fc.imports[c.name]; ok {
			return b.external(imported)
		}
		return ""
	}

	if c.receiver == "self" && c.class != "" {
		if _, ok := fc.classes[c.class][c.name]; ok {
			return fc.path + ":" + c.class + "." + c.name
		}
	}
	if methods, ok := fc.classes[c.receiver]; ok {
		if _, ok := methods[c.name]; ok {
			return fc.path + ":" + c.receiver + "." + c.name
		}
	}
	if owners := b.owners[c.name]; len(owners) > 0 {
		return owners[0]
	}
	if imported, ok := fc.imports[c.receiver]; ok {
		return b.external(imported + "." + c.name)
	}
	return ""
}

func (b *builder) external(id string) string {
	if _, ok := b.nodes[id]; !ok {
		b.nodes[id] = Node{ID: id, Name: id, Kind: KindExternal}
	}
	return id
}

func (b *builder) sorted() ([]Node, []Edge) {
	nodes := make([]Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]Edge, 0, len(b.edges))
	for e := range b.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return nodes, edges
}

// findCycles returns the recursion cycles: strongly connected components with
// more than one node, plus functions that call themselves.
func findCycles(nodes []Node, edges []Edge) [][]string {
	index := make(map[string]int64, len(nodes))
	g := simple.NewDirectedGraph()
	for i, n := range nodes {
		index[n.ID] = int64(i)
		g.AddNode(simple.Node(int64(i)))
	}

	var cycles [][]string
	for _, e := range edges {
		from, fromOK := index[e.From]
		to, toOK := index[e.To]
		if !fromOK || !toOK {
			continue
		}
		// simple graphs reject self-loops
		if from == to {
			cycles = append(cycles, []string{e.From})
			continue
		}
		g.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}

	for _, scc := range topo.TarjanSCC(g) {
		if len(scc) < 2 {
			continue
		}
		members := make([]string, len(scc))
		for i, n := range scc {
			members[i] = nodes[n.ID()].ID
		}
		sort.Strings(members)
		cycles = append(cycles, members)
	}

	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i][0] != cycles[j][0] {
			return cycles[i][0] < cycles[j][0]
		}
		return len(cycles[i]) < len(cycles[j])
	})
	return cycles
}

// unreachable returns the project functions and methods not reachable from a
// module node or an entry.
func unreachable(nodes []Node, edges []Edge, entries []string) []string {
	index := make(map[string]uint32, len(nodes))
	for i, n := range nodes {
		index[n.ID] = uint32(i)
	}
	adjacency := make([][]uint32, len(nodes))
	for _, e := range edges {
		from, fromOK := index[e.From]
		to, toOK := index[e.To]
		if fromOK && toOK {
			adjacency[from] = append(adjacency[from], to)
		}
	}

	wanted := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		wanted[e] = struct{}{}
	}

	reached := roaring.New()
	var queue []uint32
	for i, n := range nodes {
		_, byID := wanted[n.ID]
		_, byName := wanted[n.Name]
		if n.Kind == KindModule || byID || byName {
			reached.Add(uint32(i))
			queue = append(queue, uint32(i))
		}
	}

	for head := 0; head < len(queue); head++ {
		for _, next := range adjacency[queue[head]] {
			if reached.CheckedAdd(next) {
				queue = append(queue, next)
			}
		}
	}

	var out []string
	for i, n := range nodes {
		if (n.Kind == KindFunction || n.Kind == KindMethod) && !reached.Contains(uint32(i)) {
			out = append(out, n.ID)
		}
	}
	return out
}
