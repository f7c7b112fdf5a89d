package callgraph

// NodeKind classifies call-graph nodes.
type NodeKind string

const (
	KindFunction NodeKind = "function"
	KindMethod   NodeKind = "method"
	// KindModule is the top level of a file; calls outside any function originate here.
	KindModule NodeKind = "module"
	// KindExternal is a callee reached through an import that is not declared in the project.
	KindExternal NodeKind = "external"
)

// String returns the string representation.
func (k NodeKind) String() string {
	return string(k)
}

// ModuleName is the display name of a file's module node.
const ModuleName = "<module>"

// Node is a callable in the graph. IDs have the form `path:name` for functions
// and `path:Class.method` for methods, with path relative to the analyzed root.
// External nodes use the dotted import target as their ID.
type Node struct {
	ID   string   `json:"id" yaml:"id" toon:"id"`
	Name string   `json:"name" yaml:"name" toon:"name"`
	File string   `json:"file,omitempty" yaml:"file,omitempty" toon:"file,omitempty"`
	Kind NodeKind `json:"kind" yaml:"kind" toon:"kind"`
	Line uint32   `json:"line,omitempty" yaml:"line,omitempty" toon:"line,omitempty"`
}

// Edge is a call from one node to another.
type Edge struct {
	From string `json:"from" yaml:"from" toon:"from"`
	To   string `json:"to" yaml:"to" toon:"to"`
}

// SkippedFile is a file left out of the graph because it failed to parse.
type SkippedFile struct {
	Path   string `json:"path" yaml:"path" toon:"path"`
	Reason string `json:"reason" yaml:"reason" toon:"reason"`
}

// Summary holds aggregate counts.
type Summary struct {
	FilesAnalyzed int `json:"files_analyzed" yaml:"files_analyzed" toon:"files_analyzed"`
	FilesSkipped  int `json:"files_skipped" yaml:"files_skipped" toon:"files_skipped"`
	Nodes         int `json:"nodes" yaml:"nodes" toon:"nodes"`
	Edges         int `json:"edges" yaml:"edges" toon:"edges"`
	Cycles        int `json:"cycles" yaml:"cycles" toon:"cycles"`
	Unreachable   int `json:"unreachable" yaml:"unreachable" toon:"unreachable"`
}

// Graph is the project call graph. Nodes are sorted by ID, edges by
// (From, To), cycles by their first member.
type Graph struct {
	Root        string        `json:"root,omitempty" yaml:"root,omitempty" toon:"root,omitempty"`
	Entries     []string      `json:"entries,omitempty" yaml:"entries,omitempty" toon:"entries,omitempty"`
	Nodes       []Node        `json:"nodes" yaml:"nodes" toon:"nodes"`
	Edges       []Edge        `json:"edges" yaml:"edges" toon:"edges"`
	Cycles      [][]string    `json:"cycles,omitempty" yaml:"cycles,omitempty" toon:"cycles,omitempty"`
	Unreachable []string      `json:"unreachable,omitempty" yaml:"unreachable,omitempty" toon:"unreachable,omitempty"`
	Skipped     []SkippedFile `json:"skipped,omitempty" yaml:"skipped,omitempty" toon:"skipped,omitempty"`
	Summary     Summary       `json:"summary" yaml:"summary" toon:"summary"`
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Callees returns the sorted IDs called by id.
func (g *Graph) Callees(id string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}

// HasEdge reports whether from calls to.
func (g *Graph) HasEdge(from, to string) bool {
	for _, e := range g.Edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}
