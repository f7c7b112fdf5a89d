package liveness

import (
	"github.com/panbanda/deadpy/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

// collectDeclarations is pass 1 for one file: declarations, import edges and
// dead-code markers, all from a single walk.
func (fs *fileState) collectDeclarations(source []byte, opts passOptions) {
	parser.Walk(fs.tree.Root(), func(node *sitter.Node, ancestors []*sitter.Node) bool {
		switch node.Type() {
		case "function_definition":
			fs.declareFunction(node, ancestors, source, opts.decoratedMethods)
		case "class_definition":
			fs.declareClass(node, source)
		case "import_statement":
			fs.collectImport(node, source)
			return false
		case "import_from_statement":
			fs.collectImportFrom(node, source)
			return false
		case "comment":
			if opts.markers {
				fs.collectMarker(node, source)
			}
		}
		return true
	})
}

// passOptions carries the switches read by the walks.
type passOptions struct {
	decoratedMethods bool
	markers          bool
}

func (fs *fileState) declareFunction(node *sitter.Node, ancestors []*sitter.Node, source []byte, decoratedLive bool) {
	name := parser.GetNodeText(node.ChildByFieldName("name"), source)
	if name == "" {
		return
	}
	pos := positionOf(node)

	owner := parser.DefinitionParent(ancestors)
	if owner == nil || owner.Type() != "class_definition" {
		fs.functions[name] = pos
		fs.exports[name] = struct{}{}
		return
	}

	class := parser.GetNodeText(owner.ChildByFieldName("name"), source)
	methods, ok := fs.methods[class]
	if !ok {
		methods = make(map[string]Position)
		fs.methods[class] = methods
	}
	methods[name] = pos

	if decoratedLive && isDecorated(ancestors) {
		fs.record(MethodUse{Class: class, Method: name})
	}
}

func (fs *fileState) declareClass(node *sitter.Node, source []byte) {
	name := parser.GetNodeText(node.ChildByFieldName("name"), source)
	if name == "" {
		return
	}
	fs.classes[name] = positionOf(node)
	fs.exports[name] = struct{}{}
	// A redeclared class keeps the methods of the earlier definitions.
	if _, ok := fs.methods[name]; !ok {
		fs.methods[name] = make(map[string]Position)
	}
}

func (fs *fileState) collectMarker(node *sitter.Node, source []byte) {
	text := parser.GetNodeText(node, source)
	tag, target, ok := parseMarker(text)
	if !ok {
		return
	}
	fs.markers = append(fs.markers, Marker{
		File:   fs.path,
		Line:   node.StartPoint().Row + 1,
		Tag:    tag,
		Target: target,
		Text:   text,
	})
}

func isDecorated(ancestors []*sitter.Node) bool {
	return len(ancestors) > 0 && ancestors[len(ancestors)-1].Type() == "decorated_definition"
}

// enclosingClass returns the name of the nearest class_definition ancestor, or "".
func enclosingClass(ancestors []*sitter.Node, source []byte) string {
	for i := len(ancestors) - 1; i >= 0; i-- {
		if ancestors[i].Type() == "class_definition" {
			return parser.GetNodeText(ancestors[i].ChildByFieldName("name"), source)
		}
	}
	return ""
}

// positionOf is the location of the node's first token (`def`, `async` or `class`).
func positionOf(node *sitter.Node) Position {
	p := node.StartPoint()
	return Position{Line: p.Row + 1, Column: p.Column}
}
