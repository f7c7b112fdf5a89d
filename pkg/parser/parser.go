// Package parser wraps tree-sitter for parsing Python source files.
package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ErrInvalidEncoding is returned when a source file is not valid UTF-8.
var ErrInvalidEncoding = errors.New("source is not valid UTF-8")

// ErrSyntax is returned when the parsed tree contains syntax errors.
var ErrSyntax = errors.New("syntax error")

// Parser wraps a tree-sitter parser configured for Python.
// A Parser is not safe for concurrent use; create one per goroutine.
type Parser struct {
	parser *sitter.Parser
}

// ParseResult contains the parsed AST and the source it was built from.
type ParseResult struct {
	Tree   *sitter.Tree
	Source []byte
	Path   string
}

// Root returns the module node of the parsed tree.
func (r *ParseResult) Root() *sitter.Node {
	return r.Tree.RootNode()
}

// Close releases the tree. Safe to call on a nil result.
func (r *ParseResult) Close() {
	if r != nil && r.Tree != nil {
		r.Tree.Close()
		r.Tree = nil
	}
}

// New creates a new parser instance.
func New() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{parser: p}
}

// ParseFile reads and parses a Python source file.
func (p *Parser) ParseFile(ctx context.Context, path string) (*ParseResult, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.Parse(ctx, source, path)
}

// Parse parses Python source. Source that is not valid UTF-8 is rejected
// before parsing, and a tree containing ERROR or MISSING nodes is rejected
// after parsing.
func (p *Parser) Parse(ctx context.Context, source []byte, path string) (*ParseResult, error) {
	if !utf8.Valid(source) {
		return nil, ErrInvalidEncoding
	}

	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	root := tree.RootNode()
	if root.HasError() {
		line, col := firstErrorPoint(root)
		tree.Close()
		return nil, fmt.Errorf("%w at line %d, column %d", ErrSyntax, line, col)
	}

	return &ParseResult{
		Tree:   tree,
		Source: source,
		Path:   path,
	}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	p.parser.Close()
}

// IsPythonFile reports whether path names a Python source file.
func IsPythonFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py", ".pyw":
		return true
	default:
		return false
	}
}

// firstErrorPoint locates the first ERROR or MISSING node, 1-based line and 0-based column.
func firstErrorPoint(root *sitter.Node) (uint32, uint32) {
	var found *sitter.Node
	Walk(root, func(node *sitter.Node, _ []*sitter.Node) bool {
		if found != nil {
			return false
		}
		if node.Type() == "ERROR" || node.IsMissing() {
			found = node
			return false
		}
		return node.HasError()
	})
	if found == nil {
		return root.StartPoint().Row + 1, root.StartPoint().Column
	}
	return found.StartPoint().Row + 1, found.StartPoint().Column
}

// Visitor visits a node. ancestors holds the path from the root to the
// node's parent; the parent is ancestors[len(ancestors)-1]. The slice is
// reused between calls and must not be retained. Returning false skips
// the node's children.
type Visitor func(node *sitter.Node, ancestors []*sitter.Node) bool

// Walk traverses the tree depth-first in source order, carrying an explicit
// ancestor stack instead of relying on parent pointers.
func Walk(root *sitter.Node, visit Visitor) {
	if root == nil {
		return
	}
	stack := make([]*sitter.Node, 0, 32)
	walk(root, &stack, visit)
}

func walk(node *sitter.Node, stack *[]*sitter.Node, visit Visitor) {
	if !visit(node, *stack) {
		return
	}
	*stack = append(*stack, node)
	for i := range int(node.ChildCount()) {
		if child := node.Child(i); child != nil {
			walk(child, stack, visit)
		}
	}
	*stack = (*stack)[:len(*stack)-1]
}

// GetNodeText extracts the source text for a node.
// Returns empty string if node is nil or byte offsets are out of bounds.
func GetNodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if start > end || end > uint32(len(source)) {
		return ""
	}
	return string(source[start:end])
}

// SameNode reports whether a and b denote the same syntax node.
func SameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// DefinitionParent returns the nearest ancestor that is not a block or a
// decorator wrapper. For a method this is its class_definition.
func DefinitionParent(ancestors []*sitter.Node) *sitter.Node {
	for i := len(ancestors) - 1; i >= 0; i-- {
		switch ancestors[i].Type() {
		case "block", "decorated_definition":
			continue
		default:
			return ancestors[i]
		}
	}
	return nil
}
