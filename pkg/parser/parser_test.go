package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	p := New()
	require.NotNil(t, p)
	assert.NotNil(t, p.parser)
	p.Close()
}

func TestIsPythonFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"main.py", true},
		{"pkg/__init__.py", true},
		{"gui.pyw", true},
		{"UPPER.PY", true},
		{"stubs.pyi", false},
		{"main.go", false},
		{"README.md", false},
		{"py", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPythonFile(tt.path))
		})
	}
}

func TestParse(t *testing.T) {
	p := New()
	defer p.Close()

	src := []byte("def main():\n    pass\n")
	result, err := p.Parse(context.Background(), src, "main.py")
	require.NoError(t, err)
	defer result.Close()

	assert.Equal(t, "module", result.Root().Type())
	assert.Equal(t, "main.py", result.Path)
	assert.Equal(t, src, result.Source)
}

func TestParse_SyntaxError(t *testing.T) {
	p := New()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte("def broken(:\n    pass\n"), "broken.py")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestParse_InvalidEncoding(t *testing.T) {
	p := New()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte{'x', ' ', '=', ' ', 0xff, 0xfe, '\n'}, "latin.py")
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.py")
	require.NoError(t, os.WriteFile(path, []byte("class A:\n    pass\n"), 0644))

	p := New()
	defer p.Close()

	result, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	defer result.Close()
	assert.Equal(t, path, result.Path)

	_, err = p.ParseFile(context.Background(), filepath.Join(dir, "missing.py"))
	assert.Error(t, err)
}

func TestWalk_AncestorStack(t *testing.T) {
	p := New()
	defer p.Close()

	src := []byte("class A:\n    def m(self):\n        pass\n")
	result, err := p.Parse(context.Background(), src, "a.py")
	require.NoError(t, err)
	defer result.Close()

	var chain []string
	Walk(result.Root(), func(node *sitter.Node, ancestors []*sitter.Node) bool {
		if node.Type() == "function_definition" {
			for _, a := range ancestors {
				chain = append(chain, a.Type())
			}
			return false
		}
		return true
	})

	assert.Equal(t, []string{"module", "class_definition", "block"}, chain)
}

func TestWalk_SkipChildren(t *testing.T) {
	p := New()
	defer p.Close()

	src := []byte("def outer():\n    def inner():\n        pass\n")
	result, err := p.Parse(context.Background(), src, "a.py")
	require.NoError(t, err)
	defer result.Close()

	var names []string
	Walk(result.Root(), func(node *sitter.Node, _ []*sitter.Node) bool {
		if node.Type() == "function_definition" {
			names = append(names, GetNodeText(node.ChildByFieldName("name"), src))
			return false
		}
		return true
	})

	assert.Equal(t, []string{"outer"}, names)
}

func TestGetNodeText(t *testing.T) {
	assert.Equal(t, "", GetNodeText(nil, []byte("abc")))

	p := New()
	defer p.Close()

	src := []byte("helper()\n")
	result, err := p.Parse(context.Background(), src, "a.py")
	require.NoError(t, err)
	defer result.Close()

	assert.Equal(t, "helper()\n", GetNodeText(result.Root(), src))
	assert.Equal(t, "", GetNodeText(result.Root(), src[:3]))
}

func TestSameNode(t *testing.T) {
	p := New()
	defer p.Close()

	src := []byte("x = y\n")
	result, err := p.Parse(context.Background(), src, "a.py")
	require.NoError(t, err)
	defer result.Close()

	var assign *sitter.Node
	Walk(result.Root(), func(node *sitter.Node, _ []*sitter.Node) bool {
		if node.Type() == "assignment" {
			assign = node
		}
		return true
	})
	require.NotNil(t, assign)

	left := assign.ChildByFieldName("left")
	assert.True(t, SameNode(left, assign.ChildByFieldName("left")))
	assert.False(t, SameNode(left, assign.ChildByFieldName("right")))
	assert.True(t, SameNode(nil, nil))
	assert.False(t, SameNode(left, nil))
}
