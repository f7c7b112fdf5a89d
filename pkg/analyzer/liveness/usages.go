package liveness

import (
	"strings"

	"github.com/panbanda/deadpy/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

// collectUsages is pass 2 for one file. It runs after every file has finished
// pass 1 and writes only this file's usage facts.
func (fs *fileState) collectUsages(source []byte, connect string) {
	parser.Walk(fs.tree.Root(), func(node *sitter.Node, ancestors []*sitter.Node) bool {
		switch node.Type() {
		case "call":
			if fact := fs.classifyCall(node, ancestors, source, connect); fact != nil {
				fs.record(fact)
			}
		case "identifier":
			if !isLoad(node, ancestors) {
				break
			}
			name := parser.GetNodeText(node, source)
			fs.reads[name] = struct{}{}
			if _, ok := fs.classes[name]; ok {
				fs.record(ClassUse{Name: name})
			}
		case "assignment":
			fs.collectDunderAll(node, source)
		}
		return true
	})
}

// collectDunderAll treats the names listed in `__all__ = [...]` as read, so
// re-exported imports are not reported unused.
func (fs *fileState) collectDunderAll(node *sitter.Node, source []byte) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" || parser.GetNodeText(left, source) != "__all__" {
		return
	}
	for i := 0; i < int(right.NamedChildCount()); i++ {
		item := right.NamedChild(i)
		if item.Type() != "string" {
			continue
		}
		name := strings.Trim(parser.GetNodeText(item, source), `"'`)
		if name != "" {
			fs.reads[name] = struct{}{}
		}
	}
}

// classifyCall maps a call expression to at most one usage fact. Rules apply in
// order: signal connection, bare call, self call, call on a local class, dotted
// fallback. Callees on anything but a plain name receiver yield nothing.
func (fs *fileState) classifyCall(call *sitter.Node, ancestors []*sitter.Node, source []byte, connect string) UsageFact {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return nil
	}

	switch fn.Type() {
	case "identifier":
		return FunctionUse{Name: parser.GetNodeText(fn, source)}

	case "attribute":
		method := parser.GetNodeText(fn.ChildByFieldName("attribute"), source)
		if connect != "" && method == connect {
			slot := firstPositionalArgument(call)
			if slot == nil || slot.Type() != "identifier" {
				return nil
			}
			class := enclosingClass(ancestors, source)
			if class == "" {
				return nil
			}
			return MethodUse{Class: class, Method: parser.GetNodeText(slot, source)}
		}

		receiver := fn.ChildByFieldName("object")
		if receiver == nil || receiver.Type() != "identifier" {
			return nil
		}
		obj := parser.GetNodeText(receiver, source)
		if obj == "self" {
			class := enclosingClass(ancestors, source)
			if class == "" {
				return nil
			}
			return MethodUse{Class: class, Method: method}
		}
		if _, ok := fs.classes[obj]; ok {
			return MethodUse{Class: obj, Method: method}
		}
		return FunctionUse{Name: obj + "." + method}
	}
	return nil
}

// firstPositionalArgument returns the first non-keyword argument of a call.
func firstPositionalArgument(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.Type() != "argument_list" {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		switch arg.Type() {
		case "comment":
			continue
		case "keyword_argument", "dictionary_splat":
			return nil
		default:
			return arg
		}
	}
	return nil
}

// isLoad reports whether an identifier is read rather than bound or used as a
// label (definition names, parameters, assignment targets, attribute names,
// keyword names, import names).
func isLoad(node *sitter.Node, ancestors []*sitter.Node) bool {
	if len(ancestors) == 0 {
		return false
	}
	parent := ancestors[len(ancestors)-1]
	is := func(field string) bool {
		return parser.SameNode(parent.ChildByFieldName(field), node)
	}

	switch parent.Type() {
	case "attribute":
		return !is("attribute")
	case "function_definition", "class_definition", "keyword_argument", "named_expression":
		return !is("name")
	case "default_parameter", "typed_default_parameter":
		return !is("name")
	case "assignment", "augmented_assignment", "for_statement", "for_in_clause":
		return !is("left")
	case "parameters", "lambda_parameters", "typed_parameter",
		"list_splat_pattern", "dictionary_splat_pattern",
		"pattern_list", "tuple_pattern", "list_pattern", "as_pattern_target",
		"global_statement", "nonlocal_statement", "delete_statement",
		"dotted_name", "aliased_import", "import_statement", "import_from_statement":
		return false
	}
	return true
}
