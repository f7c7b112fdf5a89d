package liveness

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/panbanda/deadpy/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

const packageInit = "__init__.py"

// futureModule is never a real import and never read.
const futureModule = "__future__"

// collectImport handles `import a.b` and `import a.b as c`. The source is the
// module string; the imported name is the alias when present.
func (fs *fileState) collectImport(node *sitter.Node, source []byte) {
	line := positionOf(node).Line
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			module := parser.GetNodeText(child, source)
			fs.addImport(module, module)
			fs.absolute[module] = struct{}{}
			// `import a.b` binds a.
			fs.bind(strings.SplitN(module, ".", 2)[0], module, line)
		case "aliased_import":
			module := parser.GetNodeText(child.ChildByFieldName("name"), source)
			alias := parser.GetNodeText(child.ChildByFieldName("alias"), source)
			if alias == "" {
				alias = module
			}
			fs.addImport(module, alias)
			fs.absolute[module] = struct{}{}
			fs.bind(alias, module, line)
		}
	}
}

// collectImportFrom handles `from M import a, b as c` and `from M import *`,
// resolving relative module paths against the filesystem.
func (fs *fileState) collectImportFrom(node *sitter.Node, source []byte) {
	var (
		module    string
		level     int
		relative  string
		names     []string
		wildcard  bool
		sawImport bool
	)

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			relative = parser.GetNodeText(child, source)
			for j := 0; j < int(child.NamedChildCount()); j++ {
				part := child.NamedChild(j)
				switch part.Type() {
				case "import_prefix":
					level = strings.Count(parser.GetNodeText(part, source), ".")
				case "dotted_name":
					module = parser.GetNodeText(part, source)
				}
			}
		case "dotted_name":
			if !sawImport {
				module = parser.GetNodeText(child, source)
			} else {
				names = append(names, parser.GetNodeText(child, source))
			}
		case "aliased_import":
			name := parser.GetNodeText(child.ChildByFieldName("alias"), source)
			if name == "" {
				name = parser.GetNodeText(child.ChildByFieldName("name"), source)
			}
			names = append(names, name)
		case "wildcard_import":
			wildcard = true
		}
	}

	src := module
	if level > 0 {
		src = resolveRelativeImport(fs.path, module, level)
		if src == "" {
			src = relative
		}
	} else {
		fs.absolute[module] = struct{}{}
	}

	written := module
	if level > 0 {
		written = relative
	}
	line := positionOf(node).Line

	fs.addImport(src, "")
	for _, name := range names {
		fs.addImport(src, name)
		if module != futureModule {
			fs.bind(name, written, line)
		}
	}
	if wildcard {
		fs.wildcards = append(fs.wildcards, src)
	}
}

// resolveRelativeImport maps a relative import to a project file. It walks up
// level-1 directories from the importing file, then tries <dir>/<module>.py and
// <dir>/<module>/__init__.py (or <dir>/__init__.py with no module). On a miss it
// falls back to the package init of the nearest enclosing directory, moving up
// until one exists. It returns "" when the filesystem root is reached.
func resolveRelativeImport(importer, module string, level int) string {
	dir := filepath.Dir(importer)
	for i := 0; i < level-1; i++ {
		dir = filepath.Dir(dir)
	}

	var candidate string
	if module == "" {
		candidate = filepath.Join(dir, packageInit)
		if fileExists(candidate) {
			return candidate
		}
	} else {
		modPath := filepath.Join(dir, filepath.Join(strings.Split(module, ".")...))
		candidate = modPath + ".py"
		if fileExists(candidate) {
			return candidate
		}
		if pkg := filepath.Join(modPath, packageInit); fileExists(pkg) {
			return pkg
		}
	}

	cur := filepath.Dir(candidate)
	if filepath.Base(candidate) == packageInit {
		// candidate was already this directory's init
		cur = filepath.Dir(cur)
	}
	for {
		init := filepath.Join(cur, packageInit)
		if fileExists(init) {
			return init
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}

// resolveAbsoluteImports maps `import a.b` and `from a.b import x` onto
// scanned project files. Starting at the importer's directory and moving up to
// the project root, the first existing a/b.py or a/b/__init__.py wins. Modules
// found nowhere in the project keep their dotted text and stay opaque.
func (s *Session) resolveAbsoluteImports() {
	for _, fs := range s.files {
		if fs.skipped != nil {
			continue
		}
		for module := range fs.absolute {
			target := s.resolveModule(fs.path, module)
			if target == "" {
				continue
			}
			names, ok := fs.imports[module]
			if !ok {
				continue
			}
			delete(fs.imports, module)
			fs.addImport(target, "")
			for name := range names {
				fs.addImport(target, name)
			}
			for i, w := range fs.wildcards {
				if w == module {
					fs.wildcards[i] = target
				}
			}
		}
	}
}

func (s *Session) resolveModule(importer, module string) string {
	if module == "" {
		return ""
	}
	rel := filepath.Join(strings.Split(module, ".")...)
	dir := filepath.Dir(importer)
	for {
		for _, candidate := range []string{
			filepath.Join(dir, rel+".py"),
			filepath.Join(dir, rel, packageInit),
		} {
			if _, ok := s.index[candidate]; ok {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if dir == s.root || parent == dir || !isWithin(parent, s.root) {
			return ""
		}
		dir = parent
	}
}

// isWithin reports whether path is dir or lies below it.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// commonDir is the deepest directory containing every path.
func commonDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	dir := filepath.Dir(paths[0])
	for _, p := range paths[1:] {
		for !isWithin(p, dir) {
			parent := filepath.Dir(dir)
			if parent == dir {
				return dir
			}
			dir = parent
		}
	}
	return dir
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
