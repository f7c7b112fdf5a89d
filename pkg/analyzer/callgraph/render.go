package callgraph

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// RenderData returns the graph for structured serialization.
func (g *Graph) RenderData() any {
	return g
}

// RenderText writes the summary, cycles and unreachable callables.
func (g *Graph) RenderText(w io.Writer, colored bool) error {
	heading := func(title string) {
		if colored {
			color.New(color.Bold).Fprintf(w, "=== %s ===\n", title)
		} else {
			fmt.Fprintf(w, "=== %s ===\n", title)
		}
	}

	heading("Call graph")
	fmt.Fprintf(w, "  Files:  %d\n", g.Summary.FilesAnalyzed)
	fmt.Fprintf(w, "  Nodes:  %d\n", g.Summary.Nodes)
	fmt.Fprintf(w, "  Edges:  %d\n", g.Summary.Edges)
	fmt.Fprintf(w, "  Cycles: %d\n", g.Summary.Cycles)

	if len(g.Cycles) > 0 {
		fmt.Fprintln(w)
		heading("Recursion cycles")
		for _, cycle := range g.Cycles {
			fmt.Fprintf(w, "  - %s\n", strings.Join(cycle, " -> "))
		}
	}

	if len(g.Unreachable) > 0 {
		fmt.Fprintln(w)
		heading("Unreachable")
		for _, id := range g.Unreachable {
			if colored {
				fmt.Fprintf(w, "  - %s\n", color.YellowString(id))
			} else {
				fmt.Fprintf(w, "  - %s\n", id)
			}
		}
	}

	if len(g.Skipped) > 0 {
		fmt.Fprintln(w)
		heading("Skipped files")
		for _, s := range g.Skipped {
			fmt.Fprintf(w, "  - %s: %s\n", s.Path, s.Reason)
		}
	}
	return nil
}

// RenderMarkdown writes a Mermaid diagram followed by cycles and unreachable callables.
func (g *Graph) RenderMarkdown(w io.Writer) error {
	fmt.Fprintln(w, "## Call graph")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d nodes, %d edges, %d cycles.\n\n", g.Summary.Nodes, g.Summary.Edges, g.Summary.Cycles)
	fmt.Fprintln(w, "```mermaid")
	if err := g.WriteMermaid(w); err != nil {
		return err
	}
	fmt.Fprintln(w, "```")

	if len(g.Cycles) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Recursion cycles")
		fmt.Fprintln(w)
		for _, cycle := range g.Cycles {
			fmt.Fprintf(w, "- `%s`\n", strings.Join(cycle, " -> "))
		}
	}
	if len(g.Unreachable) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Unreachable")
		fmt.Fprintln(w)
		for _, id := range g.Unreachable {
			fmt.Fprintf(w, "- `%s`\n", id)
		}
	}
	return nil
}

// WriteMermaid writes the graph body of a Mermaid flowchart.
func (g *Graph) WriteMermaid(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "graph TD"); err != nil {
		return err
	}
	for _, n := range g.Nodes {
		fmt.Fprintf(w, "    %s[\"%s\"]\n", sanitizeID(n.ID), strings.ReplaceAll(n.ID, `"`, "'"))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(w, "    %s --> %s\n", sanitizeID(e.From), sanitizeID(e.To))
	}
	return nil
}

// WriteDOT writes the graph in Graphviz DOT syntax. Unreachable nodes are
// drawn dashed and external nodes grey.
func (g *Graph) WriteDOT(w io.Writer) error {
	unreachable := make(map[string]struct{}, len(g.Unreachable))
	for _, id := range g.Unreachable {
		unreachable[id] = struct{}{}
	}

	if _, err := fmt.Fprintln(w, "digraph callgraph {"); err != nil {
		return err
	}
	fmt.Fprintln(w, "    rankdir=LR;")
	fmt.Fprintln(w, "    node [shape=box];")
	for _, n := range g.Nodes {
		var attrs []string
		switch n.Kind {
		case KindModule:
			attrs = append(attrs, "label="+dotQuote(n.File), "shape=folder")
		case KindExternal:
			attrs = append(attrs, "label="+dotQuote(n.Name), "color=grey", "fontcolor=grey")
		default:
			attrs = append(attrs, "label="+dotQuote(n.Name))
		}
		if _, ok := unreachable[n.ID]; ok {
			attrs = append(attrs, "style=dashed")
		}
		fmt.Fprintf(w, "    %s [%s];\n", dotQuote(n.ID), strings.Join(attrs, ", "))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(w, "    %s -> %s;\n", dotQuote(e.From), dotQuote(e.To))
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func dotQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// sanitizeID converts a node ID into a Mermaid-safe identifier.
func sanitizeID(id string) string {
	var result strings.Builder
	for _, c := range id {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result.WriteRune(c)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}
