package export

import (
	"fmt"
	"io"
	"strings"

	"resgraph/internal/engine/graph"
	"resgraph/internal/shared/util"
)

var categoryFill = map[graph.Category]string{
	graph.CategoryCompute:  "lightblue",
	graph.CategoryStorage:  "khaki",
	graph.CategoryNetwork:  "palegreen",
	graph.CategorySecurity: "lightpink",
	graph.CategoryDatabase: "plum",
	graph.CategoryOther:    "white",
}

// WriteDOT renders p as a Graphviz digraph with one cluster per category.
// Edges that close a cycle are drawn red.
func WriteDOT(w io.Writer, p *graph.Projection) error {
	var buf strings.Builder

	buf.WriteString("digraph resources {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fontname=\"Helvetica\", fontsize=10];\n")
	buf.WriteString("  edge [fontname=\"Helvetica\", fontsize=8];\n")
	buf.WriteString("  overlap=false;\n\n")

	cycleEdges := make(map[string]map[string]bool)
	for _, cycle := range p.DetectCycles() {
		for i := range cycle {
			from, to := cycle[i], cycle[(i+1)%len(cycle)]
			if cycleEdges[from] == nil {
				cycleEdges[from] = make(map[string]bool)
			}
			cycleEdges[from][to] = true
		}
	}

	byCategory := make(map[graph.Category][]graph.Node)
	for _, id := range p.NodeIDs() {
		n, _ := p.Node(id)
		byCategory[n.Category()] = append(byCategory[n.Category()], n)
	}

	for _, c := range graph.Categories {
		nodes := byCategory[c]
		if len(nodes) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "  subgraph cluster_%s {\n", c)
		fmt.Fprintf(&buf, "    label=%s;\n", quote(string(c)))
		buf.WriteString("    style=dashed;\n")
		fmt.Fprintf(&buf, "    node [fillcolor=%s];\n", quote(categoryFill[c]))
		for _, n := range nodes {
			label := escape(util.TruncateLabel(n.DisplayName(), 48))
			if n.Type != "" {
				label += `\n` + escape(n.Type)
			}
			fmt.Fprintf(&buf, "    %s [label=\"%s\"];\n", quote(n.ID), label)
		}
		buf.WriteString("  }\n\n")
	}

	for _, id := range p.NodeIDs() {
		for _, e := range p.OutEdges(id) {
			attrs := fmt.Sprintf("label=%s", quote(e.Relation))
			if cycleEdges[e.SourceID][e.TargetID] {
				attrs += ", color=\"red\", penwidth=2.0"
			}
			fmt.Fprintf(&buf, "  %s -> %s [%s];\n", quote(e.SourceID), quote(e.TargetID), attrs)
		}
	}

	buf.WriteString("}\n")
	_, err := io.WriteString(w, buf.String())
	return err
}

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escape(s string) string { return dotEscaper.Replace(s) }

func quote(s string) string { return `"` + escape(s) + `"` }
