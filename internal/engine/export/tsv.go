package export

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"resgraph/internal/engine/graph"
)

var tsvEscaper = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// WriteTSV writes one row per edge: source, target, relation, weight and
// the endpoint categories.
func WriteTSV(w io.Writer, p *graph.Projection) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("Source\tTarget\tRelation\tWeight\tSourceCategory\tTargetCategory\n")

	for _, id := range p.NodeIDs() {
		src, _ := p.Node(id)
		for _, e := range p.OutEdges(id) {
			dst, _ := p.Node(e.TargetID)
			fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				tsvEscaper.Replace(e.SourceID),
				tsvEscaper.Replace(e.TargetID),
				tsvEscaper.Replace(e.Relation),
				strconv.FormatFloat(e.EffectiveWeight(), 'g', -1, 64),
				src.Category(),
				dst.Category(),
			)
		}
	}
	return bw.Flush()
}

// Format names a supported export encoding.
type Format string

const (
	FormatDOT Format = "dot"
	FormatTSV Format = "tsv"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatDOT, "graphviz":
		return FormatDOT, nil
	case FormatTSV, "":
		return FormatTSV, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func Write(w io.Writer, p *graph.Projection, f Format) error {
	switch f {
	case FormatDOT:
		return WriteDOT(w, p)
	case FormatTSV:
		return WriteTSV(w, p)
	}
	return fmt.Errorf("unknown export format %q", f)
}
