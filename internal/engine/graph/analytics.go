package graph

// Degree is an in/out edge count pair.
type Degree struct {
	In  int
	Out int
}

func (d Degree) Total() int { return d.In + d.Out }

// NodeMetrics is one row of the materialized degree table.
type NodeMetrics struct {
	NodeID      string
	InDegree    int
	OutDegree   int
	TotalDegree int
	IsLeaf      bool
	IsRoot      bool
}

func (m NodeMetrics) Degree() Degree {
	return Degree{In: m.InDegree, Out: m.OutDegree}
}

// SearchResult is a ranked search hit. Score is the blended relevance and
// popularity score; substring fallback hits carry Fallback=true.
type SearchResult struct {
	Node     Node
	Score    float64
	Fallback bool
}
