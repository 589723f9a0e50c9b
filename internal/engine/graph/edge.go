package graph

import (
	"fmt"
	"strings"
)

const DefaultEdgeWeight = 1.0

// Edge is a directed, labeled relationship. Its identity is the
// (SourceID, TargetID, Relation) triple.
type Edge struct {
	SourceID   string
	TargetID   string
	Relation   string
	Attributes Attributes
	// Weight defaults to 1.0 when zero. Path finding ignores it.
	Weight float64
}

type EdgeKey struct {
	SourceID string
	TargetID string
	Relation string
}

func (e Edge) Key() EdgeKey {
	return EdgeKey{SourceID: e.SourceID, TargetID: e.TargetID, Relation: e.Relation}
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", k.SourceID, k.Relation, k.TargetID)
}

// EffectiveWeight returns Weight, or DefaultEdgeWeight when unset.
func (e Edge) EffectiveWeight() float64 {
	if e.Weight == 0 {
		return DefaultEdgeWeight
	}
	return e.Weight
}

func (e Edge) Clone() Edge {
	e.Attributes = e.Attributes.Clone()
	return e
}

type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "out", "in", "both" and their long forms.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "out", "outgoing", "":
		return Outgoing, nil
	case "in", "incoming":
		return Incoming, nil
	case "both", "any":
		return Both, nil
	}
	return Outgoing, fmt.Errorf("unknown direction %q", s)
}
