package export

import (
	"bytes"
	"strings"
	"testing"

	"resgraph/internal/engine/graph"
)

func sampleProjection() *graph.Projection {
	p := graph.NewProjection()
	p.AddNode(graph.Node{ID: "vpc-1", Type: "aws_vpc", Name: "main"})
	p.AddNode(graph.Node{ID: "i-1", Type: "aws_instance"})
	p.AddNode(graph.Node{ID: "db-1", Type: "aws_db_instance", Name: `orders "primary"`})
	p.AddEdge(graph.Edge{SourceID: "i-1", TargetID: "vpc-1", Relation: "in"})
	p.AddEdge(graph.Edge{SourceID: "i-1", TargetID: "db-1", Relation: "reads", Weight: 2.5})
	p.AddEdge(graph.Edge{SourceID: "db-1", TargetID: "i-1", Relation: "replies"})
	return p
}

func TestWriteDOT(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDOT(&buf, sampleProjection()); err != nil {
		t.Fatal(err)
	}
	dot := buf.String()

	if !strings.HasPrefix(dot, "digraph resources {") {
		t.Error("DOT output missing digraph header")
	}
	for _, want := range []string{
		"subgraph cluster_database",
		"subgraph cluster_network",
		`"i-1" -> "vpc-1" [label="in"];`,
		`label="orders \"primary\"\naws_db_instance"`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
	if !strings.Contains(dot, `"i-1" -> "db-1" [label="reads", color="red"`) {
		t.Errorf("cycle edge not highlighted:\n%s", dot)
	}
	if strings.Contains(dot, `"i-1" -> "vpc-1" [label="in", color="red"`) {
		t.Error("acyclic edge highlighted")
	}
}

func TestWriteTSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTSV(&buf, sampleProjection()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"Source\tTarget\tRelation\tWeight\tSourceCategory\tTargetCategory",
		"db-1\ti-1\treplies\t1\tdatabase\tcompute",
		"i-1\tdb-1\treads\t2.5\tcompute\tdatabase",
		"i-1\tvpc-1\tin\t1\tcompute\tnetwork",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected TSV:\n%s", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "dot", want: FormatDOT},
		{in: "Graphviz", want: FormatDOT},
		{in: "", want: FormatTSV},
		{in: "tsv", want: FormatTSV},
		{in: "yaml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
