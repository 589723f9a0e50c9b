package graph

import "testing"

func TestFilterMatch(t *testing.T) {
	nodes := []Node{
		{ID: "arn:aws:rds:eu-west-1:111:db/orders", Type: "aws_db_instance", Region: "eu-west-1", AccountID: "111"},
		{ID: "arn:aws:ec2:eu-west-1:111:instance/i-1", Type: "aws_instance", Region: "eu-west-1", AccountID: "111"},
		{ID: "arn:aws:s3:::logs", Type: "aws_s3_bucket", Region: "us-east-1", AccountID: "222"},
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"empty matches all", Filter{}, 3},
		{"type glob", Filter{Type: "aws_*_instance"}, 1},
		{"type prefix", Filter{Type: "aws_*"}, 3},
		{"region", Filter{Region: "eu-west-1"}, 2},
		{"account and category", Filter{AccountID: "111", Category: CategoryCompute}, 1},
		{"id glob within segment", Filter{ID: "arn:aws:rds:*:111:db/*"}, 1},
		{"id glob does not cross separators", Filter{ID: "arn:*:logs"}, 0},
		{"id super glob crosses separators", Filter{ID: "arn:**:logs"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.filter.Compile()
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got := 0
			for i := range nodes {
				n := nodes[i]
				if m.Match(&n) {
					got++
				}
			}
			if got != tt.want {
				t.Errorf("expected %d matches, got %d", tt.want, got)
			}
		})
	}
}

func TestLiteralType(t *testing.T) {
	if typ, ok := (Filter{Type: "aws_vpc"}).LiteralType(); !ok || typ != "aws_vpc" {
		t.Fatalf("expected literal, got %q %v", typ, ok)
	}
	if _, ok := (Filter{Type: "aws_*"}).LiteralType(); ok {
		t.Fatal("glob should not be literal")
	}
}
