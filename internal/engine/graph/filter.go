package graph

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Filter selects nodes by exact scoping labels and glob patterns over
// type and id. Empty fields match everything.
type Filter struct {
	Type      string
	ID        string
	Region    string
	AccountID string
	Category  Category
	Limit     int
}

// Matcher is a compiled Filter.
type Matcher struct {
	filter Filter
	typ    glob.Glob
	id     glob.Glob
}

// Compile validates the glob patterns. IDs are matched with ':' and '/'
// as separators so "arn:aws:s3:::*" style patterns stay inside a segment.
func (f Filter) Compile() (*Matcher, error) {
	m := &Matcher{filter: f}
	if p := strings.TrimSpace(f.Type); p != "" {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("type pattern %q: %w", p, err)
		}
		m.typ = g
	}
	if p := strings.TrimSpace(f.ID); p != "" {
		g, err := glob.Compile(p, ':', '/')
		if err != nil {
			return nil, fmt.Errorf("id pattern %q: %w", p, err)
		}
		m.id = g
	}
	return m, nil
}

func (m *Matcher) Match(n *Node) bool {
	f := m.filter
	if f.Region != "" && n.Region != f.Region {
		return false
	}
	if f.AccountID != "" && n.AccountID != f.AccountID {
		return false
	}
	if f.Category != "" && n.Category() != f.Category {
		return false
	}
	if m.typ != nil && !m.typ.Match(n.Type) {
		return false
	}
	if m.id != nil && !m.id.Match(n.ID) {
		return false
	}
	return true
}

func (m *Matcher) Filter() Filter {
	return m.filter
}

// LiteralType returns the type pattern when it contains no glob syntax, so
// callers can push it down as an equality predicate.
func (f Filter) LiteralType() (string, bool) {
	p := strings.TrimSpace(f.Type)
	if p == "" || strings.ContainsAny(p, `*?[]{}\!`) {
		return "", false
	}
	return p, true
}
