// Package graph defines the resource graph's value types: nodes, edges,
// their derived statistics, and an in-memory projection for algorithms
// that want adjacency maps instead of SQL.
package graph

import "strings"

type Category string

const (
	CategoryCompute  Category = "compute"
	CategoryStorage  Category = "storage"
	CategoryNetwork  Category = "network"
	CategorySecurity Category = "security"
	CategoryDatabase Category = "database"
	CategoryOther    Category = "other"
)

// Categories lists every category in classification order.
var Categories = []Category{
	CategoryDatabase,
	CategoryCompute,
	CategoryStorage,
	CategorySecurity,
	CategoryNetwork,
	CategoryOther,
}

type categoryRule struct {
	category   Category
	substrings []string
}

// Order matters: several database types ("aws_db_instance",
// "aws_rds_cluster_instance") also contain the compute marker "instance".
var categoryRules = []categoryRule{
	{CategoryDatabase, []string{"rds", "db", "database", "dynamo", "aurora", "sql", "redis", "elasticache", "memcache", "cosmos", "spanner", "bigtable", "mongo", "redshift", "neptune"}},
	{CategoryCompute, []string{"instance", "ec2", "lambda", "function", "vm", "container", "ecs", "eks", "kubernetes", "compute", "autoscaling", "batch"}},
	{CategoryStorage, []string{"s3", "bucket", "storage", "ebs", "volume", "efs", "disk", "blob", "glacier", "snapshot"}},
	{CategorySecurity, []string{"iam", "role", "policy", "security", "kms", "secret", "certificate", "acm", "waf", "firewall"}},
	{CategoryNetwork, []string{"vpc", "subnet", "route", "gateway", "load_balancer", "elb", "lb", "network", "dns", "cdn", "cloudfront", "nat", "eip", "endpoint"}},
}

// ClassifyType maps a resource type string onto a Category. The first
// matching rule wins; unmatched types are CategoryOther.
func ClassifyType(resourceType string) Category {
	lower := strings.ToLower(resourceType)
	for _, rule := range categoryRules {
		for _, s := range rule.substrings {
			if strings.Contains(lower, s) {
				return rule.category
			}
		}
	}
	return CategoryOther
}

// Node is a discovered resource. Values handed out by the store are
// independent copies.
type Node struct {
	ID         string
	Type       string
	Name       string
	Region     string
	AccountID  string
	Attributes Attributes

	category Category
}

// Category returns the classification fixed by WithCategory, or classifies
// Type when none was set. It never writes to n.
func (n Node) Category() Category {
	if n.category != "" {
		return n.category
	}
	return ClassifyType(n.Type)
}

// WithCategory returns n with its classification fixed to c. Nodes read
// from the store carry the category persisted with them.
func (n Node) WithCategory(c Category) Node {
	n.category = c
	return n
}

// DisplayName prefers Name and falls back to ID.
func (n *Node) DisplayName() string {
	if strings.TrimSpace(n.Name) != "" {
		return n.Name
	}
	return n.ID
}

// Clone returns a deep copy, including the fixed category.
func (n Node) Clone() Node {
	n.Attributes = n.Attributes.Clone()
	return n
}
