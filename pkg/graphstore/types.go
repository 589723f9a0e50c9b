package graphstore

import (
	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/engine/graph"
)

type (
	Node           = graph.Node
	Edge           = graph.Edge
	EdgeKey        = graph.EdgeKey
	Attributes     = graph.Attributes
	Value          = graph.Value
	Category       = graph.Category
	Degree         = graph.Degree
	NodeMetrics    = graph.NodeMetrics
	SearchResult   = graph.SearchResult
	Direction      = graph.Direction
	Filter         = graph.Filter
	Projection     = graph.Projection
	ProjectionSink = graph.Sink
)

const (
	Outgoing = graph.Outgoing
	Incoming = graph.Incoming
	Both     = graph.Both

	CategoryCompute  = graph.CategoryCompute
	CategoryStorage  = graph.CategoryStorage
	CategoryNetwork  = graph.CategoryNetwork
	CategorySecurity = graph.CategorySecurity
	CategoryDatabase = graph.CategoryDatabase
	CategoryOther    = graph.CategoryOther
)

var (
	NullValue     = graph.NullValue
	StringValue   = graph.StringValue
	NumberValue   = graph.NumberValue
	BoolValue     = graph.BoolValue
	MapValue      = graph.MapValue
	ListValue     = graph.ListValue
	NewProjection = graph.NewProjection
	ClassifyType  = graph.ClassifyType

	ParseDirection = graph.ParseDirection
)

// IsLockTimeout reports a writer lock acquisition that timed out.
func IsLockTimeout(err error) bool { return gerrors.IsCode(err, gerrors.CodeLockTimeout) }

// IsIntegrity reports a single insert that referenced a missing node.
func IsIntegrity(err error) bool { return gerrors.IsCode(err, gerrors.CodeIntegrity) }

func IsNotFound(err error) bool { return gerrors.IsCode(err, gerrors.CodeNotFound) }

// IsConfiguration reports misuse, such as an ephemeral snapshot without a
// target path.
func IsConfiguration(err error) bool { return gerrors.IsCode(err, gerrors.CodeConfiguration) }

func IsClosed(err error) bool { return gerrors.IsCode(err, gerrors.CodeClosed) }

func IsValidation(err error) bool { return gerrors.IsCode(err, gerrors.CodeValidationError) }
