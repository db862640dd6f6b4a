// Package spatial holds the two interchangeable record indexes behind one
// contract: a Mutable R-tree that supports insert and delete, and a Static
// flat k-d tree that is bulk-built once and answers radius queries with a
// distance-ordered traversal.
package spatial

import (
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

// Kind tags the backing structure of an Index.
type Kind int

const (
	KindMutable Kind = iota
	KindStatic
)

func (k Kind) String() string {
	switch k {
	case KindMutable:
		return "mutable"
	case KindStatic:
		return "static"
	default:
		return "unknown"
	}
}

// Neighbor is a record returned by a radius search with its great-circle
// distance to the query center.
type Neighbor[R model.Record] struct {
	Record     R
	DistanceKm float64
}

// Index is the contract shared by both backings. Mutating calls on the
// static backing return an error wrapping errors.ErrUnsupportedOperation.
type Index[R model.Record] interface {
	Kind() Kind
	// Load replaces the whole contents of the index.
	Load(records []R) error
	Add(record R) error
	AddMany(records []R) error
	// Remove reports whether the record was present.
	Remove(record R) (bool, error)
	Clear() error
	Size() int
	All() []R
	SearchBounds(b geo.Bounds) []R
	SearchRadius(center geo.Point, radiusKm float64) []Neighbor[R]
	// RadiusSorted reports whether SearchRadius output is ordered by
	// ascending distance.
	RadiusSorted() bool
}

// radiusSlack widens candidate selection slightly past the requested radius;
// exact distances decide membership afterwards.
const radiusSlack = 1.01
