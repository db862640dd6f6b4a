// Package model defines the record contract the engine is generic over and
// the stock Item type the service stores.
package model

import (
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

// Record is anything with a location and named attributes. Records must be
// comparable: the mutable index keys its removal table on record identity,
// so pointer types give identity semantics and value types give value
// semantics.
type Record interface {
	comparable
	Location() geo.Point
	Field(name string) (any, bool)
}
