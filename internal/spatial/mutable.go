package spatial

import (
	"math"

	"github.com/tidwall/rtree"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

// entry is the tree-resident copy of a record's bounds. The side table maps
// each record to its entry so removal never re-derives bounds from a record
// whose coordinates may have changed since insertion.
type entry[R model.Record] struct {
	record R
	min    [2]float64
	max    [2]float64
}

func (e *entry[R]) point() geo.Point {
	return geo.Point{Lat: e.min[1], Lng: e.min[0]}
}

// Mutable is an R-tree backed index supporting incremental updates.
// minLng and maxLng span every longitude stored since the last reset. They
// only grow, so removal never has to rescan.
type Mutable[R model.Record] struct {
	tree           rtree.RTreeG[*entry[R]]
	entries        map[R]*entry[R]
	minLng, maxLng float64
}

var _ Index[*model.Item] = (*Mutable[*model.Item])(nil)

// NewMutable returns an empty mutable index.
func NewMutable[R model.Record]() *Mutable[R] {
	m := &Mutable[R]{}
	m.reset()
	return m
}

func (m *Mutable[R]) Kind() Kind { return KindMutable }

func (m *Mutable[R]) RadiusSorted() bool { return false }

func (m *Mutable[R]) Load(records []R) error {
	m.reset()
	return m.AddMany(records)
}

// Add inserts record. Adding a record that is already indexed refreshes its
// bounds instead of creating a second entry.
func (m *Mutable[R]) Add(record R) error {
	if old, ok := m.entries[record]; ok {
		m.tree.Delete(old.min, old.max, old)
	}
	p := record.Location()
	e := &entry[R]{
		record: record,
		min:    [2]float64{p.Lng, p.Lat},
		max:    [2]float64{p.Lng, p.Lat},
	}
	m.tree.Insert(e.min, e.max, e)
	m.entries[record] = e
	m.minLng = math.Min(m.minLng, p.Lng)
	m.maxLng = math.Max(m.maxLng, p.Lng)
	return nil
}

func (m *Mutable[R]) AddMany(records []R) error {
	for _, r := range records {
		if err := m.Add(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mutable[R]) Remove(record R) (bool, error) {
	e, ok := m.entries[record]
	if !ok {
		return false, nil
	}
	m.tree.Delete(e.min, e.max, e)
	delete(m.entries, record)
	return true, nil
}

func (m *Mutable[R]) Clear() error {
	m.reset()
	return nil
}

func (m *Mutable[R]) reset() {
	m.tree = rtree.RTreeG[*entry[R]]{}
	m.entries = make(map[R]*entry[R])
	m.minLng, m.maxLng = math.Inf(1), math.Inf(-1)
}

func (m *Mutable[R]) Size() int { return len(m.entries) }

func (m *Mutable[R]) All() []R {
	out := make([]R, 0, len(m.entries))
	m.tree.Scan(func(_, _ [2]float64, e *entry[R]) bool {
		out = append(out, e.record)
		return true
	})
	return out
}

func (m *Mutable[R]) SearchBounds(b geo.Bounds) []R {
	if !b.Valid() {
		return nil
	}
	var out []R
	m.search(b, func(e *entry[R]) {
		if b.Contains(e.point()) {
			out = append(out, e.record)
		}
	})
	return out
}

// SearchRadius selects candidates from an enclosing rectangle and keeps those
// whose great-circle distance is within radiusKm. The rectangle is an
// over-approximation. Longitudes are stored unnormalized, so every copy of
// the rectangle shifted by a multiple of 360 degrees that overlaps the stored
// longitudes is searched too.
func (m *Mutable[R]) SearchRadius(center geo.Point, radiusKm float64) []Neighbor[R] {
	if radiusKm < 0 || math.IsNaN(radiusKm) || len(m.entries) == 0 {
		return nil
	}
	rect := candidateBounds(center, radiusKm)
	lo := math.Ceil((m.minLng - rect.MaxLng) / 360)
	hi := math.Floor((m.maxLng - rect.MinLng) / 360)

	var out []Neighbor[R]
	keep := func(e *entry[R]) {
		d := geo.DistanceKm(center, e.point())
		if d <= radiusKm {
			out = append(out, Neighbor[R]{Record: e.record, DistanceKm: d})
		}
	}
	switch {
	case hi < lo:
		return nil
	case hi-lo >= maxShifts:
		// Stored longitudes span too many turns for per-turn searches.
		for _, e := range m.entries {
			keep(e)
		}
		return out
	case hi == lo:
		m.search(shiftLng(rect, lo*360), keep)
		return out
	}

	seen := make(map[*entry[R]]struct{})
	for k := lo; k <= hi; k++ {
		m.search(shiftLng(rect, k*360), func(e *entry[R]) {
			if _, dup := seen[e]; dup {
				return
			}
			seen[e] = struct{}{}
			keep(e)
		})
	}
	return out
}

// maxShifts bounds the number of 360 degree shifted rectangle searches before
// SearchRadius falls back to a full scan.
const maxShifts = 8

func (m *Mutable[R]) search(b geo.Bounds, fn func(e *entry[R])) {
	m.tree.Search(
		[2]float64{b.MinLng, b.MinLat},
		[2]float64{b.MaxLng, b.MaxLat},
		func(_, _ [2]float64, e *entry[R]) bool {
			fn(e)
			return true
		},
	)
}

// candidateBounds inflates geo.RadiusToBounds so the rectangle covers the
// whole circle: the radius gets a small slack and the longitude delta is
// taken at the poleward edge, where a degree of longitude is shortest.
func candidateBounds(center geo.Point, radiusKm float64) geo.Bounds {
	r := radiusKm * radiusSlack
	b := geo.RadiusToBounds(center, r)
	edge := math.Min(math.Max(math.Abs(b.MinLat), math.Abs(b.MaxLat)), 90)
	wide := geo.RadiusToBounds(geo.Point{Lat: edge, Lng: center.Lng}, r)
	b.MinLng, b.MaxLng = wide.MinLng, wide.MaxLng
	return b
}

func shiftLng(b geo.Bounds, delta float64) geo.Bounds {
	b.MinLng += delta
	b.MaxLng += delta
	return b
}
