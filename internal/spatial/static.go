package spatial

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

// DefaultNodeSize is the number of points kept unsorted in a k-d leaf.
const DefaultNodeSize = 64

// Static is a flat k-d tree over record coordinates. ids and coords are
// permuted together during the build; coords holds interleaved lng/lat pairs.
// After Load the structure is read-only, so concurrent queries are safe.
type Static[R model.Record] struct {
	records  []R
	ids      []int32
	coords   []float64
	nodeSize int
	extent   box
}

var _ Index[*model.Item] = (*Static[*model.Item])(nil)

// NewStatic builds a static index over records.
func NewStatic[R model.Record](records []R) *Static[R] {
	s := &Static[R]{nodeSize: DefaultNodeSize}
	_ = s.Load(records)
	return s
}

func (s *Static[R]) Kind() Kind { return KindStatic }

func (s *Static[R]) RadiusSorted() bool { return true }

// Load rebuilds the tree from scratch in a single bulk pass.
func (s *Static[R]) Load(records []R) error {
	n := len(records)
	s.records = make([]R, n)
	copy(s.records, records)
	s.ids = make([]int32, n)
	s.coords = make([]float64, 2*n)
	s.extent = box{
		minLng: math.Inf(1), minLat: math.Inf(1),
		maxLng: math.Inf(-1), maxLat: math.Inf(-1),
	}
	for i, r := range records {
		p := r.Location()
		s.ids[i] = int32(i)
		s.coords[2*i] = p.Lng
		s.coords[2*i+1] = p.Lat
		s.extent.minLng = math.Min(s.extent.minLng, p.Lng)
		s.extent.maxLng = math.Max(s.extent.maxLng, p.Lng)
		s.extent.minLat = math.Min(s.extent.minLat, p.Lat)
		s.extent.maxLat = math.Max(s.extent.maxLat, p.Lat)
	}
	if n > 0 {
		s.sortKD(0, n-1, 0)
	}
	return nil
}

func (s *Static[R]) Add(R) error { return apperrors.Unsupported("add") }

func (s *Static[R]) AddMany([]R) error { return apperrors.Unsupported("addMany") }

func (s *Static[R]) Remove(R) (bool, error) { return false, apperrors.Unsupported("remove") }

func (s *Static[R]) Clear() error { return apperrors.Unsupported("clear") }

func (s *Static[R]) Size() int { return len(s.records) }

// All returns the records in their original load order.
func (s *Static[R]) All() []R {
	out := make([]R, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Static[R]) SearchBounds(b geo.Bounds) []R {
	if len(s.ids) == 0 || !b.Valid() {
		return nil
	}
	type span struct{ left, right, axis int }
	var out []R
	stack := []span{{0, len(s.ids) - 1, 0}}
	for len(stack) > 0 {
		sp := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if sp.right-sp.left <= s.nodeSize {
			for i := sp.left; i <= sp.right; i++ {
				if b.Contains(s.point(i)) {
					out = append(out, s.records[s.ids[i]])
				}
			}
			continue
		}

		m := (sp.left + sp.right) >> 1
		p := s.point(m)
		if b.Contains(p) {
			out = append(out, s.records[s.ids[m]])
		}
		lo, hi, v := b.MinLng, b.MaxLng, p.Lng
		if sp.axis == 1 {
			lo, hi, v = b.MinLat, b.MaxLat, p.Lat
		}
		if lo <= v {
			stack = append(stack, span{sp.left, m - 1, 1 - sp.axis})
		}
		if hi >= v {
			stack = append(stack, span{m + 1, sp.right, 1 - sp.axis})
		}
	}
	return out
}

func (s *Static[R]) point(i int) geo.Point {
	return geo.Point{Lat: s.coords[2*i+1], Lng: s.coords[2*i]}
}

// sortKD arranges ids/coords so that every median splits its span on the
// alternating axis (0 = lng, 1 = lat).
func (s *Static[R]) sortKD(left, right, axis int) {
	if right-left <= s.nodeSize {
		return
	}
	m := (left + right) >> 1
	s.selectNth(m, left, right, axis)
	s.sortKD(left, m-1, 1-axis)
	s.sortKD(m+1, right, 1-axis)
}

// selectNth partially sorts [left, right] so that position k holds the value
// it would have in a full sort on axis. Equal keys are split evenly between
// both sides.
func (s *Static[R]) selectNth(k, left, right, axis int) {
	c := s.coords
	for right > left {
		t := c[2*k+axis]
		i, j := left, right
		s.swap(left, k)
		if c[2*right+axis] > t {
			s.swap(left, right)
		}
		for i < j {
			s.swap(i, j)
			i++
			j--
			for c[2*i+axis] < t {
				i++
			}
			for c[2*j+axis] > t {
				j--
			}
		}
		if c[2*left+axis] == t {
			s.swap(left, j)
		} else {
			j++
			s.swap(j, right)
		}
		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func (s *Static[R]) swap(i, j int) {
	s.ids[i], s.ids[j] = s.ids[j], s.ids[i]
	s.coords[2*i], s.coords[2*j] = s.coords[2*j], s.coords[2*i]
	s.coords[2*i+1], s.coords[2*j+1] = s.coords[2*j+1], s.coords[2*i+1]
}
