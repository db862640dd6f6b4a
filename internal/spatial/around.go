package spatial

import (
	"container/heap"
	"math"

	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

const degToRad = math.Pi / 180

// box is a latitude/longitude rectangle bounding a k-d subtree.
type box struct {
	minLng, minLat, maxLng, maxLat float64
}

// aroundItem is either a single point (point >= 0) or a pending subtree. dist
// is a haversine term: exact for points, a lower bound for subtrees.
type aroundItem struct {
	dist        float64
	point       int
	left, right int
	axis        int
	bounds      box
}

type aroundQueue []aroundItem

func (q aroundQueue) Len() int { return len(q) }

func (q aroundQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].point > q[j].point
}

func (q aroundQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *aroundQueue) Push(x interface{}) {
	*q = append(*q, x.(aroundItem))
}

func (q *aroundQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// SearchRadius walks the tree best-first by great-circle lower bound, so
// points come out in ascending distance and the walk stops at the first item
// beyond the radius.
func (s *Static[R]) SearchRadius(center geo.Point, radiusKm float64) []Neighbor[R] {
	if len(s.ids) == 0 || radiusKm < 0 || math.IsNaN(radiusKm) {
		return nil
	}
	limit := 1.0
	if angle := radiusKm * radiusSlack / geo.EarthRadiusKm; angle < math.Pi {
		limit = haverSin(angle)
	}
	cosLat := math.Cos(center.Lat * degToRad)

	var out []Neighbor[R]
	q := &aroundQueue{}
	node := aroundItem{point: -1, left: 0, right: len(s.ids) - 1, bounds: s.extent}
	for {
		if node.right-node.left <= s.nodeSize {
			for i := node.left; i <= node.right; i++ {
				heap.Push(q, aroundItem{dist: s.haverSinDist(center, cosLat, i), point: i})
			}
		} else {
			m := (node.left + node.right) >> 1
			heap.Push(q, aroundItem{dist: s.haverSinDist(center, cosLat, m), point: m})
			mid := s.point(m)
			lower, upper := node.bounds, node.bounds
			if node.axis == 0 {
				lower.maxLng, upper.minLng = mid.Lng, mid.Lng
			} else {
				lower.maxLat, upper.minLat = mid.Lat, mid.Lat
			}
			next := 1 - node.axis
			if m-1 >= node.left {
				heap.Push(q, aroundItem{
					dist: boxDist(center, cosLat, lower), point: -1,
					left: node.left, right: m - 1, axis: next, bounds: lower,
				})
			}
			if m+1 <= node.right {
				heap.Push(q, aroundItem{
					dist: boxDist(center, cosLat, upper), point: -1,
					left: m + 1, right: node.right, axis: next, bounds: upper,
				})
			}
		}

		for q.Len() > 0 && (*q)[0].point >= 0 {
			c := heap.Pop(q).(aroundItem)
			if c.dist > limit {
				return out
			}
			d := geo.DistanceKm(center, s.point(c.point))
			if d <= radiusKm {
				out = append(out, Neighbor[R]{Record: s.records[s.ids[c.point]], DistanceKm: d})
			}
		}
		if q.Len() == 0 {
			return out
		}
		node = heap.Pop(q).(aroundItem)
		if node.dist > limit {
			return out
		}
	}
}

func (s *Static[R]) haverSinDist(center geo.Point, cosLat float64, i int) float64 {
	p := s.point(i)
	return haverSin((center.Lat-p.Lat)*degToRad) +
		cosLat*math.Cos(p.Lat*degToRad)*haverSin((center.Lng-p.Lng)*degToRad)
}

// boxDist is a lower bound of the haversine term between center and any
// point inside b.
func boxDist(center geo.Point, cosLat float64, b box) float64 {
	if lngInside(center.Lng, b.minLng, b.maxLng) {
		switch {
		case center.Lat < b.minLat:
			return haverSin((center.Lat - b.minLat) * degToRad)
		case center.Lat > b.maxLat:
			return haverSin((center.Lat - b.maxLat) * degToRad)
		default:
			return 0
		}
	}
	hsDLng := math.Min(
		haverSin((center.Lng-b.minLng)*degToRad),
		haverSin((center.Lng-b.maxLng)*degToRad),
	)
	extremum := vertexLat(center.Lat, hsDLng)
	if extremum > b.minLat && extremum < b.maxLat {
		return haverSinPartial(hsDLng, cosLat, center.Lat, extremum)
	}
	return math.Min(
		haverSinPartial(hsDLng, cosLat, center.Lat, b.minLat),
		haverSinPartial(hsDLng, cosLat, center.Lat, b.maxLat),
	)
}

// lngInside reports whether lng, taken modulo 360, falls within [min, max].
func lngInside(lng, min, max float64) bool {
	if max-min >= 360 {
		return true
	}
	d := math.Mod(lng-min, 360)
	if d < 0 {
		d += 360
	}
	return d <= max-min
}

func haverSin(theta float64) float64 {
	s := math.Sin(theta / 2)
	return s * s
}

func haverSinPartial(hsDLng, cosLat1, lat1, lat2 float64) float64 {
	return cosLat1*math.Cos(lat2*degToRad)*hsDLng + haverSin((lat1-lat2)*degToRad)
}

// vertexLat is the latitude where the great circle through the query point
// comes closest to a meridian hsDLng away.
func vertexLat(lat, hsDLng float64) float64 {
	cosDLng := 1 - 2*hsDLng
	if cosDLng <= 0 {
		if lat > 0 {
			return 90
		}
		return -90
	}
	return math.Atan(math.Tan(lat*degToRad)/cosDLng) / degToRad
}
