package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

var (
	categories = []string{"cafe", "bar", "restaurant", "park", "museum", "gym"}
	tagPool    = []string{"wifi", "patio", "parking", "accessible", "late", "vegan"}
)

// Workload generates randomized traffic around Center. Points and query
// centers fall within SpreadKm of it.
type Workload struct {
	Center      geo.Point
	SpreadKm    float64
	MaxRadiusKm float64
	FilterRate  float64
}

// jitter returns a point uniformly distributed over the spread square.
func (w Workload) jitter(rng *rand.Rand) geo.Point {
	dLat := (rng.Float64()*2 - 1) * w.SpreadKm / geo.KmPerDegreeLat
	kmPerLng := geo.KmPerDegreeLat * math.Cos(w.Center.Lat*math.Pi/180)
	dLng := 0.0
	if kmPerLng > 1e-9 {
		dLng = (rng.Float64()*2 - 1) * w.SpreadKm / kmPerLng
	}
	lat := math.Max(-90, math.Min(90, w.Center.Lat+dLat))
	return geo.Point{Lat: lat, Lng: w.Center.Lng + dLng}
}

// NearbyQuery returns the query string for one randomized radius search.
func (w Workload) NearbyQuery(rng *rand.Rand) string {
	p := w.jitter(rng)
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(p.Lat, 'f', 5, 64))
	v.Set("lng", strconv.FormatFloat(p.Lng, 'f', 5, 64))
	v.Set("radius", strconv.FormatFloat(0.5+rng.Float64()*(w.MaxRadiusKm-0.5), 'f', 1, 64))
	v.Set("sort", "distance")
	v.Set("limit", "20")
	if rng.Float64() < w.FilterRate {
		switch rng.IntN(3) {
		case 0:
			v.Add("where", "category:equals:"+categories[rng.IntN(len(categories))])
		case 1:
			v.Add("where", fmt.Sprintf("rating:greaterThanOrEqual:%.1f", 3+rng.Float64()*2))
		default:
			v.Add("where", fmt.Sprintf(`tags:includesAny:["%s"]`, tagPool[rng.IntN(len(tagPool))]))
		}
	}
	return v.Encode()
}

// RandomItem builds a record with the attribute mix the queries filter on.
func (w Workload) RandomItem(rng *rand.Rand, id string) *model.Item {
	p := w.jitter(rng)
	tags := make([]any, 0, 2)
	for _, t := range tagPool {
		if rng.Float64() < 0.3 {
			tags = append(tags, t)
		}
	}
	return model.NewItem(id, p.Lat, p.Lng, map[string]any{
		"category": categories[rng.IntN(len(categories))],
		"rating":   math.Round((1+rng.Float64()*4)*10) / 10,
		"tags":     tags,
	})
}
