package geoapi

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/query"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/proto"
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets HTTPStatusCode map validation failures to 400.
func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

type validator struct {
	fields map[string]string
}

func (v *validator) fail(field, format string, args ...any) {
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, ok := v.fields[field]; !ok {
		v.fields[field] = fmt.Sprintf(format, args...)
	}
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// Request is a transport-neutral query description.
type Request struct {
	Mode       query.Mode
	Center     geo.Point
	RadiusKm   float64
	Bounds     geo.Bounds
	Conditions []filter.Condition
	Sort       []query.SortCriterion
	Limit      int
	Offset     int
}

// Build applies r to a fresh query chain.
func (r Request) Build(q query.Query[*model.Item]) query.Query[*model.Item] {
	switch r.Mode {
	case query.ModeRadius:
		q = q.Near(r.Center, r.RadiusKm)
	case query.ModeBounds:
		q = q.WithinBounds(r.Bounds)
	}
	for _, c := range r.Conditions {
		q = q.Where(c.Field, c.Op, c.Value)
	}
	if len(r.Sort) > 0 {
		q = q.SortBy(r.Sort...)
	}
	return q.Limit(r.Limit).Offset(r.Offset)
}

// Shape is the analytics grouping key for r.
func (r Request) Shape() string {
	conds := make([][2]string, len(r.Conditions))
	for i, c := range r.Conditions {
		conds[i] = [2]string{c.Field, string(c.Op)}
	}
	sorts := make([]string, len(r.Sort))
	for i, s := range r.Sort {
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		sorts[i] = s.Field + ":" + dir
	}
	return analytics.ShapeOf(string(r.Mode), conds, sorts)
}

// ParseValues reads a request of the given mode from URL query parameters.
func ParseValues(mode query.Mode, v url.Values, limits config.SearchConfig) (Request, error) {
	var val validator
	req := Request{Mode: mode}

	switch mode {
	case query.ModeRadius:
		req.Center.Lat = floatParam(&val, v, "lat", true)
		req.Center.Lng = floatParam(&val, v, "lng", true)
		req.RadiusKm = floatParam(&val, v, "radius", true)
	case query.ModeBounds:
		req.Bounds = geo.Bounds{
			MinLat: floatParam(&val, v, "minLat", true),
			MinLng: floatParam(&val, v, "minLng", true),
			MaxLat: floatParam(&val, v, "maxLat", true),
			MaxLng: floatParam(&val, v, "maxLng", true),
		}
	}

	for i, raw := range v["where"] {
		c, err := parseWhere(raw)
		if err != nil {
			val.fail(fmt.Sprintf("where[%d]", i), "%v", err)
			continue
		}
		req.Conditions = append(req.Conditions, c)
	}
	for i, raw := range v["sort"] {
		s, err := query.ParseSort(raw)
		if err != nil {
			val.fail(fmt.Sprintf("sort[%d]", i), "%v", err)
			continue
		}
		req.Sort = append(req.Sort, s)
	}

	var limit *int
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			val.fail("limit", "must be an integer")
		}
		limit = &n
	}
	if s := v.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			val.fail("offset", "must be an integer")
		}
		req.Offset = n
	}
	req.Limit = resolveLimit(&val, limit, limits)

	validate(&val, &req, limits)
	return req, val.err()
}

// FromNearby converts an RPC radius request.
func FromNearby(in proto.NearbyRequest, limits config.SearchConfig) (Request, error) {
	var val validator
	req := Request{
		Mode:     query.ModeRadius,
		Center:   geo.Point{Lat: in.Lat, Lng: in.Lng},
		RadiusKm: in.RadiusKm,
		Offset:   in.Offset,
	}
	req.Conditions, req.Sort = convertClauses(&val, in.Where, in.Sort)
	req.Limit = resolveLimit(&val, in.Limit, limits)
	validate(&val, &req, limits)
	return req, val.err()
}

// FromWithin converts an RPC bounds request.
func FromWithin(in proto.WithinRequest, limits config.SearchConfig) (Request, error) {
	var val validator
	req := Request{
		Mode:   query.ModeBounds,
		Bounds: geo.Bounds{MinLat: in.MinLat, MinLng: in.MinLng, MaxLat: in.MaxLat, MaxLng: in.MaxLng},
		Offset: in.Offset,
	}
	req.Conditions, req.Sort = convertClauses(&val, in.Where, in.Sort)
	req.Limit = resolveLimit(&val, in.Limit, limits)
	validate(&val, &req, limits)
	return req, val.err()
}

func convertClauses(val *validator, where []proto.Condition, sorts []string) ([]filter.Condition, []query.SortCriterion) {
	var conds []filter.Condition
	for i, w := range where {
		op, err := filter.ParseOperator(w.Op)
		if err != nil {
			val.fail(fmt.Sprintf("where[%d]", i), "%v", err)
			continue
		}
		c := filter.Condition{Field: w.Field, Op: op, Value: w.Value}
		if err := checkCondition(c); err != nil {
			val.fail(fmt.Sprintf("where[%d]", i), "%v", err)
			continue
		}
		conds = append(conds, c)
	}
	var crit []query.SortCriterion
	for i, raw := range sorts {
		s, err := query.ParseSort(raw)
		if err != nil {
			val.fail(fmt.Sprintf("sort[%d]", i), "%v", err)
			continue
		}
		crit = append(crit, s)
	}
	return conds, crit
}

// resolveLimit applies the default and the cap. Zero is allowed and yields
// an empty page with a full total.
func resolveLimit(val *validator, limit *int, limits config.SearchConfig) int {
	if limit == nil {
		return limits.DefaultLimit
	}
	n := *limit
	if n < 0 {
		val.fail("limit", "must not be negative")
		return 0
	}
	if limits.MaxLimit > 0 && n > limits.MaxLimit {
		n = limits.MaxLimit
	}
	return n
}

func validate(val *validator, req *Request, limits config.SearchConfig) {
	if req.Offset < 0 {
		val.fail("offset", "must not be negative")
	}
	switch req.Mode {
	case query.ModeRadius:
		if !geo.ValidLatitude(req.Center.Lat) {
			val.fail("lat", "must be within [-90, 90]")
		}
		if !finite(req.Center.Lng) {
			val.fail("lng", "must be finite")
		}
		switch {
		case !finite(req.RadiusKm) || req.RadiusKm < 0:
			val.fail("radius", "must be a non-negative number of kilometres")
		case limits.MaxRadiusKm > 0 && req.RadiusKm > limits.MaxRadiusKm:
			val.fail("radius", "must be at most %g km", limits.MaxRadiusKm)
		}
	case query.ModeBounds:
		b := req.Bounds
		if !geo.ValidLatitude(b.MinLat) || !geo.ValidLatitude(b.MaxLat) {
			val.fail("bounds", "latitudes must be within [-90, 90]")
		}
		if !finite(b.MinLng) || !finite(b.MaxLng) {
			val.fail("bounds", "longitudes must be finite")
		}
		if !b.Valid() {
			val.fail("bounds", "min corner must not exceed max corner")
		}
	}
}

func floatParam(val *validator, v url.Values, name string, required bool) float64 {
	s := v.Get(name)
	if s == "" {
		if required {
			val.fail(name, "is required")
		}
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		val.fail(name, "must be a number")
		return 0
	}
	return f
}

// parseWhere reads "field:operator:value". The value is decoded as JSON
// when it parses, otherwise taken as a literal string.
func parseWhere(raw string) (filter.Condition, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return filter.Condition{}, fmt.Errorf("expected field:operator:value, got %q", raw)
	}
	op, err := filter.ParseOperator(parts[1])
	if err != nil {
		return filter.Condition{}, err
	}
	var value any
	if err := json.Unmarshal([]byte(parts[2]), &value); err != nil {
		value = parts[2]
	}
	c := filter.Condition{Field: parts[0], Op: op, Value: value}
	return c, checkCondition(c)
}

func checkCondition(c filter.Condition) error {
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	if !c.Op.TakesSet() {
		return nil
	}
	set, ok := c.Value.([]any)
	if !ok {
		return fmt.Errorf("%s takes a JSON array", c.Op)
	}
	if c.Op == filter.Between {
		if len(set) != 2 {
			return fmt.Errorf("between takes exactly two bounds")
		}
		for _, b := range set {
			if _, ok := b.(float64); !ok {
				return fmt.Errorf("between bounds must be numbers")
			}
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
