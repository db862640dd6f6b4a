package geoapi

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/query"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/proto"
)

var testLimits = config.SearchConfig{DefaultLimit: 50, MaxLimit: 100, MaxRadiusKm: 500}

func TestParseValuesNearby(t *testing.T) {
	v := url.Values{
		"lat":    {"51.0447"},
		"lng":    {"-114.0719"},
		"radius": {"5"},
		"where":  {"rating:greaterThan:4", "kind:in:[\"cafe\",\"bar\"]", "name:startsWith:Blue:Door"},
		"sort":   {"distance", "rating:desc"},
		"offset": {"2"},
	}
	req, err := ParseValues(query.ModeRadius, v, testLimits)
	require.NoError(t, err)

	assert.Equal(t, query.ModeRadius, req.Mode)
	assert.Equal(t, 51.0447, req.Center.Lat)
	assert.Equal(t, 5.0, req.RadiusKm)
	assert.Equal(t, 50, req.Limit)
	assert.Equal(t, 2, req.Offset)

	require.Len(t, req.Conditions, 3)
	assert.Equal(t, filter.Condition{Field: "rating", Op: filter.GreaterThan, Value: 4.0}, req.Conditions[0])
	assert.Equal(t, []any{"cafe", "bar"}, req.Conditions[1].Value)
	assert.Equal(t, "Blue:Door", req.Conditions[2].Value, "values may contain colons")

	assert.Equal(t, []query.SortCriterion{query.Asc("distance"), query.Desc("rating")}, req.Sort)
	assert.Equal(t, "radius|rating:greaterThan|kind:in|name:startsWith|sort=distance:asc,rating:desc", req.Shape())
}

func TestParseValuesBounds(t *testing.T) {
	v := url.Values{"minLat": {"51"}, "minLng": {"-115"}, "maxLat": {"52"}, "maxLng": {"-114"}}
	req, err := ParseValues(query.ModeBounds, v, testLimits)
	require.NoError(t, err)
	assert.Equal(t, 51.0, req.Bounds.MinLat)
	assert.Equal(t, -114.0, req.Bounds.MaxLng)
}

func TestParseValuesLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 50},
		{"10", 10},
		{"0", 0},
		{"5000", 100},
	}
	for _, tt := range tests {
		v := url.Values{}
		if tt.raw != "" {
			v.Set("limit", tt.raw)
		}
		req, err := ParseValues(query.ModeAll, v, testLimits)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, req.Limit, tt.raw)
	}
}

func TestParseValuesValidation(t *testing.T) {
	tests := []struct {
		name  string
		mode  query.Mode
		v     url.Values
		field string
	}{
		{"missing lat", query.ModeRadius, url.Values{"lng": {"1"}, "radius": {"1"}}, "lat"},
		{"lat out of range", query.ModeRadius, url.Values{"lat": {"91"}, "lng": {"1"}, "radius": {"1"}}, "lat"},
		{"bad lng", query.ModeRadius, url.Values{"lat": {"1"}, "lng": {"east"}, "radius": {"1"}}, "lng"},
		{"negative radius", query.ModeRadius, url.Values{"lat": {"1"}, "lng": {"1"}, "radius": {"-1"}}, "radius"},
		{"radius over max", query.ModeRadius, url.Values{"lat": {"1"}, "lng": {"1"}, "radius": {"501"}}, "radius"},
		{"inverted bounds", query.ModeBounds, url.Values{"minLat": {"2"}, "minLng": {"0"}, "maxLat": {"1"}, "maxLng": {"1"}}, "bounds"},
		{"unknown operator", query.ModeAll, url.Values{"where": {"rating:approx:4"}}, "where[0]"},
		{"malformed where", query.ModeAll, url.Values{"where": {"rating"}}, "where[0]"},
		{"in needs array", query.ModeAll, url.Values{"where": {"kind:in:cafe"}}, "where[0]"},
		{"between needs two numbers", query.ModeAll, url.Values{"where": {"rating:between:[1]"}}, "where[0]"},
		{"bad sort", query.ModeAll, url.Values{"sort": {"rating:sideways"}}, "sort[0]"},
		{"negative limit", query.ModeAll, url.Values{"limit": {"-1"}}, "limit"},
		{"negative offset", query.ModeAll, url.Values{"offset": {"-3"}}, "offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseValues(tt.mode, tt.v, testLimits)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Fields, tt.field)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestFromNearby(t *testing.T) {
	limit := 3
	req, err := FromNearby(proto.NearbyRequest{
		Lat: 51.0447, Lng: -114.0719, RadiusKm: 5,
		Where: []proto.Condition{{Field: "rating", Op: "between", Value: []any{4.0, 5.0}}},
		Sort:  []string{"distance:asc"},
		Page:  proto.Page{Limit: &limit},
	}, testLimits)
	require.NoError(t, err)
	assert.Equal(t, 3, req.Limit)
	assert.Equal(t, filter.Between, req.Conditions[0].Op)

	_, err = FromNearby(proto.NearbyRequest{Lat: 100, RadiusKm: 1}, testLimits)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = FromWithin(proto.WithinRequest{MinLat: 1, MaxLat: 0}, testLimits)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"lng": "bad", "lat": "bad"}}
	assert.Equal(t, "lat: bad; lng: bad", err.Error())
}
