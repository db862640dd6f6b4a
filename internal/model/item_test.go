package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
)

func TestItemJSONRoundTrip(t *testing.T) {
	var it Item
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","lat":51.04,"lon":-114.07,"rating":4.5,"tags":["x"]}`), &it))
	assert.Equal(t, "a", it.ID)
	assert.Equal(t, 51.04, it.Lat)
	assert.Equal(t, -114.07, it.Lng)
	assert.Equal(t, 4.5, it.Attrs["rating"])
	_, hasLon := it.Attrs["lon"]
	assert.False(t, hasLon)

	out, err := json.Marshal(&it)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","lat":51.04,"lng":-114.07,"rating":4.5,"tags":["x"]}`, string(out))
}

func TestItemUnmarshalRejectsMissingCoordinates(t *testing.T) {
	var it Item
	err := json.Unmarshal([]byte(`{"id":"a","lng":1}`), &it)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestNewItemAssignsID(t *testing.T) {
	it := NewItem("", 1, 2, nil)
	assert.NotEmpty(t, it.ID)
	assert.NotNil(t, it.Attrs)
}

func TestItemField(t *testing.T) {
	it := NewItem("x", 1, 2, map[string]any{"name": "cafe"})
	v, ok := it.Field("name")
	assert.True(t, ok)
	assert.Equal(t, "cafe", v)
	v, ok = it.Field("lat")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
	_, ok = it.Field("missing")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		item    *Item
		wantErr bool
	}{
		{"valid", NewItem("a", 45, 200, nil), false},
		{"nil", nil, true},
		{"lat too high", NewItem("a", 90.5, 0, nil), true},
		{"lat nan", NewItem("a", math.NaN(), 0, nil), true},
		{"lng inf", NewItem("a", 0, math.Inf(1), nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.item)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
