package model

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

// Item is a map-backed record. Items are handled by pointer so that the
// index tracks them by identity.
type Item struct {
	ID    string
	Lat   float64
	Lng   float64
	Attrs map[string]any
}

// NewItem builds an Item, assigning a random ID when id is empty.
func NewItem(id string, lat, lng float64, attrs map[string]any) *Item {
	if id == "" {
		id = uuid.NewString()
	}
	if attrs == nil {
		attrs = make(map[string]any)
	}
	return &Item{ID: id, Lat: lat, Lng: lng, Attrs: attrs}
}

// Location implements Record.
func (it *Item) Location() geo.Point {
	return geo.Point{Lat: it.Lat, Lng: it.Lng}
}

// Field implements Record. The built-in keys id, lat and lng resolve to the
// item's own fields; everything else is read from Attrs.
func (it *Item) Field(name string) (any, bool) {
	switch name {
	case "id":
		return it.ID, true
	case "lat":
		return it.Lat, true
	case "lng":
		return it.Lng, true
	}
	v, ok := it.Attrs[name]
	return v, ok
}

// MarshalJSON flattens the item into a single object.
func (it *Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(it.Attrs)+3)
	for k, v := range it.Attrs {
		out[k] = v
	}
	out["id"] = it.ID
	out["lat"] = it.Lat
	out["lng"] = it.Lng
	return json.Marshal(out)
}

// UnmarshalJSON accepts a flat object with id, lat and lng (or lon) keys;
// all other keys become attributes.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding item: %w", err)
	}
	lat, ok := raw["lat"].(float64)
	if !ok {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "item lat must be a number")
	}
	lngRaw, ok := raw["lng"]
	if !ok {
		lngRaw = raw["lon"]
	}
	lng, ok := lngRaw.(float64)
	if !ok {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "item lng must be a number")
	}
	id, _ := raw["id"].(string)
	delete(raw, "id")
	delete(raw, "lat")
	delete(raw, "lng")
	delete(raw, "lon")
	*it = *NewItem(id, lat, lng, raw)
	return nil
}

// Validate checks the coordinate invariants of an item.
func Validate(it *Item) error {
	if it == nil {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "item is required")
	}
	if !geo.ValidLatitude(it.Lat) {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "item %s: latitude %v out of range [-90, 90]", it.ID, it.Lat)
	}
	if math.IsNaN(it.Lng) || math.IsInf(it.Lng, 0) {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "item %s: longitude must be finite", it.ID)
	}
	return nil
}
