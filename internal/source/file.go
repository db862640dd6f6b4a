package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
)

// File reads records from a JSON file. Two layouts are accepted: a flat
// array of {id, lat, lng, ...attrs} objects, or a GeoJSON FeatureCollection
// of Point features whose properties become attributes.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Name() string { return "file:" + f.path }

func (f *File) Load(ctx context.Context) ([]*model.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	return Decode(data)
}

type featureCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

type feature struct {
	ID       any            `json:"id"`
	Geometry *geometry      `json:"geometry"`
	Props    map[string]any `json:"properties"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Decode parses either accepted layout. Entries that cannot be decoded are
// returned as nil so that sanitize counts them as skipped.
func Decode(data []byte) ([]*model.Item, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "decoding record array: %v", err)
		}
		items := make([]*model.Item, len(raw))
		for i, r := range raw {
			var it model.Item
			if err := json.Unmarshal(r, &it); err == nil {
				items[i] = &it
			}
		}
		return items, nil
	}

	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "decoding feature collection: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unsupported document type %q", fc.Type)
	}
	items := make([]*model.Item, len(fc.Features))
	for i, r := range fc.Features {
		items[i] = decodeFeature(r)
	}
	return items, nil
}

func decodeFeature(raw json.RawMessage) *model.Item {
	var f feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	if f.Geometry == nil || f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
		return nil
	}
	attrs := f.Props
	id := ""
	switch v := f.ID.(type) {
	case string:
		id = v
	case float64:
		id = fmt.Sprintf("%v", v)
	}
	if id == "" {
		if v, ok := attrs["id"].(string); ok {
			id = v
		}
	}
	delete(attrs, "id")
	// GeoJSON positions are [lng, lat].
	return model.NewItem(id, f.Geometry.Coordinates[1], f.Geometry.Coordinates[0], attrs)
}
