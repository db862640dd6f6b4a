// Package proto defines the message types exchanged over the geoquery
// JSON-over-TCP RPC layer (see pkg/rpc).
//
// Field names match the HTTP API so a client can switch transports
// without remapping payloads.
package proto

// Method names registered by the geo server.
const (
	MethodNearby = "GeoService.Nearby"
	MethodWithin = "GeoService.Within"
	MethodStats  = "GeoService.Stats"
)

// ---------- Common ----------

// Item is a record as seen on the wire: a flat object holding id, lat, lng
// and every attribute.
type Item map[string]any

// Condition is one attribute filter, e.g. {"field":"rating","op":"greaterThan","value":4}.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Page controls limit/offset. A nil Limit means the server default.
type Page struct {
	Limit  *int `json:"limit,omitempty"`
	Offset int  `json:"offset,omitempty"`
}

// Hit is a single result. Distance is present only for radius queries.
type Hit struct {
	Item       Item     `json:"item"`
	DistanceKm *float64 `json:"distance,omitempty"`
}

// Metadata describes how a result set was produced.
type Metadata struct {
	Total     int     `json:"total"`
	Returned  int     `json:"returned"`
	ElapsedMs float64 `json:"elapsedMs"`
	FromCache bool    `json:"fromCache"`
}

// ---------- Queries ----------

// NearbyRequest is the input to GeoService.Nearby.
// Sort entries use the "field[:asc|desc]" form.
type NearbyRequest struct {
	Lat      float64     `json:"lat"`
	Lng      float64     `json:"lng"`
	RadiusKm float64     `json:"radiusKm"`
	Where    []Condition `json:"where,omitempty"`
	Sort     []string    `json:"sort,omitempty"`
	Page
}

// WithinRequest is the input to GeoService.Within.
type WithinRequest struct {
	MinLat float64     `json:"minLat"`
	MinLng float64     `json:"minLng"`
	MaxLat float64     `json:"maxLat"`
	MaxLng float64     `json:"maxLng"`
	Where  []Condition `json:"where,omitempty"`
	Sort   []string    `json:"sort,omitempty"`
	Page
}

// QueryResponse is the output of both query methods.
type QueryResponse struct {
	Hits     []Hit    `json:"hits"`
	Metadata Metadata `json:"metadata"`
}

// ---------- Stats ----------

// StatsRequest takes no parameters.
type StatsRequest struct{}

// StatsResponse reports index and cache state.
type StatsResponse struct {
	Records      int    `json:"records"`
	Index        string `json:"index"`
	CacheEnabled bool   `json:"cacheEnabled"`
	CacheEntries int    `json:"cacheEntries,omitempty"`
	CacheHits    int64  `json:"cacheHits,omitempty"`
	CacheMisses  int64  `json:"cacheMisses,omitempty"`
}
