package analytics

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventQuery    EventType = "query"
	EventMutation EventType = "mutation"
)

// Event is the envelope published to the query events topic. Exactly one of
// Query and Mutation is set, matching Type.
type Event struct {
	Type     EventType      `json:"type"`
	Query    *QueryEvent    `json:"query,omitempty"`
	Mutation *MutationEvent `json:"mutation,omitempty"`
}

// QueryEvent describes one answered query.
type QueryEvent struct {
	Mode      string    `json:"mode"`
	Shape     string    `json:"shape"`
	Total     int       `json:"total"`
	Returned  int       `json:"returned"`
	LatencyUs int64     `json:"latency_us"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// MutationEvent describes one applied change to the record set.
type MutationEvent struct {
	Op        string    `json:"op"`
	Count     int       `json:"count"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// ShapeOf summarizes a query by its structure rather than its values, so
// "nearby cafes rated above 4" aggregates across different centers:
// mode, then field:operator per condition, then sort keys.
func ShapeOf(mode string, conditions [][2]string, sorts []string) string {
	var b strings.Builder
	b.WriteString(mode)
	for _, c := range conditions {
		fmt.Fprintf(&b, "|%s:%s", c[0], c[1])
	}
	if len(sorts) > 0 {
		b.WriteString("|sort=")
		b.WriteString(strings.Join(sorts, ","))
	}
	return b.String()
}
