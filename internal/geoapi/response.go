package geoapi

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/query"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/proto"
)

// toResponse renders a result in the shape shared by HTTP and RPC.
func toResponse(r query.Result[*model.Item]) proto.QueryResponse {
	hits := make([]proto.Hit, len(r.Hits))
	for i, h := range r.Hits {
		hits[i] = proto.Hit{Item: toItem(h.Record)}
		if h.HasDistance {
			d := h.Distance
			hits[i].DistanceKm = &d
		}
	}
	return proto.QueryResponse{
		Hits: hits,
		Metadata: proto.Metadata{
			Total:     r.Metadata.Total,
			Returned:  r.Metadata.Returned,
			ElapsedMs: float64(r.Metadata.Elapsed) / float64(time.Millisecond),
			FromCache: r.Metadata.FromCache,
		},
	}
}

func toItem(it *model.Item) proto.Item {
	out := make(proto.Item, len(it.Attrs)+3)
	for k, v := range it.Attrs {
		out[k] = v
	}
	out["id"] = it.ID
	out["lat"] = it.Lat
	out["lng"] = it.Lng
	return out
}
