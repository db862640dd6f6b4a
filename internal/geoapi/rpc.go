package geoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/rpc"
)

// RegisterRPC exposes the query and stats methods on s.
func RegisterRPC(s *rpc.Server, store *Store, limits config.SearchConfig, tracker analytics.Tracker) {
	s.Register(proto.MethodNearby, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in proto.NearbyRequest
		if err := decodeParams(raw, &in); err != nil {
			return nil, err
		}
		req, err := FromNearby(in, limits)
		if err != nil {
			return nil, err
		}
		return runRPCQuery(ctx, store, req, tracker)
	})
	s.Register(proto.MethodWithin, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in proto.WithinRequest
		if err := decodeParams(raw, &in); err != nil {
			return nil, err
		}
		req, err := FromWithin(in, limits)
		if err != nil {
			return nil, err
		}
		return runRPCQuery(ctx, store, req, tracker)
	})
	s.Register(proto.MethodStats, func(context.Context, json.RawMessage) (any, error) {
		return store.Stats(), nil
	})
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "decoding params: %v", err)
	}
	return nil
}

func runRPCQuery(ctx context.Context, store *Store, req Request, tracker analytics.Tracker) (proto.QueryResponse, error) {
	start := time.Now()
	result, err := store.Query(ctx, req)
	if err != nil {
		return proto.QueryResponse{}, err
	}
	resp := toResponse(result)
	trackQuery(tracker, req, resp, time.Since(start), "")
	return resp, nil
}
