package geoapi

import (
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/rpc"
)

func TestRPCMethods(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())
	srv := rpc.NewServer()
	RegisterRPC(srv, f.store, testLimits, f.tracker)
	assert.Equal(t, 3, srv.MethodCount())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.ServeListener(ln) }()
	t.Cleanup(srv.Stop)

	c, err := rpc.Dial(ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var resp proto.QueryResponse
	require.NoError(t, c.Call(proto.MethodNearby, proto.NearbyRequest{
		Lat: 51.0447, Lng: -114.0719, RadiusKm: 5,
		Where: []proto.Condition{{Field: "kind", Op: "equals", Value: "bar"}},
		Sort:  []string{"distance"},
	}, &resp))
	assert.Equal(t, []string{"b", "d"}, ids(resp))
	require.NotNil(t, resp.Hits[0].DistanceKm)
	assert.InDelta(t, 1.07, *resp.Hits[0].DistanceKm, 0.05)

	require.NoError(t, c.Call(proto.MethodWithin, proto.WithinRequest{
		MinLat: 51.1, MinLng: -115, MaxLat: 51.2, MaxLng: -114,
	}, &resp))
	assert.Equal(t, []string{"e"}, ids(resp))

	var stats proto.StatsResponse
	require.NoError(t, c.Call(proto.MethodStats, proto.StatsRequest{}, &stats))
	assert.Equal(t, 5, stats.Records)
	assert.Equal(t, "mutable", stats.Index)

	err = c.Call(proto.MethodNearby, proto.NearbyRequest{Lat: 120, RadiusKm: 1}, &resp)
	var remote *rpc.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadRequest, remote.Status)
	assert.Contains(t, remote.Message, "lat")

	assert.Equal(t, 2, f.tracker.queryCount())
}
