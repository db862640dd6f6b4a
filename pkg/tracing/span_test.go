package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "GET /api/v1/nearby", "req-9")
	_, child := StartChildSpan(ctx, "engine.query")
	child.SetAttr("returned", 4)
	child.End()
	root.End()

	require.Len(t, root.Children, 1)
	assert.Equal(t, "req-9", child.TraceID)
	assert.Same(t, root, SpanFromContext(ctx))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	assert.False(t, root.LogIfSlow(logger, time.Hour))
	assert.Empty(t, buf.String())

	assert.True(t, root.LogIfSlow(logger, 0))
	assert.Equal(t, 2, strings.Count(buf.String(), "slow span"))
	assert.Contains(t, buf.String(), "returned=4")
}

func TestDetachedChild(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, s.TraceID)
	assert.Nil(t, SpanFromContext(context.Background()))
}
