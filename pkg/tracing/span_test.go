package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "cycle", "person-3")
	_, extract := StartChildSpan(ctx, "extract")
	extract.SetAttr("rows", 12)
	extract.End()
	_, publish := StartChildSpan(ctx, "publish")
	publish.End()
	root.End()

	require.Len(t, root.Children, 2)
	assert.Equal(t, "person-3", root.Children[0].TraceID)
	assert.Same(t, root, SpanFromContext(ctx))

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "span=cycle")
	assert.Contains(t, lines[1], "span=extract")
	assert.Contains(t, lines[1], "depth=1")
	assert.Contains(t, lines[1], "rows=12")
}

func TestChildWithoutParent(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Nil(t, SpanFromContext(context.Background()))
}
