package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHandler_ProviderAndContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		calls++
		return []slog.Attr{slog.Int("pending", calls)}
	})
	logger := slog.New(h)

	ctx := WithAttrs(context.Background(), slog.String("trail_id", "t1"))
	ctx = WithAttrs(ctx, slog.String("op", "sync"))
	logger.InfoContext(ctx, "first")
	logger.Info("second")

	out := buf.String()
	assert.Contains(t, out, "pending=1")
	assert.Contains(t, out, "trail_id=t1 op=sync")
	assert.Contains(t, out, "pending=2")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("trail_id")))
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), nil)

	slog.New(h.WithAttrs([]slog.Attr{slog.String("component", "recorder")})).Info("a")
	assert.Contains(t, buf.String(), "component=recorder")

	assert.Equal(t, h, h.WithGroup(""))
	slog.New(h.WithGroup("g")).Info("b", "k", "v")
	assert.Contains(t, buf.String(), "g.k=v")
}
