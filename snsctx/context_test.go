package snsctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
	assert.False(t, IsVerbose(SetVerbose(SetVerbose(ctx, true), false)))
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	Trace(context.Background(), "hidden frame")
	Trace(SetVerbose(context.Background(), true), "shown frame", "len", 64)
	assert.NotContains(t, buf.String(), "hidden frame")
	assert.Contains(t, buf.String(), "shown frame")
	assert.Contains(t, buf.String(), "len=64")
}
