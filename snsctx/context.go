// Package snsctx carries per-call flags through context.
package snsctx

import (
	"context"
	"log/slog"
)

type ctxIndex int

const ctxIndexVerbose ctxIndex = iota

func IsVerbose(ctx context.Context) bool {
	val, ok := ctx.Value(ctxIndexVerbose).(bool)
	return ok && val
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// Trace logs at debug level only for verbose calls, typically raw transport
// frames.
func Trace(ctx context.Context, msg string, args ...any) {
	if !IsVerbose(ctx) {
		return
	}
	slog.DebugContext(ctx, msg, args...)
}
