// Package pctx creates contexts.  Every context in this module originates
// here, so that a logger is always attached.
package pctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/chunkgrid/zarr/internal/log"
)

// Background returns the root context for a program, with a named logger
// attached.  The logger is a no-op unless one is installed with
// log.WithLogger.
func Background(name string) context.Context {
	return log.Child(context.Background(), name)
}

// TODO returns a context for code that has not had a real context plumbed to
// it yet.  New code should receive a context instead of calling this.
func TODO() context.Context {
	return context.Background()
}

// Child returns a context descended from ctx with a named sub-logger.
func Child(ctx context.Context, name string, fields ...zap.Field) context.Context {
	return log.Child(ctx, name, fields...)
}

// TestContext returns a context for tests; log output is routed through t
// so it shows up attached to the failing test.
func TestContext(t testing.TB) context.Context {
	return log.WithLogger(context.Background(), zaptest.NewLogger(t))
}
