// Package pctx creates contexts for use throughout the project.  Every
// context carries a logger; see the log package.
package pctx

import (
	"context"

	"github.com/sqlblob/sqlblob/src/internal/log"
	"go.uber.org/zap"
)

// Background returns a context for use at process startup and in
// long-running background work.
func Background(process string) context.Context {
	ctx := log.AddLogger(context.Background())
	return Child(ctx, process)
}

// TODO returns a context for code that will grow a proper context parameter
// in the near future.  It should not be used in new code.
func TODO() context.Context {
	return log.AddLogger(context.TODO())
}

// Child returns a named child context.  The name can be empty.
func Child(ctx context.Context, name string, fields ...zap.Field) context.Context {
	return log.ChildLogger(ctx, name, fields...)
}
