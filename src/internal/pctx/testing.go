package pctx

import (
	"context"
	"testing"

	"github.com/sqlblob/sqlblob/src/internal/log"
	"go.uber.org/zap/zaptest"
)

// TestContext returns a context for tests.  Logs go to the test log, and the
// context is cancelled when the test ends.
func TestContext(t testing.TB) context.Context {
	ctx := log.WithLogger(context.Background(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	return Child(ctx, t.Name())
}
