// Command sqlblob-gc is the garbage collector for the sharded SQL blob
// store.  It is a batch job: mark allocates a generation and stamps
// reachable chunks, generation-size reports reclaimable space, reclaim
// deletes chunks that stayed unreachable for several generations.
package main

import (
	"github.com/sqlblob/sqlblob/src/internal/cmdutil"
	"github.com/sqlblob/sqlblob/src/internal/pctx"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob/cmds"
)

func main() {
	ctx := pctx.Background("sqlblob-gc")
	if err := cmds.RootCommand().ExecuteContext(ctx); err != nil {
		cmdutil.ErrorAndExit("%v", err)
	}
}
