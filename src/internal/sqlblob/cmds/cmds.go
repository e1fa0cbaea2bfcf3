// Package cmds implements the sqlblob-gc command line.
package cmds

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/sqlblob/sqlblob/src/internal/backoff"
	"github.com/sqlblob/sqlblob/src/internal/blobsql"
	"github.com/sqlblob/sqlblob/src/internal/cmdutil"
	"github.com/sqlblob/sqlblob/src/internal/errors"
	"github.com/sqlblob/sqlblob/src/internal/log"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob/gc"
	"github.com/sqlblob/sqlblob/src/internal/storageconfig"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const markRetriesPerShard = 3

// RootCommand returns the sqlblob-gc root command.
func RootCommand() *cobra.Command {
	var configPath string
	var storageName string
	var shardCount int

	root := &cobra.Command{
		Use:   "sqlblob-gc",
		Short: "Garbage collector for the sharded SQL blob store.",
		Long: "Garbage collector for the sharded SQL blob store.  " +
			"The collector runs online: mark stamps reachable chunks with a fresh generation " +
			"while writers continue, and reclaim deletes chunks that have stayed unreachable " +
			"for several generations.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "storage.yaml", "Path to the storage configuration file.")
	root.PersistentFlags().StringVar(&storageName, "storage", "", "Name of the storage to collect.")
	root.PersistentFlags().IntVar(&shardCount, "shards", 0, "Number of shards; defaults to the count in the storage config.")
	if err := root.MarkPersistentFlagRequired("storage"); err != nil {
		panic(err)
	}

	setup := &cobra.Command{
		Use:   "setup",
		Short: "Create the blob store tables on every shard.",
		Run: cmdutil.RunFixedArgs(0, func(cmd *cobra.Command, _ []string) (retErr error) {
			ctx := cmd.Context()
			shards, err := openShards(configPath, storageName, shardCount)
			if err != nil {
				return err
			}
			defer closeShards(&retErr, shards)
			for _, shard := range shards {
				db := shard.DB()
				if err := blobsql.WithTx(ctx, db, func(tx *blobsql.Tx) error {
					return sqlblob.SetupShard(tx, db.DriverName())
				}); err != nil {
					return errors.Wrapf(err, "set up shard %d", shard.ID())
				}
			}
			fmt.Printf("Created tables on %d shards\n", len(shards))
			return nil
		}),
	}
	root.AddCommand(setup)

	mark := &cobra.Command{
		Use:   "mark",
		Short: "Allocate a new generation and stamp every reachable chunk with it.",
		Run: cmdutil.RunFixedArgs(0, func(cmd *cobra.Command, _ []string) (retErr error) {
			ctx := cmd.Context()
			shards, err := openShards(configPath, storageName, shardCount)
			if err != nil {
				return err
			}
			defer closeShards(&retErr, shards)

			fmt.Println("Starting initial generation set")
			gen, err := gc.AllocateGeneration(ctx, shards)
			if err != nil {
				return err
			}
			fmt.Println("Completed initial generation set")

			fmt.Println("Starting sweep")
			errs := make([]error, len(shards))
			done := make(chan struct{})
			for i, shard := range shards {
				i, shard := i, shard
				fmt.Printf("Starting sweep on data keys from shard %d\n", shard.ID())
				go func() {
					defer func() { done <- struct{}{} }()
					errs[i] = markShardWithRetry(ctx, shard, gen)
				}()
			}
			for range shards {
				<-done
			}
			if err := multierr.Combine(errs...); err != nil {
				return err
			}
			fmt.Println("Completed all sweeps")
			return nil
		}),
	}
	root.AddCommand(mark)

	generationSize := &cobra.Command{
		Use:   "generation-size",
		Short: "Report stored bytes per generation, for reclaimable-space visibility.",
		Run: cmdutil.RunFixedArgs(0, func(cmd *cobra.Command, _ []string) (retErr error) {
			ctx := cmd.Context()
			shards, err := openShards(configPath, storageName, shardCount)
			if err != nil {
				return err
			}
			defer closeShards(&retErr, shards)
			sizes, err := gc.GenerationSizes(ctx, shards)
			if err != nil {
				return err
			}
			fmt.Println("Generation | Size")
			for _, s := range sizes {
				fmt.Printf("%10d | %s\n", s.Generation, humanize.Bytes(s.Bytes))
			}
			return nil
		}),
	}
	root.AddCommand(generationSize)

	var retention int64
	reclaim := &cobra.Command{
		Use:   "reclaim",
		Short: "Delete chunks that have stayed unreachable for several generations.",
		Run: cmdutil.RunFixedArgs(0, func(cmd *cobra.Command, _ []string) (retErr error) {
			ctx := cmd.Context()
			shards, err := openShards(configPath, storageName, shardCount)
			if err != nil {
				return err
			}
			defer closeShards(&retErr, shards)
			report, err := gc.Reclaim(ctx, shards, retention)
			if err != nil {
				return err
			}
			for i, n := range report.Deleted {
				fmt.Printf("Deleted %d chunks from shard %d\n", n, shards[i].ID())
			}
			if report.Races > 0 {
				fmt.Printf("Warning: %d stale chunks were still referenced and were not deleted\n", report.Races)
			}
			return nil
		}),
	}
	reclaim.Flags().Int64Var(&retention, "retention", gc.MinRetentionGenerations,
		fmt.Sprintf("Number of generations a chunk must stay unreachable before deletion; minimum %d.", gc.MinRetentionGenerations))
	root.AddCommand(reclaim)

	return root
}

func markShardWithRetry(ctx context.Context, shard *sqlblob.Shard, gen int64) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), markRetriesPerShard)
	return backoff.RetryUntilCancel(ctx, func() error {
		_, err := gc.MarkShard(ctx, shard, gen)
		return err
	}, b, func(err error, wait time.Duration) error {
		log.Error(ctx, "shard sweep failed, retrying",
			zap.Int("shard", shard.ID()), zap.Duration("wait", wait), zap.Error(err))
		return nil
	})
}

func openShards(configPath, storageName string, shardCount int) ([]*sqlblob.Shard, error) {
	config, err := storageconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	storage, err := config.Storage(storageName)
	if err != nil {
		return nil, err
	}
	urls, err := storage.ShardURLs(shardCount)
	if err != nil {
		return nil, err
	}
	password := storage.Password()
	shards := make([]*sqlblob.Shard, 0, len(urls))
	for i, rawURL := range urls {
		u, err := blobsql.ParseURL(rawURL)
		if err != nil {
			closeAll(shards)
			return nil, errors.Wrapf(err, "shard %d", i)
		}
		db, err := blobsql.OpenURL(u, password)
		if err != nil {
			closeAll(shards)
			return nil, errors.Wrapf(err, "open shard %d", i)
		}
		shard, err := sqlblob.NewShard(i, db)
		if err != nil {
			db.Close() //nolint:errcheck
			closeAll(shards)
			return nil, err
		}
		shards = append(shards, shard)
	}
	return shards, nil
}

func closeShards(retErr *error, shards []*sqlblob.Shard) {
	for _, shard := range shards {
		if err := shard.Close(); *retErr == nil {
			*retErr = err
		}
	}
}

func closeAll(shards []*sqlblob.Shard) {
	for _, shard := range shards {
		shard.Close() //nolint:errcheck
	}
}
