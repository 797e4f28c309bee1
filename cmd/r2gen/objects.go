package main

import (
	"fmt"

	"github.com/andresuchdata/r2gen/internal/config"
	"github.com/andresuchdata/r2gen/internal/storage"
	"github.com/andresuchdata/r2gen/pkg/logger"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/semaphore"
)

func uploadCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload local files under a prefix",
		ArgsUsage: "<path> [path...]",
		Flags: []cli.Flag{
			newPrefixFlag(),
			newCacheControlFlag(false),
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum uploads in flight",
				Value:   cfg.R2.UploadConcurrency,
				EnvVars: []string{"CLOUDFLARE_R2_UPLOAD_CONCURRENCY"},
			},
		},
		Action: func(c *cli.Context) error {
			paths := c.Args().Slice()
			if len(paths) == 0 {
				return cli.Exit("at least one path is required", 2)
			}

			store, err := newStore(cfg)
			if err != nil {
				return err
			}

			results := storage.SortByIndex(store.UploadBatch(c.Context, paths,
				c.String("prefix"), c.String("cache-control"), c.Int("concurrency")))
			return reportUploads(c, results)
		},
	}
}

// reportUploads prints one line per input path, in input order, and fails
// when any upload failed.
func reportUploads(c *cli.Context, results []storage.IndexedUpload) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(c.App.ErrWriter, "FAIL %s: %v\n", r.Result.SourcePath, r.Err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", r.Result.SourcePath, r.Result.PublicURL)
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d uploads failed", failed, len(results)), 1)
	}
	return nil
}

func deletePrefixCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "delete-prefix",
		Usage:     "Delete every object whose key starts with prefix",
		ArgsUsage: "<prefix>",
		Action: func(c *cli.Context) error {
			prefix := c.Args().First()
			if prefix == "" {
				return cli.Exit("prefix is required", 2)
			}

			store, err := newStore(cfg)
			if err != nil {
				return err
			}

			deleted, err := store.DeleteByPrefix(c.Context, prefix)
			fmt.Fprintf(c.App.Writer, "deleted %d objects under %q\n", deleted, prefix)
			return err
		},
	}
}

func setCacheControlCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "set-cache-control",
		Usage:     "Rewrite Cache-Control on every object under a prefix",
		ArgsUsage: "<prefix>",
		Flags: []cli.Flag{
			newCacheControlFlag(true),
			&cli.BoolFlag{
				Name:  "async",
				Usage: "Run the rewrite in the background and wait for its result",
			},
		},
		Action: func(c *cli.Context) error {
			prefix := c.Args().First()
			if prefix == "" {
				return cli.Exit("prefix is required", 2)
			}

			store, err := newStore(cfg)
			if err != nil {
				return err
			}

			var updated int
			if c.Bool("async") {
				res := <-store.SetCacheControlByPrefixAsync(c.Context, prefix, c.String("cache-control"), semaphore.NewWeighted(1))
				updated, err = res.Updated, res.Err
			} else {
				updated, err = store.SetCacheControlByPrefix(c.Context, prefix, c.String("cache-control"))
			}

			logger.Log.Info().Str("prefix", prefix).Int("updated", updated).Msg("cache-control rewrite finished")
			fmt.Fprintf(c.App.Writer, "updated %d objects under %q\n", updated, prefix)
			return err
		},
	}
}
