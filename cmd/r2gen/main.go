package main

import (
	"fmt"
	"os"

	"github.com/andresuchdata/r2gen/internal/cache"
	"github.com/andresuchdata/r2gen/internal/config"
	"github.com/andresuchdata/r2gen/internal/storage"
	"github.com/andresuchdata/r2gen/pkg/logger"
	"github.com/urfave/cli/v2"
)

func newPrefixFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "prefix",
		Usage:   "Object key prefix inside the bucket",
		EnvVars: []string{"R2GEN_PREFIX"},
	}
}

func newCacheControlFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "cache-control",
		Usage:    "Cache-Control header applied to the objects",
		Required: required,
		EnvVars:  []string{"R2GEN_CACHE_CONTROL"},
	}
}

// newStore builds the R2 client from the environment, with the upload cache
// attached when CACHE_ENABLED is set.
func newStore(cfg *config.Config) (*storage.R2Client, error) {
	if err := cfg.R2.Validate(); err != nil {
		return nil, err
	}

	uploadCache, err := cache.NewUploadCache(cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("upload cache unavailable, continuing without it")
		uploadCache = cache.NewNoopUploadCache()
	}

	client, err := storage.NewR2Client(cfg.R2, storage.WithUploadCache(uploadCache))
	if err != nil {
		return nil, fmt.Errorf("failed to create R2 client: %w", err)
	}
	return client, nil
}

func main() {
	cfg := config.Load()

	app := &cli.App{
		Name:  "r2gen",
		Usage: "Manage Cloudflare R2 objects and generate images with Stable Diffusion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   cfg.LogLevel,
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Write logs as JSON instead of console output",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("log-json") {
				logger.SetJSON(os.Stderr)
			}
			logger.SetLevel(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			uploadCommand(cfg),
			deletePrefixCommand(cfg),
			setCacheControlCommand(cfg),
			generateCommand(cfg),
			serveCommand(cfg),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("r2gen failed")
	}
}
