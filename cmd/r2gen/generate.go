package main

import (
	"fmt"
	"path/filepath"

	"github.com/andresuchdata/r2gen/internal/config"
	"github.com/andresuchdata/r2gen/internal/imagegen"
	"github.com/andresuchdata/r2gen/internal/storage"
	"github.com/andresuchdata/r2gen/pkg/logger"
	"github.com/urfave/cli/v2"
)

func generateCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Run txt2img requests concurrently and save the images",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prompt", Usage: "Positive prompt", Required: true},
			&cli.StringFlag{Name: "negative-prompt", Usage: "Negative prompt"},
			&cli.IntFlag{Name: "steps", Usage: "Sampling steps", Value: 20},
			&cli.IntFlag{Name: "width", Usage: "Image width", Value: 512},
			&cli.IntFlag{Name: "height", Usage: "Image height", Value: 512},
			&cli.Float64Flag{Name: "cfg-scale", Usage: "Classifier-free guidance scale", Value: 7},
			&cli.Int64Flag{Name: "seed", Usage: "Seed of the first request, -1 for random", Value: -1},
			&cli.IntFlag{Name: "batch-size", Usage: "Images per request", Value: 1},
			&cli.IntFlag{Name: "count", Usage: "Number of requests to issue", Value: 1},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum requests in flight",
				Value:   cfg.StableDiffusion.Concurrency,
				EnvVars: []string{"SD_CONCURRENCY"},
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Stable Diffusion WebUI base URL",
				Value:   cfg.StableDiffusion.BaseURL,
				EnvVars: []string{"SD_BASE_URL"},
			},
			&cli.StringFlag{Name: "out-dir", Usage: "Directory the images are written to", Value: "./output"},
			&cli.StringFlag{Name: "upload-prefix", Usage: "Upload the saved images to R2 under this prefix"},
			newCacheControlFlag(false),
		},
		Action: runGenerate(cfg),
	}
}

func runGenerate(cfg *config.Config) cli.ActionFunc {
	return func(c *cli.Context) error {
		count := c.Int("count")
		if count < 1 {
			return cli.Exit("count must be at least 1", 2)
		}

		sdCfg := cfg.StableDiffusion
		sdCfg.BaseURL = c.String("base-url")
		client := imagegen.NewClientFromConfig(sdCfg, imagegen.WithConcurrency(c.Int("concurrency")))

		req := imagegen.Txt2ImgRequest{
			Prompt:         c.String("prompt"),
			NegativePrompt: c.String("negative-prompt"),
			Steps:          c.Int("steps"),
			Width:          c.Int("width"),
			Height:         c.Int("height"),
			CFGScale:       c.Float64("cfg-scale"),
			BatchSize:      c.Int("batch-size"),
		}
		payloads, err := buildPayloads(req, c.Int64("seed"), count)
		if err != nil {
			return err
		}

		outDir := c.String("out-dir")
		var saved []string
		failed := 0
		for _, res := range imagegen.SortImagesByIndex(client.GenerateAll(c.Context, payloads)) {
			if res.Err != nil {
				failed++
				logger.Log.Error().Err(res.Err).Int("request", res.Index).Msg("txt2img request failed")
				continue
			}
			for i, img := range res.Images {
				path := filepath.Join(outDir, imageFileName(res.Index, i, img.Extension()))
				if err := img.Save(path); err != nil {
					return err
				}
				saved = append(saved, path)
				fmt.Fprintln(c.App.Writer, path)
			}
		}

		logger.Log.Info().Int("requests", count).Int("failed", failed).Int("images", len(saved)).Msg("generation finished")

		if prefix := c.String("upload-prefix"); prefix != "" && len(saved) > 0 {
			store, err := newStore(cfg)
			if err != nil {
				return err
			}
			results := storage.SortByIndex(store.UploadBatch(c.Context, saved, prefix, c.String("cache-control"), cfg.R2.UploadConcurrency))
			if err := reportUploads(c, results); err != nil {
				return err
			}
		}

		if failed > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d requests failed", failed, count), 1)
		}
		return nil
	}
}

// buildPayloads returns count copies of req. A non-negative seed is
// incremented per request so every request renders something different.
func buildPayloads(req imagegen.Txt2ImgRequest, seed int64, count int) ([]imagegen.Payload, error) {
	payloads := make([]imagegen.Payload, 0, count)
	for i := 0; i < count; i++ {
		r := req
		s := seed
		if seed >= 0 {
			s = seed + int64(i)
		}
		r.Seed = &s

		p, err := r.Payload()
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func imageFileName(request, image int, ext string) string {
	return fmt.Sprintf("txt2img_%03d_%02d%s", request, image, ext)
}
