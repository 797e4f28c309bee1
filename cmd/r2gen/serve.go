package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/r2gen/internal/api"
	"github.com/andresuchdata/r2gen/internal/config"
	"github.com/andresuchdata/r2gen/internal/imagegen"
	"github.com/andresuchdata/r2gen/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
)

func serveCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the object and image generation HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Usage:   "Port to listen on",
				Value:   cfg.Server.Port,
				EnvVars: []string{"SERVER_PORT"},
			},
		},
		Action: func(c *cli.Context) error {
			if cfg.Server.Mode == "debug" {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			services := &api.Services{
				Images:            imagegen.NewClientFromConfig(cfg.StableDiffusion),
				UploadConcurrency: cfg.R2.UploadConcurrency,
			}
			// the image endpoint still works without bucket credentials
			if store, err := newStore(cfg); err != nil {
				logger.Log.Warn().Err(err).Msg("object routes disabled")
			} else {
				services.Objects = store
			}

			srv := &http.Server{
				Addr:         ":" + c.String("port"),
				Handler:      api.NewRouter(services, cfg.Server.AllowedOrigins),
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Log.Info().Str("port", c.String("port")).Msg("Starting server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}
			logger.Log.Info().Msg("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}

			logger.Log.Info().Msg("Server exiting")
			return nil
		},
	}
}
