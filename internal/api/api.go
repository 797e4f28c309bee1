// internal/api/api.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/andresuchdata/r2gen/internal/api/handlers"
	"github.com/andresuchdata/r2gen/internal/api/middleware"
	"github.com/andresuchdata/r2gen/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

const defaultCacheControlJobs = 2

type Services struct {
	Objects           storage.ObjectStorage
	Images            handlers.ImageGenerator
	UploadConcurrency int
	// CacheControlJobs bounds how many async cache-control rewrites run at once.
	CacheControlJobs int64
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger("/health"))
	router.Use(middleware.Recovery())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api/v1")

	if services != nil {
		if services.Objects != nil {
			jobs := services.CacheControlJobs
			if jobs <= 0 {
				jobs = defaultCacheControlJobs
			}
			objectHandler := handlers.NewObjectHandler(services.Objects, services.UploadConcurrency, semaphore.NewWeighted(jobs))
			objectGroup := apiGroup.Group("/objects")
			{
				objectGroup.POST("/upload", objectHandler.Upload)
				objectGroup.DELETE("", objectHandler.DeleteByPrefix)
				objectGroup.PUT("/cache-control", objectHandler.SetCacheControl)
			}
		}

		if services.Images != nil {
			imageHandler := handlers.NewImageHandler(services.Images)
			imageGroup := apiGroup.Group("/images")
			{
				imageGroup.POST("/txt2img", imageHandler.Txt2Img)
			}
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
