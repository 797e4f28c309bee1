package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresuchdata/r2gen/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

type ObjectHandler struct {
	store              storage.ObjectStorage
	uploadConcurrency  int
	cacheControlLimits *semaphore.Weighted
}

func NewObjectHandler(store storage.ObjectStorage, uploadConcurrency int, cacheControlLimits *semaphore.Weighted) *ObjectHandler {
	if uploadConcurrency < 1 {
		uploadConcurrency = 1
	}
	return &ObjectHandler{
		store:              store,
		uploadConcurrency:  uploadConcurrency,
		cacheControlLimits: cacheControlLimits,
	}
}

type uploadItem struct {
	Filename  string `json:"filename"`
	PublicURL string `json:"public_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Upload stores every multipart "files" entry under the "prefix" form field.
func (h *ObjectHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form data"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	prefix := c.PostForm("prefix")
	cacheControl := c.PostForm("cache_control")
	concurrency := parsePositiveIntWithDefault(c.PostForm("concurrency"), h.uploadConcurrency)

	tmpDir, err := os.MkdirTemp("", "r2gen-upload-*")
	if err != nil {
		log.Error().Err(err).Msg("failed to create upload staging dir")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage uploads"})
		return
	}
	defer os.RemoveAll(tmpDir)

	// one subdirectory per file keeps duplicate names apart while the basename,
	// and therefore the object key, stays the client's filename
	items := make([]uploadItem, len(files))
	paths := make([]string, len(files))
	for i, file := range files {
		name := filepath.Base(strings.ReplaceAll(file.Filename, `\`, "/"))
		items[i].Filename = name
		paths[i] = filepath.Join(tmpDir, strconv.Itoa(i), name)
		if err := os.MkdirAll(filepath.Dir(paths[i]), 0o755); err != nil {
			log.Error().Err(err).Str("filename", name).Msg("failed to stage uploaded file")
			continue
		}
		if err := c.SaveUploadedFile(file, paths[i]); err != nil {
			log.Error().Err(err).Str("filename", name).Msg("failed to save uploaded file")
		}
	}

	failed := 0
	for _, r := range h.store.UploadBatch(c.Request.Context(), paths, prefix, cacheControl, concurrency) {
		if r.Err != nil {
			failed++
			items[r.Index].Error = r.Err.Error()
			continue
		}
		items[r.Index].PublicURL = r.Result.PublicURL
	}

	status := http.StatusOK
	if failed == len(items) {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"prefix": prefix,
		"files":  items,
		"failed": failed,
	})
}

// DeleteByPrefix removes every object under the "prefix" query parameter.
func (h *ObjectHandler) DeleteByPrefix(c *gin.Context) {
	prefix := strings.TrimSpace(c.Query("prefix"))
	if prefix == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prefix is required"})
		return
	}

	deleted, err := h.store.DeleteByPrefix(c.Request.Context(), prefix)
	if err != nil {
		c.JSON(storageStatus(err), gin.H{"error": err.Error(), "prefix": prefix, "deleted": deleted})
		return
	}

	c.JSON(http.StatusOK, gin.H{"prefix": prefix, "deleted": deleted})
}

type cacheControlRequest struct {
	Prefix       string `json:"prefix" binding:"required"`
	CacheControl string `json:"cache_control" binding:"required"`
	Async        bool   `json:"async"`
}

// SetCacheControl rewrites Cache-Control for every object under a prefix. With
// async set the rewrite continues after the response has been sent.
func (h *ObjectHandler) SetCacheControl(c *gin.Context) {
	var req cacheControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Async {
		done := h.store.SetCacheControlByPrefixAsync(
			context.WithoutCancel(c.Request.Context()), req.Prefix, req.CacheControl, h.cacheControlLimits)
		go func() {
			res := <-done
			if res.Err != nil {
				log.Error().Err(res.Err).Str("prefix", res.Prefix).Int("updated", res.Updated).Msg("async cache-control update failed")
				return
			}
			log.Info().Str("prefix", res.Prefix).Int("updated", res.Updated).Msg("async cache-control update finished")
		}()

		c.JSON(http.StatusAccepted, gin.H{"message": "cache-control update is running", "prefix": req.Prefix})
		return
	}

	updated, err := h.store.SetCacheControlByPrefix(c.Request.Context(), req.Prefix, req.CacheControl)
	if err != nil {
		c.JSON(storageStatus(err), gin.H{"error": err.Error(), "prefix": req.Prefix, "updated": updated})
		return
	}

	c.JSON(http.StatusOK, gin.H{"prefix": req.Prefix, "updated": updated})
}

func storageStatus(err error) int {
	var terr *storage.TransportError
	switch {
	case errors.Is(err, storage.ErrMissingLocalFile):
		return http.StatusBadRequest
	case errors.As(err, &terr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parsePositiveIntWithDefault(value string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v > 0 {
		return v
	}
	return fallback
}
