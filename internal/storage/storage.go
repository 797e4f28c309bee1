package storage

import (
	"context"
	"sort"

	"golang.org/x/sync/semaphore"
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	// Metadata holds user metadata plus the standard headers that must survive a
	// metadata REPLACE copy (Content-Encoding, Content-Disposition, ...).
	Metadata map[string]string
}

// UploadResult is produced by an upload. PublicURL is empty when the upload failed.
type UploadResult struct {
	PublicURL  string `json:"public_url,omitempty"`
	SourcePath string `json:"source_path"`
}

// IndexedUpload pairs an upload outcome with the position of its path in the batch input.
type IndexedUpload struct {
	Index  int
	Result UploadResult
	Err    error
}

// CacheControlResult is delivered by SetCacheControlByPrefixAsync.
type CacheControlResult struct {
	Prefix  string
	Updated int
	Err     error
}

// ObjectStorage captures the R2 operations used by the CLI and the HTTP API.
type ObjectStorage interface {
	Upload(ctx context.Context, localPath, prefix, cacheControl string) (UploadResult, error)
	UploadBatch(ctx context.Context, paths []string, prefix, cacheControl string, concurrency int) []IndexedUpload
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	SetCacheControlByPrefix(ctx context.Context, prefix, cacheControl string) (int, error)
	SetCacheControlByPrefixAsync(ctx context.Context, prefix, cacheControl string, limiter *semaphore.Weighted) <-chan CacheControlResult
	PublicURL(key string) string
}

// SortByIndex restores batch input order in place and returns the slice.
func SortByIndex(results []IndexedUpload) []IndexedUpload {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Index < results[j].Index
	})
	return results
}
