package storage

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	listPageSize = 1000
	// DeleteObjects accepts at most this many keys per request.
	deleteBatchSize = 1000
)

// UploadBatch uploads paths with at most concurrency uploads in flight. Results
// arrive in completion order; each carries the index of its path in paths.
func (c *R2Client) UploadBatch(ctx context.Context, paths []string, prefix, cacheControl string, concurrency int) []IndexedUpload {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make(chan IndexedUpload, len(paths))
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, p := range paths {
		g.Go(func() error {
			res, err := c.Upload(ctx, p, prefix, cacheControl)
			results <- IndexedUpload{Index: i, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := make([]IndexedUpload, 0, len(paths))
	failed := 0
	for r := range results {
		if r.Err != nil {
			failed++
		}
		out = append(out, r)
	}

	c.log.Info().
		Str("prefix", prefix).
		Int("total", len(paths)).
		Int("failed", failed).
		Int("concurrency", concurrency).
		Msg("batch upload finished")

	return out
}

// DeleteByPrefix removes every object whose key starts with prefix and returns the
// number of keys deleted. A failing chunk does not stop the remaining chunks.
func (c *R2Client) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	prefix = NormalizePrefix(prefix)

	keys, err := c.listKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		c.log.Info().Str("prefix", prefix).Msg("no objects found for prefix")
		return 0, nil
	}

	deleted := 0
	var errs []error
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		n, err := c.bucket.RemoveKeys(ctx, keys[start:end])
		deleted += n
		if err != nil {
			c.log.Error().Err(err).Str("prefix", prefix).Int("chunk_start", start).Msg("delete chunk failed")
			errs = append(errs, &TransportError{Op: "delete", Key: prefix, Err: err})
		}
	}

	if err := c.cache.InvalidatePrefix(ctx, prefix); err != nil {
		c.log.Warn().Err(err).Str("prefix", prefix).Msg("upload cache invalidation failed")
	}

	c.log.Info().Str("prefix", prefix).Int("deleted", deleted).Int("listed", len(keys)).Msg("prefix deleted")
	return deleted, errors.Join(errs...)
}

// SetCacheControlByPrefix rewrites the Cache-Control header of every object under
// prefix with one copy-in-place per object. Content and other metadata are kept.
func (c *R2Client) SetCacheControlByPrefix(ctx context.Context, prefix, cacheControl string) (int, error) {
	prefix = NormalizePrefix(prefix)

	keys, err := c.listKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}

	updated := 0
	var errs []error
	for _, key := range keys {
		if err := c.replaceCacheControl(ctx, key, cacheControl); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("cache-control update failed")
			errs = append(errs, err)
			continue
		}
		updated++
	}

	// cached fingerprints carry the Cache-Control they were uploaded with
	if err := c.cache.InvalidatePrefix(ctx, prefix); err != nil {
		c.log.Warn().Err(err).Str("prefix", prefix).Msg("upload cache invalidation failed")
	}

	c.log.Info().
		Str("prefix", prefix).
		Str("cache_control", cacheControl).
		Int("updated", updated).
		Int("listed", len(keys)).
		Msg("cache-control updated")
	return updated, errors.Join(errs...)
}

// SetCacheControlByPrefixAsync runs SetCacheControlByPrefix on its own goroutine once
// a slot of limiter is free. The channel yields exactly one result and is then closed.
func (c *R2Client) SetCacheControlByPrefixAsync(ctx context.Context, prefix, cacheControl string, limiter *semaphore.Weighted) <-chan CacheControlResult {
	out := make(chan CacheControlResult, 1)

	go func() {
		defer close(out)

		if limiter != nil {
			if err := limiter.Acquire(ctx, 1); err != nil {
				out <- CacheControlResult{Prefix: prefix, Err: fmt.Errorf("could not acquire limiter: %w", err)}
				return
			}
			defer limiter.Release(1)
		}

		n, err := c.SetCacheControlByPrefix(ctx, prefix, cacheControl)
		out <- CacheControlResult{Prefix: prefix, Updated: n, Err: err}
	}()

	return out
}

func (c *R2Client) replaceCacheControl(ctx context.Context, key, cacheControl string) error {
	info, err := c.bucket.Stat(ctx, key)
	if err != nil {
		return &TransportError{Op: "stat", Key: key, Err: err}
	}

	headers := make(map[string]string, len(info.Metadata)+2)
	for k, v := range info.Metadata {
		headers[k] = v
	}
	if info.ContentType != "" {
		headers["Content-Type"] = info.ContentType
	}
	headers["Cache-Control"] = cacheControl

	if err := c.bucket.ReplaceMetadata(ctx, key, headers); err != nil {
		return &TransportError{Op: "copy", Key: key, Err: err}
	}
	return nil
}

// listKeys walks ListObjectsV2 continuation tokens until the listing is exhausted.
// Cancellation is observed between pages.
func (c *R2Client) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		token string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.bucket.ListPage(ctx, prefix, token, listPageSize)
		if err != nil {
			c.log.Error().Err(err).Str("prefix", prefix).Msg("list objects failed")
			return nil, &TransportError{Op: "list", Key: prefix, Err: err}
		}
		keys = append(keys, page.Keys...)

		if !page.Truncated || page.NextToken == "" {
			return keys, nil
		}
		token = page.NextToken
	}
}
