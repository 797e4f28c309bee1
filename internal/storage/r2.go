package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/andresuchdata/r2gen/internal/cache"
	"github.com/andresuchdata/r2gen/internal/config"
	"github.com/andresuchdata/r2gen/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// R2Client implements ObjectStorage for Cloudflare R2.
type R2Client struct {
	bucket       bucket
	publicDomain string
	cache        cache.UploadCache
	log          zerolog.Logger
}

type Option func(*R2Client)

// WithUploadCache lets Upload skip files whose object is already known to be current.
func WithUploadCache(c cache.UploadCache) Option {
	return func(r *R2Client) {
		if c != nil {
			r.cache = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *R2Client) {
		r.log = l
	}
}

// NewR2Client validates cfg and builds a client backed by minio-go.
func NewR2Client(cfg config.R2Config, opts ...Option) (*R2Client, error) {
	if err := checkCredentials(cfg.AccessKeyID, cfg.SecretAccessKey); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("r2 bucket must be provided")
	}
	if strings.TrimSpace(cfg.PublicDomain) == "" {
		return nil, errors.New("r2 public access domain must be provided")
	}

	b, err := newMinioBucket(cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey, cfg.Region, cfg.Bucket)
	if err != nil {
		return nil, err
	}

	return newR2Client(b, cfg.PublicDomain, opts...), nil
}

func newR2Client(b bucket, publicDomain string, opts ...Option) *R2Client {
	c := &R2Client{
		bucket:       b,
		publicDomain: publicDomain,
		cache:        cache.NewNoopUploadCache(),
		log:          logger.Component("r2"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func checkCredentials(accessKey, secretKey string) error {
	hasAccess := strings.TrimSpace(accessKey) != ""
	hasSecret := strings.TrimSpace(secretKey) != ""
	switch {
	case !hasAccess && !hasSecret:
		return ErrMissingCredentials
	case !hasAccess || !hasSecret:
		return ErrIncompleteCredentials
	}
	return nil
}

// PublicURL returns the browser-accessible URL for key.
func (c *R2Client) PublicURL(key string) string {
	return publicURL(c.publicDomain, key)
}

// Upload puts a single local file under prefix. The returned result always carries
// SourcePath; PublicURL is only set on success.
func (c *R2Client) Upload(ctx context.Context, localPath, prefix, cacheControl string) (UploadResult, error) {
	result := UploadResult{SourcePath: localPath}

	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		c.log.Error().Str("path", localPath).Msg("file does not exist")
		return result, fmt.Errorf("%w: %s", ErrMissingLocalFile, localPath)
	}

	key := ObjectKey(prefix, localPath)
	fp := fingerprint(info, cacheControl)

	if url, ok, err := c.cache.Get(ctx, key, fp); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("upload cache lookup failed")
	} else if ok {
		c.log.Debug().Str("key", key).Msg("object unchanged, skipping upload")
		result.PublicURL = url
		return result, nil
	}

	putOpts := minio.PutObjectOptions{CacheControl: cacheControl}
	if err := c.bucket.PutFile(ctx, key, localPath, putOpts); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.log.Error().Str("path", localPath).Msg("file disappeared before upload")
			return result, fmt.Errorf("%w: %s", ErrMissingLocalFile, localPath)
		}
		c.log.Error().Err(err).Str("path", localPath).Str("key", key).Msg("upload to r2 failed")
		return result, &TransportError{Op: "put", Key: key, Err: err}
	}

	result.PublicURL = c.PublicURL(key)
	if err := c.cache.Set(ctx, key, fp, result.PublicURL); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("upload cache store failed")
	}

	return result, nil
}

func fingerprint(info os.FileInfo, cacheControl string) string {
	return fmt.Sprintf("%d:%d:%s", info.Size(), info.ModTime().UnixNano(), cacheControl)
}

var _ ObjectStorage = (*R2Client)(nil)
