package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// bucket is the slice of the S3 API the R2 client is built on.
type bucket interface {
	PutFile(ctx context.Context, key, path string, opts minio.PutObjectOptions) error
	ListPage(ctx context.Context, prefix, token string, maxKeys int) (listPage, error)
	// RemoveKeys issues one multi-object delete and returns how many keys were removed.
	RemoveKeys(ctx context.Context, keys []string) (int, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// ReplaceMetadata copies key onto itself with the REPLACE metadata directive.
	ReplaceMetadata(ctx context.Context, key string, headers map[string]string) error
}

type listPage struct {
	Keys      []string
	NextToken string
	Truncated bool
}

// Standard headers R2 drops on a REPLACE copy unless they are sent again.
var preservedHeaders = []string{
	"Content-Encoding",
	"Content-Disposition",
	"Content-Language",
	"Expires",
}

// minioBucket implements bucket for R2 / S3-compatible services.
type minioBucket struct {
	core *minio.Core
	name string
}

func newMinioBucket(endpoint, accessKey, secretKey, region, name string) (*minioBucket, error) {
	host, secure, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	region = strings.TrimSpace(region)
	if region == "" {
		region = "auto"
	}

	core, err := minio.NewCore(host, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("r2 client init failed: %w", err)
	}

	return &minioBucket{core: core, name: name}, nil
}

// splitEndpoint accepts "https://host", "http://host:port" or a bare host and
// returns the host plus whether TLS should be used. Bare hosts default to TLS.
func splitEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, errors.New("r2 endpoint must be provided")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + strings.TrimPrefix(endpoint, "//")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid r2 endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid r2 endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "http", nil
}

func (b *minioBucket) PutFile(ctx context.Context, key, path string, opts minio.PutObjectOptions) error {
	_, err := b.core.Client.FPutObject(ctx, b.name, key, path, opts)
	return err
}

func (b *minioBucket) ListPage(ctx context.Context, prefix, token string, maxKeys int) (listPage, error) {
	if err := ctx.Err(); err != nil {
		return listPage{}, err
	}
	// Core.ListObjectsV2 takes no context; a page in flight is not interrupted.
	res, err := b.core.ListObjectsV2(b.name, prefix, "", token, "", maxKeys)
	if err != nil {
		return listPage{}, err
	}

	page := listPage{
		Keys:      make([]string, 0, len(res.Contents)),
		NextToken: res.NextContinuationToken,
		Truncated: res.IsTruncated,
	}
	for _, object := range res.Contents {
		page.Keys = append(page.Keys, object.Key)
	}
	return page, nil
}

func (b *minioBucket) RemoveKeys(ctx context.Context, keys []string) (int, error) {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	var (
		failed   []string
		firstErr error
	)
	for rErr := range b.core.Client.RemoveObjects(ctx, b.name, objectsCh, minio.RemoveObjectsOptions{}) {
		failed = append(failed, rErr.ObjectName)
		if firstErr == nil {
			firstErr = rErr.Err
		}
	}

	removed := len(keys) - len(failed)
	if len(failed) > 0 {
		return removed, fmt.Errorf("%d of %d keys not deleted (first: %s): %w", len(failed), len(keys), failed[0], firstErr)
	}
	return removed, nil
}

func (b *minioBucket) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := b.core.Client.StatObject(ctx, b.name, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}

	metadata := make(map[string]string, len(info.UserMetadata)+len(preservedHeaders))
	for k, v := range info.UserMetadata {
		metadata[k] = v
	}
	for _, h := range preservedHeaders {
		if v := info.Metadata.Get(h); v != "" {
			metadata[h] = v
		}
	}

	return ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		Metadata:    metadata,
	}, nil
}

func (b *minioBucket) ReplaceMetadata(ctx context.Context, key string, headers map[string]string) error {
	_, err := b.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          b.name,
			Object:          key,
			UserMetadata:    headers,
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{
			Bucket: b.name,
			Object: key,
		},
	)
	return err
}

var _ bucket = (*minioBucket)(nil)
