package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestUploadBatchBoundsConcurrency(t *testing.T) {
	b := newFakeBucket()
	b.putDelay = 5 * time.Millisecond
	c := newTestClient(b)

	dir := t.TempDir()
	var paths []string
	for i := 0; i < 20; i++ {
		paths = append(paths, writeTempFile(t, dir, fmt.Sprintf("img-%02d.png", i)))
	}

	results := c.UploadBatch(context.Background(), paths, "batch", "", 3)

	require.Len(t, results, len(paths))
	maxInFlight := atomic.LoadInt32(&b.maxInFlight)
	assert.LessOrEqual(t, maxInFlight, int32(3))
	assert.Positive(t, maxInFlight)

	indices := make([]int, 0, len(results))
	for _, r := range results {
		require.NoError(t, r.Err)
		indices = append(indices, r.Index)
	}
	sort.Ints(indices)
	for i, idx := range indices {
		assert.Equal(t, i, idx)
	}

	ordered := SortByIndex(results)
	for i, r := range ordered {
		assert.Equal(t, paths[i], r.Result.SourcePath)
		assert.Equal(t, "https://cdn.example.com/batch/"+filepath.Base(paths[i]), r.Result.PublicURL)
	}
}

func TestUploadBatchFailureDoesNotCancelOthers(t *testing.T) {
	b := newFakeBucket()
	c := newTestClient(b)

	dir := t.TempDir()
	paths := []string{
		writeTempFile(t, dir, "a.png"),
		filepath.Join(dir, "missing.png"),
		writeTempFile(t, dir, "c.png"),
	}

	results := SortByIndex(c.UploadBatch(context.Background(), paths, "p", "", 0))

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrMissingLocalFile)
	assert.Empty(t, results[1].Result.PublicURL)
	assert.NoError(t, results[2].Err)
	assert.Len(t, b.puts, 2)
}

func TestDeleteByPrefixNoMatches(t *testing.T) {
	b := newFakeBucket()
	b.seed("other", 5)
	c := newTestClient(b)

	n, err := c.DeleteByPrefix(context.Background(), "empty/")

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, b.removes)
}

func TestDeleteByPrefixCancelledBeforeListing(t *testing.T) {
	b := newFakeBucket()
	b.seed("renders", 3)
	c := newTestClient(b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := c.DeleteByPrefix(ctx, "renders")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, b.lists)
	assert.Empty(t, b.removes)
}

func TestDeleteByPrefixChunksOf1000(t *testing.T) {
	b := newFakeBucket()
	b.seed("renders", 2500)
	b.seed("keep", 3)
	mc := newMemoryCache()
	c := newTestClient(b, WithUploadCache(mc))

	n, err := c.DeleteByPrefix(context.Background(), "renders/")

	require.NoError(t, err)
	assert.Equal(t, 2500, n)
	assert.Equal(t, []int{1000, 1000, 500}, b.removeCallSizes())
	assert.Equal(t, 3, b.lists)
	assert.Len(t, b.objects, 3)
	assert.Equal(t, []string{"renders/"}, mc.cleared)
}

func TestDeleteByPrefixPartialFailureKeepsGoing(t *testing.T) {
	b := newFakeBucket()
	b.seed("renders", 2500)
	b.removeErr[2] = errors.New("InternalError")
	c := newTestClient(b)

	n, err := c.DeleteByPrefix(context.Background(), "renders")

	require.Error(t, err)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
	assert.Equal(t, 1500, n)
	assert.Equal(t, []int{1000, 1000, 500}, b.removeCallSizes())
	assert.Len(t, b.objects, 1000)
}

func TestSetCacheControlByPrefix(t *testing.T) {
	b := newFakeBucket()
	b.objects["site/index.html"] = ObjectInfo{
		Key:         "site/index.html",
		ContentType: "text/html",
		Metadata:    map[string]string{"Content-Encoding": "gzip", "origin": "build-42"},
	}
	b.objects["site/app.js"] = ObjectInfo{Key: "site/app.js", ContentType: "text/javascript"}
	b.objects["site/broken.css"] = ObjectInfo{Key: "site/broken.css", ContentType: "text/css"}
	b.objects["other/x.png"] = ObjectInfo{Key: "other/x.png"}
	b.copyErr["site/broken.css"] = errors.New("AccessDenied")
	c := newTestClient(b)

	n, err := c.SetCacheControlByPrefix(context.Background(), "site/", "max-age=60")

	require.Error(t, err)
	assert.Equal(t, 2, n)

	html := b.replaced["site/index.html"]
	assert.Equal(t, "max-age=60", html["Cache-Control"])
	assert.Equal(t, "text/html", html["Content-Type"])
	assert.Equal(t, "gzip", html["Content-Encoding"])
	assert.Equal(t, "build-42", html["origin"])

	assert.Equal(t, "text/javascript", b.replaced["site/app.js"]["Content-Type"])
	assert.NotContains(t, b.replaced, "site/broken.css")
	assert.NotContains(t, b.replaced, "other/x.png")
}

func TestSetCacheControlByPrefixInvalidatesUploadCache(t *testing.T) {
	b := newFakeBucket()
	mc := newMemoryCache()
	c := newTestClient(b, WithUploadCache(mc))
	path := writeTempFile(t, t.TempDir(), "cat.png")
	ctx := context.Background()

	_, err := c.Upload(ctx, path, "images", "max-age=60")
	require.NoError(t, err)

	n, err := c.SetCacheControlByPrefix(ctx, "images", "no-store")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "no-store", b.replaced["images/cat.png"]["Cache-Control"])
	assert.Equal(t, []string{"images"}, mc.cleared)

	// the object now serves no-store, so the original header must be put again
	_, err = c.Upload(ctx, path, "images", "max-age=60")
	require.NoError(t, err)
	require.Len(t, b.puts, 2)
	assert.Equal(t, "max-age=60", b.puts[1].Opts.CacheControl)
}

func TestSetCacheControlByPrefixAsyncWaitsForLimiter(t *testing.T) {
	b := newFakeBucket()
	b.seed("assets", 4)
	c := newTestClient(b)

	limiter := semaphore.NewWeighted(1)
	require.NoError(t, limiter.Acquire(context.Background(), 1))

	done := c.SetCacheControlByPrefixAsync(context.Background(), "assets", "no-store", limiter)

	select {
	case <-done:
		t.Fatal("update ran while limiter was held")
	case <-time.After(20 * time.Millisecond):
	}

	limiter.Release(1)

	select {
	case res := <-done:
		require.NoError(t, res.Err)
		assert.Equal(t, 4, res.Updated)
		assert.Equal(t, "assets", res.Prefix)
	case <-time.After(2 * time.Second):
		t.Fatal("async update did not finish")
	}

	_, open := <-done
	assert.False(t, open)
}

func TestSetCacheControlByPrefixAsyncCancelled(t *testing.T) {
	c := newTestClient(newFakeBucket())
	limiter := semaphore.NewWeighted(1)
	require.NoError(t, limiter.Acquire(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := <-c.SetCacheControlByPrefixAsync(ctx, "assets", "no-store", limiter)
	assert.ErrorIs(t, res.Err, context.Canceled)
}
