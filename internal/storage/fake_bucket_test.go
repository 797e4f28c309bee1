package storage

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
)

type putCall struct {
	Key  string
	Path string
	Opts minio.PutObjectOptions
}

// fakeBucket is an in-memory bucket that records every call made against it.
type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string]ObjectInfo
	puts     []putCall
	removes  [][]string
	lists    int
	replaced map[string]map[string]string

	putErr    error
	putDelay  time.Duration
	removeErr map[int]error // 1-based call number -> error
	statErr   map[string]error
	copyErr   map[string]error

	inFlight    int32
	maxInFlight int32
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects:   map[string]ObjectInfo{},
		replaced:  map[string]map[string]string{},
		removeErr: map[int]error{},
		statErr:   map[string]error{},
		copyErr:   map[string]error{},
	}
}

func (f *fakeBucket) seed(prefix string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		key := prefix + "/obj-" + strconv.Itoa(100000+i)
		f.objects[key] = ObjectInfo{Key: key, Size: 1, ContentType: "image/png"}
	}
}

func (f *fakeBucket) PutFile(ctx context.Context, key, path string, opts minio.PutObjectOptions) error {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, cur) {
			break
		}
	}

	if f.putDelay > 0 {
		time.Sleep(f.putDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putCall{Key: key, Path: path, Opts: opts})
	if f.putErr != nil {
		return f.putErr
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	f.objects[key] = ObjectInfo{Key: key}
	return nil
}

func (f *fakeBucket) ListPage(ctx context.Context, prefix, token string, maxKeys int) (listPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	end := min(start+maxKeys, len(keys))
	page := listPage{Keys: append([]string(nil), keys[start:end]...)}
	if end < len(keys) {
		page.Truncated = true
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeBucket) RemoveKeys(ctx context.Context, keys []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, append([]string(nil), keys...))
	if err := f.removeErr[len(f.removes)]; err != nil {
		return 0, err
	}
	for _, k := range keys {
		delete(f.objects, k)
	}
	return len(keys), nil
}

func (f *fakeBucket) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statErr[key]; err != nil {
		return ObjectInfo{}, err
	}
	return f.objects[key], nil
}

func (f *fakeBucket) ReplaceMetadata(ctx context.Context, key string, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.copyErr[key]; err != nil {
		return err
	}
	f.replaced[key] = headers
	return nil
}

func (f *fakeBucket) removeCallSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, 0, len(f.removes))
	for _, r := range f.removes {
		sizes = append(sizes, len(r))
	}
	return sizes
}

// memoryCache is an UploadCache backed by a map.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][2]string
	cleared []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][2]string{}}
}

func (m *memoryCache) Get(ctx context.Context, objectKey, fingerprint string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[objectKey]
	if !ok || e[0] != fingerprint {
		return "", false, nil
	}
	return e[1], true, nil
}

func (m *memoryCache) Set(ctx context.Context, objectKey, fingerprint, publicURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[objectKey] = [2]string{fingerprint, publicURL}
	return nil
}

func (m *memoryCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, prefix)
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}
