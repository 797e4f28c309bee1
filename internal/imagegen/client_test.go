package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestClient(url string, opts ...Option) *Client {
	return NewClient(url, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func TestGenerateForwardsPayloadVerbatim(t *testing.T) {
	img := pngBytes(t)
	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sdapi/v1/txt2img", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{
			"images":     []string{base64.StdEncoding.EncodeToString(img), base64.StdEncoding.EncodeToString(img)},
			"parameters": map[string]any{"prompt": "a cat", "steps": 20},
			"info":       `{"seed": 42}`,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL + "/")
	images, err := c.Generate(context.Background(), Payload{
		"prompt":              "a cat",
		"steps":               20,
		"alwayson_scripts":    map[string]any{"controlnet": map[string]any{"args": []any{}}},
		"some_future_setting": true,
	})

	require.NoError(t, err)
	assert.Equal(t, "a cat", got["prompt"])
	assert.Equal(t, float64(20), got["steps"])
	assert.Equal(t, true, got["some_future_setting"])
	assert.Contains(t, got, "alwayson_scripts")

	require.Len(t, images, 2)
	assert.Equal(t, img, images[0].Data)
	assert.Equal(t, `{"seed": 42}`, images[0].Info)
	assert.Equal(t, "a cat", images[1].Parameters["prompt"])

	// both images reference the same parameters map
	images[0].Parameters["marker"] = 1
	assert.Equal(t, 1, images[1].Parameters["marker"])
}

func TestGenerateEmptyImages(t *testing.T) {
	for name, body := range map[string]string{
		"empty list":   `{"images": [], "parameters": {}, "info": ""}`,
		"missing list": `{"parameters": {}}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Generate(context.Background(), Payload{"prompt": "x"})
			assert.ErrorIs(t, err, ErrEmptyResult)
		})
	}
}

func TestGenerateStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), nil)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.StatusCode)
	assert.Contains(t, serr.Body, "model not loaded")
}

func TestGenerateInvalidBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images": ["%%%not-base64"]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), Payload{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyResult)
}

func TestGenerateAllRespectsLimit(t *testing.T) {
	img := base64.StdEncoding.EncodeToString(pngBytes(t))
	var inFlight, maxInFlight int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		if p["prompt"] == "fail" {
			w.Write([]byte(`{"images": []}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"images": []string{img}, "info": p["prompt"]})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithConcurrency(2))
	assert.Equal(t, 2, c.Concurrency())

	payloads := make([]Payload, 9)
	for i := range payloads {
		payloads[i] = Payload{"prompt": string(rune('a' + i))}
	}
	payloads[4] = Payload{"prompt": "fail"}

	results := SortImagesByIndex(c.GenerateAll(context.Background(), payloads))

	require.Len(t, results, 9)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		if i == 4 {
			assert.ErrorIs(t, r.Err, ErrEmptyResult)
			continue
		}
		require.NoError(t, r.Err)
		require.Len(t, r.Images, 1)
		assert.Equal(t, string(rune('a'+i)), r.Images[0].Info)
	}
}

func TestGenerateConcurrentCancelledWhileWaiting(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0", WithConcurrency(1))
	require.NoError(t, c.limiter.Acquire(context.Background(), 1))
	defer c.limiter.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := c.GenerateConcurrent(ctx, Payload{}, 7)
	assert.Equal(t, 7, res.Index)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestDefaultConcurrency(t *testing.T) {
	assert.Equal(t, DefaultConcurrency, newTestClient("http://sd").Concurrency())
	assert.Equal(t, DefaultConcurrency, newTestClient("http://sd", WithConcurrency(0)).Concurrency())
}

func TestDecodeBase64ImageDataURI(t *testing.T) {
	raw := []byte("hello")
	data, err := decodeBase64Image("data:image/png;base64," + base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}

func TestGeneratedImageDecodeAndSave(t *testing.T) {
	g := GeneratedImage{Data: pngBytes(t)}

	img, format, err := g.Decode()
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, ".png", g.Extension())

	path := filepath.Join(t.TempDir(), "out", "0.png")
	require.NoError(t, g.Save(path))
}
