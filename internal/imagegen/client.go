package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andresuchdata/r2gen/internal/config"
	"github.com/andresuchdata/r2gen/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	txt2imgPath = "/sdapi/v1/txt2img"

	DefaultConcurrency = 3
	defaultTimeout     = 300 * time.Second
	maxErrorBody       = 4096
)

// Client talks to a Stable Diffusion web API instance.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	concurrency int
	limiter     *semaphore.Weighted
	log         zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithConcurrency sets how many generation requests this client keeps in flight.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a client for the service at baseURL, e.g. http://127.0.0.1:7860.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		concurrency: DefaultConcurrency,
		log:         logger.Component("imagegen"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = semaphore.NewWeighted(int64(c.concurrency))
	return c
}

// NewClientFromConfig builds a client from the StableDiffusion section of the config.
func NewClientFromConfig(cfg config.StableDiffusionConfig, opts ...Option) *Client {
	base := []Option{WithConcurrency(cfg.Concurrency)}
	if cfg.Timeout > 0 {
		base = append(base, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return NewClient(cfg.BaseURL, append(base, opts...)...)
}

// Concurrency reports the limit shared by all calls on this client.
func (c *Client) Concurrency() int {
	return c.concurrency
}

type txt2imgResponse struct {
	Images     []string        `json:"images"`
	Parameters map[string]any  `json:"parameters"`
	Info       json.RawMessage `json:"info"`
}

// Generate issues one txt2img request and decodes every returned image.
func (c *Client) Generate(ctx context.Context, payload Payload) ([]GeneratedImage, error) {
	if payload == nil {
		payload = Payload{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+txt2imgPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var result txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Images) == 0 {
		return nil, ErrEmptyResult
	}

	params := result.Parameters
	if params == nil {
		params = map[string]any{}
	}
	info := infoString(result.Info)

	images := make([]GeneratedImage, 0, len(result.Images))
	for i, encoded := range result.Images {
		data, err := decodeBase64Image(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		images = append(images, GeneratedImage{
			Data:       data,
			Parameters: params,
			Info:       info,
		})
	}

	c.log.Debug().
		Int("images", len(images)).
		Dur("latency", time.Since(start)).
		Msg("txt2img finished")

	return images, nil
}

// GenerateConcurrent runs Generate once a slot of the client's limiter is free and
// tags the outcome with index.
func (c *Client) GenerateConcurrent(ctx context.Context, payload Payload, index int) IndexedImages {
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return IndexedImages{Index: index, Err: fmt.Errorf("could not acquire limiter: %w", err)}
	}
	defer c.limiter.Release(1)

	images, err := c.Generate(ctx, payload)
	if err != nil {
		c.log.Error().Err(err).Int("index", index).Msg("image generation failed")
	}
	return IndexedImages{Index: index, Images: images, Err: err}
}

// GenerateAll dispatches every payload through GenerateConcurrent. Results arrive
// in completion order; a failed payload never stops the others.
func (c *Client) GenerateAll(ctx context.Context, payloads []Payload) []IndexedImages {
	results := make(chan IndexedImages, len(payloads))

	var g errgroup.Group
	for i, p := range payloads {
		g.Go(func() error {
			results <- c.GenerateConcurrent(ctx, p, i)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := make([]IndexedImages, 0, len(payloads))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// decodeBase64Image accepts plain base64 as well as a data URI.
func decodeBase64Image(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, ","); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}

// infoString returns info verbatim; the web UI sends it as a JSON encoded string.
func infoString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
