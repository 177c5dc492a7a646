// Package embedding fetches text embeddings from an OpenAI-compatible
// /embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
)

const (
	DefaultModel        = "nomic-embed-text"
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second
	DefaultBatchSize    = 32
	DefaultTimeout      = 30 * time.Second
)

// Config holds embedding client configuration
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	// MaxAttempts bounds how many requests are made for one batch while
	// the provider keeps answering 429.
	MaxAttempts int
	// InitialDelay is the wait before the first retry when the provider
	// gives no Retry-After hint. It doubles after every retry.
	InitialDelay      time.Duration
	RequestsPerMinute int // 0 = unpaced
	BatchSize         int
	Timeout           time.Duration
	Logger            *zap.SugaredLogger // nil = nop logger
}

// Client posts texts to an embeddings endpoint.
type Client struct {
	config     Config
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new embedding client, filling unset config fields
// with defaults.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultInitialDelay
	}
	if config.BatchSize < 1 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(config.RequestsPerMinute) / 60.0)
	}

	return &Client{
		config:     config,
		endpoint:   strings.TrimRight(config.BaseURL, "/") + "/embeddings",
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     log.Named("embedding"),
		sleep:      sleepContext,
	}
}

// IsConfigured reports whether an endpoint has been set.
func (c *Client) IsConfigured() bool {
	return c.config.BaseURL != ""
}

// Model returns the embedding model requests are made for.
func (c *Client) Model() string {
	return c.config.Model
}

// SetHTTPClient allows overriding the HTTP client for testing
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in order. Texts are sent in batches;
// if any batch fails nothing is returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if !c.IsConfigured() {
		return nil, errors.WithHint(
			errors.New("embedding endpoint not configured"),
			"set embedding.base_url in tally.toml")
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// embedBatch sends one request, retrying while the provider answers 429.
// The wait before a retry is the provider's Retry-After hint when present,
// otherwise the current default delay; the default doubles every retry.
func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.config.Model, Input: texts})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	delay := c.config.InitialDelay
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for request slot")
		}

		resp, err := c.post(ctx, body)
		if err != nil {
			return nil, errors.WrapUnavailable(err, "embedding request")
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, errors.WrapUnavailable(readErr, "read embedding response")
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= c.config.MaxAttempts {
				return nil, errors.Mark(
					errors.Newf("embedding provider still rate limiting after %d attempts", attempt),
					errors.ErrUpstreamRateLimited)
			}
			wait := delay
			if hint, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				wait = hint
			}
			c.logger.Warnw("embedding provider rate limited, backing off",
				logger.FieldAttempt, attempt,
				logger.FieldDelayMS, wait.Milliseconds())
			if err := c.sleep(ctx, wait); err != nil {
				return nil, errors.Wrap(err, "backoff interrupted")
			}
			delay *= 2
			continue

		case resp.StatusCode >= 500:
			return nil, errors.Mark(
				errors.Newf("embedding provider failed with status %d: %s", resp.StatusCode, truncate(respBody)),
				errors.ErrUpstreamUnavailable)

		case resp.StatusCode != http.StatusOK:
			return nil, errors.Newf("embedding request failed with status %d: %s", resp.StatusCode, truncate(respBody))
		}

		vectors, err := decodeVectors(respBody, len(texts))
		if err != nil {
			return nil, err
		}
		if attempt > 1 {
			c.logger.Infow("embedding request succeeded after retries", logger.FieldAttempt, attempt)
		}
		return vectors, nil
	}
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return c.httpClient.Do(req)
}

func decodeVectors(body []byte, want int) ([][]float64, error) {
	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to unmarshal embedding response"), errors.ErrMalformedInput)
	}
	if len(parsed.Data) != want {
		return nil, errors.MalformedInputf("embedding response has %d vectors for %d inputs", len(parsed.Data), want)
	}
	sort.SliceStable(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float64, want)
	for i, d := range parsed.Data {
		if len(d.Embedding) == 0 {
			return nil, errors.MalformedInputf("embedding %d is empty", i)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// retryAfter reads a Retry-After header given either as seconds or as an
// HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
