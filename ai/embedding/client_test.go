package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/errors"
)

// fakeProvider answers with status codes from script in order, then 200s.
func fakeProvider(t *testing.T, script []int, retryAfter string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		if n <= len(script) && script[n-1] != http.StatusOK {
			if script[n-1] == http.StatusTooManyRequests && retryAfter != "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			w.WriteHeader(script[n-1])
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		// Reverse order to check the client sorts by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, item{Index: i, Embedding: []float64{float64(len(req.Input[i])), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(baseURL string, attempts int) (*Client, *[]time.Duration) {
	c := NewClient(Config{
		BaseURL:      baseURL + "/v1",
		MaxAttempts:  attempts,
		InitialDelay: 100 * time.Millisecond,
		BatchSize:    2,
	})
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

func TestClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultMaxAttempts, c.config.MaxAttempts)
	assert.Equal(t, DefaultBatchSize, c.config.BatchSize)
	assert.False(t, c.IsConfigured())

	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestClient_EmbedBatchesInOrder(t *testing.T) {
	srv, calls := fakeProvider(t, nil, "")
	c, _ := newTestClient(srv.URL, 3)

	vectors, err := c.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float64{1, 1}, vectors[0])
	assert.Equal(t, []float64{2, 1}, vectors[1])
	assert.Equal(t, []float64{3, 1}, vectors[2])
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_BackoffDoublesDefaultDelay(t *testing.T) {
	srv, calls := fakeProvider(t, []int{429, 429, 429}, "")
	c, waits := newTestClient(srv.URL, 5)

	vectors, err := c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *waits)
}

func TestClient_BackoffUsesRetryAfterHint(t *testing.T) {
	srv, _ := fakeProvider(t, []int{429, 429}, "2")
	c, waits := newTestClient(srv.URL, 5)

	_, err := c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *waits)
}

func TestClient_RateLimitedAfterMaxAttempts(t *testing.T) {
	srv, calls := fakeProvider(t, []int{429, 429, 429, 429}, "")
	c, waits := newTestClient(srv.URL, 3)

	_, err := c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUpstreamRateLimited))
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, *waits, 2)
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	srv, calls := fakeProvider(t, []int{503}, "")
	c, _ := newTestClient(srv.URL, 3)

	_, err := c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUpstreamUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	srv, _ := fakeProvider(t, nil, "")
	url := srv.URL
	srv.Close()

	c, _ := newTestClient(url, 3)
	_, err := c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUpstreamUnavailable))
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	srv, calls := fakeProvider(t, []int{400}, "")
	c, _ := newTestClient(srv.URL, 3)

	_, err := c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_BackoffHonoursCancellation(t *testing.T) {
	srv, _ := fakeProvider(t, []int{429, 429}, "")
	c := NewClient(Config{BaseURL: srv.URL + "/v1", MaxAttempts: 5, InitialDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Embed(ctx, []string{"a"})
	require.Error(t, err)
}

func TestDecodeVectors_CountMismatch(t *testing.T) {
	_, err := decodeVectors([]byte(`{"data":[{"index":0,"embedding":[1]}]}`), 2)
	assert.True(t, errors.IsMalformedInput(err))

	_, err = decodeVectors([]byte(`not json`), 1)
	assert.True(t, errors.IsMalformedInput(err))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d, ok := retryAfter("3", now)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = retryAfter(now.Add(5*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	_, ok = retryAfter("", now)
	assert.False(t, ok)
	_, ok = retryAfter("soon", now)
	assert.False(t, ok)
	_, ok = retryAfter("-1", now)
	assert.False(t, ok)
}
