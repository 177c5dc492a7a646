package errors

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewf(t *testing.T) {
	err := Newf("error: %s %d", "test", 42)
	require.NotNil(t, err)
	assert.Equal(t, "error: test 42", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestInsufficientDataf(t *testing.T) {
	err := InsufficientDataf("need more than %d points, got %d", 3, 2)
	assert.Equal(t, "need more than 3 points, got 2", err.Error())
	assert.True(t, IsInsufficientData(err))
	assert.False(t, IsMalformedInput(err))

	// Class survives further wrapping
	wrapped := Wrap(err, "k-distance")
	assert.True(t, IsInsufficientData(wrapped))
	assert.False(t, IsRetryable(wrapped))
}

func TestMalformedInputf(t *testing.T) {
	err := Wrapf(MalformedInputf("expected %d edges, got %d", 4, 3), "hierarchy")
	assert.True(t, IsMalformedInput(err))
	assert.Contains(t, err.Error(), "expected 4 edges, got 3")
}

func TestWrapUnavailable(t *testing.T) {
	assert.Nil(t, WrapUnavailable(nil, "ignored"))

	err := WrapUnavailable(sql.ErrConnDone, "commit run")
	assert.True(t, Is(err, ErrUpstreamUnavailable))
	assert.True(t, Is(err, sql.ErrConnDone))
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", Wrap(ErrUpstreamRateLimited, "embed"), true},
		{"unavailable", Wrap(ErrUpstreamUnavailable, "embed"), true},
		{"malformed", MalformedInputf("bad"), false},
		{"plain", New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestNotFoundAndInvalidRequest(t *testing.T) {
	nf := NewNotFoundError("transaction %s", "tx-1")
	assert.True(t, IsNotFoundError(nf))
	assert.False(t, IsInvalidRequestError(nf))

	ir := NewInvalidRequestError("limit must be positive")
	assert.True(t, IsInvalidRequestError(ir))
	assert.False(t, IsNotFoundError(ir))
}

func TestWithHint(t *testing.T) {
	err := WithHint(InsufficientDataf("only 2 points"), "ingest more transactions")
	assert.Contains(t, GetAllHints(err), "ingest more transactions")
	assert.True(t, IsInsufficientData(err))
}
