package ingest

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
)

// DefaultEmbedBatchSize is how many transactions are embedded per round.
const DefaultEmbedBatchSize = 64

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbedResult summarizes one FillEmbeddings call.
type EmbedResult struct {
	Embedded   int   `json:"embedded" yaml:"embedded"`
	Rounds     int   `json:"rounds" yaml:"rounds"`
	DurationMS int64 `json:"duration_ms" yaml:"duration_ms"`
}

// FillEmbeddings embeds every stored transaction that has no embedding
// yet, batchSize at a time. Work done before an error stays committed, so
// a failed fill can be resumed by calling it again.
func FillEmbeddings(ctx context.Context, store Store, embedder Embedder, batchSize int, log *zap.SugaredLogger) (*EmbedResult, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = logger.FromContext(ctx, log.Named("ingest"))
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}

	start := time.Now()
	result := &EmbedResult{}
	for {
		pending, err := store.ListMissingEmbeddings(ctx, batchSize)
		if err != nil {
			return result, err
		}
		if len(pending) == 0 {
			break
		}

		texts := make([]string, len(pending))
		for i, tx := range pending {
			texts[i] = embeddingText(tx.Description, tx.Counterparty, tx.Category, tx.ID)
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return result, err
		}
		if len(vectors) != len(pending) {
			return result, errors.MalformedInputf("embedder returned %d vectors for %d texts", len(vectors), len(pending))
		}

		for i, tx := range pending {
			text, err := vecmath.FormatJSON(vectors[i])
			if err != nil {
				return result, err
			}
			if err := store.SetEmbedding(ctx, tx.ID, text); err != nil {
				return result, err
			}
		}
		result.Embedded += len(pending)
		result.Rounds++
		log.Debugw("Embedded batch", logger.FieldCount, len(pending), "round", result.Rounds)
	}

	result.DurationMS = time.Since(start).Milliseconds()
	log.Infow("Embedding fill completed",
		logger.FieldCount, result.Embedded,
		logger.FieldDurationMS, result.DurationMS)
	return result, nil
}

// embeddingText is the text sent to the embedding service for one
// transaction. It is never empty, so every row gets a vector.
func embeddingText(description, counterparty, category, id string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{description, counterparty, category} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return id
	}
	return strings.Join(parts, " | ")
}
