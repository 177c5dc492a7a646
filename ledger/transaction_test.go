package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransaction_Net(t *testing.T) {
	tx := Transaction{Withdrawal: decimal.RequireFromString("12.50"), Deposit: decimal.RequireFromString("2.25")}
	assert.Equal(t, "-10.25", tx.Net().String())
	assert.False(t, tx.HasEmbedding())

	tx.Embedding = "[1,2]"
	assert.True(t, tx.HasEmbedding())
}

func TestFingerprint(t *testing.T) {
	ids := []string{"a", "b"}
	vectors := [][]float64{{1, 2}, {3, 4}}

	base := Fingerprint(ids, vectors, 5, 3)
	assert.Len(t, base, 64)
	assert.Equal(t, base, Fingerprint(ids, vectors, 5, 3))

	assert.NotEqual(t, base, Fingerprint(ids, vectors, 5, 4), "params matter")
	assert.NotEqual(t, base, Fingerprint([]string{"a", "c"}, vectors, 5, 3), "ids matter")
	assert.NotEqual(t, base, Fingerprint(ids, [][]float64{{1, 2}, {3, 5}}, 5, 3), "vectors matter")
	assert.NotEqual(t, base, Fingerprint([]string{"ab", ""}, vectors, 5, 3), "ids are delimited")
}
