package summary

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/cluster/hdbscan"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ledger"
)

func tx(id, category, counterparty, out, in string) ledger.Transaction {
	return ledger.Transaction{
		ID:           id,
		Category:     category,
		Counterparty: counterparty,
		Withdrawal:   decimal.RequireFromString(out),
		Deposit:      decimal.RequireFromString(in),
	}
}

func fixture() ([]ledger.Transaction, []int) {
	txs := []ledger.Transaction{
		tx("1", "groceries", "Aldi", "20.00", "0"),
		tx("2", "salary", "ACME", "0", "1500.00"),
		tx("3", "dining", "Lidl", "10.01", "0"),
		tx("4", "groceries", "Lidl", "30.00", "0"),
		tx("5", "dining", "Aldi", "5.00", "0"),
		tx("6", "misc", "", "1.00", "0"),
	}
	labels := []int{1, 0, 1, 1, 1, hdbscan.Noise}
	return txs, labels
}

func TestSummarize(t *testing.T) {
	txs, labels := fixture()

	groups, overview, err := Summarize(txs, labels, false)
	require.NoError(t, err)
	assert.Equal(t, Overview{Total: 6, Clustered: 5, Noise: 1, ClusterCount: 2}, overview)
	require.Len(t, groups, 2)

	salary := groups[0]
	assert.Equal(t, 0, salary.Label)
	assert.Equal(t, 1, salary.Count)
	assert.Equal(t, "1500", salary.TotalIncoming.String())
	assert.Equal(t, "1500", salary.MeanIncoming.String())
	assert.True(t, salary.TotalOutgoing.IsZero())
	assert.Equal(t, "ACME", salary.TopCounterparty)

	shopping := groups[1]
	assert.Equal(t, 1, shopping.Label)
	assert.Equal(t, 4, shopping.Count)
	assert.Equal(t, "65.01", shopping.TotalOutgoing.String())
	assert.Equal(t, "16.25", shopping.MeanOutgoing.String())
	assert.True(t, shopping.TotalIncoming.IsZero())
	// groceries and dining tie at 2; groceries came first
	assert.Equal(t, "groceries", shopping.TopCategory)
	// Aldi and Lidl tie at 2; Aldi came first
	assert.Equal(t, "Aldi", shopping.TopCounterparty)

	ids := make([]string, 0, len(shopping.Transactions))
	for _, tx := range shopping.Transactions {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"1", "3", "4", "5"}, ids)
}

func TestSummarize_IncludeNoise(t *testing.T) {
	txs, labels := fixture()

	groups, overview, err := Summarize(txs, labels, true)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, 2, overview.ClusterCount)

	noise := groups[2]
	assert.True(t, noise.IsNoise())
	assert.Equal(t, 1, noise.Count)
	assert.Equal(t, "misc", noise.TopCategory)
	assert.Equal(t, "", noise.TopCounterparty)
}

func TestSummarize_Idempotent(t *testing.T) {
	txs, labels := fixture()

	first, firstOverview, err := Summarize(txs, labels, true)
	require.NoError(t, err)
	second, secondOverview, err := Summarize(txs, labels, true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstOverview, secondOverview)
}

func TestSummarize_Invalid(t *testing.T) {
	txs, _ := fixture()

	_, _, err := Summarize(txs, []int{0}, false)
	assert.True(t, errors.IsMalformedInput(err))

	_, _, err = Summarize(txs[:1], []int{-2}, false)
	assert.True(t, errors.IsMalformedInput(err))
}

func TestSummarize_Empty(t *testing.T) {
	groups, overview, err := Summarize(nil, nil, true)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Equal(t, Overview{}, overview)
}
