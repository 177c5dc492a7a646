package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
	tallytest "github.com/teranos/tally/internal/testing"
	"github.com/teranos/tally/ledger"
)

func newTestStore(t *testing.T) *TransactionStore {
	return NewTransactionStore(tallytest.CreateTestDB(t), zap.NewNop().Sugar())
}

func sampleTx(id string, day int, embedding string) ledger.Transaction {
	return ledger.Transaction{
		ID:           id,
		Date:         time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC),
		Description:  "coffee " + id,
		Category:     "food",
		Counterparty: "Cafe",
		Withdrawal:   decimal.RequireFromString("3.50"),
		Deposit:      decimal.Zero,
		Embedding:    embedding,
	}
}

func TestTransactionStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := sampleTx("t1", 5, "[1,2]")
	require.NoError(t, store.Save(ctx, &tx))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "coffee t1", got.Description)
	assert.True(t, got.Withdrawal.Equal(decimal.RequireFromString("3.5")))
	assert.True(t, got.Deposit.IsZero())
	assert.Equal(t, tx.Date, got.Date)
	assert.Equal(t, "[1,2]", got.Embedding)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTransactionStore_UpsertKeepsEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := sampleTx("t1", 5, "[1,2]")
	require.NoError(t, store.Save(ctx, &first))

	again := sampleTx("t1", 6, "")
	again.Description = "renamed"
	require.NoError(t, store.Save(ctx, &again))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Description)
	assert.Equal(t, 6, got.Date.Day())
	assert.Equal(t, "[1,2]", got.Embedding)
}

func TestTransactionStore_SaveBatchRejectsMissingID(t *testing.T) {
	store := newTestStore(t)
	err := store.SaveBatch(context.Background(), []ledger.Transaction{sampleTx("", 1, "")})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestTransactionStore_SnapshotAndMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, []ledger.Transaction{
		sampleTx("b", 2, "[0,1]"),
		sampleTx("a", 1, "[1,0]"),
		sampleTx("c", 3, ""),
	}))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "b", snap[1].ID)

	missing, err := store.ListMissingEmbeddings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "c", missing[0].ID)

	require.NoError(t, store.SetEmbedding(ctx, "c", "[1,1]"))
	total, embedded, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, embedded)

	assert.True(t, errors.IsNotFoundError(store.SetEmbedding(ctx, "zzz", "[1]")))
}

func seedRun(t *testing.T, store *TransactionStore, runID string, labels map[string]int) {
	t.Helper()
	var assignments []Assignment
	for id, l := range labels {
		assignments = append(assignments, Assignment{TransactionID: id, Label: l, Probability: 1})
	}
	run := &Run{ID: runID, Fingerprint: "fp-" + runID, MinClusterSize: 2, MinSamples: 2, Alpha: 1, Usable: len(labels)}
	require.NoError(t, store.CommitRun(context.Background(), run, assignments, []Centroid{
		{Label: 0, Size: 2, Vector: []float64{0.5, 0.5}},
	}))
}

func TestTransactionStore_CommitRunReplacesAssignments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, []ledger.Transaction{
		sampleTx("a", 1, "[1,0]"),
		sampleTx("b", 2, "[0,1]"),
		sampleTx("c", 3, "[5,5]"),
	}))

	seedRun(t, store, "run-1", map[string]int{"a": 0, "b": 0, "c": -1})
	seedRun(t, store, "run-2", map[string]int{"a": 0, "b": 1})

	labels, err := store.Labels(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, labels)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)

	centroids, err := store.Centroids(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, centroids, 1)
	assert.Equal(t, []float64{0.5, 0.5}, centroids[0].Vector)
}

func TestTransactionStore_CommitRunIsAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, []ledger.Transaction{
		sampleTx("a", 1, "[1,0]"),
		sampleTx("b", 2, "[0,1]"),
	}))
	seedRun(t, store, "run-1", map[string]int{"a": 0, "b": -1})

	// The second assignment references a transaction that does not exist,
	// so the foreign key fails halfway through the commit.
	err := store.CommitRun(ctx, &Run{ID: "run-2"}, []Assignment{
		{TransactionID: "a", Label: 3},
		{TransactionID: "ghost", Label: 3},
	}, nil)
	require.Error(t, err)

	labels, err := store.Labels(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": -1}, labels)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest.ID)
}

func TestTransactionStore_CommitRunRollsBackOnExecError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cluster_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM cluster_assignments").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectPrepare("INSERT INTO cluster_assignments").
		ExpectExec().
		WillReturnError(fmt.Errorf("disk I/O error"))
	mock.ExpectRollback()

	store := NewTransactionStore(mockDB, nil)
	err = store.CommitRun(context.Background(), &Run{ID: "run-x"}, []Assignment{
		{TransactionID: "a", Label: 0},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to assign transaction a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionStore_LatestRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LatestRun(context.Background())
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTransactionStore_ListClustered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	feb := sampleTx("feb", 1, "[1,0]")
	feb.Date = time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	other := sampleTx("old", 1, "[1,0]")
	other.Date = time.Date(2023, time.March, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveBatch(ctx, []ledger.Transaction{
		sampleTx("m1", 1, "[1,0]"),
		sampleTx("m2", 2, "[0,1]"),
		sampleTx("unassigned", 3, "[0,1]"),
		feb,
		other,
	}))
	seedRun(t, store, "run-1", map[string]int{"m1": 0, "m2": -1, "feb": 0, "old": 0})

	all, err := store.ListClustered(ctx, ClusteredFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "old", all[0].Transaction.ID)

	march, err := store.ListClustered(ctx, ClusteredFilter{Month: 3, Year: 2024})
	require.NoError(t, err)
	require.Len(t, march, 2)
	assert.Equal(t, "m1", march[0].Transaction.ID)
	assert.Equal(t, 0, march[0].Label)
	assert.Equal(t, "m2", march[1].Transaction.ID)
	assert.Equal(t, -1, march[1].Label)

	anyMarch, err := store.ListClustered(ctx, ClusteredFilter{Month: 3})
	require.NoError(t, err)
	assert.Len(t, anyMarch, 3)

	limited, err := store.ListClustered(ctx, ClusteredFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	clusteredOnly, err := store.ListClustered(ctx, ClusteredFilter{Month: 3, Year: 2024, ExcludeNoise: true})
	require.NoError(t, err)
	require.Len(t, clusteredOnly, 1)
	assert.Equal(t, "m1", clusteredOnly[0].Transaction.ID)

	noise, err := store.CountNoise(ctx, ClusteredFilter{Month: 3, Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, 1, noise)
	noise, err = store.CountNoise(ctx, ClusteredFilter{Year: 2023})
	require.NoError(t, err)
	assert.Equal(t, 0, noise)
	_, err = store.CountNoise(ctx, ClusteredFilter{Month: 13})
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = store.ListClustered(ctx, ClusteredFilter{Month: 13})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestTransactionStore_Projections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, []ledger.Transaction{
		sampleTx("a", 1, "[1,0]"),
		sampleTx("b", 2, "[0,1]"),
		sampleTx("c", 3, "[0,1]"),
	}))
	seedRun(t, store, "run-1", map[string]int{"a": 0, "b": -1})

	require.NoError(t, store.ReplaceProjections(ctx, []Projection{
		{TransactionID: "a", X: 1, Y: 2},
		{TransactionID: "b", X: 3, Y: 4},
		{TransactionID: "c", X: 5, Y: 6},
	}))

	points, err := store.ListProjections(ctx)
	require.NoError(t, err)
	require.Len(t, points, 3)
	require.NotNil(t, points[0].Cluster)
	assert.Equal(t, 0, *points[0].Cluster)
	assert.Nil(t, points[1].Cluster)
	assert.Nil(t, points[2].Cluster)
	assert.Equal(t, 5.0, points[2].X)

	// A failing replacement leaves the previous set in place.
	err = store.ReplaceProjections(ctx, []Projection{
		{TransactionID: "a", X: 9, Y: 9},
		{TransactionID: "ghost", X: 9, Y: 9},
	})
	require.Error(t, err)

	points, err = store.ListProjections(ctx)
	require.NoError(t, err)
	assert.Len(t, points, 3)
	assert.Equal(t, 1.0, points[0].X)
}

func TestTransactionStore_DeleteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, []ledger.Transaction{sampleTx("a", 1, "[1,0]")}))
	seedRun(t, store, "run-1", map[string]int{"a": 0})

	require.NoError(t, store.Delete(ctx, "a"))
	labels, err := store.Labels(ctx)
	require.NoError(t, err)
	assert.Empty(t, labels)

	assert.True(t, errors.IsNotFoundError(store.Delete(ctx, "a")))
}
