// Package storage persists transactions, clustering runs and projections
// in sqlite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ledger"
	"github.com/teranos/tally/logger"
)

// TransactionStore provides database operations for transactions and the
// results computed over them.
type TransactionStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewTransactionStore creates a new transaction store
func NewTransactionStore(db *sql.DB, log *zap.SugaredLogger) *TransactionStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TransactionStore{
		db:     db,
		logger: log.Named("storage"),
	}
}

const upsertTransaction = `
	INSERT INTO transactions (
		id, occurred_at, description, category, counterparty,
		withdrawal, deposit, embedding, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		occurred_at = excluded.occurred_at,
		description = excluded.description,
		category = excluded.category,
		counterparty = excluded.counterparty,
		withdrawal = excluded.withdrawal,
		deposit = excluded.deposit,
		embedding = CASE WHEN excluded.embedding = '' THEN transactions.embedding ELSE excluded.embedding END,
		updated_at = excluded.updated_at
`

// Save inserts or updates one transaction. An empty embedding never
// overwrites a stored one.
func (s *TransactionStore) Save(ctx context.Context, tx *ledger.Transaction) error {
	if tx == nil {
		return errors.New("transaction is nil")
	}
	return s.SaveBatch(ctx, []ledger.Transaction{*tx})
}

// SaveBatch upserts txs in a single database transaction.
func (s *TransactionStore) SaveBatch(ctx context.Context, txs []ledger.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	for i := range txs {
		if txs[i].ID == "" {
			return errors.NewInvalidRequestError("transaction %d has no id", i)
		}
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapUnavailable(err, "begin transaction batch")
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, upsertTransaction)
	if err != nil {
		return errors.Wrap(err, "prepare transaction upsert")
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, t := range txs {
		if _, err := stmt.ExecContext(ctx,
			t.ID,
			formatTime(t.Date),
			t.Description,
			t.Category,
			t.Counterparty,
			t.Withdrawal.String(),
			t.Deposit.String(),
			t.Embedding,
			now,
			now,
		); err != nil {
			return errors.Wrapf(err, "failed to save transaction %s", t.ID)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction batch")
	}

	s.logger.Debugw("saved transactions", logger.FieldCount, len(txs))
	return nil
}

// SetEmbedding stores the embedding JSON of one transaction.
func (s *TransactionStore) SetEmbedding(ctx context.Context, id, embedding string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET embedding = ?, updated_at = ? WHERE id = ?`,
		embedding, formatTime(time.Now()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set embedding for %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("transaction %s not found", id)
	}
	return nil
}

// Delete removes a transaction; its assignment and projection go with it.
func (s *TransactionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete transaction %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("transaction %s not found", id)
	}
	return nil
}

const selectTransaction = `
	SELECT t.id, t.occurred_at, t.description, t.category, t.counterparty,
	       t.withdrawal, t.deposit, t.embedding
	FROM transactions t`

// Get retrieves a transaction by id.
func (s *TransactionStore) Get(ctx context.Context, id string) (*ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, selectTransaction+` WHERE t.id = ?`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("transaction %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get transaction %s", id)
	}
	return t, nil
}

// Count returns how many transactions are stored and how many of them
// carry an embedding.
func (s *TransactionStore) Count(ctx context.Context) (total, embedded int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN embedding != '' THEN 1 ELSE 0 END), 0) FROM transactions`,
	).Scan(&total, &embedded)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to count transactions")
	}
	return total, embedded, nil
}

// ListMissingEmbeddings returns up to limit transactions that have no
// embedding yet, oldest first. limit <= 0 means no limit.
func (s *TransactionStore) ListMissingEmbeddings(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	query := selectTransaction + ` WHERE t.embedding = '' ORDER BY t.occurred_at, t.id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryTransactions(ctx, query, args...)
}

// Snapshot returns the embedding text of every transaction that has one,
// ordered by id so repeated snapshots of unchanged data are identical.
func (s *TransactionStore) Snapshot(ctx context.Context) ([]vecmath.RawPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM transactions WHERE embedding != '' ORDER BY id`)
	if err != nil {
		return nil, errors.WrapUnavailable(err, "snapshot embeddings")
	}
	defer rows.Close()

	var points []vecmath.RawPoint
	for rows.Next() {
		var p vecmath.RawPoint
		if err := rows.Scan(&p.ID, &p.Embedding); err != nil {
			return nil, errors.Wrap(err, "failed to scan embedding")
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating embeddings")
	}
	return points, nil
}

// ClusteredFilter narrows ListClustered. Zero fields do not filter.
type ClusteredFilter struct {
	Month int
	Year  int
	Limit int
	// ExcludeNoise leaves out transactions in no cluster, so Limit counts
	// clustered transactions only.
	ExcludeNoise bool
}

// dateWhere returns the conditions for the month and year of f.
func (f ClusteredFilter) dateWhere() ([]string, []any, error) {
	var where []string
	var args []any
	if f.Year > 0 {
		where = append(where, `strftime('%Y', t.occurred_at) = ?`)
		args = append(args, fmt.Sprintf("%04d", f.Year))
	}
	if f.Month > 0 {
		if f.Month > 12 {
			return nil, nil, errors.NewInvalidRequestError("month %d out of range", f.Month)
		}
		where = append(where, `strftime('%m', t.occurred_at) = ?`)
		args = append(args, fmt.Sprintf("%02d", f.Month))
	}
	return where, args, nil
}

// Labelled is a transaction with its assignment in the latest run.
type Labelled struct {
	Transaction ledger.Transaction
	// Label is the cluster id, or -1 for noise.
	Label       int
	Probability float64
}

// ListClustered returns the transactions assigned by the latest committed
// run, ordered by date then id.
func (s *TransactionStore) ListClustered(ctx context.Context, f ClusteredFilter) ([]Labelled, error) {
	where, args, err := f.dateWhere()
	if err != nil {
		return nil, err
	}
	if f.ExcludeNoise {
		where = append(where, `a.cluster_id IS NOT NULL`)
	}

	query := `
		SELECT t.id, t.occurred_at, t.description, t.category, t.counterparty,
		       t.withdrawal, t.deposit, t.embedding,
		       a.cluster_id, a.probability
		FROM transactions t
		JOIN cluster_assignments a ON a.transaction_id = t.id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY t.occurred_at, t.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapUnavailable(err, "list clustered transactions")
	}
	defer rows.Close()

	var out []Labelled
	for rows.Next() {
		var l Labelled
		var occurred, withdrawal, deposit string
		var cluster sql.NullInt64
		if err := rows.Scan(
			&l.Transaction.ID,
			&occurred,
			&l.Transaction.Description,
			&l.Transaction.Category,
			&l.Transaction.Counterparty,
			&withdrawal,
			&deposit,
			&l.Transaction.Embedding,
			&cluster,
			&l.Probability,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan clustered transaction")
		}
		if err := fillTransaction(&l.Transaction, occurred, withdrawal, deposit); err != nil {
			return nil, err
		}
		l.Label = -1
		if cluster.Valid {
			l.Label = int(cluster.Int64)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating clustered transactions")
	}
	return out, nil
}

// CountNoise returns how many transactions the latest run left in no
// cluster, within the month and year of f.
func (s *TransactionStore) CountNoise(ctx context.Context, f ClusteredFilter) (int, error) {
	where, args, err := f.dateWhere()
	if err != nil {
		return 0, err
	}
	where = append(where, `a.cluster_id IS NULL`)
	query := `
		SELECT COUNT(*)
		FROM transactions t
		JOIN cluster_assignments a ON a.transaction_id = t.id
		WHERE ` + strings.Join(where, ` AND `)

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.WrapUnavailable(err, "count noise")
	}
	return n, nil
}

// Labels returns the latest run's cluster id per transaction id, -1 for
// noise. Transactions without an assignment are absent.
func (s *TransactionStore) Labels(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT transaction_id, cluster_id FROM cluster_assignments`)
	if err != nil {
		return nil, errors.WrapUnavailable(err, "list assignments")
	}
	defer rows.Close()

	labels := make(map[string]int)
	for rows.Next() {
		var id string
		var cluster sql.NullInt64
		if err := rows.Scan(&id, &cluster); err != nil {
			return nil, errors.Wrap(err, "failed to scan assignment")
		}
		labels[id] = -1
		if cluster.Valid {
			labels[id] = int(cluster.Int64)
		}
	}
	return labels, rows.Err()
}

func (s *TransactionStore) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapUnavailable(err, "query transactions")
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan transaction")
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating transactions")
	}
	return txs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var occurred, withdrawal, deposit string
	if err := row.Scan(
		&t.ID,
		&occurred,
		&t.Description,
		&t.Category,
		&t.Counterparty,
		&withdrawal,
		&deposit,
		&t.Embedding,
	); err != nil {
		return nil, err
	}
	if err := fillTransaction(&t, occurred, withdrawal, deposit); err != nil {
		return nil, err
	}
	return &t, nil
}

func fillTransaction(t *ledger.Transaction, occurred, withdrawal, deposit string) error {
	var err error
	if t.Date, err = parseTime(occurred); err != nil {
		return errors.Wrapf(err, "transaction %s has invalid date %q", t.ID, occurred)
	}
	if t.Withdrawal, err = decimal.NewFromString(withdrawal); err != nil {
		return errors.Wrapf(err, "transaction %s has invalid withdrawal %q", t.ID, withdrawal)
	}
	if t.Deposit, err = decimal.NewFromString(deposit); err != nil {
		return errors.Wrapf(err, "transaction %s has invalid deposit %q", t.ID, deposit)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// The sqlite driver hands DATETIME columns back as time values, which
// database/sql renders as RFC3339Nano when scanned into a string.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
