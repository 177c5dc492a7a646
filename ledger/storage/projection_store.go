package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/util"
	"github.com/teranos/tally/logger"
)

// Projection is the 2D position of one transaction.
type Projection struct {
	TransactionID string  `json:"id" yaml:"id"`
	X             float64 `json:"x" yaml:"x"`
	Y             float64 `json:"y" yaml:"y"`
}

// ProjectedPoint is a stored projection joined with the latest cluster
// assignment. Cluster is nil for noise and for unassigned transactions.
type ProjectedPoint struct {
	ID      string  `json:"id" yaml:"id"`
	Cluster *int    `json:"cluster" yaml:"cluster"`
	X       float64 `json:"x" yaml:"x"`
	Y       float64 `json:"y" yaml:"y"`
}

// ReplaceProjections swaps the stored projection set for points in one
// database transaction.
func (s *TransactionStore) ReplaceProjections(ctx context.Context, points []Projection) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapUnavailable(err, "begin projection commit")
	}
	defer dbtx.Rollback()

	if _, err := dbtx.ExecContext(ctx, `DELETE FROM projections`); err != nil {
		return errors.Wrap(err, "failed to clear projections")
	}

	stmt, err := dbtx.PrepareContext(ctx,
		`INSERT INTO projections (transaction_id, x, y, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare projection insert")
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.TransactionID, p.X, p.Y, now); err != nil {
			return errors.Wrapf(err, "failed to store projection of %s", p.TransactionID)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return errors.Wrap(err, "commit projections")
	}

	s.logger.Debugw("stored projections", logger.FieldCount, len(points))
	return nil
}

// ListProjections returns every stored projection ordered by id.
func (s *TransactionStore) ListProjections(ctx context.Context) ([]ProjectedPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.transaction_id, a.cluster_id, p.x, p.y
		FROM projections p
		LEFT JOIN cluster_assignments a ON a.transaction_id = p.transaction_id
		ORDER BY p.transaction_id`)
	if err != nil {
		return nil, errors.WrapUnavailable(err, "list projections")
	}
	defer rows.Close()

	var out []ProjectedPoint
	for rows.Next() {
		var p ProjectedPoint
		var cluster sql.NullInt64
		if err := rows.Scan(&p.ID, &cluster, &p.X, &p.Y); err != nil {
			return nil, errors.Wrap(err, "failed to scan projection")
		}
		if cluster.Valid {
			p.Cluster = util.Ptr(int(cluster.Int64))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating projections")
	}
	return out, nil
}
