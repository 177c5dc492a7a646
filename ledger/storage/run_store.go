package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
)

// Run describes one committed clustering run.
type Run struct {
	ID             string    `json:"id" yaml:"id"`
	Fingerprint    string    `json:"fingerprint" yaml:"fingerprint"`
	MinClusterSize int       `json:"min_cluster_size" yaml:"min_cluster_size"`
	MinSamples     int       `json:"min_samples" yaml:"min_samples"`
	Alpha          float64   `json:"alpha" yaml:"alpha"`
	Normalized     bool      `json:"normalized" yaml:"normalized"`
	Usable         int       `json:"usable" yaml:"usable"`
	Dropped        int       `json:"dropped" yaml:"dropped"`
	Clusters       int       `json:"clusters" yaml:"clusters"`
	Noise          int       `json:"noise" yaml:"noise"`
	DurationMS     int64     `json:"duration_ms" yaml:"duration_ms"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// Assignment places one transaction in a cluster. Label -1 is noise.
type Assignment struct {
	TransactionID string
	Label         int
	Probability   float64
}

// Centroid is the mean vector of one cluster.
type Centroid struct {
	Label  int
	Size   int
	Vector []float64
}

// CommitRun records run and replaces every stored assignment with
// assignments, all in one database transaction. On any failure nothing
// is changed.
func (s *TransactionStore) CommitRun(ctx context.Context, run *Run, assignments []Assignment, centroids []Centroid) error {
	if run == nil || run.ID == "" {
		return errors.NewInvalidRequestError("run has no id")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapUnavailable(err, "begin run commit")
	}
	defer dbtx.Rollback()

	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO cluster_runs (
			id, fingerprint, min_cluster_size, min_samples, alpha, normalized,
			usable, dropped, clusters, noise, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Fingerprint,
		run.MinClusterSize,
		run.MinSamples,
		run.Alpha,
		run.Normalized,
		run.Usable,
		run.Dropped,
		run.Clusters,
		run.Noise,
		run.DurationMS,
		formatTime(run.CreatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record run %s", run.ID)
	}

	if _, err := dbtx.ExecContext(ctx, `DELETE FROM cluster_assignments`); err != nil {
		return errors.Wrap(err, "failed to clear assignments")
	}

	stmt, err := dbtx.PrepareContext(ctx, `
		INSERT INTO cluster_assignments (transaction_id, run_id, cluster_id, probability)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare assignment insert")
	}
	defer stmt.Close()

	for _, a := range assignments {
		var cluster sql.NullInt64
		if a.Label >= 0 {
			cluster = sql.NullInt64{Int64: int64(a.Label), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, a.TransactionID, run.ID, cluster, a.Probability); err != nil {
			return errors.Wrapf(err, "failed to assign transaction %s", a.TransactionID)
		}
	}

	for _, c := range centroids {
		text, err := vecmath.FormatJSON(c.Vector)
		if err != nil {
			return errors.Wrapf(err, "encode centroid of cluster %d", c.Label)
		}
		if _, err := dbtx.ExecContext(ctx,
			`INSERT INTO cluster_centroids (run_id, cluster_id, size, centroid) VALUES (?, ?, ?, ?)`,
			run.ID, c.Label, c.Size, text,
		); err != nil {
			return errors.Wrapf(err, "failed to store centroid of cluster %d", c.Label)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return errors.Wrapf(err, "commit run %s", run.ID)
	}

	s.logger.Infow("committed clustering run",
		logger.FieldRunID, run.ID,
		logger.FieldCount, len(assignments),
		logger.FieldClusters, run.Clusters,
		logger.FieldNoise, run.Noise)
	return nil
}

const selectRun = `
	SELECT id, fingerprint, min_cluster_size, min_samples, alpha, normalized,
	       usable, dropped, clusters, noise, duration_ms, created_at
	FROM cluster_runs`

// LatestRun returns the most recently committed run.
func (s *TransactionStore) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no clustering run has been committed")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest run")
	}
	return run, nil
}

// ListRuns returns run history, newest first. limit <= 0 means no limit.
func (s *TransactionStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := selectRun + ` ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapUnavailable(err, "list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating runs")
	}
	return runs, nil
}

// Centroids returns the cluster centroids stored with a run.
func (s *TransactionStore) Centroids(ctx context.Context, runID string) ([]Centroid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cluster_id, size, centroid FROM cluster_centroids WHERE run_id = ? ORDER BY cluster_id`, runID)
	if err != nil {
		return nil, errors.WrapUnavailable(err, "list centroids")
	}
	defer rows.Close()

	var out []Centroid
	for rows.Next() {
		var c Centroid
		var text string
		if err := rows.Scan(&c.Label, &c.Size, &text); err != nil {
			return nil, errors.Wrap(err, "failed to scan centroid")
		}
		if c.Vector, err = vecmath.ParseJSON(text); err != nil {
			return nil, errors.Wrapf(err, "centroid of cluster %d", c.Label)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating centroids")
	}
	return out, nil
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var created string
	if err := row.Scan(
		&r.ID,
		&r.Fingerprint,
		&r.MinClusterSize,
		&r.MinSamples,
		&r.Alpha,
		&r.Normalized,
		&r.Usable,
		&r.Dropped,
		&r.Clusters,
		&r.Noise,
		&r.DurationMS,
		&created,
	); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, errors.Wrapf(err, "run %s has invalid timestamp", r.ID)
	}
	return &r, nil
}
