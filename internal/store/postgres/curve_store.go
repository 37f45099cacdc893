package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// CurveStore implements domain.CurveStore using PostgreSQL. Every published
// slice is appended, so the table holds the full fit history.
type CurveStore struct {
	pool *pgxpool.Pool
}

// NewCurveStore creates a new CurveStore backed by the given connection pool.
func NewCurveStore(pool *pgxpool.Pool) *CurveStore {
	return &CurveStore{pool: pool}
}

const curveSelectCols = `root, expiry, a, b, rho, m, sigma,
	time_to_exp, residual, num_strikes, snapshot_id, fitted_at`

func scanCurveRows(rows pgx.Rows) ([]domain.SmileParameters, error) {
	var curves []domain.SmileParameters
	for rows.Next() {
		var p domain.SmileParameters
		if err := rows.Scan(
			&p.Root, &p.Expiry, &p.A, &p.B, &p.Rho, &p.M, &p.Sigma,
			&p.TimeToExp, &p.Residual, &p.NumStrikes, &p.SnapshotID, &p.FittedAt,
		); err != nil {
			return nil, err
		}
		curves = append(curves, p)
	}
	return curves, rows.Err()
}

// Insert appends one fitted slice. Re-publishing the same (snapshot, root,
// expiry) is a no-op.
func (s *CurveStore) Insert(ctx context.Context, params domain.SmileParameters) error {
	const query = `
		INSERT INTO curves (
			root, expiry, a, b, rho, m, sigma,
			time_to_exp, residual, num_strikes, snapshot_id, fitted_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12
		) ON CONFLICT (snapshot_id, root, expiry) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		params.Root, params.Expiry,
		params.A, params.B, params.Rho, params.M, params.Sigma,
		params.TimeToExp, params.Residual, params.NumStrikes,
		params.SnapshotID, params.FittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert curve %s/%s: %w", params.Root, params.Expiry, err)
	}
	return nil
}

// GetLatest returns the most recently fitted slice for (root, expiry). It
// returns domain.ErrNotFound when none has ever been published.
func (s *CurveStore) GetLatest(ctx context.Context, root, expiry string) (domain.SmileParameters, error) {
	query := `SELECT ` + curveSelectCols + `
		FROM curves WHERE root = $1 AND expiry = $2
		ORDER BY fitted_at DESC LIMIT 1`

	var p domain.SmileParameters
	err := s.pool.QueryRow(ctx, query, root, expiry).Scan(
		&p.Root, &p.Expiry, &p.A, &p.B, &p.Rho, &p.M, &p.Sigma,
		&p.TimeToExp, &p.Residual, &p.NumStrikes, &p.SnapshotID, &p.FittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SmileParameters{}, domain.ErrNotFound
		}
		return domain.SmileParameters{}, fmt.Errorf("postgres: get latest curve %s/%s: %w", root, expiry, err)
	}
	return p, nil
}

// ListBySnapshot returns every slice fitted in one snapshot, ascending by
// expiry.
func (s *CurveStore) ListBySnapshot(ctx context.Context, snapshotID string) ([]domain.SmileParameters, error) {
	query := `SELECT ` + curveSelectCols + `
		FROM curves WHERE snapshot_id = $1
		ORDER BY root ASC, expiry ASC`

	rows, err := s.pool.Query(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list curves by snapshot: %w", err)
	}
	defer rows.Close()

	curves, err := scanCurveRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan curves by snapshot: %w", err)
	}
	return curves, nil
}

// ListBefore returns all slices fitted strictly before the given time, for
// archiving, oldest first.
func (s *CurveStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SmileParameters, error) {
	query := `SELECT ` + curveSelectCols + `
		FROM curves WHERE fitted_at < $1 ORDER BY fitted_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list curves before: %w", err)
	}
	defer rows.Close()
	return scanCurveRows(rows)
}

// DeleteBefore deletes all slices fitted before the given time. Returns the
// number deleted.
func (s *CurveStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM curves WHERE fitted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete curves before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.CurveStore = (*CurveStore)(nil)
