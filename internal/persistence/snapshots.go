package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const snapshotInsertChunk = 500

const snapshotColumns = `run_id, market_key, rank, votes_value, voting_amount, upvote_value, downvote_value, adjusted_votes_value, extra, timestamp`

// SnapshotOrder selects the ordering of latest snapshot rows.
type SnapshotOrder int

const (
	OrderByRank SnapshotOrder = iota
	OrderByVotesValue
	OrderByAdjustedVotesValue
	OrderByVotingAmount
)

func (o SnapshotOrder) clause() string {
	switch o {
	case OrderByVotesValue:
		return "votes_value DESC, market_key"
	case OrderByAdjustedVotesValue:
		return "adjusted_votes_value DESC, market_key"
	case OrderByVotingAmount:
		return "voting_amount DESC, market_key"
	default:
		return "rank, market_key"
	}
}

// SnapshotFilter narrows a read of the latest snapshot.
type SnapshotFilter struct {
	MarketKeys []string
	Order      SnapshotOrder
	Limit      int
	Offset     int
}

// SnapshotRepository reads and writes the voting_snapshots table.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// InsertSnapshot writes all rows in one transaction. Rows whose
// (timestamp, market_key) already exist are skipped, so a rerun for the same
// timestamp changes nothing. It returns the number of inserted rows.
func (r *SnapshotRepository) InsertSnapshot(ctx context.Context, rows []SnapshotRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var inserted int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		for start := 0; start < len(rows); start += snapshotInsertChunk {
			end := min(start+snapshotInsertChunk, len(rows))
			n, err := insertSnapshotChunk(ctx, tx, rows[start:end])
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return inserted, nil
}

func insertSnapshotChunk(ctx context.Context, tx *sql.Tx, rows []SnapshotRow) (int64, error) {
	const cols = 10
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)
	for i, row := range rows {
		base := i * cols
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			row.RunID, row.MarketKey, row.Rank, row.VotesValue, row.VotingAmount,
			row.UpvoteValue, row.DownvoteValue, row.AdjustedVotesValue, row.Extra, row.Timestamp,
		)
	}

	query := `INSERT INTO voting_snapshots (` + snapshotColumns + `) VALUES ` +
		strings.Join(values, ", ") +
		` ON CONFLICT (timestamp, market_key) DO NOTHING`

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LatestTimestamp returns the timestamp of the latest snapshot or ErrNoSnapshot.
func (r *SnapshotRepository) LatestTimestamp(ctx context.Context) (time.Time, error) {
	var ts sql.NullTime
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM voting_snapshots`).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("latest snapshot timestamp: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, ErrNoSnapshot
	}
	return ts.Time.UTC(), nil
}

// LatestRows returns rows of the latest snapshot matching f.
func (r *SnapshotRepository) LatestRows(ctx context.Context, f SnapshotFilter) ([]SnapshotRow, error) {
	ts, err := r.LatestTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + snapshotColumns + ` FROM voting_snapshots WHERE timestamp = $1`
	args := []any{ts}
	if len(f.MarketKeys) > 0 {
		args = append(args, pq.Array(f.MarketKeys))
		query += fmt.Sprintf(" AND market_key = ANY($%d)", len(args))
	}
	query += " ORDER BY " + f.Order.clause()
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshot rows: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		if err := rows.Scan(
			&row.RunID, &row.MarketKey, &row.Rank, &row.VotesValue, &row.VotingAmount,
			&row.UpvoteValue, &row.DownvoteValue, &row.AdjustedVotesValue, &row.Extra, &row.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		row.Timestamp = row.Timestamp.UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// RewardCandidates returns the top limit markets of the latest snapshot by
// adjusted votes value.
func (r *SnapshotRepository) RewardCandidates(ctx context.Context, limit int) ([]SnapshotRow, error) {
	return r.LatestRows(ctx, SnapshotFilter{Order: OrderByAdjustedVotesValue, Limit: limit})
}

// LatestStats aggregates the latest snapshot, including per-asset sums over
// both vote directions.
func (r *SnapshotRepository) LatestStats(ctx context.Context) (*SnapshotStats, error) {
	ts, err := r.LatestTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	stats := &SnapshotStats{Timestamp: ts}
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(votes_value), 0),
		       COALESCE(SUM(voting_amount), 0),
		       COALESCE(SUM(adjusted_votes_value), 0),
		       COALESCE(SUM(upvote_value + downvote_value), 0)
		FROM voting_snapshots
		WHERE timestamp = $1
	`, ts).Scan(
		&stats.MarketKeyCount, &stats.VotesValueSum, &stats.VotingAmountSum,
		&stats.AdjustedVotesValueSum, &stats.TotalVotesSum,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot stats: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT a->>'asset', SUM((a->>'votes_sum')::numeric), SUM((a->>'votes_count')::int)
		FROM voting_snapshots s,
		     jsonb_array_elements(
		         COALESCE(s.extra->'upvote_assets', '[]'::jsonb) ||
		         COALESCE(s.extra->'downvote_assets', '[]'::jsonb)
		     ) AS a
		WHERE s.timestamp = $1
		GROUP BY 1
		ORDER BY 1
	`, ts)
	if err != nil {
		return nil, fmt.Errorf("snapshot asset stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a AssetStats
		if err := rows.Scan(&a.Asset, &a.VotesSum, &a.VotesCount); err != nil {
			return nil, fmt.Errorf("scan asset stats: %w", err)
		}
		stats.Assets = append(stats.Assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot asset stats: %w", err)
	}
	return stats, nil
}

// IsNoSnapshot reports whether err means no snapshot exists yet.
func IsNoSnapshot(err error) bool {
	return errors.Is(err, ErrNoSnapshot)
}
