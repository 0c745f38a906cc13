package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/vote"
)

// voteInsertChunk keeps bulk inserts well under the Postgres parameter limit.
const voteInsertChunk = 500

const voteColumns = `id, balance_id, voting_account, market_key, amount, asset, locked_at, locked_until, claimed_back_at, created_at`

// VoteRepository reads and writes the votes table.
type VoteRepository struct {
	db *sql.DB
}

func NewVoteRepository(db *sql.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// InsertVote stores v unless a vote with the same balance id exists.
// It reports whether a row was inserted.
func (r *VoteRepository) InsertVote(ctx context.Context, v vote.Vote) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO votes (balance_id, voting_account, market_key, amount, asset, locked_at, locked_until, claimed_back_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (balance_id) DO NOTHING
	`, v.BalanceID, v.VotingAccount, v.MarketKey, v.Amount, v.Asset, v.LockedAt, v.LockedUntil, v.ClaimedBackAt)
	if err != nil {
		return false, fmt.Errorf("insert vote %s: %w", v.BalanceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert vote %s: %w", v.BalanceID, err)
	}
	return n > 0, nil
}

// InsertVotes bulk inserts votes with multi-row INSERTs, skipping balance ids
// that already exist. It returns the number of inserted rows.
func (r *VoteRepository) InsertVotes(ctx context.Context, votes []vote.Vote) (int64, error) {
	var inserted int64
	for start := 0; start < len(votes); start += voteInsertChunk {
		end := min(start+voteInsertChunk, len(votes))
		n, err := r.insertChunk(ctx, votes[start:end])
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func (r *VoteRepository) insertChunk(ctx context.Context, votes []vote.Vote) (int64, error) {
	const cols = 8
	values := make([]string, 0, len(votes))
	args := make([]any, 0, len(votes)*cols)
	for i, v := range votes {
		base := i * cols
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			v.BalanceID, v.VotingAccount, v.MarketKey, v.Amount,
			v.Asset, v.LockedAt, v.LockedUntil, v.ClaimedBackAt,
		)
	}

	query := `INSERT INTO votes
		(balance_id, voting_account, market_key, amount, asset, locked_at, locked_until, claimed_back_at)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (balance_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk insert votes: %w", err)
	}
	return res.RowsAffected()
}

// MarkClaimedBack sets claimed_back_at once. It reports whether a row changed;
// a missing vote or one already closed is not an error.
func (r *VoteRepository) MarkClaimedBack(ctx context.Context, balanceID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE votes SET claimed_back_at = $2
		WHERE balance_id = $1 AND claimed_back_at IS NULL
	`, balanceID, at)
	if err != nil {
		return false, fmt.Errorf("mark claimed back %s: %w", balanceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark claimed back %s: %w", balanceID, err)
	}
	return n > 0, nil
}

// GetByBalanceID returns the vote for balanceID or sql.ErrNoRows.
func (r *VoteRepository) GetByBalanceID(ctx context.Context, balanceID string) (*vote.Vote, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+voteColumns+` FROM votes WHERE balance_id = $1`, balanceID)
	v, err := scanVote(row)
	if err != nil {
		return nil, fmt.Errorf("get vote %s: %w", balanceID, err)
	}
	return v, nil
}

// ExpiredOpenVotes returns up to limit votes past their lock that have not
// been claimed back, with id greater than afterID, ordered by id.
func (r *VoteRepository) ExpiredOpenVotes(ctx context.Context, now time.Time, afterID int64, limit int) ([]vote.Vote, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+voteColumns+` FROM votes
		WHERE locked_until < $1 AND claimed_back_at IS NULL AND id > $2
		ORDER BY id
		LIMIT $3
	`, now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired votes: %w", err)
	}
	defer rows.Close()

	var out []vote.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired vote: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ActiveEligibleAggregates sums the votes active at `at` with a lock term of at
// least minTerm, grouped by target account and asset.
func (r *VoteRepository) ActiveEligibleAggregates(ctx context.Context, at time.Time, minTerm time.Duration) ([]AssetAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT market_key, asset, SUM(amount), COUNT(DISTINCT voting_account)
		FROM votes
		WHERE locked_at <= $1
		  AND (claimed_back_at IS NULL OR claimed_back_at > $1)
		  AND locked_until - locked_at >= make_interval(secs => $2)
		GROUP BY market_key, asset
		ORDER BY market_key, asset
	`, at, minTerm.Seconds())
	if err != nil {
		return nil, fmt.Errorf("aggregate votes: %w", err)
	}
	defer rows.Close()

	var out []AssetAggregate
	for rows.Next() {
		var a AssetAggregate
		if err := rows.Scan(&a.Account, &a.Asset, &a.VotesSum, &a.VotesCount); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AccountVotes sums eligible votes on marketKey active at `at` per voting
// account, ordered by account and starting after afterAccount.
func (r *VoteRepository) AccountVotes(ctx context.Context, marketKey string, at time.Time, minTerm time.Duration, afterAccount string, limit int) ([]AccountVotes, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT voting_account, SUM(amount)
		FROM votes
		WHERE market_key = $1
		  AND locked_at <= $2
		  AND (claimed_back_at IS NULL OR claimed_back_at > $2)
		  AND locked_until - locked_at >= make_interval(secs => $3)
		  AND voting_account > $4
		GROUP BY voting_account
		ORDER BY voting_account
		LIMIT $5
	`, marketKey, at, minTerm.Seconds(), afterAccount, limit)
	if err != nil {
		return nil, fmt.Errorf("query account votes: %w", err)
	}
	defer rows.Close()

	var out []AccountVotes
	for rows.Next() {
		var a AccountVotes
		if err := rows.Scan(&a.VotingAccount, &a.VotesValue); err != nil {
			return nil, fmt.Errorf("scan account votes: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVote(s rowScanner) (*vote.Vote, error) {
	var (
		v             vote.Vote
		claimedBackAt sql.NullTime
	)
	err := s.Scan(
		&v.ID, &v.BalanceID, &v.VotingAccount, &v.MarketKey, &v.Amount, &v.Asset,
		&v.LockedAt, &v.LockedUntil, &claimedBackAt, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if claimedBackAt.Valid {
		t := claimedBackAt.Time.UTC()
		v.ClaimedBackAt = &t
	}
	v.LockedAt = v.LockedAt.UTC()
	v.LockedUntil = v.LockedUntil.UTC()
	return &v, nil
}
