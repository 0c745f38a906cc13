package persistence

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AssetAggregate is the per-account, per-asset vote total returned by the
// snapshot aggregation query. Account is the market key the votes target.
type AssetAggregate struct {
	Account    string
	Asset      string
	VotesSum   decimal.Decimal
	VotesCount int
}

// AssetStats is one entry of a per-asset breakdown.
type AssetStats struct {
	Asset      string          `json:"asset"`
	VotesSum   decimal.Decimal `json:"votes_sum"`
	VotesCount int             `json:"votes_count"`
}

// SnapshotExtra is stored in voting_snapshots.extra.
type SnapshotExtra struct {
	UpvoteAssets   []AssetStats `json:"upvote_assets"`
	DownvoteAssets []AssetStats `json:"downvote_assets"`
}

// Value implements driver.Valuer.
func (e SnapshotExtra) Value() (driver.Value, error) {
	if e.UpvoteAssets == nil {
		e.UpvoteAssets = []AssetStats{}
	}
	if e.DownvoteAssets == nil {
		e.DownvoteAssets = []AssetStats{}
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner.
func (e *SnapshotExtra) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*e = SnapshotExtra{}
		return nil
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		return fmt.Errorf("scan snapshot extra: unsupported type %T", src)
	}
}

// SnapshotRow is one persisted market row of a voting snapshot.
type SnapshotRow struct {
	RunID              uuid.UUID
	MarketKey          string
	Rank               int
	VotesValue         decimal.Decimal
	VotingAmount       int
	UpvoteValue        decimal.Decimal
	DownvoteValue      decimal.Decimal
	AdjustedVotesValue decimal.Decimal
	Extra              SnapshotExtra
	Timestamp          time.Time
}

// SnapshotStats aggregates the latest snapshot.
type SnapshotStats struct {
	Timestamp             time.Time
	MarketKeyCount        int
	VotesValueSum         decimal.Decimal
	VotingAmountSum       int64
	AdjustedVotesValueSum decimal.Decimal
	TotalVotesSum         decimal.Decimal
	Assets                []AssetStats
}

// AccountVotes is one voting account's total on a market.
type AccountVotes struct {
	VotingAccount string
	VotesValue    decimal.Decimal
}

// ErrNoSnapshot is returned when no snapshot has been written yet.
var ErrNoSnapshot = errors.New("persistence: no snapshot")
