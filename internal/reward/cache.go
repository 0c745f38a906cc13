package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/kvstore"
	"github.com/shopspring/decimal"
)

// CacheKey is where the latest reward list is kept.
const CacheKey = "voting_rewards.rewards"

// Cached is the stored reward list.
type Cached struct {
	Rewards     []MarketReward `json:"rewards"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Totals are the daily reward sums per venue.
type Totals struct {
	SDEX        decimal.Decimal
	AMM         decimal.Decimal
	LastUpdated time.Time
}

// Totals sums the cached rewards.
func (c Cached) Totals() Totals {
	t := Totals{LastUpdated: c.LastUpdated}
	for _, r := range c.Rewards {
		t.SDEX = t.SDEX.Add(r.SDEXRewardValue)
		t.AMM = t.AMM.Add(r.AMMRewardValue)
	}
	return t
}

// Cache stores reward results in a keyed store without expiry.
type Cache struct {
	store kvstore.Store
}

func NewCache(store kvstore.Store) *Cache {
	return &Cache{store: store}
}

func (c *Cache) Store(ctx context.Context, rewards []MarketReward, at time.Time) error {
	if rewards == nil {
		rewards = []MarketReward{}
	}
	data, err := json.Marshal(Cached{Rewards: rewards, LastUpdated: at.UTC()})
	if err != nil {
		return fmt.Errorf("encode rewards: %w", err)
	}
	if err := c.store.Set(ctx, CacheKey, string(data), kvstore.Forever); err != nil {
		return fmt.Errorf("store rewards: %w", err)
	}
	return nil
}

// Load returns the cached rewards. Before the first run it returns an empty
// list updated at the Unix epoch.
func (c *Cache) Load(ctx context.Context) (Cached, error) {
	empty := Cached{Rewards: []MarketReward{}, LastUpdated: time.Unix(0, 0).UTC()}

	raw, ok, err := c.store.Get(ctx, CacheKey)
	if err != nil {
		return empty, fmt.Errorf("load rewards: %w", err)
	}
	if !ok {
		return empty, nil
	}

	var cached Cached
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return empty, fmt.Errorf("decode rewards: %w", err)
	}
	if cached.Rewards == nil {
		cached.Rewards = []MarketReward{}
	}
	return cached, nil
}
