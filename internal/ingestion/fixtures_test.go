package ingestion_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/ingestion"
	"github.com/AquaToken/aqua-voting-tracker/internal/vote"
)

const (
	issuer      = "GBY6X4AJJEXS536TRURTET5AXETIQFICOM6LTTIIUF7G77F6FSVGZAIO"
	voter       = "GBB6R36ZT74EJO6OZ2NYDXTQ5VRU777QPNOSO76IWDQBV2CBUBTOLKOF"
	market      = "GBCH3CNHAZA7EPPWNKJJXWUDEGSDWRP4UYRYK6HEHBK6A7OHCUWO6B74"
	lockedAt    = "2021-12-06T18:15:25Z"
	lockedUntil = "2022-06-06T18:15:25Z"
	claimedAt   = "2022-06-07T10:00:00Z"
)

var votingAsset = "AQUA:" + issuer

func newParser() *vote.Parser {
	return vote.NewParser([]string{votingAsset}, "")
}

func balanceID(n int) string {
	return fmt.Sprintf("00000000%064d", n)
}

func effect(op string, idx int, typ string) horizon.Effect {
	id := fmt.Sprintf("%s-%d", op, idx)
	return horizon.Effect{ID: id, PagingToken: id, Type: typ, CreatedAt: lockedAt}
}

// createBunch returns the effects of an operation creating a valid vote.
func createBunch(op string, balance string, asset string) []horizon.Effect {
	locked := horizon.Predicate{Not: &horizon.Predicate{Unconditional: true}}
	abs := horizon.Predicate{Not: &horizon.Predicate{AbsBefore: lockedUntil}}

	created := effect(op, 1, horizon.EffectClaimableBalanceCreated)
	created.Account, created.BalanceID, created.Asset, created.Amount = voter, balance, asset, "10.0000000"

	toMarket := effect(op, 2, horizon.EffectClaimableBalanceClaimantCreated)
	toMarket.Account, toMarket.BalanceID, toMarket.Asset, toMarket.Predicate = market, balance, asset, &locked

	toVoter := effect(op, 3, horizon.EffectClaimableBalanceClaimantCreated)
	toVoter.Account, toVoter.BalanceID, toVoter.Asset, toVoter.Predicate = voter, balance, asset, &abs

	debited := effect(op, 4, horizon.EffectAccountDebited)
	debited.Account = voter

	return []horizon.Effect{created, toMarket, toVoter, debited}
}

// closeBunch returns the effects of a claim crediting asset back to the voter.
func closeBunch(op string, balance string, assetType, code string) []horizon.Effect {
	claimed := effect(op, 1, horizon.EffectClaimableBalanceClaimed)
	claimed.Account, claimed.BalanceID, claimed.CreatedAt = voter, balance, claimedAt

	credited := effect(op, 2, horizon.EffectAccountCredited)
	credited.Account, credited.AssetType, credited.AssetCode, credited.AssetIssuer = voter, assetType, code, issuer
	credited.CreatedAt = claimedAt

	return []horizon.Effect{claimed, credited}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []ingestion.Job
	err  error
}

func (d *recordingDispatcher) DispatchCreate(_ context.Context, job ingestion.Job) error {
	return d.record(ingestion.KindCreate, job)
}

func (d *recordingDispatcher) DispatchClose(_ context.Context, job ingestion.Job) error {
	return d.record(ingestion.KindClose, job)
}

func (d *recordingDispatcher) record(kind string, job ingestion.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	job.Kind = kind
	d.jobs = append(d.jobs, job)
	return nil
}

// memoryVotes is a vote store keyed by balance id.
type memoryVotes struct {
	mu    sync.Mutex
	votes map[string]vote.Vote
}

func newMemoryVotes() *memoryVotes {
	return &memoryVotes{votes: make(map[string]vote.Vote)}
}

func (m *memoryVotes) InsertVote(_ context.Context, v vote.Vote) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.votes[v.BalanceID]; ok {
		return false, nil
	}
	m.votes[v.BalanceID] = v
	return true, nil
}

func (m *memoryVotes) InsertVotes(ctx context.Context, votes []vote.Vote) (int64, error) {
	var n int64
	for _, v := range votes {
		ok, _ := m.InsertVote(ctx, v)
		if ok {
			n++
		}
	}
	return n, nil
}

func (m *memoryVotes) MarkClaimedBack(_ context.Context, balanceID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.votes[balanceID]
	if !ok || v.ClaimedBackAt != nil {
		return false, nil
	}
	v.ClaimedBackAt = &at
	m.votes[balanceID] = v
	return true, nil
}

func (m *memoryVotes) get(balanceID string) (vote.Vote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.votes[balanceID]
	return v, ok
}

func opIDs(jobs []ingestion.Job) string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.Kind + ":" + j.OperationID
	}
	return strings.Join(ids, ",")
}
