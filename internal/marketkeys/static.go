package marketkeys

import "context"

// Static serves a fixed set of markets.
type Static struct {
	markets    []Market
	byUpvote   map[string]int
	byDownvote map[string]int
}

func NewStatic(markets []Market) *Static {
	s := &Static{
		markets:    markets,
		byUpvote:   make(map[string]int, len(markets)),
		byDownvote: make(map[string]int, len(markets)),
	}
	for i, m := range markets {
		s.byUpvote[m.UpvoteAccountID] = i
		if m.DownvoteAccountID != "" {
			s.byDownvote[m.DownvoteAccountID] = i
		}
	}
	return s
}

func (s *Static) Iterate(ctx context.Context, fn func(Market) error) error {
	for _, m := range s.markets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Static) GetMultiple(_ context.Context, accountIDs []string) ([]Market, error) {
	var out []Market
	for _, id := range accountIDs {
		if i, ok := s.byUpvote[id]; ok {
			out = append(out, s.markets[i])
		}
		if i, ok := s.byDownvote[id]; ok {
			out = append(out, s.markets[i])
		}
	}
	return dedupe(out), nil
}
