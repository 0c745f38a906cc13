package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/AquaToken/aqua-voting-tracker/internal/query"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

type pageResponse struct {
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

type accountVotesResponse struct {
	Timestamp int64   `json:"timestamp"`
	Next      *string `json:"next"`
	Previous  *string `json:"previous"`
	Results   any     `json:"results"`
}

type rewardsResponse struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) routes() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		pattern string
		name    string
		handle  runtime.HandlerFunc
	}{
		{"/api/voting-snapshot", "snapshot_list", s.handleSnapshots},
		{"/api/voting-snapshot/top-volume", "snapshot_top_volume", s.handleTop(persistence.OrderByVotesValue)},
		{"/api/voting-snapshot/top-voted", "snapshot_top_voted", s.handleTop(persistence.OrderByVotingAmount)},
		{"/api/voting-snapshot/stats", "snapshot_stats", s.handleStats},
		{"/api/market-keys/{market_key}/votes", "market_votes", s.handleAccountVotes},
		{"/api/rewards", "reward_list", s.handleRewards},
		{"/api/rewards/stats", "reward_stats", s.handleRewardStats},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(http.MethodGet, rt.pattern, s.instrument(rt.name, rt.handle)); err != nil {
			return nil, err
		}
	}

	httpMux := http.NewServeMux()
	if s.checker != nil {
		httpMux.HandleFunc("/healthz", s.checker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.checker.ReadinessHandler)
	}
	httpMux.Handle("/", trimTrailingSlash(mux))
	return httpMux, nil
}

// trimTrailingSlash maps /api/rewards/ onto the /api/rewards pattern.
func trimTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 1 && strings.HasSuffix(r.URL.Path, "/") {
			u := *r.URL
			u.Path = strings.TrimSuffix(u.Path, "/")
			u.RawPath = strings.TrimSuffix(u.RawPath, "/")
			r = r.WithContext(r.Context())
			r.URL = &u
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h runtime.HandlerFunc) runtime.HandlerFunc {
	if s.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)

		s.metrics.QueryRequests.WithLabelValues(route).Inc()
		s.metrics.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		if rec.status >= http.StatusBadRequest {
			s.metrics.QueryErrors.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
	}
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	rows, err := s.query.Snapshots(r.Context(), r.URL.Query()["market_key"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Results: rows})
}

func (s *Server) handleTop(order persistence.SnapshotOrder) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		q := r.URL.Query()
		page, err := s.query.Top(r.Context(), order, q.Get("cursor"), limitParam(q.Get("limit")))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pageResponse{
			Next:     pageURL(r, page.Next, nil),
			Previous: pageURL(r, page.Previous, nil),
			Results:  page.Results,
		})
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	stats, err := s.query.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAccountVotes(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()

	at := s.now().UTC()
	if raw := q.Get("timestamp"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid timestamp."})
			return
		}
		at = time.Unix(sec, 0).UTC()
	}

	page, err := s.query.AccountVotes(r.Context(), params["market_key"], at, q.Get("cursor"), limitParam(q.Get("limit")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pin := map[string]string{"timestamp": strconv.FormatInt(at.Unix(), 10)}
	writeJSON(w, http.StatusOK, accountVotesResponse{
		Timestamp: at.Unix(),
		Next:      pageURL(r, page.Next, pin),
		Results:   page.Results,
	})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	rewards, err := s.query.Rewards(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardsResponse{Count: len(rewards), Results: rewards})
}

func (s *Server) handleRewardStats(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	stats, err := s.query.RewardStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, query.ErrInvalidCursor) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid cursor."})
		return
	}
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("query failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Internal server error."})
}

// limitParam ignores malformed values so the default page size applies.
func limitParam(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return query.ClampPageSize(n)
}

// pageURL rebuilds the request URL with cursor set. Returns nil for an empty
// cursor.
func pageURL(r *http.Request, cursor string, extra map[string]string) *string {
	if cursor == "" {
		return nil
	}
	q := r.URL.Query()
	q.Set("cursor", cursor)
	for k, v := range extra {
		q.Set(k, v)
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	path := r.URL.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u := scheme + "://" + r.Host + path + "?" + q.Encode()
	return &u
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
