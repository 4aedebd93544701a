package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"veridano/repository"
	"veridano/resilience"
	"veridano/retrieval"
	"veridano/source"
)

const timestampFormat = "2006-01-02T15:04:05Z"

// Server exposes the tool-style query protocol: one POST endpoint
// dispatching on the request's action field.
type Server struct {
	engine  *retrieval.Engine
	store   repository.DocumentStore
	limiter *rate.Limiter
	logger  *zap.Logger
	port    int
}

type Config struct {
	Port          int
	RatePerSecond float64
	Burst         int
}

func NewServer(engine *retrieval.Engine, store repository.DocumentStore, cfg Config, logger *zap.Logger) *Server {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	return &Server{
		engine:  engine,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger,
		port:    cfg.Port,
	}
}

// Handler builds the http handler, exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleAction)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("starting query server", zap.Int("port", s.port))
	return http.ListenAndServe(":"+strconv.Itoa(s.port), s.Handler())
}

type actionRequest struct {
	Action     string   `json:"action"`
	Query      string   `json:"query"`
	TopK       int      `json:"top_k"`
	MinScore   *float32 `json:"min_score"`
	Sources    []string `json:"sources"`
	Timeframe  string   `json:"timeframe"`
	Source     string   `json:"source"`
	Limit      int      `json:"limit"`
	Indicators []string `json:"indicators"`
	Threshold  *float32 `json:"threshold"`
	CVEID      string   `json:"cve_id"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "INVALID_ACTION", "only POST is accepted", 0)
		return
	}
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", "request rate exceeded", 5)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "invalid request body: "+err.Error(), 0)
		return
	}
	defer r.Body.Close()

	ctx := r.Context()
	switch req.Action {
	case "semantic_search":
		s.handleSearch(ctx, w, &req)
	case "source_search":
		s.handleSourceSearch(ctx, w, &req)
	case "correlate":
		s.handleCorrelate(ctx, w, &req)
	case "get_cve_details":
		s.handleCVEDetails(ctx, w, &req)
	case "threat_intelligence_summary":
		s.handleThreatSummary(ctx, w, &req)
	case "ingestion_status":
		s.handleIngestionStatus(ctx, w, &req)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_ACTION", "unknown action: "+req.Action, 0)
	}
}

func (s *Server) handleSearch(ctx context.Context, w http.ResponseWriter, req *actionRequest) {
	publishedAfter, err := parseTimeframe(req.Timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), 0)
		return
	}
	results, err := s.engine.Search(ctx, req.Query, retrieval.SearchOptions{
		TopK:           req.TopK,
		MinScore:       req.MinScore,
		Sources:        req.Sources,
		PublishedAfter: publishedAfter,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse(req.Query, results))
}

func (s *Server) handleSourceSearch(ctx context.Context, w http.ResponseWriter, req *actionRequest) {
	results, err := s.engine.SourceSearch(ctx, req.Query, req.Source, req.Limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse(req.Query, results))
}

func (s *Server) handleCorrelate(ctx context.Context, w http.ResponseWriter, req *actionRequest) {
	publishedAfter, err := parseTimeframe(req.Timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), 0)
		return
	}
	groups, err := s.engine.Correlate(ctx, req.Indicators, retrieval.CorrelateOptions{
		Sources:        req.Sources,
		PublishedAfter: publishedAfter,
		Threshold:      req.Threshold,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, correlateResponse(groups))
}

func (s *Server) handleCVEDetails(ctx context.Context, w http.ResponseWriter, req *actionRequest) {
	if req.CVEID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "missing cve_id", 0)
		return
	}
	doc, err := s.store.GetByID(ctx, string(source.NVD), req.CVEID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown CVE: "+req.CVEID, 0)
			return
		}
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":  resultDoc(*doc, nil),
		"timestamp": now(),
	})
}

func (s *Server) handleThreatSummary(ctx context.Context, w http.ResponseWriter, req *actionRequest) {
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "7d"
	}
	publishedAfter, err := parseTimeframe(timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), 0)
		return
	}
	activity, err := s.engine.Summary(ctx, publishedAfter, req.Sources)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse(timeframe, activity))
}

func (s *Server) handleIngestionStatus(ctx context.Context, w http.ResponseWriter, req *actionRequest) {
	if req.Source != "" && !source.Valid(req.Source) {
		writeError(w, http.StatusBadRequest, "INVALID_SOURCE", "unknown source: "+req.Source, 0)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.store.GetRuns(ctx, req.Source, limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":      runs,
		"timestamp": now(),
	})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "query is empty or too short", 0)
	case errors.Is(err, repository.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, "INVALID_SOURCE", "unknown source in request", 0)
	case errors.Is(err, repository.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", "rate limit exceeded", 5)
	case resilience.IsOpen(err):
		writeError(w, http.StatusServiceUnavailable, "SEARCH_FAILED", "dependency temporarily unavailable", 30)
	default:
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "SEARCH_FAILED", "search failed", 0)
	}
}

// parseTimeframe maps the protocol's relative windows to an absolute lower
// bound on published date.
func parseTimeframe(timeframe string) (*time.Time, error) {
	if timeframe == "" {
		return nil, nil
	}
	windows := map[string]time.Duration{
		"24h": 24 * time.Hour,
		"48h": 48 * time.Hour,
		"72h": 72 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"30d": 30 * 24 * time.Hour,
		"90d": 90 * 24 * time.Hour,
		"1y":  365 * 24 * time.Hour,
	}
	window, ok := windows[timeframe]
	if !ok {
		return nil, errors.New("unknown timeframe: " + timeframe)
	}
	cutoff := time.Now().UTC().Add(-window)
	return &cutoff, nil
}

func now() string {
	return time.Now().UTC().Format(timestampFormat)
}
