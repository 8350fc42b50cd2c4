package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/internal/ledger"
	"github.com/Kenny427/vault-sub003/internal/market"
	"github.com/Kenny427/vault-sub003/internal/ratelimit"
	"github.com/Kenny427/vault-sub003/pkg/apperr"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

const (
	headerUserID       = "X-User-ID"
	headerIngestSecret = "X-Ingest-Secret"
)

// MarketSource is the price cache surface the API reads from.
type MarketSource interface {
	GetLatest(ctx context.Context) (market.Latest, error)
	GetTimeSeries(ctx context.Context, itemID int, timestep string) ([]models.TimeSeriesPoint, error)
	IngestArchive(ctx context.Context, token string) (market.Receipt, error)
}

// Portfolio is the ledger surface the API writes through.
type Portfolio interface {
	ApplyFill(ctx context.Context, fill models.Fill) (models.Position, error)
	Summarize(ctx context.Context, userID string) (ledger.Summary, error)
	SeedTheses(ctx context.Context, userID string, pool []models.PoolItem) (int, error)
}

// PoolSource lists the curated items thesis seeding draws from.
type PoolSource interface {
	ListEnabledPoolItems(ctx context.Context) ([]models.PoolItem, error)
}

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	market    MarketSource
	portfolio Portfolio
	pool      PoolSource
	limiter   *ratelimit.Limiter
	logger    *zap.Logger

	dbPing    Pinger // may be nil
	redisPing Pinger // may be nil
}

type ServerOptions struct {
	Market    MarketSource
	Portfolio Portfolio
	Pool      PoolSource
	Limiter   *ratelimit.Limiter
	Logger    *zap.Logger
	DBPing    Pinger
	RedisPing Pinger
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		market:    opts.Market,
		portfolio: opts.Portfolio,
		pool:      opts.Pool,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
		dbPing:    opts.DBPing,
		redisPing: opts.RedisPing,
	}
}

// Register mounts all REST routes onto the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/market/latest", s.limit(http.HandlerFunc(s.handleLatest)))
	mux.Handle("GET /api/market/timeseries", s.limit(http.HandlerFunc(s.handleTimeSeries)))
	mux.Handle("POST /api/market/ingest", http.HandlerFunc(s.handleIngest))
	mux.Handle("GET /api/portfolio", s.limit(http.HandlerFunc(s.handlePortfolio)))
	mux.Handle("POST /api/portfolio/fills", s.limit(http.HandlerFunc(s.handleFill)))
	mux.Handle("POST /api/theses/seed", s.limit(http.HandlerFunc(s.handleSeedTheses)))
	mux.Handle("GET /api/health", http.HandlerFunc(s.handleHealth))
}

// limit applies the per-caller request budget. The key is the user header
// when present, otherwise the remote host.
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerUserID)
		if key == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = host
		}

		if d := s.limiter.Check("api:" + key); !d.Allowed {
			s.writeError(w, apperr.Limited(d.RetryAfter))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.market.GetLatest(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil {
		s.writeError(w, apperr.New(apperr.InvalidArgument, "id must be a positive integer"))
		return
	}
	timestep := r.URL.Query().Get("timestep")

	points, err := s.market.GetTimeSeries(r.Context(), itemID, timestep)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id": itemID,
		"points":  points,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.market.IngestArchive(r.Context(), r.Header.Get(headerIngestSecret))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	summary, err := s.portfolio.Summarize(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var fill models.Fill
	if err := json.NewDecoder(r.Body).Decode(&fill); err != nil {
		s.writeError(w, apperr.New(apperr.InvalidArgument, "invalid fill payload"))
		return
	}
	// The header is the identity channel; a body user_id may only restate it.
	if hdr := r.Header.Get(headerUserID); hdr != "" {
		if fill.UserID != "" && fill.UserID != hdr {
			s.writeError(w, apperr.New(apperr.Unauthorized, "fill user does not match authenticated user"))
			return
		}
		fill.UserID = hdr
	}

	pos, err := s.portfolio.ApplyFill(r.Context(), fill)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleSeedTheses(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		s.writeError(w, apperr.New(apperr.InvalidArgument, "user id is required"))
		return
	}

	pool, err := s.pool.ListEnabledPoolItems(r.Context())
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.StoreFailure, "load item pool", err))
		return
	}

	inserted, err := s.portfolio.SeedTheses(r.Context(), userID, pool)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"inserted": inserted})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	for name, p := range map[string]Pinger{"postgres": s.dbPing, "redis": s.redisPing} {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	s.writeJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

type errorBody struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after_seconds,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Wrap(apperr.StoreFailure, "internal error", err)
	}

	status := statusFor(appErr.Kind)
	if status >= 500 {
		s.logger.Error("Request failed", zap.String("kind", string(appErr.Kind)), zap.Error(err))
	}

	body := errorBody{Kind: string(appErr.Kind), Message: appErr.Message}
	if appErr.Kind == apperr.RateLimited {
		secs := int64(appErr.RetryAfter / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		body.RetryAfter = secs
	}

	s.writeJSON(w, status, map[string]errorBody{"error": body})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InsufficientPosition:
		return http.StatusConflict
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.UpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", zap.Error(err))
	}
}
