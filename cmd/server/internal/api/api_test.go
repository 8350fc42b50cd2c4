package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/server/internal/api"
	"github.com/Kenny427/vault-sub003/internal/ledger"
	"github.com/Kenny427/vault-sub003/internal/market"
	"github.com/Kenny427/vault-sub003/internal/ratelimit"
	"github.com/Kenny427/vault-sub003/pkg/apperr"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

type mockMarket struct {
	latest    market.Latest
	latestErr error
	points    []models.TimeSeriesPoint
	seriesErr error
	receipt   market.Receipt
	ingestErr error
}

func (m *mockMarket) GetLatest(ctx context.Context) (market.Latest, error) {
	return m.latest, m.latestErr
}

func (m *mockMarket) GetTimeSeries(ctx context.Context, itemID int, timestep string) ([]models.TimeSeriesPoint, error) {
	return m.points, m.seriesErr
}

func (m *mockMarket) IngestArchive(ctx context.Context, token string) (market.Receipt, error) {
	return m.receipt, m.ingestErr
}

type mockPortfolio struct {
	pos      models.Position
	applyErr error
	summary  ledger.Summary
	sumErr   error
	inserted int
	seedErr  error

	lastFill models.Fill
}

func (m *mockPortfolio) ApplyFill(ctx context.Context, fill models.Fill) (models.Position, error) {
	m.lastFill = fill
	return m.pos, m.applyErr
}

func (m *mockPortfolio) Summarize(ctx context.Context, userID string) (ledger.Summary, error) {
	return m.summary, m.sumErr
}

func (m *mockPortfolio) SeedTheses(ctx context.Context, userID string, pool []models.PoolItem) (int, error) {
	return m.inserted, m.seedErr
}

type mockPool struct {
	items []models.PoolItem
	err   error
}

func (m *mockPool) ListEnabledPoolItems(ctx context.Context) ([]models.PoolItem, error) {
	return m.items, m.err
}

func newTestServer(mkt *mockMarket, pf *mockPortfolio, limit int) http.Handler {
	if mkt == nil {
		mkt = &mockMarket{}
	}
	if pf == nil {
		pf = &mockPortfolio{}
	}
	srv := api.NewServer(api.ServerOptions{
		Market:    mkt,
		Portfolio: pf,
		Pool:      &mockPool{},
		Limiter:   ratelimit.New(limit, time.Minute),
		Logger:    zap.NewNop(),
	})
	mux := http.NewServeMux()
	srv.Register(mux)
	return mux
}

func doReq(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Latest(t *testing.T) {
	mkt := &mockMarket{latest: market.Latest{
		Prices:    map[string]models.PriceSnapshot{"2": {ItemID: "2", Last: 182}},
		FetchedAt: time.Now(),
	}}
	h := newTestServer(mkt, nil, 100)

	rec := doReq(t, h, http.MethodGet, "/api/market/latest", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"stale":false`) {
		t.Errorf("response missing stale flag: %s", rec.Body.String())
	}
}

func TestAPI_Latest_UpstreamDown(t *testing.T) {
	mkt := &mockMarket{latestErr: apperr.New(apperr.UpstreamUnavailable, "feed down and nothing cached")}
	h := newTestServer(mkt, nil, 100)

	rec := doReq(t, h, http.MethodGet, "/api/market/latest", "u1", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestAPI_TimeSeries_BadID(t *testing.T) {
	h := newTestServer(nil, nil, 100)

	rec := doReq(t, h, http.MethodGet, "/api/market/timeseries?id=whip&timestep=1h", "u1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPI_Fill_Conflict(t *testing.T) {
	pf := &mockPortfolio{applyErr: apperr.New(apperr.InsufficientPosition, "cannot sell 11, only 10 held")}
	h := newTestServer(nil, pf, 100)

	body := `{"item_id":2,"side":"sell","quantity":11,"price":150}`
	rec := doReq(t, h, http.MethodPost, "/api/portfolio/fills", "u1", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAPI_Fill_UserFromHeader(t *testing.T) {
	pf := &mockPortfolio{pos: models.Position{UserID: "u1", ItemID: 2, Quantity: 5}}
	h := newTestServer(nil, pf, 100)

	body := `{"item_id":2,"side":"buy","quantity":5,"price":100}`
	rec := doReq(t, h, http.MethodPost, "/api/portfolio/fills", "u1", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if pf.lastFill.UserID != "u1" {
		t.Errorf("fill user = %q, want header fallback u1", pf.lastFill.UserID)
	}
}

func TestAPI_Fill_BodyCannotOverrideHeaderIdentity(t *testing.T) {
	pf := &mockPortfolio{}
	h := newTestServer(nil, pf, 100)

	// A body user_id naming someone else is rejected outright.
	body := `{"user_id":"victim","item_id":2,"side":"buy","quantity":5,"price":100}`
	rec := doReq(t, h, http.MethodPost, "/api/portfolio/fills", "u1", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if pf.lastFill.UserID != "" {
		t.Errorf("mismatched fill reached the ledger as %q", pf.lastFill.UserID)
	}

	// Restating the authenticated user is fine.
	body = `{"user_id":"u1","item_id":2,"side":"buy","quantity":5,"price":100}`
	rec = doReq(t, h, http.MethodPost, "/api/portfolio/fills", "u1", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if pf.lastFill.UserID != "u1" {
		t.Errorf("fill user = %q, want u1", pf.lastFill.UserID)
	}
}

func TestAPI_Ingest_Unauthorized(t *testing.T) {
	mkt := &mockMarket{ingestErr: apperr.New(apperr.Unauthorized, "bad ingest token")}
	h := newTestServer(mkt, nil, 100)

	rec := doReq(t, h, http.MethodPost, "/api/market/ingest", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAPI_RateLimit_Returns429WithRetryAfter(t *testing.T) {
	h := newTestServer(nil, nil, 2)

	for i := 0; i < 2; i++ {
		if rec := doReq(t, h, http.MethodGet, "/api/market/latest", "u1", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}

	rec := doReq(t, h, http.MethodGet, "/api/market/latest", "u1", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response must carry Retry-After")
	}

	// A different user still has budget
	if rec := doReq(t, h, http.MethodGet, "/api/market/latest", "u2", ""); rec.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", rec.Code)
	}
}

func TestAPI_SeedTheses(t *testing.T) {
	pf := &mockPortfolio{inserted: 3}
	h := newTestServer(nil, pf, 100)

	rec := doReq(t, h, http.MethodPost, "/api/theses/seed", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if out["inserted"] != 3 {
		t.Errorf("inserted = %d, want 3", out["inserted"])
	}
}

func TestAPI_SeedTheses_RequiresUser(t *testing.T) {
	h := newTestServer(nil, nil, 100)

	rec := doReq(t, h, http.MethodPost, "/api/theses/seed", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPI_Health_NoBackendsConfigured(t *testing.T) {
	h := newTestServer(nil, nil, 100)

	rec := doReq(t, h, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
