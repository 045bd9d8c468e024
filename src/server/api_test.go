package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chart-gateway/src/charting"
	"chart-gateway/src/helpers"
	"chart-gateway/src/logger"
	"chart-gateway/src/models"
	"chart-gateway/src/network"
	"chart-gateway/src/session"

	"github.com/golang-jwt/jwt/v5"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type memStore struct {
	records []models.MSessionRecord
}

func (m *memStore) Initialize() error { return nil }

func (m *memStore) SaveSession(rec models.MSessionRecord) error { return nil }

func (m *memStore) Close() error { return nil }

func (m *memStore) CleanupOldSessions(time.Duration) (int64, error) { return 0, nil }

func (m *memStore) GetSession(platform, id string) (models.MSessionRecord, error) {
	for _, rec := range m.records {
		if rec.Platform == platform && rec.ID == id {
			return rec, nil
		}
	}
	return models.MSessionRecord{}, helpers.NewSessionNotFoundError("absent")
}

func (m *memStore) ListSessions(platform string) ([]models.MSessionRecord, error) {
	var out []models.MSessionRecord
	for _, rec := range m.records {
		if rec.Platform == platform {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeFetcher struct {
	lastCreds models.MChartingCredentials
	lastReq   models.MFetchRequest
	response  *models.MFetchResponse
	err       error
}

func (f *fakeFetcher) FetchSymbol(ctx context.Context, creds models.MChartingCredentials, req models.MFetchRequest) (*models.MFetchResponse, error) {
	f.lastCreds = creds
	f.lastReq = req
	return f.response, f.err
}

func (f *fakeFetcher) EvictIdle() int { return 0 }

func (f *fakeFetcher) Shutdown() {}

func (f *fakeFetcher) GetStats() models.MPoolStats { return models.MPoolStats{Connections: 1} }

// -----------------------------------------------------------------------------

func testServer(t *testing.T, store *memStore, fetcher *fakeFetcher, sideChannelURL, jwtSecret string) *APIServer {
	t.Helper()

	cfg := &models.MConfig{
		Name:     "chart-gateway",
		LogLevel: "ERROR",
		Network:  models.MNetworkConfig{RequestTimeout: 5, UserAgent: "test-agent"},
		Charting: models.MChartingConfig{SideChannelURL: sideChannelURL, ConfigTimeoutSeconds: 1},
		Auth:     models.MAuthConfig{JWTSecret: jwtSecret},
	}

	log := logger.NewLogger("ERROR", "test")
	resolver := session.NewResolver(store, time.Minute, log)
	sideChannel := charting.NewSideChannel(cfg, network.NewAsyncNetworkManager(cfg, log), log, time.Minute)

	return NewAPIServer(cfg, resolver, sideChannel, fetcher, log)
}

func storedSession(id, email string) models.MSessionRecord {
	return models.MSessionRecord{
		Platform:   models.PlatformChartingService,
		ID:         id,
		UserEmail:  email,
		CapturedAt: time.Now().UTC(),
		Fields: map[string]string{
			"sessionid":      "sess-" + id,
			"sessionid_sign": "sign-" + id,
		},
	}
}

func doJSON(t *testing.T, s *APIServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

// -----------------------------------------------------------------------------

func TestAPI_FetchUsesStoredSession(t *testing.T) {
	store := &memStore{records: []models.MSessionRecord{storedSession("r1", "a@x.io")}}
	fetcher := &fakeFetcher{response: &models.MFetchResponse{
		Bars:     []models.MBar{{Time: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}},
		Metadata: models.MSymbolMetadata{Name: "TESTX:ALPHA"},
	}}
	s := testServer(t, store, fetcher, "http://unused", "")

	rec := doJSON(t, s, http.MethodPost, "/api/fetch", `{"symbol":"TESTX:ALPHA","resolution":"1","bars_count":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if fetcher.lastCreds.SessionID != "sess-r1" {
		t.Errorf("creds.SessionID = %q, want the stored session", fetcher.lastCreds.SessionID)
	}

	var resp models.MFetchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response decode error = %v", err)
	}
	if len(resp.Bars) != 1 || resp.Metadata.Name != "TESTX:ALPHA" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAPI_FetchAnonymousWhenNoSessionStored(t *testing.T) {
	fetcher := &fakeFetcher{response: &models.MFetchResponse{}}
	s := testServer(t, &memStore{}, fetcher, "http://unused", "")

	rec := doJSON(t, s, http.MethodPost, "/api/fetch", `{"symbol":"TESTX:ALPHA"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if fetcher.lastCreds.SessionID != "" {
		t.Errorf("creds.SessionID = %q, want anonymous", fetcher.lastCreds.SessionID)
	}
	// Defaults fill in when the caller leaves them out.
	if fetcher.lastReq.Resolution != "1D" || fetcher.lastReq.BarsCount != 300 {
		t.Errorf("request defaults = %+v", fetcher.lastReq)
	}
}

func TestAPI_FetchUnknownUserIs404(t *testing.T) {
	store := &memStore{records: []models.MSessionRecord{storedSession("r1", "a@x.io")}}
	s := testServer(t, store, &fakeFetcher{}, "http://unused", "")

	rec := doJSON(t, s, http.MethodPost, "/api/fetch", `{"symbol":"TESTX:A","user_email":"nobody@x.io"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "session_not_found") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAPI_FetchValidation(t *testing.T) {
	s := testServer(t, &memStore{}, &fakeFetcher{}, "http://unused", "")

	if rec := doJSON(t, s, http.MethodPost, "/api/fetch", `{"resolution":"1"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing symbol: status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodPost, "/api/fetch", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("broken body: status = %d, want 400", rec.Code)
	}
}

func TestAPI_FetchErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{helpers.NewFetchTimeoutError("slow", nil), http.StatusGatewayTimeout, "fetch_timeout"},
		{helpers.NewHandshakeTimeoutError("no ack", nil), http.StatusGatewayTimeout, "handshake_timeout"},
		{helpers.NewProtocolError("bad frame", nil), http.StatusBadGateway, "protocol_error"},
		{helpers.NewSymbolResolutionError("no such symbol"), http.StatusNotFound, "symbol_not_found"},
		{helpers.NewSessionInvalidError("rejected"), http.StatusUnauthorized, "session_invalid"},
	}

	for _, c := range cases {
		s := testServer(t, &memStore{}, &fakeFetcher{err: c.err}, "http://unused", "")
		rec := doJSON(t, s, http.MethodPost, "/api/fetch", `{"symbol":"TESTX:A"}`)
		if rec.Code != c.status {
			t.Errorf("%s: status = %d, want %d", c.code, rec.Code, c.status)
		}
		if !strings.Contains(rec.Body.String(), c.code) {
			t.Errorf("%s: body = %s", c.code, rec.Body.String())
		}
	}
}

// -----------------------------------------------------------------------------

func TestAPI_DeleteWatchlist(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/watchlists/wl-7" {
			t.Errorf("unexpected upstream call %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound) // already gone still succeeds
	}))
	t.Cleanup(upstream.Close)

	store := &memStore{records: []models.MSessionRecord{storedSession("r1", "a@x.io")}}
	s := testServer(t, store, &fakeFetcher{}, upstream.URL, "")

	rec := doJSON(t, s, http.MethodDelete, "/api/watchlists/wl-7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_DeleteWatchlistWithoutSession(t *testing.T) {
	s := testServer(t, &memStore{}, &fakeFetcher{}, "http://unused", "")

	rec := doJSON(t, s, http.MethodDelete, "/api/watchlists/wl-7", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (deletes never run anonymously)", rec.Code)
	}
}

// -----------------------------------------------------------------------------

func TestAPI_HealthAndStats(t *testing.T) {
	s := testServer(t, &memStore{}, &fakeFetcher{}, "http://unused", "")

	if rec := doJSON(t, s, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d", rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connections") {
		t.Errorf("stats body = %s", rec.Body.String())
	}
}

func TestAPI_CacheClear(t *testing.T) {
	s := testServer(t, &memStore{}, &fakeFetcher{}, "http://unused", "")

	rec := doJSON(t, s, http.MethodPost, "/api/cache/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

// -----------------------------------------------------------------------------

func TestAPI_JWTGate(t *testing.T) {
	secret := "test-secret"
	s := testServer(t, &memStore{}, &fakeFetcher{}, "http://unused", secret)

	rec := doJSON(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, apiClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "a@x.io",
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	out := httptest.NewRecorder()
	s.Engine().ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body = %s", out.Code, out.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	out = httptest.NewRecorder()
	s.Engine().ServeHTTP(out, req)
	if out.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d, want 401", out.Code)
	}
}
