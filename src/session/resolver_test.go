package session

import (
	"errors"
	"testing"
	"time"

	"chart-gateway/src/helpers"
	"chart-gateway/src/logger"
	"chart-gateway/src/models"
)

// fakeStore counts reads so tests can observe whether the cache absorbed a
// lookup.
type fakeStore struct {
	records map[string][]models.MSessionRecord
	reads   int
	failAll bool
}

func (f *fakeStore) Initialize() error { return nil }

func (f *fakeStore) SaveSession(record models.MSessionRecord) error {
	f.records[record.Platform] = append([]models.MSessionRecord{record}, f.records[record.Platform]...)
	return nil
}

func (f *fakeStore) GetSession(platform, id string) (models.MSessionRecord, error) {
	for _, rec := range f.records[platform] {
		if rec.ID == id {
			return rec, nil
		}
	}
	return models.MSessionRecord{}, errors.New("not found")
}

func (f *fakeStore) ListSessions(platform string) ([]models.MSessionRecord, error) {
	f.reads++
	if f.failAll {
		return nil, errors.New("store unavailable")
	}
	return f.records[platform], nil
}

func (f *fakeStore) CleanupOldSessions(maxAge time.Duration) (int64, error) { return 0, nil }

func (f *fakeStore) Close() error { return nil }

// -----------------------------------------------------------------------------

func testRecord(id, email string) models.MSessionRecord {
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

func newTestResolver(store *fakeStore, ttl time.Duration) *Resolver {
	return NewResolver(store, ttl, logger.NewLogger("ERROR", "test"))
}

// -----------------------------------------------------------------------------

func TestResolver_GetLatestSession(t *testing.T) {
	store := &fakeStore{records: map[string][]models.MSessionRecord{
		models.PlatformChartingService: {testRecord("newest", "a@x.io"), testRecord("older", "b@x.io")},
	}}
	r := newTestResolver(store, time.Minute)

	rec, err := r.GetLatestSession(models.PlatformChartingService)
	if err != nil {
		t.Fatalf("GetLatestSession() error = %v", err)
	}
	if rec.ID != "newest" {
		t.Errorf("ID = %q, want newest", rec.ID)
	}
}

func TestResolver_GetSessionForUser(t *testing.T) {
	store := &fakeStore{records: map[string][]models.MSessionRecord{
		models.PlatformChartingService: {testRecord("newest", "a@x.io"), testRecord("older", "b@x.io")},
	}}
	r := newTestResolver(store, time.Minute)

	rec, err := r.GetSessionForUser(models.PlatformChartingService, "b@x.io")
	if err != nil {
		t.Fatalf("GetSessionForUser() error = %v", err)
	}
	if rec.ID != "older" {
		t.Errorf("ID = %q, want older", rec.ID)
	}

	_, err = r.GetSessionForUser(models.PlatformChartingService, "nobody@x.io")
	if !helpers.IsSessionNotFound(err) {
		t.Errorf("err = %v, want session not found", err)
	}
}

func TestResolver_CacheAbsorbsRepeatLookups(t *testing.T) {
	store := &fakeStore{records: map[string][]models.MSessionRecord{
		models.PlatformChartingService: {testRecord("r1", "a@x.io")},
	}}
	r := newTestResolver(store, time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := r.GetLatestSession(models.PlatformChartingService); err != nil {
			t.Fatalf("GetLatestSession() error = %v", err)
		}
	}
	if store.reads != 1 {
		t.Errorf("store reads = %d, want 1", store.reads)
	}

	// Distinct keys miss independently.
	if _, err := r.GetSessionForUser(models.PlatformChartingService, "a@x.io"); err != nil {
		t.Fatalf("GetSessionForUser() error = %v", err)
	}
	if store.reads != 2 {
		t.Errorf("store reads = %d, want 2", store.reads)
	}
}

func TestResolver_TTLExpiryForcesRead(t *testing.T) {
	store := &fakeStore{records: map[string][]models.MSessionRecord{
		models.PlatformChartingService: {testRecord("r1", "a@x.io")},
	}}
	r := newTestResolver(store, 20*time.Millisecond)

	r.GetLatestSession(models.PlatformChartingService)
	time.Sleep(40 * time.Millisecond)
	r.GetLatestSession(models.PlatformChartingService)

	if store.reads != 2 {
		t.Errorf("store reads = %d, want 2 after TTL expiry", store.reads)
	}
}

func TestResolver_ClearCacheForcesRead(t *testing.T) {
	store := &fakeStore{records: map[string][]models.MSessionRecord{
		models.PlatformChartingService: {testRecord("r1", "a@x.io")},
	}}
	r := newTestResolver(store, time.Minute)

	r.GetLatestSession(models.PlatformChartingService)
	r.ClearCache()
	r.GetLatestSession(models.PlatformChartingService)

	if store.reads != 2 {
		t.Errorf("store reads = %d, want 2 after cache clear", store.reads)
	}
}

func TestResolver_StoreErrorIsNotCached(t *testing.T) {
	store := &fakeStore{records: map[string][]models.MSessionRecord{}, failAll: true}
	r := newTestResolver(store, time.Minute)

	_, err := r.GetLatestSession(models.PlatformChartingService)
	if err == nil {
		t.Fatal("GetLatestSession() expected error")
	}
	if helpers.IsSessionNotFound(err) {
		t.Error("store failure must not masquerade as session not found")
	}

	store.failAll = false
	store.records[models.PlatformChartingService] = []models.MSessionRecord{testRecord("r1", "a@x.io")}

	if _, err := r.GetLatestSession(models.PlatformChartingService); err != nil {
		t.Errorf("lookup after recovery error = %v", err)
	}
}

func TestResolver_SweepExpired(t *testing.T) {
	store := &fakeStore{records: map[string][]models.MSessionRecord{
		models.PlatformChartingService: {testRecord("r1", "a@x.io")},
	}}
	r := newTestResolver(store, 10*time.Millisecond)

	r.GetLatestSession(models.PlatformChartingService)
	time.Sleep(30 * time.Millisecond)

	if removed := r.SweepExpired(); removed != 1 {
		t.Errorf("SweepExpired() = %d, want 1", removed)
	}
	if stats := r.GetStats(); stats.CachedEntries != 0 {
		t.Errorf("CachedEntries = %d, want 0", stats.CachedEntries)
	}
}

// -----------------------------------------------------------------------------

func TestExtractChartingServiceSession(t *testing.T) {
	rec := testRecord("r1", "a@x.io")
	creds, err := ExtractChartingServiceSession(rec)
	if err != nil {
		t.Fatalf("ExtractChartingServiceSession() error = %v", err)
	}
	if creds.SessionID != "sess-r1" {
		t.Errorf("SessionID = %q, want sess-r1", creds.SessionID)
	}
	if creds.SessionIDSign != "sign-r1" {
		t.Errorf("SessionIDSign = %q, want sign-r1", creds.SessionIDSign)
	}

	rec.Fields = map[string]string{"other": "x"}
	_, err = ExtractChartingServiceSession(rec)
	if !helpers.IsMissingCredentialField(err) {
		t.Errorf("err = %v, want missing credential field", err)
	}
}

func TestExtractPrimaryBrokerSession(t *testing.T) {
	rec := models.MSessionRecord{
		Platform: models.PlatformPrimaryBroker,
		ID:       "b1",
		Fields:   map[string]string{"SESSIONID42": "broker-token", "csrftoken": "x"},
	}

	creds, err := ExtractPrimaryBrokerSession(rec)
	if err != nil {
		t.Fatalf("ExtractPrimaryBrokerSession() error = %v", err)
	}
	if creds.CookieName != "SESSIONID42" {
		t.Errorf("CookieName = %q, want SESSIONID42", creds.CookieName)
	}
	if creds.CookieValue != "broker-token" {
		t.Errorf("CookieValue = %q, want broker-token", creds.CookieValue)
	}

	rec.Fields = map[string]string{"sessionid_sign": "only-sign"}
	_, err = ExtractPrimaryBrokerSession(rec)
	if !helpers.IsMissingCredentialField(err) {
		t.Errorf("err = %v, want missing credential field", err)
	}
}
