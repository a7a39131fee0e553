package settings

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/serenity/backend/internal/model/settings"
)

type memoryStore struct {
	holder *settings.Holder
}

func (m *memoryStore) Settings() settings.AppSettings { return m.holder.Get() }

func (m *memoryStore) UpdateSettings(next settings.AppSettings) settings.AppSettings {
	return m.holder.Set(next)
}

func setupRouter(initial settings.AppSettings) (*chi.Mux, *memoryStore) {
	store := &memoryStore{holder: settings.NewHolder(initial)}
	r := chi.NewRouter()
	New(store).RegisterRoutes(r)
	return r, store
}

func TestGetSettingsRedactsKeys(t *testing.T) {
	initial := settings.Defaults()
	initial.KeyOpenRouter = "sk-secret"
	r, _ := setupRouter(initial)

	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if bytes.Contains(resp.Body.Bytes(), []byte("sk-secret")) {
		t.Fatalf("response leaked api key: %s", resp.Body.String())
	}

	var got settings.AppSettings
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.KeyOpenRouter != settings.RedactedKey {
		t.Fatalf("expected redacted marker, got %q", got.KeyOpenRouter)
	}
}

func TestUpdateSettingsBackfillsAndKeepsKeys(t *testing.T) {
	initial := settings.Defaults()
	initial.KeyGNews = "gnews-secret"
	r, store := setupRouter(initial)

	body := []byte(`{"userName":"Raj","partnerName":"Simran","keyGNews":"********","newsRefreshInterval":-3}`)
	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	got := store.Settings()
	if got.UserName != "Raj" || got.PartnerName != "Simran" {
		t.Fatalf("names not applied: %+v", got)
	}
	if got.SystemPrompt != settings.Defaults().SystemPrompt {
		t.Fatalf("system prompt should be backfilled")
	}
	if got.KeyGNews != "gnews-secret" {
		t.Fatalf("redacted key overwrote stored key: %q", got.KeyGNews)
	}
	if got.NewsRefreshInterval != settings.DefaultNewsRefreshInterval {
		t.Fatalf("interval not normalized: %d", got.NewsRefreshInterval)
	}
}

func TestUpdateSettingsInvalidBody(t *testing.T) {
	r, _ := setupRouter(settings.Defaults())

	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewReader([]byte("{")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
