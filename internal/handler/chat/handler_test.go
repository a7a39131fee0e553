package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/internal/service/intent"
	"github.com/zhouzirui/serenity/backend/internal/storage"
)

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, history []chat.Message, _ string) (string, error) {
	return "echo: " + history[len(history)-1].Content, nil
}

type chatOnly struct{}

func (chatOnly) Classify(_ context.Context, text string) intent.Intention {
	return intent.Intention{Kind: intent.KindChat, Query: text}
}

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Manager) {
	t.Helper()
	mem := storage.NewMemory()
	manager := chatservice.NewManager(chatservice.Deps{
		Store:      storage.NewAdapter(mem, nil),
		Images:     mem.Images(),
		Completer:  echoCompleter{},
		Classifier: chatOnly{},
	})
	t.Cleanup(manager.Close)

	r := chi.NewRouter()
	New(manager).RegisterRoutes(r)
	return r, manager
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateAndListSessions(t *testing.T) {
	r, _ := setupRouter(t)

	resp := doJSON(r, http.MethodPost, "/sessions", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var created chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if created.Title != chat.DefaultTitle {
		t.Fatalf("unexpected title %q", created.Title)
	}

	resp = doJSON(r, http.MethodGet, "/sessions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list struct {
		ActiveID string         `json:"activeId"`
		Sessions []chat.Summary `json:"sessions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.ActiveID != created.ID || len(list.Sessions) != 1 {
		t.Fatalf("unexpected listing: %+v", list)
	}
}

func TestSendMessageReturnsReply(t *testing.T) {
	r, manager := setupRouter(t)

	resp := doJSON(r, http.MethodPost, "/messages", map[string]string{"content": "hello jaan"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result chatservice.SendResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Reply.Content != "echo: hello jaan" {
		t.Fatalf("unexpected reply %q", result.Reply.Content)
	}
	if result.Session.ID != manager.ActiveID() {
		t.Fatalf("reply should land in the active session")
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	r, _ := setupRouter(t)

	resp := doJSON(r, http.MethodPost, "/messages", map[string]string{"content": "   "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendMessageUnknownSession(t *testing.T) {
	r, _ := setupRouter(t)

	resp := doJSON(r, http.MethodPost, "/messages", map[string]string{"sessionId": "missing", "content": "hi"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSelectAndDeleteSession(t *testing.T) {
	r, manager := setupRouter(t)
	first := manager.CreateSession()
	second := manager.CreateSession()

	resp := doJSON(r, http.MethodPut, "/sessions/active", map[string]string{"sessionId": first.ID})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if manager.ActiveID() != first.ID {
		t.Fatalf("expected %s active, got %s", first.ID, manager.ActiveID())
	}

	resp = doJSON(r, http.MethodDelete, "/sessions/"+first.ID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if manager.ActiveID() != second.ID {
		t.Fatalf("expected fallback to %s, got %s", second.ID, manager.ActiveID())
	}

	resp = doJSON(r, http.MethodGet, "/sessions/"+first.ID, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSelectSessionMissingID(t *testing.T) {
	r, _ := setupRouter(t)

	resp := doJSON(r, http.MethodPut, "/sessions/active", map[string]string{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestActiveSessionWhenNone(t *testing.T) {
	r, _ := setupRouter(t)

	resp := doJSON(r, http.MethodGet, "/sessions/active", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
