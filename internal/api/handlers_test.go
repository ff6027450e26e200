package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/casefile/internal/conversation"
	"github.com/kalambet/casefile/internal/extraction"
)

const testToken = "test-token-123"

// --- mocks ---

type mockRunner struct {
	askFn     func(ctx context.Context, conversationID, question string) (*conversation.Conversation, error)
	reportFn  func(ctx context.Context, conversationID, prompt string) (*conversation.Conversation, error)
	darkwebFn func(ctx context.Context, conversationID, prompt string) (*conversation.Conversation, error)
	leaksFn   func(ctx context.Context, conversationID, query string) (*conversation.Conversation, error)
	extractFn func(ctx context.Context, conversationID, text string) (*conversation.Conversation, error)
}

func (m *mockRunner) Ask(ctx context.Context, id, q string) (*conversation.Conversation, error) {
	return m.askFn(ctx, id, q)
}

func (m *mockRunner) StartReport(ctx context.Context, id, p string) (*conversation.Conversation, error) {
	return m.reportFn(ctx, id, p)
}

func (m *mockRunner) StartInvestigation(ctx context.Context, id, p string) (*conversation.Conversation, error) {
	return m.darkwebFn(ctx, id, p)
}

func (m *mockRunner) SearchLeaks(ctx context.Context, id, q string) (*conversation.Conversation, error) {
	return m.leaksFn(ctx, id, q)
}

func (m *mockRunner) Extract(ctx context.Context, id, text string) (*conversation.Conversation, error) {
	return m.extractFn(ctx, id, text)
}

type mockEntities struct {
	entities []extraction.Entity
	err      error
}

func (m *mockEntities) AllEntities(_ context.Context) ([]extraction.Entity, error) {
	return m.entities, m.err
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{data: make(map[string][]byte)} }

func (b *memBlobs) Read(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[key]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return d, nil
}

func (b *memBlobs) Write(key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Exists(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok
}

func (b *memBlobs) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		return conversation.ErrNotFound
	}
	delete(b.data, key)
	return nil
}

func (b *memBlobs) List(prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// --- helpers ---

func setupAppHandler(t *testing.T, runner TurnRunner) (http.Handler, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore(newMemBlobs())
	handler := NewAppHandler(AppDeps{
		Runner:        runner,
		Conversations: store,
		Entities:      &mockEntities{},
		Token:         testToken,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// --- tests ---

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := setupAppHandler(t, &mockRunner{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestConversations_NoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, &mockRunner{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations", "", "wrong-token"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
}

func TestConversations_CreateGetList(t *testing.T) {
	h, _ := setupAppHandler(t, &mockRunner{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/conversations", `{"title":"case 14","modes":{"dark_web":true}}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var created conversationView
	json.NewDecoder(rr.Body).Decode(&created)
	if created.ID == "" || created.Title != "case 14" {
		t.Fatalf("created = %+v", created)
	}
	if !created.Modes.DarkWeb || created.Modes.LocalSearch {
		t.Errorf("modes not normalized: %+v", created.Modes)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations/"+created.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rr.Code)
	}
	var summaries []conversation.Summary
	json.NewDecoder(rr.Body).Decode(&summaries)
	if len(summaries) != 1 || summaries[0].Mode != "darkweb" {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestConversations_GetMissing(t *testing.T) {
	h, _ := setupAppHandler(t, &mockRunner{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations/nope", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestConversations_RenameAndDelete(t *testing.T) {
	h, store := setupAppHandler(t, &mockRunner{})
	conv := conversation.New("draft", conversation.Modes{})
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/conversations/"+conv.ID, `{"title":"final"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("rename: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	got, err := store.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Title != "final" {
		t.Errorf("title = %q, want final", got.Title)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/conversations/"+conv.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/conversations/"+conv.ID, "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestTurn_AskRoutesToRunner(t *testing.T) {
	var gotID, gotMessage string
	runner := &mockRunner{
		askFn: func(ctx context.Context, id, q string) (*conversation.Conversation, error) {
			gotID, gotMessage = id, q
			conv := conversation.New("q", conversation.Modes{})
			conv.Append(conversation.Message{Role: conversation.RoleUser, Content: q})
			conv.Append(conversation.Message{Role: conversation.RoleAssistant, Content: "the answer"})
			return conv, nil
		},
	}
	h, _ := setupAppHandler(t, runner)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/conversations/new/ask", `{"message":"who?"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if gotID != "" {
		t.Errorf("conversation id = %q, want empty for /new", gotID)
	}
	if gotMessage != "who?" {
		t.Errorf("message = %q", gotMessage)
	}

	var view conversationView
	json.NewDecoder(rr.Body).Decode(&view)
	if len(view.Messages) != 2 || view.Messages[1].Content != "the answer" {
		t.Errorf("view = %+v", view)
	}
}

func TestTurn_MissingMessage(t *testing.T) {
	h, _ := setupAppHandler(t, &mockRunner{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/conversations/new/report", `{}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestTurn_UnknownConversation(t *testing.T) {
	runner := &mockRunner{
		darkwebFn: func(ctx context.Context, id, p string) (*conversation.Conversation, error) {
			return nil, conversation.ErrNotFound
		},
	}
	h, _ := setupAppHandler(t, runner)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/conversations/missing/darkweb", `{"message":"go"}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestTurn_FailureCarriesConversation(t *testing.T) {
	runner := &mockRunner{
		leaksFn: func(ctx context.Context, id, q string) (*conversation.Conversation, error) {
			conv := conversation.New("leaks", conversation.Modes{LeakSearch: true})
			conv.Append(conversation.Message{Role: conversation.RoleAssistant, Content: "Leak search failed: upstream down", Status: "failed"})
			return conv, context.DeadlineExceeded
		},
	}
	h, _ := setupAppHandler(t, runner)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/conversations/new/leaks", `{"message":"x@example.com"}`, testToken))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	var resp struct {
		Error        map[string]any   `json:"error"`
		Conversation conversationView `json:"conversation"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Conversation.ID == "" {
		t.Error("failed turn response should carry the updated conversation")
	}
}

func TestExtract_EmptyTextAllowed(t *testing.T) {
	var gotText string
	runner := &mockRunner{
		extractFn: func(ctx context.Context, id, text string) (*conversation.Conversation, error) {
			gotText = text
			return conversation.New("x", conversation.Modes{}), nil
		},
	}
	h, _ := setupAppHandler(t, runner)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/conversations/abc/extract", `{}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if gotText != "" {
		t.Errorf("text = %q, want empty passthrough", gotText)
	}
}

func TestEntities_List(t *testing.T) {
	store := conversation.NewStore(newMemBlobs())
	h := NewAppHandler(AppDeps{
		Runner:        &mockRunner{},
		Conversations: store,
		Entities: &mockEntities{entities: []extraction.Entity{
			{ID: "e1", Type: extraction.TypePerson, Label: "Viktor Anosov"},
		}},
		Token: testToken,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/entities", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var entities []extraction.Entity
	json.NewDecoder(rr.Body).Decode(&entities)
	if len(entities) != 1 || entities[0].Label != "Viktor Anosov" {
		t.Errorf("entities = %+v", entities)
	}
}
