package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/casefile/internal/conversation"
	"github.com/kalambet/casefile/internal/extraction"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnRunner is the slice of the flow runner the API needs.
// Implemented by flows.Runner.
type TurnRunner interface {
	Ask(ctx context.Context, conversationID, question string) (*conversation.Conversation, error)
	StartReport(ctx context.Context, conversationID, prompt string) (*conversation.Conversation, error)
	StartInvestigation(ctx context.Context, conversationID, prompt string) (*conversation.Conversation, error)
	SearchLeaks(ctx context.Context, conversationID, query string) (*conversation.Conversation, error)
	Extract(ctx context.Context, conversationID, text string) (*conversation.Conversation, error)
}

// EntityLister abstracts the entity graph for the API layer.
type EntityLister interface {
	AllEntities(ctx context.Context) ([]extraction.Entity, error)
}

type AppDeps struct {
	Runner        TurnRunner
	Conversations *conversation.Store
	Entities      EntityLister
	Token         string
}

// NewAppHandler returns the management API handler. Everything except
// /health sits behind bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/conversations", handleListConversations(deps))
		r.Post("/conversations", handleCreateConversation(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Patch("/conversations/{id}", handleRenameConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))

		r.Post("/conversations/{id}/ask", handleTurn(deps, deps.Runner.Ask))
		r.Post("/conversations/{id}/report", handleTurn(deps, deps.Runner.StartReport))
		r.Post("/conversations/{id}/darkweb", handleTurn(deps, deps.Runner.StartInvestigation))
		r.Post("/conversations/{id}/leaks", handleTurn(deps, deps.Runner.SearchLeaks))
		r.Post("/conversations/{id}/extract", handleExtract(deps))

		r.Get("/entities", handleListEntities(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type turnRequest struct {
	Message string `json:"message"`
}

type conversationView struct {
	ID                   string                 `json:"id"`
	Title                string                 `json:"title"`
	CreatedAt            string                 `json:"created_at"`
	UpdatedAt            string                 `json:"updated_at"`
	Modes                conversation.Modes     `json:"modes"`
	ReportConversationID string                 `json:"report_conversation_id,omitempty"`
	Messages             []conversation.Message `json:"messages"`
}

func viewOf(c *conversation.Conversation) conversationView {
	messages := c.Messages
	if messages == nil {
		messages = []conversation.Message{}
	}
	return conversationView{
		ID:                   c.ID,
		Title:                c.Title,
		CreatedAt:            c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            c.UpdatedAt.Format(time.RFC3339),
		Modes:                c.Modes,
		ReportConversationID: c.ReportConversationID,
		Messages:             messages,
	}
}

// handleTurn runs one flow method against the conversation in the URL. The
// id "new" starts a fresh conversation.
func handleTurn(deps AppDeps, run func(ctx context.Context, conversationID, message string) (*conversation.Conversation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		conv, err := run(r.Context(), turnConversationID(r), req.Message)
		if err != nil {
			writeTurnError(w, conv, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(viewOf(conv))
	}
}

func handleExtract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// Text is optional: absent means "extract from the last assistant
		// message of this conversation".
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		conv, err := deps.Runner.Extract(r.Context(), turnConversationID(r), req.Text)
		if err != nil {
			writeTurnError(w, conv, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(viewOf(conv))
	}
}

// writeTurnError reports a failed turn. When the failure was recorded into
// the conversation the response still carries the updated record, so clients
// can render the assistant-facing message.
func writeTurnError(w http.ResponseWriter, conv *conversation.Conversation, err error) {
	if errors.Is(err, conversation.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	resp := map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "api_error",
		},
	}
	if conv != nil {
		resp["conversation"] = viewOf(conv)
	}
	json.NewEncoder(w).Encode(resp)
}

func turnConversationID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if id == "new" {
		return ""
	}
	return id
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := deps.Conversations.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		if summaries == nil {
			summaries = []conversation.Summary{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summaries)
	}
}

func handleCreateConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Title string             `json:"title"`
			Modes conversation.Modes `json:"modes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			req.Title = "New conversation"
		}

		conv := conversation.New(req.Title, req.Modes)
		if err := deps.Conversations.Save(conv); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(viewOf(conv))
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Conversations.Load(chi.URLParam(r, "id"))
		if errors.Is(err, conversation.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(viewOf(conv))
	}
}

func handleRenameConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Conversations.Rename(id, req.Title)
		if errors.Is(err, conversation.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rename conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "renamed"})
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Conversations.Delete(id)
		if errors.Is(err, conversation.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleListEntities(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entities, err := deps.Entities.AllEntities(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entities: %v", err)
			return
		}
		if entities == nil {
			entities = []extraction.Entity{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entities)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
