package remote

import "encoding/json"

// JobKind selects which investigative job the remote service runs.
type JobKind string

const (
	KindReport  JobKind = "report"
	KindDarkWeb JobKind = "darkweb"
)

// SubmitRequest is the JSON body for POST /v1/jobs.
type SubmitRequest struct {
	Kind           JobKind        `json:"kind"`
	Params         map[string]any `json:"params,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// SubmitResponse is the JSON returned by POST /v1/jobs.
type SubmitResponse struct {
	JobID                string `json:"job_id"`
	ReportConversationID string `json:"report_conversation_id,omitempty"`
}

// JobProgress is the optional progress block of a status payload.
type JobProgress struct {
	Message string `json:"message,omitempty"`
	Percent int    `json:"percent,omitempty"`
}

// JobStatusPayload mirrors the JSON returned by GET /v1/jobs/{id}.
type JobStatusPayload struct {
	Status               string       `json:"status"`
	Stage                string       `json:"stage,omitempty"`
	Progress             *JobProgress `json:"progress,omitempty"`
	Intermediate         []string     `json:"intermediate_results,omitempty"`
	ResponseReady        bool         `json:"response_ready,omitempty"`
	ReportConversationID string       `json:"report_conversation_id,omitempty"`
	Error                string       `json:"error,omitempty"`
}

// ChatMessage is a single turn sent to the remote Q&A endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /v1/chat.
type chatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// chatResponse is the JSON returned by POST /v1/chat.
type chatResponse struct {
	Answer string `json:"answer"`
}

// LeakHit is one result from the leak-search endpoint.
type LeakHit struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// leakSearchRequest is the JSON body for POST /v1/leaks/search.
type leakSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// leakSearchResponse is the JSON returned by POST /v1/leaks/search.
type leakSearchResponse struct {
	Hits []LeakHit `json:"hits"`
}

// KnownEntity is the context passed to the extractor so the remote side can
// dedup against entities the analyst already has.
type KnownEntity struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

// extractRequest is the JSON body for POST /v1/extract.
type extractRequest struct {
	Text     string        `json:"text"`
	Existing []KnownEntity `json:"existing_entities,omitempty"`
}

// ExtractResponse is the JSON returned by POST /v1/extract. Operations are
// kept raw: the extraction pipeline owns their interpretation.
type ExtractResponse struct {
	Success    bool            `json:"success"`
	Operations json.RawMessage `json:"operations,omitempty"`
	Error      string          `json:"error,omitempty"`
}
