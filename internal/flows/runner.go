package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/casefile/internal/conversation"
	"github.com/kalambet/casefile/internal/extraction"
	"github.com/kalambet/casefile/internal/jobs"
	"github.com/kalambet/casefile/internal/remote"
)

// RemoteService is the slice of the remote client the runner needs.
// Implemented by remote.Client.
type RemoteService interface {
	SubmitJob(ctx context.Context, kind remote.JobKind, params map[string]any, conversationID string) (remote.SubmitResponse, error)
	JobStatus(ctx context.Context, jobID string) (remote.JobStatusPayload, error)
	JobResult(ctx context.Context, jobID string) (string, error)
	Chat(ctx context.Context, messages []remote.ChatMessage) (string, error)
	SearchLeaks(ctx context.Context, query string, limit int) ([]remote.LeakHit, error)
}

// EntityExtractor runs the extraction pipeline against free text.
// Implemented by extraction.Pipeline.
type EntityExtractor interface {
	Extract(ctx context.Context, text string, onProgress extraction.ProgressFunc) (extraction.Result, error)
}

// ReportSink stores rendered report bodies. Implemented by vault.FileStore.
type ReportSink interface {
	Write(key string, data []byte) error
}

// Runner drives analyst turns: it owns conversation mutation, remote calls,
// and the background goroutines that poll long-running jobs. While a job is
// in flight its goroutine is the sole writer of that conversation's trailing
// assistant message; every transition is persisted so readers always see the
// latest progress.
type Runner struct {
	conversations *conversation.Store
	remote        RemoteService
	extractor     EntityExtractor
	reports       ReportSink

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewRunner wires a Runner. reports may be nil if report bodies should stay
// inline in the conversation.
func NewRunner(store *conversation.Store, rc RemoteService, extractor EntityExtractor, reports ReportSink) *Runner {
	return &Runner{
		conversations: store,
		remote:        rc,
		extractor:     extractor,
		reports:       reports,
		running:       make(map[string]context.CancelFunc),
	}
}

// Ask answers a question against the remote Q&A endpoint. The full
// conversation history rides along so follow-ups stay coherent.
func (r *Runner) Ask(ctx context.Context, conversationID, question string) (*conversation.Conversation, error) {
	conv, err := r.loadOrCreate(conversationID, question, conversation.Modes{LocalSearch: true})
	if err != nil {
		return nil, err
	}
	conv.Append(conversation.Message{Role: conversation.RoleUser, Content: question})

	answer, err := r.remote.Chat(ctx, chatHistory(conv))
	if err != nil {
		conv.Append(conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: "The question could not be answered: " + err.Error(),
			Status:  string(jobs.StatusFailed),
		})
		if saveErr := r.conversations.Save(conv); saveErr != nil {
			slog.Error("persisting failed turn", "conversation_id", conv.ID, "error", saveErr)
		}
		return conv, fmt.Errorf("asking remote service: %w", err)
	}

	msg := conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: answer,
		Status:  string(jobs.StatusCompleted),
	}
	if conv.Modes.GraphGeneration {
		r.annotateWithEntities(ctx, &msg, answer)
	}
	conv.Append(msg)
	return conv, r.conversations.Save(conv)
}

// StartReport submits a report-generation job and polls it in the
// background. The returned conversation snapshot already carries the queued
// assistant turn.
func (r *Runner) StartReport(ctx context.Context, conversationID, prompt string) (*conversation.Conversation, error) {
	return r.startJob(ctx, conversationID, prompt, remote.KindReport, conversation.Modes{ReportGeneration: true})
}

// StartInvestigation submits a dark-web investigation job and polls it in
// the background.
func (r *Runner) StartInvestigation(ctx context.Context, conversationID, prompt string) (*conversation.Conversation, error) {
	return r.startJob(ctx, conversationID, prompt, remote.KindDarkWeb, conversation.Modes{DarkWeb: true})
}

// SearchLeaks queries the leak index and records the hits as one assistant
// turn.
func (r *Runner) SearchLeaks(ctx context.Context, conversationID, query string) (*conversation.Conversation, error) {
	conv, err := r.loadOrCreate(conversationID, query, conversation.Modes{LeakSearch: true})
	if err != nil {
		return nil, err
	}
	conv.Append(conversation.Message{Role: conversation.RoleUser, Content: query})

	hits, err := r.remote.SearchLeaks(ctx, query, 0)
	if err != nil {
		conv.Append(conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: "Leak search failed: " + err.Error(),
			Status:  string(jobs.StatusFailed),
		})
		if saveErr := r.conversations.Save(conv); saveErr != nil {
			slog.Error("persisting failed turn", "conversation_id", conv.ID, "error", saveErr)
		}
		return conv, fmt.Errorf("searching leaks: %w", err)
	}

	conv.Append(conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: formatLeakHits(query, hits),
		Status:  string(jobs.StatusCompleted),
	})
	return conv, r.conversations.Save(conv)
}

// Extract runs entity extraction over the given text (or, when text is
// empty, over the last assistant message) and records what was committed.
func (r *Runner) Extract(ctx context.Context, conversationID, text string) (*conversation.Conversation, error) {
	conv, err := r.loadOrCreate(conversationID, "Entity extraction", conversation.Modes{GraphGeneration: true, LocalSearch: true})
	if err != nil {
		return nil, err
	}
	if text == "" {
		text = lastAssistantContent(conv)
	}
	if text == "" {
		return nil, errors.New("nothing to extract: no text given and no assistant message in the conversation")
	}

	conv.Append(conversation.Message{Role: conversation.RoleUser, Content: "Extract entities from the investigation results."})
	msg := conversation.Message{Role: conversation.RoleAssistant}

	result, err := r.extractor.Extract(ctx, text, func(line string) {
		msg.Intermediate = append(msg.Intermediate, line)
	})
	if err != nil {
		msg.Content = "Entity extraction failed: " + err.Error()
		msg.Status = string(jobs.StatusFailed)
		conv.Append(msg)
		if saveErr := r.conversations.Save(conv); saveErr != nil {
			slog.Error("persisting failed turn", "conversation_id", conv.ID, "error", saveErr)
		}
		return conv, fmt.Errorf("extracting entities: %w", err)
	}

	fillExtractionMessage(&msg, result)
	conv.Append(msg)
	return conv, r.conversations.Save(conv)
}

// CancelAll cancels every in-flight job poll. Used at daemon shutdown; the
// affected turns stay in their last persisted state and resume is a fresh
// submission.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.running {
		slog.Info("cancelling job poll", "job_id", id)
		cancel()
	}
	r.running = make(map[string]context.CancelFunc)
}

// RunningJobs returns the ids of jobs currently being polled.
func (r *Runner) RunningJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	return ids
}

func (r *Runner) startJob(ctx context.Context, conversationID, prompt string, kind remote.JobKind, modes conversation.Modes) (*conversation.Conversation, error) {
	conv, err := r.loadOrCreate(conversationID, prompt, modes)
	if err != nil {
		return nil, err
	}
	conv.Append(conversation.Message{Role: conversation.RoleUser, Content: prompt})
	conv.Append(conversation.Message{
		Role:            conversation.RoleAssistant,
		Status:          string(jobs.StatusQueued),
		ProgressMessage: "Submitting job…",
	})
	if err := r.conversations.Save(conv); err != nil {
		return nil, err
	}

	resp, err := r.remote.SubmitJob(ctx, kind, map[string]any{"prompt": prompt}, conv.ReportConversationID)
	if err != nil {
		last := conv.Last()
		last.Status = string(jobs.StatusFailed)
		last.ProgressMessage = ""
		last.Content = "The job could not be submitted: " + err.Error()
		if saveErr := r.conversations.Save(conv); saveErr != nil {
			slog.Error("persisting failed submission", "conversation_id", conv.ID, "error", saveErr)
		}
		return conv, fmt.Errorf("submitting %s job: %w", kind, err)
	}

	last := conv.Last()
	last.JobID = resp.JobID
	if resp.ReportConversationID != "" && conv.ReportConversationID == "" {
		conv.ReportConversationID = resp.ReportConversationID
	}
	if err := r.conversations.Save(conv); err != nil {
		return conv, err
	}

	// The poll goroutine owns conv from here; hand the caller a snapshot.
	snapshot := conv.Clone()
	r.spawnPoll(ctx, conv, resp.JobID, kind)
	return snapshot, nil
}

// spawnPoll starts the background goroutine that owns the conversation's
// trailing message until the job reaches a terminal state.
func (r *Runner) spawnPoll(ctx context.Context, conv *conversation.Conversation, jobID string, kind remote.JobKind) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.running[jobID] = cancel
	r.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			r.mu.Lock()
			delete(r.running, jobID)
			r.mu.Unlock()
		}()

		poller := jobs.NewPoller(r.remote, jobs.EventsFunc(func(h jobs.Handle) {
			r.applyProgress(conv, h)
		}))
		outcome, err := poller.Run(jobCtx, jobID, kind)
		if err != nil {
			// Cancellation at shutdown; the turn stays as last persisted.
			slog.Info("job poll stopped", "job_id", jobID, "error", err)
			return
		}
		r.finishJob(jobCtx, conv, kind, outcome)
	}()
}

func (r *Runner) applyProgress(conv *conversation.Conversation, h jobs.Handle) {
	last := conv.Last()
	if last == nil || last.JobID != h.ID {
		return
	}
	last.Status = string(h.Status)
	last.ProgressMessage = h.Progress.Message
	last.ProgressPercent = h.Progress.Percent
	if len(h.Intermediate) > 0 {
		last.Intermediate = h.Intermediate
	}
	conv.UpdatedAt = time.Now().UTC()
	if err := r.conversations.Save(conv); err != nil {
		slog.Error("persisting job progress", "job_id", h.ID, "error", err)
	}
}

func (r *Runner) finishJob(ctx context.Context, conv *conversation.Conversation, kind remote.JobKind, outcome jobs.Outcome) {
	last := conv.Last()
	if last == nil || last.JobID != outcome.Handle.ID {
		slog.Warn("job outcome arrived for a turn that is no longer current", "job_id", outcome.Handle.ID)
		return
	}

	last.Status = string(outcome.Handle.Status)
	last.ProgressMessage = ""
	if outcome.ReportConversationID != "" && conv.ReportConversationID == "" {
		conv.ReportConversationID = outcome.ReportConversationID
	}

	if outcome.Failure != nil {
		last.Content = outcome.Failure.Message
	} else {
		last.Content = outcome.Content
		last.ProgressPercent = 100
		if kind == remote.KindReport {
			r.archiveReport(last, outcome)
		}
		if conv.Modes.GraphGeneration {
			r.annotateWithEntities(ctx, last, outcome.Content)
		}
	}

	conv.UpdatedAt = time.Now().UTC()
	if err := r.conversations.Save(conv); err != nil {
		slog.Error("persisting job outcome", "job_id", outcome.Handle.ID, "error", err)
	}
}

// archiveReport writes the rendered report body to the report sink so the
// conversation record can reference it instead of carrying only inline text.
func (r *Runner) archiveReport(msg *conversation.Message, outcome jobs.Outcome) {
	if r.reports == nil || outcome.Content == "" {
		return
	}
	key := "report-" + outcome.Handle.ID + ".md"
	if err := r.reports.Write(key, []byte(outcome.Content)); err != nil {
		slog.Warn("archiving report body", "job_id", outcome.Handle.ID, "error", err)
		return
	}
	msg.ReportFileRef = key
}

// annotateWithEntities runs extraction over freshly produced content and
// attaches what was committed to the message. Extraction failures degrade to
// a note; the turn's primary content is already in hand.
func (r *Runner) annotateWithEntities(ctx context.Context, msg *conversation.Message, text string) {
	if r.extractor == nil || text == "" {
		return
	}
	result, err := r.extractor.Extract(ctx, text, nil)
	if err != nil {
		slog.Warn("entity extraction after turn failed", "error", err)
		msg.Notes = append(msg.Notes, "entity extraction failed: "+err.Error())
		return
	}
	fillExtractionMessage(msg, result)
}

func (r *Runner) loadOrCreate(conversationID, title string, modes conversation.Modes) (*conversation.Conversation, error) {
	if conversationID == "" {
		return conversation.New(titleFrom(title), modes), nil
	}
	conv, err := r.conversations.Load(conversationID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func fillExtractionMessage(msg *conversation.Message, result extraction.Result) {
	msg.Status = string(jobs.StatusCompleted)
	msg.ConnectionsCreated = result.Relationships
	for _, e := range result.Created {
		msg.CreatedEntities = append(msg.CreatedEntities, conversation.CreatedEntity{
			ID:          e.ID,
			Type:        string(e.Type),
			Label:       e.Label,
			LocationRef: e.LocationRef,
		})
	}
	if msg.Content == "" {
		msg.Content = fmt.Sprintf("Extracted %d entities and %d connections (%d operations, %d drafts skipped).",
			len(result.Created), result.Relationships, result.Operations, result.Skipped)
	}
}

func chatHistory(conv *conversation.Conversation) []remote.ChatMessage {
	history := make([]remote.ChatMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Content == "" {
			continue
		}
		history = append(history, remote.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return history
}

func lastAssistantContent(conv *conversation.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		if m.Role == conversation.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

func formatLeakHits(query string, hits []remote.LeakHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No leak records found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d leak records for %q:\n", len(hits), query)
	for _, h := range hits {
		fmt.Fprintf(&b, "\n- **%s** (%s", h.Title, h.Source)
		if h.Date != "" {
			fmt.Fprintf(&b, ", %s", h.Date)
		}
		b.WriteString(")")
		if h.Snippet != "" {
			fmt.Fprintf(&b, "\n  %s", h.Snippet)
		}
	}
	return b.String()
}

const maxTitleLen = 48

func titleFrom(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "New conversation"
	}
	if line, _, found := strings.Cut(s, "\n"); found {
		s = line
	}
	runes := []rune(s)
	if len(runes) > maxTitleLen {
		s = strings.TrimSpace(string(runes[:maxTitleLen])) + "…"
	}
	return s
}
