package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Modes are the conversation's flow flags. The four main modes are mutually
// exclusive while the conversation is edited; graph generation is
// independent and may combine with any of them.
type Modes struct {
	LocalSearch      bool `json:"local_search"`
	DarkWeb          bool `json:"dark_web"`
	ReportGeneration bool `json:"report_generation"`
	LeakSearch       bool `json:"leak_search"`
	GraphGeneration  bool `json:"graph_generation"`
}

// Normalize enforces main-mode exclusivity. When several main flags are set
// the most specific wins (dark web, then report, then leak search); when
// none is set the conversation defaults to local search.
func (m *Modes) Normalize() {
	switch {
	case m.DarkWeb:
		m.ReportGeneration, m.LeakSearch, m.LocalSearch = false, false, false
	case m.ReportGeneration:
		m.LeakSearch, m.LocalSearch = false, false
	case m.LeakSearch:
		m.LocalSearch = false
	default:
		m.LocalSearch = true
	}
}

// MainMode returns the active main mode as a short name.
func (m Modes) MainMode() string {
	switch {
	case m.DarkWeb:
		return "darkweb"
	case m.ReportGeneration:
		return "report"
	case m.LeakSearch:
		return "leaks"
	default:
		return "local"
	}
}

// CreatedEntity is the display record of an entity committed during a turn.
type CreatedEntity struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Label       string `json:"label"`
	LocationRef string `json:"location_ref,omitempty"`
}

// Message is one conversation turn. History is append-only, except that the
// last assistant message is mutated in place while its job is in flight and
// frozen once terminal.
type Message struct {
	Role               Role            `json:"role"`
	Content            string          `json:"content"`
	Timestamp          time.Time       `json:"timestamp"`
	Notes              []string        `json:"notes,omitempty"`
	JobID              string          `json:"job_id,omitempty"`
	Status             string          `json:"status,omitempty"`
	ProgressMessage    string          `json:"progress_message,omitempty"`
	ProgressPercent    int             `json:"progress_percent,omitempty"`
	Intermediate       []string        `json:"intermediate_results,omitempty"`
	CreatedEntities    []CreatedEntity `json:"created_entities,omitempty"`
	ConnectionsCreated int             `json:"connections_created,omitempty"`
	ReportFileRef      string          `json:"report_file_ref,omitempty"`
}

// Conversation is one persisted analyst session.
type Conversation struct {
	ID                   string
	Title                string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Modes                Modes
	ReportConversationID string
	Messages             []Message
}

// New creates an empty conversation with the given title and modes.
func New(title string, modes Modes) *Conversation {
	modes.Normalize()
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Modes:     modes,
	}
}

// Append adds a message and bumps the updated timestamp.
func (c *Conversation) Append(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = time.Now().UTC()
}

// Last returns the trailing message for in-place progress updates, or nil
// when the conversation is empty.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Clone returns a deep-enough copy for handing to the persistence layer
// while the caller keeps mutating the original.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}
