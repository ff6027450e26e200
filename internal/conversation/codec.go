package conversation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Persisted layout: a header block of scalar metadata lines followed by a
// fenced JSON block holding the message array. The header stays greppable
// and diff-friendly; the fence carries everything structured. Free-form
// values (title, correlation id) are quoted so they stay on one line and
// cannot shadow other header fields or collide with the fence marker.
const messagesFence = "```json"

// Marshal serializes a conversation into its blob form.
func Marshal(c *Conversation) ([]byte, error) {
	var b strings.Builder
	writeField := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}

	writeField("id", c.ID)
	writeField("title", strconv.Quote(c.Title))
	writeField("created_at", c.CreatedAt.UTC().Format(time.RFC3339))
	writeField("updated_at", c.UpdatedAt.UTC().Format(time.RFC3339))
	writeField("message_count", strconv.Itoa(len(c.Messages)))
	writeField("local_search", strconv.FormatBool(c.Modes.LocalSearch))
	writeField("dark_web", strconv.FormatBool(c.Modes.DarkWeb))
	writeField("report_generation", strconv.FormatBool(c.Modes.ReportGeneration))
	writeField("leak_search", strconv.FormatBool(c.Modes.LeakSearch))
	writeField("graph_generation", strconv.FormatBool(c.Modes.GraphGeneration))
	if c.ReportConversationID != "" {
		writeField("report_conversation_id", strconv.Quote(c.ReportConversationID))
	}
	b.WriteString("\n")
	b.WriteString(messagesFence)
	b.WriteString("\n")

	msgs := c.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling messages: %w", err)
	}
	b.Write(data)
	b.WriteString("\n```\n")
	return []byte(b.String()), nil
}

// Unmarshal parses a blob back into a conversation. Header parsing tolerates
// records written by older versions: unknown keys are ignored, missing flags
// fall back to a legacy field name and then to a computed default.
func Unmarshal(data []byte) (*Conversation, error) {
	text := string(data)
	// The fence is matched as a whole line: quoted header values are always
	// single-line, so a fence marker inside a title cannot open the block.
	fenceLine := "\n" + messagesFence + "\n"
	fenceStart := strings.Index(text, fenceLine)
	if fenceStart < 0 {
		return nil, fmt.Errorf("conversation blob has no message block")
	}
	header := text[:fenceStart]
	rest := text[fenceStart+len(fenceLine):]
	fenceEnd := strings.LastIndex(rest, "\n```")
	if fenceEnd < 0 {
		return nil, fmt.Errorf("conversation blob has an unterminated message block")
	}
	body := strings.TrimSpace(rest[:fenceEnd])

	fields := make(map[string]string)
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		fields[key] = decodeFieldValue(value)
	}

	c := &Conversation{
		ID:                   fields["id"],
		Title:                fields["title"],
		ReportConversationID: fields["report_conversation_id"],
	}
	if c.ID == "" {
		return nil, fmt.Errorf("conversation blob has no id")
	}

	var err error
	if c.CreatedAt, err = parseTimeField(fields, "created_at"); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTimeField(fields, "updated_at"); err != nil {
		return nil, err
	}

	c.Modes.DarkWeb = boolField(fields, "dark_web", "darkWebMode", false)
	c.Modes.ReportGeneration = boolField(fields, "report_generation", "reportMode", false)
	c.Modes.LeakSearch = boolField(fields, "leak_search", "leakSearchMode", false)
	c.Modes.GraphGeneration = boolField(fields, "graph_generation", "graphMode", false)
	// Records predating the local_search flag are local-search conversations
	// unless another main mode says otherwise.
	localDefault := !c.Modes.DarkWeb && !c.Modes.ReportGeneration && !c.Modes.LeakSearch
	c.Modes.LocalSearch = boolField(fields, "local_search", "localSearchMode", localDefault)

	if body != "" {
		if err := json.Unmarshal([]byte(body), &c.Messages); err != nil {
			return nil, fmt.Errorf("parsing messages for %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// decodeFieldValue reverses the quoting Marshal applies to free-form header
// values. Unquoted values from older records pass through unchanged.
func decodeFieldValue(v string) string {
	if strings.HasPrefix(v, `"`) {
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
	}
	return v
}

func parseTimeField(fields map[string]string, key string) (time.Time, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", key, err)
	}
	return t, nil
}

func boolField(fields map[string]string, key, legacyKey string, fallback bool) bool {
	for _, k := range []string{key, legacyKey} {
		if raw, ok := fields[k]; ok {
			if v, err := strconv.ParseBool(raw); err == nil {
				return v
			}
		}
	}
	return fallback
}
