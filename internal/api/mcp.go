package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/casefile/internal/conversation"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Runner        TurnRunner
	Conversations *conversation.Store
	Entities      EntityLister
}

// NewMCPServer creates an MCP server exposing the analyst flows as tools so
// an agent can drive investigations and query the entity graph.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"casefile",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("casefile is an analyst client for long-running investigative jobs, leak search, and entity extraction."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question against the investigation service. Pass conversation_id to continue an existing conversation."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue (omit to start a new one)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("start_investigation",
			mcp.WithDescription("Start a long-running dark-web investigation job. Returns immediately; poll the conversation for progress."),
			mcp.WithString("prompt", mcp.Description("What to investigate"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue (omit to start a new one)")),
		),
		mcpStartInvestigation(deps),
	)

	s.AddTool(
		mcp.NewTool("search_leaks",
			mcp.WithDescription("Search leaked-data indexes for an identifier (email, phone, name)."),
			mcp.WithString("query", mcp.Description("Identifier to search for"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue (omit to start a new one)")),
		),
		mcpSearchLeaks(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_entities",
			mcp.WithDescription("Extract entities and connections from text and commit them to the entity graph."),
			mcp.WithString("text", mcp.Description("Text to extract from"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to record the extraction in (omit to start a new one)")),
		),
		mcpExtractEntities(deps),
	)

	s.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List stored conversations, newest first."),
		),
		mcpListConversations(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"casefile://entities",
			"Entity Graph",
			mcp.WithResourceDescription("All committed entities as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceEntities(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		conv, err := deps.Runner.Ask(ctx, conversationID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		answer := ""
		if last := conv.Last(); last != nil {
			answer = last.Content
		}
		b, _ := json.Marshal(map[string]string{
			"conversation_id": conv.ID,
			"answer":          answer,
		})
		return mcpText(string(b)), nil
	}
}

func mcpStartInvestigation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		conv, err := deps.Runner.StartInvestigation(ctx, conversationID, prompt)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start investigation: %v", err)), nil
		}

		jobID := ""
		if last := conv.Last(); last != nil {
			jobID = last.JobID
		}
		b, _ := json.Marshal(map[string]string{
			"conversation_id": conv.ID,
			"job_id":          jobID,
			"status":          "queued",
		})
		return mcpText(string(b)), nil
	}
}

func mcpSearchLeaks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		conv, err := deps.Runner.SearchLeaks(ctx, conversationID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("leak search failed: %v", err)), nil
		}

		result := ""
		if last := conv.Last(); last != nil {
			result = last.Content
		}
		return mcpText(result), nil
	}
}

func mcpExtractEntities(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		conv, err := deps.Runner.Extract(ctx, conversationID, text)
		if err != nil {
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}

		last := conv.Last()
		if last == nil {
			return mcpError("extraction produced no result"), nil
		}
		b, err := json.Marshal(map[string]any{
			"conversation_id":     conv.ID,
			"created_entities":    last.CreatedEntities,
			"connections_created": last.ConnectionsCreated,
			"summary":             last.Content,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summaries, err := deps.Conversations.List()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list conversations: %v", err)), nil
		}
		if len(summaries) == 0 {
			return mcpText("[]"), nil
		}

		type summaryResult struct {
			ID           string `json:"id"`
			Title        string `json:"title"`
			UpdatedAt    string `json:"updated_at"`
			MessageCount int    `json:"message_count"`
			Mode         string `json:"mode"`
		}
		results := make([]summaryResult, len(summaries))
		for i, s := range summaries {
			results[i] = summaryResult{
				ID:           s.ID,
				Title:        s.Title,
				UpdatedAt:    s.UpdatedAt.Format(time.RFC3339),
				MessageCount: s.MessageCount,
				Mode:         s.Mode,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conversations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceEntities(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entities, err := deps.Entities.AllEntities(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list entities: %w", err)
		}

		b, err := json.Marshal(entities)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entities: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
