package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/casefile/internal/config"
)

// conversationView mirrors the daemon's conversation JSON.
type conversationView struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	UpdatedAt            string `json:"updated_at"`
	ReportConversationID string `json:"report_conversation_id"`
	Messages             []struct {
		Role            string `json:"role"`
		Content         string `json:"content"`
		JobID           string `json:"job_id"`
		Status          string `json:"status"`
		ProgressMessage string `json:"progress_message"`
		ProgressPercent int    `json:"progress_percent"`
		Intermediate    []string `json:"intermediate_results"`
		CreatedEntities []struct {
			Type  string `json:"type"`
			Label string `json:"label"`
		} `json:"created_entities"`
		ConnectionsCreated int    `json:"connections_created"`
		ReportFileRef      string `json:"report_file_ref"`
	} `json:"messages"`
}

type conversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
	Mode         string `json:"mode"`
}

type entityView struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

func turnPath(conversationID, op string) string {
	if conversationID == "" {
		conversationID = "new"
	}
	return fmt.Sprintf("/conversations/%s/%s", conversationID, op)
}

// runTurn posts one message to a turn endpoint and prints the trailing
// assistant message.
func runTurn(cmd *cobra.Command, op string, args []string) error {
	message := strings.Join(args, " ")
	conversationID, _ := cmd.Flags().GetString("conversation")

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), turnPath(conversationID, op), map[string]string{"message": message})
	if err != nil {
		return err
	}

	var conv conversationView
	if err := decodeJSON(resp, &conv); err != nil {
		return err
	}

	printTurn(conv)
	return nil
}

func printTurn(conv conversationView) {
	if len(conv.Messages) == 0 {
		printWarning("conversation %s has no messages", conv.ID)
		return
	}
	last := conv.Messages[len(conv.Messages)-1]

	switch last.Status {
	case "queued", "processing":
		printStep("Job %s %s", last.JobID, last.Status)
		if last.ProgressMessage != "" {
			printStatus("Progress", "%s (%d%%)", last.ProgressMessage, last.ProgressPercent)
		}
		printStatus("Conversation", "%s", conv.ID)
		fmt.Fprintf(os.Stderr, "  follow with: casefile conversations show %s\n", conv.ID)
	case "failed", "timed_out":
		printError("%s", last.Content)
		printStatus("Conversation", "%s", conv.ID)
	default:
		fmt.Println(last.Content)
		if len(last.CreatedEntities) > 0 {
			printStatus("Entities", "%d created, %d connections", len(last.CreatedEntities), last.ConnectionsCreated)
		}
		if last.ReportFileRef != "" {
			printStatus("Report file", "%s", last.ReportFileRef)
		}
		printStatus("Conversation", "%s", conv.ID)
	}
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the investigation service",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTurn(cmd, "ask", args)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <prompt>",
	Short: "Start a report-generation job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTurn(cmd, "report", args)
	},
}

var darkwebCmd = &cobra.Command{
	Use:   "darkweb <prompt>",
	Short: "Start a dark-web investigation job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTurn(cmd, "darkweb", args)
	},
}

var leaksCmd = &cobra.Command{
	Use:   "leaks <query>",
	Short: "Search leaked-data indexes for an identifier",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTurn(cmd, "leaks", args)
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [text]",
	Short: "Extract entities from text (or the last assistant message)",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		conversationID, _ := cmd.Flags().GetString("conversation")
		if text == "" && conversationID == "" {
			return fmt.Errorf("pass text to extract, or --conversation to use its last assistant message")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), turnPath(conversationID, "extract"), map[string]string{"text": text})
		if err != nil {
			return err
		}

		var conv conversationView
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}

		printTurn(conv)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{askCmd, reportCmd, darkwebCmd, leaksCmd, extractCmd} {
		c.Flags().String("conversation", "", "conversation id to continue (default: start a new one)")
	}
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/conversations")
		if err != nil {
			return err
		}

		var summaries []conversationSummary
		if err := decodeJSON(resp, &summaries); err != nil {
			return err
		}

		if len(summaries) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, s := range summaries {
			fmt.Printf("%s  %s  [%s, %d messages]  %s\n",
				s.ID, colorize(colorBold, s.Title), s.Mode, s.MessageCount, s.UpdatedAt)
		}
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/conversations/"+args[0])
		if err != nil {
			return err
		}

		var conv conversationView
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}

		fmt.Printf("%s\n", colorize(colorBold, conv.Title))
		if conv.ReportConversationID != "" {
			fmt.Printf("correlation: %s\n", conv.ReportConversationID)
		}
		for _, m := range conv.Messages {
			role := colorize(colorCyan, m.Role)
			if m.Role == "assistant" {
				role = colorize(colorGreen, m.Role)
			}
			fmt.Printf("\n[%s]", role)
			if m.Status != "" && m.Status != "completed" {
				fmt.Printf(" (%s", m.Status)
				if m.ProgressMessage != "" {
					fmt.Printf(": %s %d%%", m.ProgressMessage, m.ProgressPercent)
				}
				fmt.Printf(")")
			}
			fmt.Println()
			if m.Content != "" {
				fmt.Println(m.Content)
			}
			for _, line := range m.Intermediate {
				fmt.Printf("  · %s\n", line)
			}
			for _, e := range m.CreatedEntities {
				fmt.Printf("  + %s (%s)\n", e.Label, e.Type)
			}
		}
		return nil
	},
}

var conversationsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/conversations/"+args[0], map[string]string{"title": args[1]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Renamed %s to %q", args[0], args[1])
		return nil
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/conversations/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted conversation %s", args[0])
		return nil
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsRenameCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadUnchecked()

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <name> <value>",
	Short: "Store a secret (remote_api_key, api_token)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, value := args[0], args[1]
		if name != "remote_api_key" && name != "api_token" {
			return fmt.Errorf("unknown secret %q; valid names: remote_api_key, api_token", name)
		}

		if err := config.SetSecret(name, value); err != nil {
			return err
		}

		printSuccess("Stored secret %s", name)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
