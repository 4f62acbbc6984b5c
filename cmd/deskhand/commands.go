package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskhand-io/deskhand/internal/config"
	"github.com/deskhand-io/deskhand/internal/ingest"
	"github.com/deskhand-io/deskhand/internal/matcher"
	"github.com/deskhand-io/deskhand/internal/pipeline"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a historical ticket dump (CSV, JSON, or PDF)",
	Long: `Import a historical ticket dump into the corpus.

Examples:
  deskhand import tickets.csv
  deskhand import export.json
  deskhand import report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tickets, err := ingest.LoadFile(args[0])
		if err != nil {
			return err
		}
		if len(tickets) == 0 {
			printWarning("No tickets found in %s", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/tickets/import", tickets)
		if err != nil {
			return err
		}

		var result struct {
			Imported int    `json:"imported"`
			Status   string `json:"status"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %d tickets, index rebuild queued", result.Imported)
		return nil
	},
}

// --- suggest ---

var suggestCmd = &cobra.Command{
	Use:   "suggest [ticket-id]",
	Short: "Suggest a resolution for a ticket",
	Long: `Suggest a resolution for a ticket based on similar resolved tickets.

Pass a stored ticket ID, or --text to create a new ticket and suggest for it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")

		if len(args) == 0 && text == "" {
			return fmt.Errorf("either a ticket ID or --text is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ticketID := ""
		if len(args) == 1 {
			ticketID = args[0]
		} else {
			resp, err := client.post(cmd.Context(), "/tickets", map[string]string{"description": text})
			if err != nil {
				return err
			}
			var created struct {
				ID string `json:"id"`
			}
			if err := decodeJSON(resp, &created); err != nil {
				return err
			}
			ticketID = created.ID
			printSuccess("Created ticket %s", ticketID)
		}

		resp, err := client.post(cmd.Context(), "/tickets/"+url.PathEscape(ticketID)+"/suggest", nil)
		if err != nil {
			return err
		}

		var result struct {
			SuggestionID string `json:"suggestion_id"`
			pipeline.SuggestionResult
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printMatches(result.Matches)

		fmt.Println()
		if result.GeneratedText == "" {
			printWarning("No generated suggestion available (provider %s failed); matches above still apply", result.Provider)
		} else {
			fmt.Printf("%s\n%s\n", colorize(colorBold, "Suggested resolution:"), result.GeneratedText)
		}
		fmt.Printf("\n%s %s\n", colorize(colorBold, "Suggestion ID:"), result.SuggestionID)
		return nil
	},
}

// --- similar ---

var similarCmd = &cobra.Command{
	Use:   "similar <query>",
	Short: "Find resolved tickets similar to a problem description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/tickets/similar?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var matches []matcher.Match
		if err := decodeJSON(resp, &matches); err != nil {
			return err
		}

		if len(matches) == 0 {
			fmt.Println("No similar tickets found.")
			return nil
		}
		printMatches(matches)
		return nil
	},
}

func printMatches(matches []matcher.Match) {
	for i, m := range matches {
		fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Match %d: %s", i+1, m.TicketID)), m.Score)
		fmt.Printf("  Resolved: %s\n", m.ResolvedAt.Format(time.RFC3339))
		fmt.Printf("  %s\n", truncate(m.Description, 200))
		fmt.Printf("  %s %s\n", colorize(colorCyan, "Resolution:"), truncate(m.Resolution, 300))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// --- resolve ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <ticket-id>",
	Short: "Mark a ticket resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution, _ := cmd.Flags().GetString("resolution")
		agent, _ := cmd.Flags().GetString("agent")
		suggestionID, _ := cmd.Flags().GetString("suggestion-id")
		notes, _ := cmd.Flags().GetString("notes")

		if resolution == "" {
			return fmt.Errorf("--resolution is required")
		}

		body := map[string]any{
			"resolution": resolution,
			"agent_name": agent,
		}
		if suggestionID != "" {
			body["suggestion_id"] = suggestionID
			helpful, _ := cmd.Flags().GetBool("helpful")
			body["helpful"] = helpful
			body["feedback_notes"] = notes
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/tickets/"+url.PathEscape(args[0])+"/resolve", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Ticket %s resolved, index rebuild queued", args[0])
		return nil
	},
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <suggestion-id>",
	Short: "Record whether a suggestion was helpful",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		helpful, _ := cmd.Flags().GetBool("helpful")
		notes, _ := cmd.Flags().GetString("notes")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"helpful": helpful,
			"notes":   notes,
		}
		resp, err := client.post(cmd.Context(), "/suggestions/"+url.PathEscape(args[0])+"/feedback", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Feedback recorded for suggestion %s", args[0])
		return nil
	},
}

func init() {
	suggestCmd.Flags().String("text", "", "problem description for a new ticket")
	similarCmd.Flags().Int("limit", 3, "maximum number of results")
	resolveCmd.Flags().String("resolution", "", "how the ticket was resolved")
	resolveCmd.Flags().String("agent", "", "name of the resolving agent")
	resolveCmd.Flags().String("suggestion-id", "", "suggestion the agent acted on")
	resolveCmd.Flags().Bool("helpful", false, "whether the suggestion was helpful")
	resolveCmd.Flags().String("notes", "", "free-form feedback notes")
	feedbackCmd.Flags().Bool("helpful", false, "whether the suggestion was helpful")
	feedbackCmd.Flags().String("notes", "", "free-form feedback notes")
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
		cfg, err := config.Load()
		if err != nil {
			return err
		}

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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
