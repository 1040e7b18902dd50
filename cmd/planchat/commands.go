package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildra/planchat/internal/config"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about a plan",
	Long: `Ask a question about a plan's blueprints and takeoff.

Examples:
  planchat ask --plan p1 --user u1 "how many linear feet of pipe?"
  planchat ask --plan p1 --user u1 --chat c1 "what about page 4?"
  planchat ask --plan p1 --user u1 "add 3 smoke detectors"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		planID, _ := cmd.Flags().GetString("plan")
		userID, _ := cmd.Flags().GetString("user")
		chatID, _ := cmd.Flags().GetString("chat")
		jobID, _ := cmd.Flags().GetString("job")

		if planID == "" {
			return fmt.Errorf("--plan is required")
		}
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/v1/plans/"+url.PathEscape(planID)+"/chat", map[string]string{
			"user_id":  userID,
			"chat_id":  chatID,
			"job_id":   jobID,
			"question": question,
		})
		if err != nil {
			return err
		}

		var result struct {
			Answer   string `json:"answer"`
			Mode     string `json:"mode"`
			ChatID   string `json:"chatId"`
			Metadata struct {
				ChunkCount           int `json:"chunkCount"`
				ItemCount            int `json:"itemCount"`
				ModificationsApplied int `json:"modificationsApplied"`
			} `json:"metadata"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		if result.Metadata.ModificationsApplied > 0 {
			printSuccess("%d takeoff modification(s) applied", result.Metadata.ModificationsApplied)
		}
		printStatus("Mode", "%s", result.Mode)
		printStatus("Chat", "%s", result.ChatID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("plan", "", "plan identifier")
	askCmd.Flags().String("user", "", "user identifier")
	askCmd.Flags().String("chat", "", "conversation identifier for follow-ups")
	askCmd.Flags().String("job", "", "job identifier for project metadata")
}

// --- takeoff ---

var takeoffCmd = &cobra.Command{
	Use:   "takeoff",
	Short: "Show the current takeoff for a plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		planID, _ := cmd.Flags().GetString("plan")
		userID, _ := cmd.Flags().GetString("user")
		if planID == "" {
			return fmt.Errorf("--plan is required")
		}
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/v1/plans/" + url.PathEscape(planID) + "/takeoff?user_id=" + url.QueryEscape(userID))
		if err != nil {
			return err
		}

		var result struct {
			Count int `json:"count"`
			Items []struct {
				Name      string   `json:"name"`
				Category  string   `json:"category"`
				Quantity  *float64 `json:"quantity"`
				Unit      string   `json:"unit"`
				TotalCost *float64 `json:"total_cost"`
			} `json:"items"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Count == 0 {
			fmt.Println("No takeoff items.")
			return nil
		}
		for _, it := range result.Items {
			line := it.Name
			if it.Category != "" {
				line += " (" + it.Category + ")"
			}
			if it.Quantity != nil {
				line += fmt.Sprintf("  %g %s", *it.Quantity, it.Unit)
			}
			if it.TotalCost != nil {
				line += fmt.Sprintf("  $%.2f", *it.TotalCost)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	takeoffCmd.Flags().String("plan", "", "plan identifier")
	takeoffCmd.Flags().String("user", "", "user identifier")
}

// --- sheets ---

var sheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "List a plan's sheet index",
	RunE: func(cmd *cobra.Command, args []string) error {
		planID, _ := cmd.Flags().GetString("plan")
		if planID == "" {
			return fmt.Errorf("--plan is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/v1/plans/" + url.PathEscape(planID) + "/sheets")
		if err != nil {
			return err
		}

		var sheets []struct {
			PageNumber int    `json:"pageNumber"`
			SheetID    string `json:"sheetId"`
			Title      string `json:"title"`
			Discipline string `json:"discipline"`
		}
		if err := decodeJSON(resp, &sheets); err != nil {
			return err
		}

		if len(sheets) == 0 {
			fmt.Println("No sheets indexed.")
			return nil
		}
		for _, s := range sheets {
			fmt.Printf("%s  %s  %s  %s\n",
				colorize(colorCyan, fmt.Sprintf("p%d", s.PageNumber)),
				s.SheetID, s.Title, s.Discipline)
		}
		return nil
	},
}

func init() {
	sheetsCmd.Flags().String("plan", "", "plan identifier")
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Queue a reindex of a plan's blueprint text",
	RunE: func(cmd *cobra.Command, args []string) error {
		planID, _ := cmd.Flags().GetString("plan")
		if planID == "" {
			return fmt.Errorf("--plan is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/v1/plans/"+url.PathEscape(planID)+"/reindex", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued reindex job %s", result["jobId"])
		return nil
	},
}

func init() {
	reindexCmd.Flags().String("plan", "", "plan identifier")
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

		for _, k := range config.ShowAll(cfg) {
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
