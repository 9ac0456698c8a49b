package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// shortID abbreviates an identifier for list output. IDs are normally UUIDs
// but hand-seeded cache entries may be shorter.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- threads ---

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage conversation threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/threads")
		if err != nil {
			return err
		}

		var threads []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Turns     int    `json:"turns"`
			UpdatedAt string `json:"updatedAt"`
		}
		if err := decodeJSON(resp, &threads); err != nil {
			return err
		}

		if len(threads) == 0 {
			fmt.Println("No threads found.")
			return nil
		}

		for _, t := range threads {
			title := t.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s  %s (%d messages)\n",
				colorize(colorCyan, shortID(t.ID)),
				t.UpdatedAt,
				title,
				t.Turns,
			)
		}
		return nil
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a thread's full history as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/threads/"+args[0])
		if err != nil {
			return err
		}

		var thread any
		if err := decodeJSON(resp, &thread); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(thread)
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/threads/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted thread %s", args[0])
		return nil
	},
}

var threadsSendCmd = &cobra.Command{
	Use:   "send <id> <text>",
	Short: "Send a message to a thread and print the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		text := strings.Join(args[1:], " ")
		resp, err := client.post(cmd.Context(), "/threads/"+args[0]+"/messages", map[string]string{"text": text})
		if err != nil {
			return err
		}

		var view struct {
			Turns []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"turns"`
		}
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		if len(view.Turns) == 0 {
			return fmt.Errorf("server returned an empty thread")
		}

		fmt.Println(view.Turns[len(view.Turns)-1].Content)
		return nil
	},
}

var threadsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/threads", nil)
		if err != nil {
			return err
		}

		var thread struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &thread); err != nil {
			return err
		}

		printSuccess("Created thread %s", thread.ID)
		fmt.Println(thread.ID)
		return nil
	},
}

func init() {
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsShowCmd)
	threadsCmd.AddCommand(threadsDeleteCmd)
	threadsCmd.AddCommand(threadsSendCmd)
	threadsCmd.AddCommand(threadsNewCmd)
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage remembered facts",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/memories")
		if err != nil {
			return err
		}

		var records []struct {
			ID       string `json:"id"`
			Key      string `json:"key"`
			Value    string `json:"value"`
			Category string `json:"category"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No memories stored.")
			return nil
		}

		for _, r := range records {
			fmt.Printf("%s  %s = %s  [%s]\n",
				colorize(colorCyan, shortID(r.ID)),
				colorize(colorBold, r.Key),
				r.Value,
				r.Category,
			)
		}
		return nil
	},
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <key> <value>",
	Short: "Store a fact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"key": args[0], "value": args[1], "category": category}
		resp, err := client.post(cmd.Context(), "/memories", body)
		if err != nil {
			return err
		}

		var record map[string]any
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		printSuccess("Remembered %s = %s", args[0], args[1])
		return nil
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/memories/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted memory %s", args[0])
		return nil
	},
}

func init() {
	memoryAddCmd.Flags().String("category", "other", "fact category: personal, preference, context, or other")
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryDeleteCmd)
}
