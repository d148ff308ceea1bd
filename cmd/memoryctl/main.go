package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag     string
	keyFlag     string
	sessionFlag string
	rootCmd     = &cobra.Command{
		Use:   "memoryctl",
		Short: "CLI client for the mnemon memory service REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Memory service base URL")
	rootCmd.PersistentFlags().StringVarP(&keyFlag, "key", "k", os.Getenv("MNEMON_API_KEY"), "API key (defaults to $MNEMON_API_KEY)")

	// search subcommand
	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search the caller's indexed conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, _ := cmd.Flags().GetString("query")
			topk, _ := cmd.Flags().GetInt("topk")
			return runSearch(apiFlag, keyFlag, sessionFlag, query, topk, os.Stdout)
		},
	}
	searchCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Restrict search to one session")
	searchCmd.Flags().StringP("query", "q", "", "Search query text (required)")
	searchCmd.Flags().IntP("topk", "n", 5, "Number of top results to return")
	_ = searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)

	// store subcommand
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Append one message to a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			content, _ := cmd.Flags().GetString("content")
			if sessionFlag == "" {
				return fmt.Errorf("--session required")
			}
			return runStore(apiFlag, keyFlag, sessionFlag, kind, content, os.Stdout)
		},
	}
	storeCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session ID (required)")
	storeCmd.Flags().String("kind", "user", "Message kind: user, assistant, system")
	storeCmd.Flags().StringP("content", "c", "", "Message content (required)")
	_ = storeCmd.MarkFlagRequired("content")
	rootCmd.AddCommand(storeCmd)

	// history subcommand
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show a session's messages in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if sessionFlag == "" {
				return fmt.Errorf("--session required")
			}
			return runHistory(apiFlag, keyFlag, sessionFlag, limit, os.Stdout)
		},
	}
	historyCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session ID (required)")
	historyCmd.Flags().IntP("limit", "n", 0, "Maximum messages to return (0 = all)")
	rootCmd.AddCommand(historyCmd)

	// sessions subcommand
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the caller's recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return runSessions(apiFlag, keyFlag, days, os.Stdout)
		},
	}
	sessionsCmd.Flags().IntP("days", "d", 30, "Recency window in days")
	rootCmd.AddCommand(sessionsCmd)

	// stats subcommand
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the caller's conversation statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return runStats(apiFlag, keyFlag, days, os.Stdout)
		},
	}
	statsCmd.Flags().IntP("days", "d", 30, "Recency window in days")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
