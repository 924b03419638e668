package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/propolis-ai/annotator/pkg/audit"
	"github.com/propolis-ai/annotator/pkg/models"
)

func newAuditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the invocation audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(configPath),
		newAuditShowCmd(configPath),
		newAuditStatsCmd(configPath),
		newAuditCleanupCmd(configPath),
	)
	return cmd
}

func newAuditSearchCmd(configPath *string) *cobra.Command {
	var (
		promptName string
		outcome    string
		runID      string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				PromptName: promptName,
				Outcome:    models.Outcome(outcome),
				RunID:      runID,
				Limit:      limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return errors.Wrap(err, "invalid --since date (use YYYY-MM-DD)")
				}
				opts.Since = t
			}

			entries, err := l.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&promptName, "prompt", "", "filter by prompt name")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (ok, parse_error, flagged, provider_error, persist_error)")
	cmd.Flags().StringVar(&runID, "run", "", "filter by run ID")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show a single audit entry with its raw response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(cmd.Context(), models.AuditQueryOpts{ID: args[0], Limit: 1})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No entry found for that ID.")
				return nil
			}

			e := entries[0]
			fmt.Fprintf(out, "ID:            %s\n", e.ID)
			fmt.Fprintf(out, "Run:           %s\n", e.RunID)
			fmt.Fprintf(out, "Operation:     %s\n", e.Operation)
			if e.PromptName != "" {
				fmt.Fprintf(out, "Prompt:        %s\n", models.PromptIdentity{Name: e.PromptName, Version: e.PromptVersion})
			}
			fmt.Fprintf(out, "Environment:   %s\n", e.Environment)
			fmt.Fprintf(out, "Credential:    %d\n", e.CredentialID)
			fmt.Fprintf(out, "Items:         %v\n", e.ItemIDs)
			fmt.Fprintf(out, "Outcome:       %s\n", e.Outcome)
			fmt.Fprintf(out, "Tokens:        %d\n", e.TotalTokens)
			fmt.Fprintf(out, "Latency:       %dms\n", e.LatencyMs)
			fmt.Fprintf(out, "Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
			if e.Error != "" {
				fmt.Fprintf(out, "\n--- Error ---\n%s\n", e.Error)
			}
			if e.Content != "" {
				fmt.Fprintf(out, "\n--- Response ---\n%s\n", e.Content)
			}
			return nil
		},
	}
}

func newAuditStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show audit log statistics by outcome and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.DBPath, cfg.Audit)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open audit db")
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-10s %-22s %-14s %6s %8s %-20s\n",
		"ID", "OPERATION", "PROMPT", "OUTCOME", "ITEMS", "TOKENS", "TIME")
	b.WriteString(strings.Repeat("-", 124) + "\n")
	for _, e := range entries {
		prompt := "-"
		if e.PromptName != "" {
			prompt = models.PromptIdentity{Name: e.PromptName, Version: e.PromptVersion}.String()
		}
		fmt.Fprintf(&b, "%-36s %-10s %-22s %-14s %6d %8d %-20s\n",
			e.ID, e.Operation, prompt, e.Outcome, len(e.ItemIDs), e.TotalTokens,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-12s %8s\n", "OUTCOME", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 38) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-16s %-12s %8d\n", s.Outcome, s.Day, s.Count)
	}
	return b.String()
}
