package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/prompt/statementmeta"
)

func newStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show token usage and estimated cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			items, err := a.store.CountItems(ctx)
			if err != nil {
				return err
			}
			id := statementmeta.Template.Identity()
			done, err := a.store.CountPredictions(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Items: %d, predicted by %s: %d\n\n", items, id, done)

			summaries, err := a.tracker.Summary(ctx, a.cfg.Pricing)
			if err != nil {
				return err
			}
			return writeSummaries(cmd.OutOrStdout(), summaries)
		},
	}
}

func writeSummaries(out io.Writer, summaries []models.UsageSummary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(out, "No usage data found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tMODEL\tPROMPT\tCALLS\tITEMS\tPROMPT TOK\tCOMPLETION TOK\tTOTAL\tEST. COST")
	var total float64
	for _, s := range summaries {
		prompt := "-"
		if s.PromptName != "" {
			prompt = models.PromptIdentity{Name: s.PromptName, Version: s.PromptVersion}.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t$%.4f\n",
			s.Operation, s.Model, prompt, s.Invocations, s.Items,
			s.TotalPrompt, s.TotalCompletion, s.TotalTokens, s.EstimatedCost)
		total += s.EstimatedCost
	}
	fmt.Fprintf(w, "\t\t\t\t\t\t\t\t$%.4f\n", total)
	return w.Flush()
}
