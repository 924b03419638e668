package mcp

import (
	"fmt"
	"strings"

	"github.com/propolis-ai/annotator/pkg/models"
)

func promptLabel(name string, version uint16) string {
	if name == "" {
		return "-"
	}
	return models.PromptIdentity{Name: name, Version: version}.String()
}

// formatSummary formats usage summaries as a text table.
func formatSummary(items int64, rows []models.UsageSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Items: %d\n\n", items)
	if len(rows) == 0 {
		b.WriteString("No usage data found.")
		return b.String()
	}
	fmt.Fprintf(&b, "%-10s %-24s %-20s %6s %8s %10s %10s %10s\n",
		"Operation", "Model", "Prompt", "Calls", "Items", "Prompt", "Completion", "Cost")
	b.WriteString(strings.Repeat("-", 107) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-10s %-24s %-20s %6d %8d %10d %10d %10.4f\n",
			r.Operation, r.Model, promptLabel(r.PromptName, r.PromptVersion),
			r.Invocations, r.Items, r.TotalPrompt, r.TotalCompletion, r.EstimatedCost)
	}
	return b.String()
}

// formatItem renders one item with its predictions and flag state.
func formatItem(item models.Item, preds []models.PredictionRecord, flag models.FlagRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Item %d: %s\n", item.ID, item.Text)
	fmt.Fprintf(&b, "Moderation: %s\n", flag.State)
	if len(preds) == 0 {
		b.WriteString("No predictions yet.\n")
		return b.String()
	}
	for _, p := range preds {
		fmt.Fprintf(&b, "\n[%s] %s, %d tokens, %s\n%s\n",
			promptLabel(p.PromptName, p.PromptVersion), p.Environment, p.TotalTokens,
			p.CreatedAt.Format("2006-01-02 15:04:05"), p.Result)
	}
	return b.String()
}

// formatFlags formats flag records as a text table.
func formatFlags(flags []models.FlagRecord) string {
	if len(flags) == 0 {
		return "No flagged items."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-14s %s\n", "Item", "State", "Categories")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, f := range flags {
		var cats []string
		for _, c := range f.Categories {
			if c.Value {
				cats = append(cats, c.Name)
			}
		}
		fmt.Fprintf(&b, "%-10d %-14s %s\n", f.ItemID, f.State, strings.Join(cats, ", "))
	}
	return b.String()
}

// formatAuditEntries formats audit entries as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-20s %-14s %-16s %8s %-20s\n",
		"ID", "Prompt", "Outcome", "Items", "Tokens", "Time")
	b.WriteString(strings.Repeat("-", 120) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-36s %-20s %-14s %-16s %8d %-20s\n",
			e.ID, promptLabel(e.PromptName, e.PromptVersion), e.Outcome,
			fmt.Sprint(e.ItemIDs), e.TotalTokens, e.CreatedAt.Format("2006-01-02 15:04:05"))
		if e.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", e.Error)
		}
	}
	return b.String()
}
