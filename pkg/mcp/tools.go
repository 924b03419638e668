package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/store/sqlite"
)

// Tool argument structs.

type itemArgs struct {
	ItemID int64 `json:"item_id"`
}

type auditSearchArgs struct {
	Prompt  string `json:"prompt"`
	Outcome string `json:"outcome"`
	Since   string `json:"since"`
	Limit   int    `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"annotator_stats":        handleStats,
	"annotator_item":         handleItem,
	"annotator_flags":        handleFlags,
	"annotator_audit_search": handleAuditSearch,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "annotator_stats",
		Description: "Show item count and token usage per operation, model and prompt, with estimated cost.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "annotator_item",
		Description: "Show one statement with its stored predictions and moderation flag.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"item_id"},
			"properties": map[string]any{
				"item_id": map[string]any{
					"type":        "integer",
					"description": "The item ID to inspect",
				},
			},
		},
	},
	{
		Name:        "annotator_flags",
		Description: "List items held back by moderation (flagged or maybe flagged).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "annotator_audit_search",
		Description: "Search the invocation audit log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "Filter by prompt name (optional)",
				},
				"outcome": map[string]any{
					"type":        "string",
					"description": "Filter by outcome: ok, parse_error, flagged, provider_error, persist_error (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum entries (optional, default 50)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	count, err := s.items.CountItems(ctx)
	if err != nil {
		return errorResult("Error counting items: " + err.Error())
	}
	rows, err := s.usage.Summary(ctx, s.pricing)
	if err != nil {
		return errorResult("Error fetching stats: " + err.Error())
	}
	return textResult(formatSummary(count, rows))
}

func handleItem(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args itemArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.ItemID <= 0 {
		return errorResult("item_id is required")
	}

	item, err := s.items.ItemByID(ctx, args.ItemID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorResult("No item with that ID.")
	}
	if err != nil {
		return errorResult("Error fetching item: " + err.Error())
	}
	preds, err := s.items.Predictions(ctx, args.ItemID)
	if err != nil {
		return errorResult("Error fetching predictions: " + err.Error())
	}
	flag, err := s.items.Flag(ctx, args.ItemID)
	if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
		return errorResult("Error fetching flag: " + err.Error())
	}
	return textResult(formatItem(item, preds, flag))
}

func handleFlags(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	flags, err := s.items.Flags(ctx)
	if err != nil {
		return errorResult("Error fetching flags: " + err.Error())
	}
	return textResult(formatFlags(flags))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.AuditQueryOpts{
		PromptName: args.Prompt,
		Outcome:    models.Outcome(args.Outcome),
		Limit:      50,
	}
	if args.Limit > 0 {
		opts.Limit = args.Limit
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}
