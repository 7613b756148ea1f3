package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/infralens/infralens/pkg/orchestrator"
	"github.com/infralens/infralens/pkg/report"
)

// Tool argument structs.

type assessArgs struct {
	ImagePath   string `json:"image_path"`
	Description string `json:"description"`
}

type dispatchStatsArgs struct {
	SinceHours int `json:"since_hours"`
}

type recentRunsArgs struct {
	Limit int `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"infralens_assess":         handleAssess,
	"infralens_status":         handleStatus,
	"infralens_dispatch_stats": handleDispatchStats,
	"infralens_recent_runs":    handleRecentRuns,
	"infralens_cache_stats":    handleCacheStats,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "infralens_assess",
		Description: "Analyze a photo of damaged infrastructure and return a repair plan, cost estimate and timeline.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"image_path", "description"},
			"properties": map[string]any{
				"image_path": map[string]any{
					"type":        "string",
					"description": "Path to a PNG, JPEG, GIF or WebP photo on the local filesystem",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Short description of the damage",
				},
			},
		},
	},
	{
		Name:        "infralens_status",
		Description: "Report whether InfraLens is configured to generate reports.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "infralens_dispatch_stats",
		Description: "Summarize upstream dispatch attempts by operation and outcome.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since_hours": map[string]any{
					"type":        "integer",
					"description": "Only count dispatches from the last N hours (optional, defaults to 24)",
				},
			},
		},
	},
	{
		Name:        "infralens_recent_runs",
		Description: "List the most recent report runs and their outcomes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of runs (optional, defaults to 20)",
				},
			},
		},
	},
	{
		Name:        "infralens_cache_stats",
		Description: "Show analysis cache statistics (entries, expired, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
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

func handleAssess(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.assessor == nil {
		return errorResult("Report generation is not configured.")
	}
	var args assessArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.ImagePath == "" {
		return errorResult("image_path is required")
	}
	data, err := os.ReadFile(args.ImagePath)
	if err != nil {
		return errorResult("Error reading image: " + err.Error())
	}

	res, err := s.assessor.Run(ctx, orchestrator.Input{
		Image:       data,
		Filename:    filepath.Base(args.ImagePath),
		Description: args.Description,
	}, nil)
	if err != nil {
		return errorResult(s.assessor.UserMessage(err))
	}

	desc, err := report.DecodeDescription(res.Report)
	if err != nil {
		return errorResult("Error decoding report: " + err.Error())
	}
	return textResult(formatReport(res, desc))
}

func handleStatus(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.assessor == nil {
		return textResult("Report generation is not configured.")
	}
	if w := s.assessor.ConfigWarning(); w != "" {
		return textResult(w)
	}
	return textResult("InfraLens is ready.")
}

func handleDispatchStats(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args dispatchStatsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.SinceHours <= 0 {
		args.SinceHours = 24
	}
	rows, err := s.tracker.Summary(ctx, time.Now().Add(-time.Duration(args.SinceHours)*time.Hour))
	if err != nil {
		return errorResult("Error fetching dispatch stats: " + err.Error())
	}
	return textResult(formatDispatchSummary(rows))
}

func handleRecentRuns(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args recentRunsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	runs, err := s.tracker.RecentRuns(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching runs: " + err.Error())
	}
	return textResult(formatRuns(runs))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(s.cache.Stats()))
}
