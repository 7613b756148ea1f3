package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/infralens/infralens/pkg/models"
	"github.com/infralens/infralens/pkg/orchestrator"
)

// formatReport renders a finished run as plain text.
func formatReport(res *orchestrator.Result, desc models.RepairDescription) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n\n", res.RunID)
	fmt.Fprintf(&b, "Current state:\n  %s\n", desc.CurrentState)
	writeList(&b, "Repair steps", desc.RepairSteps, true)
	writeList(&b, "Materials", desc.Materials, false)
	writeList(&b, "Safety measures", desc.SafetyMeasures, false)

	c := res.Report.CostEstimation
	fmt.Fprintf(&b, "\nEstimated cost: %s\n", c.Total)
	fmt.Fprintf(&b, "  Materials:        %s\n", c.Breakdown.Materials)
	fmt.Fprintf(&b, "  Labor:            %s\n", c.Breakdown.Labor)
	fmt.Fprintf(&b, "  Permits:          %s\n", c.Breakdown.Permits)
	fmt.Fprintf(&b, "  Safety equipment: %s\n", c.Breakdown.SafetyEquipment)

	fmt.Fprintf(&b, "\nTimeline: %s\n", res.Report.Timeline.EstimatedDuration)
	for i, p := range res.Report.Timeline.Phases {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, p)
	}

	if res.Fallback {
		b.WriteString("\nThe analysis was not structured; cost and timeline are indicative placeholders.\n")
	}
	if res.Placeholder {
		b.WriteString("The repaired image could not be generated.\n")
	}
	if res.CacheHit {
		b.WriteString("Served from cache.\n")
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string, numbered bool) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for i, it := range items {
		if numbered {
			fmt.Fprintf(b, "  %d. %s\n", i+1, it)
		} else {
			fmt.Fprintf(b, "  - %s\n", it)
		}
	}
}

// formatDispatchSummary formats dispatch summaries as a text table.
func formatDispatchSummary(rows []models.DispatchSummary) string {
	if len(rows) == 0 {
		return "No dispatch data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s %-10s %8s %12s\n", "Operation", "Outcome", "Count", "Avg Latency")
	b.WriteString(strings.Repeat("-", 48) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-15s %-10s %8d %10.0fms\n", r.Operation, r.Outcome, r.Count, r.AvgLatencyMs)
	}
	return b.String()
}

// formatRuns formats run records as a text table.
func formatRuns(runs []models.RunRecord) string {
	if len(runs) == 0 {
		return "No runs found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-20s %-10s %-6s %-8s %-16s %10s\n",
		"Run ID", "Started", "State", "Cache", "Fallback", "Error", "Duration")
	b.WriteString(strings.Repeat("-", 114) + "\n")
	for _, r := range runs {
		kind := r.ErrorKind
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(&b, "%-38s %-20s %-10s %-6t %-8t %-16s %10s\n",
			r.RunID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.State, r.CacheHit, r.Fallback, kind,
			(time.Duration(r.DurationMs) * time.Millisecond).String())
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:   %d\n"+
		"  Expired:   %d\n"+
		"  Hits:      %d\n"+
		"  Misses:    %d\n"+
		"  Evictions: %d\n"+
		"  Hit Rate:  %.1f%%\n",
		stats.Entries, stats.Expired, stats.Hits, stats.Misses, stats.Evictions, hitRate)
}
