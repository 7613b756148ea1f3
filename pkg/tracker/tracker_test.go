package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/infralens/infralens/pkg/models"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tr, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRecordAndQueryDispatches(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 1; i <= 3; i++ {
		rec := models.DispatchRecord{
			RunID:      "run-1",
			Operation:  models.OperationAnalysis,
			Model:      "gemini-2.0-flash",
			Attempt:    i,
			Outcome:    "error",
			ErrorKind:  "rate_limit",
			StatusCode: 429,
			LatencyMs:  int64(100 * i),
			CreatedAt:  now,
		}
		if err := tr.RecordDispatch(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	_ = tr.RecordDispatch(ctx, models.DispatchRecord{RunID: "run-2", Operation: models.OperationAnalysis, Attempt: 1, Outcome: "success", CreatedAt: now})

	records, err := tr.Dispatches(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Attempt != i+1 {
			t.Errorf("record %d: expected attempt %d, got %d", i, i+1, r.Attempt)
		}
		if r.StatusCode != 429 || r.ErrorKind != "rate_limit" {
			t.Errorf("record %d: unexpected %+v", i, r)
		}
		if r.Operation != models.OperationAnalysis {
			t.Errorf("record %d: expected analysis, got %s", i, r.Operation)
		}
	}
}

func TestRecordRunKeepsLatest(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.RecordRun(ctx, models.RunRecord{RunID: "a", State: models.StateErrored, ErrorKind: "network", CreatedAt: now})
	_ = tr.RecordRun(ctx, models.RunRecord{RunID: "a", State: models.StateReady, CacheHit: true, CreatedAt: now})
	_ = tr.RecordRun(ctx, models.RunRecord{RunID: "b", State: models.StateReady, Fallback: true, CreatedAt: now.Add(time.Minute)})

	runs, err := tr.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "b" || !runs[0].Fallback {
		t.Errorf("expected newest run b with fallback, got %+v", runs[0])
	}
	if runs[1].State != models.StateReady || !runs[1].CacheHit || runs[1].ErrorKind != "" {
		t.Errorf("expected run a replaced by ready outcome, got %+v", runs[1])
	}
}

func TestSummary(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []models.DispatchRecord{
		{RunID: "r", Operation: models.OperationAnalysis, Attempt: 1, Outcome: "success", LatencyMs: 100, CreatedAt: now},
		{RunID: "r", Operation: models.OperationAnalysis, Attempt: 1, Outcome: "success", LatencyMs: 300, CreatedAt: now},
		{RunID: "r", Operation: models.OperationAnalysis, Attempt: 1, Outcome: "error", LatencyMs: 50, CreatedAt: now},
		{RunID: "r", Operation: models.OperationVisualization, Attempt: 1, Outcome: "success", LatencyMs: 900, CreatedAt: now},
		{RunID: "old", Operation: models.OperationAnalysis, Attempt: 1, Outcome: "success", LatencyMs: 1, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, r := range records {
		if err := tr.RecordDispatch(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	summaries, err := tr.Summary(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
	// Ordered by operation then outcome.
	if summaries[0].Operation != models.OperationAnalysis || summaries[0].Outcome != "error" || summaries[0].Count != 1 {
		t.Errorf("unexpected first summary %+v", summaries[0])
	}
	if summaries[1].Outcome != "success" || summaries[1].Count != 2 || summaries[1].AvgLatencyMs != 200 {
		t.Errorf("unexpected second summary %+v", summaries[1])
	}
	if summaries[2].Operation != models.OperationVisualization {
		t.Errorf("expected visualization, got %s", summaries[2].Operation)
	}
}

func TestMigrationIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	// Create tracker twice; the second must not fail.
	tr1, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = tr1.Close()

	tr2, err := New(dbPath)
	if err != nil {
		t.Fatal("second New() failed:", err)
	}
	_ = tr2.Close()
}
