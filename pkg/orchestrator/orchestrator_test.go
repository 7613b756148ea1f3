package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infralens/infralens/pkg/apierr"
	"github.com/infralens/infralens/pkg/cache"
	"github.com/infralens/infralens/pkg/clock"
	"github.com/infralens/infralens/pkg/imaging"
	"github.com/infralens/infralens/pkg/models"
	"github.com/infralens/infralens/pkg/prompt"
	"github.com/infralens/infralens/pkg/ratelimit"
	"github.com/infralens/infralens/pkg/report"
	"github.com/infralens/infralens/pkg/retry"
)

const structuredAnalysis = `Here is the assessment:
{
  "repair_description": {
    "current_state": "Spalled concrete on the bridge deck with exposed and corroded reinforcement along the north edge. Several cracks run across the deck slab and the expansion joint has failed, letting water into the bearings. The parapet wall is intact but stained.",
    "repair_steps": ["Close the lane", "Remove loose concrete", "Treat reinforcement", "Apply repair mortar"],
    "materials_required": ["Polymer modified mortar", "Rust converter"],
    "safety_measures": ["Traffic diversion", "Fall protection"]
  },
  "cost_estimation": {
    "total": "₹3,00,000 INR",
    "breakdown": {
      "materials": "₹1,20,000",
      "labor": "₹1,00,000",
      "permits": "₹30,000",
      "safety_equipment": "₹50,000"
    }
  },
  "timeline": {
    "estimated_duration": "3 weeks",
    "phases": ["Survey", "Repair", "Cure"]
  }
}`

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   int
	text    string
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, _ string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func (f *fakeAnalyzer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeVisualizer struct {
	prompts []string
	data    []byte
	mime    string
	err     error
}

func (f *fakeVisualizer) Synthesize(_ context.Context, p string) ([]byte, string, error) {
	f.prompts = append(f.prompts, p)
	return f.data, f.mime, f.err
}

type fakeLedger struct {
	mu         sync.Mutex
	dispatches []models.DispatchRecord
	runs       []models.RunRecord
}

func (l *fakeLedger) RecordDispatch(_ context.Context, rec models.DispatchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dispatches = append(l.dispatches, rec)
	return nil
}

func (l *fakeLedger) RecordRun(_ context.Context, rec models.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, rec)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.RunEvent
}

func (r *recorder) observe(ev models.RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RunState
	for _, ev := range r.events {
		if len(out) > 0 && out[len(out)-1] == ev.State {
			continue
		}
		out = append(out, ev.State)
	}
	return out
}

func (r *recorder) last() models.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type harness struct {
	orch       *Orchestrator
	analyzer   *fakeAnalyzer
	visualizer *fakeVisualizer
	ledger     *fakeLedger
	clock      *clock.Fake
	prompts    *prompt.Builder
	key        string
}

func newHarness(t *testing.T, key string) *harness {
	t.Helper()
	h := &harness{
		analyzer:   &fakeAnalyzer{text: structuredAnalysis},
		visualizer: &fakeVisualizer{data: []byte("repaired-png"), mime: "image/png"},
		ledger:     &fakeLedger{},
		clock:      clock.NewFake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		key:        key,
	}
	prompts, err := prompt.NewBuilder(prompt.Config{})
	require.NoError(t, err)
	h.prompts = prompts

	limiter := ratelimit.New(ratelimit.DefaultConfig(), h.clock)
	ctl := retry.New(retry.DefaultConfig(), limiter, retry.WithClock(h.clock))
	c := cache.New(context.Background(), cache.NewMemoryStore(), cache.DefaultConfig(), cache.WithClock(h.clock))

	h.orch, err = New(Deps{
		Cache:         c,
		Limiter:       limiter,
		Retry:         ctl,
		Analyzer:      h.analyzer,
		Visualizer:    h.visualizer,
		Prompts:       prompts,
		APIKey:        func() string { return h.key },
		Ledger:        h.ledger,
		AnalysisModel: "analysis-model",
		ImageModel:    "image-model",
		Clock:         h.clock,
	})
	require.NoError(t, err)
	return h
}

func testImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestRunProducesReport(t *testing.T) {
	h := newHarness(t, "secret")
	rec := &recorder{}

	res, err := h.orch.Run(context.Background(), Input{Image: testImage(t), Filename: "deck.png", Description: "Cracked bridge deck"}, rec.observe)
	require.NoError(t, err)

	require.Equal(t, "₹3,00,000 INR", res.Report.CostEstimation.Total)
	require.Equal(t, "3 weeks", res.Report.Timeline.EstimatedDuration)
	require.False(t, res.CacheHit)
	require.False(t, res.Fallback)
	require.False(t, res.Placeholder)
	require.Equal(t, imaging.DataURI("image/png", []byte("repaired-png")), res.Report.RepairedImageRef)

	require.Equal(t, []models.RunState{
		models.StateConvertingImage,
		models.StateAwaitingAnalysis,
		models.StateAwaitingVisualization,
		models.StateReady,
	}, rec.states())
	require.Empty(t, rec.last().Message)

	require.Len(t, h.visualizer.prompts, 1)
	require.True(t, strings.HasPrefix(h.visualizer.prompts[0], prompt.Prefix(prompt.DefaultPrefixLength, structuredAnalysis)))
	require.NotContains(t, h.visualizer.prompts[0], `"timeline"`, "only the leading characters feed the image prompt")

	require.Len(t, h.ledger.dispatches, 2)
	require.Equal(t, models.OperationAnalysis, h.ledger.dispatches[0].Operation)
	require.Equal(t, "analysis-model", h.ledger.dispatches[0].Model)
	require.Equal(t, models.OperationVisualization, h.ledger.dispatches[1].Operation)
	require.Len(t, h.ledger.runs, 1)
	require.Equal(t, models.StateReady, h.ledger.runs[0].State)
}

func TestRunCacheHitSkipsDispatch(t *testing.T) {
	h := newHarness(t, "secret")
	in := Input{Image: testImage(t), Description: "Pothole on arterial road"}

	_, err := h.orch.Run(context.Background(), in, nil)
	require.NoError(t, err)
	require.Equal(t, 1, h.analyzer.Calls())

	res, err := h.orch.Run(context.Background(), in, nil)
	require.NoError(t, err)
	require.True(t, res.CacheHit)
	require.Equal(t, 1, h.analyzer.Calls())
	require.Equal(t, "₹3,00,000 INR", res.Report.CostEstimation.Total)
}

func TestRunDifferentDescriptionMisses(t *testing.T) {
	h := newHarness(t, "secret")
	img := testImage(t)

	_, err := h.orch.Run(context.Background(), Input{Image: img, Description: "first"}, nil)
	require.NoError(t, err)
	_, err = h.orch.Run(context.Background(), Input{Image: img, Description: "second"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, h.analyzer.Calls())
}

func TestRunFallbackWithoutStructuredBlock(t *testing.T) {
	h := newHarness(t, "secret")
	raw := "The retaining wall shows a bulge near the base and weep holes are blocked."
	h.analyzer.text = raw
	rec := &recorder{}

	res, err := h.orch.Run(context.Background(), Input{Image: testImage(t), Description: "Wall bulging"}, rec.observe)
	require.NoError(t, err)
	require.True(t, res.Fallback)
	require.Equal(t, models.StateReady, rec.last().State)

	desc, err := report.DecodeDescription(res.Report)
	require.NoError(t, err)
	require.Equal(t, raw, desc.CurrentState)
	require.Equal(t, report.Fallback(raw).CostEstimation, res.Report.CostEstimation)
}

func TestRunMissingKeyMakesNoCall(t *testing.T) {
	h := newHarness(t, "")
	rec := &recorder{}

	require.Equal(t, MissingKeyWarning, h.orch.ConfigWarning())

	_, err := h.orch.Run(context.Background(), Input{Image: testImage(t), Description: "Broken kerb"}, rec.observe)
	require.ErrorIs(t, err, apierr.ErrConfiguration)
	require.Zero(t, h.analyzer.Calls())
	require.Empty(t, h.visualizer.prompts)
	require.Equal(t, []models.RunState{models.StateErrored}, rec.states())
	require.Equal(t, MissingKeyWarning, rec.last().Message)
}

func TestRunThreeRateLimitsExhaust(t *testing.T) {
	h := newHarness(t, "secret")
	h.analyzer.text = ""
	h.analyzer.err = apierr.FromStatus("gemini analyze", http.StatusTooManyRequests, "Too Many Requests", nil)
	rec := &recorder{}

	_, err := h.orch.Run(context.Background(), Input{Image: testImage(t), Description: "Collapsed culvert"}, rec.observe)
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, 3, h.analyzer.Calls())
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.clock.Sleeps())

	last := rec.last()
	require.Equal(t, models.StateErrored, last.State)
	require.Contains(t, last.Message, "maximum retry attempts reached")
	require.Contains(t, last.Message, "To resolve this")
	require.Empty(t, h.visualizer.prompts)
}

func TestRunNonRetryableFailsOnce(t *testing.T) {
	h := newHarness(t, "secret")
	h.analyzer.err = apierr.FromStatus("gemini analyze", http.StatusForbidden, "API key not valid", nil)

	_, err := h.orch.Run(context.Background(), Input{Image: testImage(t), Description: "Rusted girder"}, nil)
	require.ErrorIs(t, err, apierr.ErrAccessDenied)
	require.Equal(t, 1, h.analyzer.Calls())
}

func TestRunVisualizationFailureUsesPlaceholder(t *testing.T) {
	h := newHarness(t, "secret")
	h.visualizer.err = apierr.FromStatus("imagen synthesize", http.StatusInternalServerError, "internal", nil)

	res, err := h.orch.Run(context.Background(), Input{Image: testImage(t), Description: "Cracked column"}, nil)
	require.NoError(t, err)
	require.True(t, res.Placeholder)
	require.Equal(t, imaging.PlaceholderDataURI(), res.Report.RepairedImageRef)
	require.Len(t, h.visualizer.prompts, 1, "synthesis is attempted once")
}

func TestRunValidation(t *testing.T) {
	h := newHarness(t, "secret")
	rec := &recorder{}

	_, err := h.orch.Run(context.Background(), Input{Description: "no image"}, rec.observe)
	require.ErrorIs(t, err, apierr.ErrValidation)

	_, err = h.orch.Run(context.Background(), Input{Image: testImage(t), Description: "   "}, rec.observe)
	require.ErrorIs(t, err, apierr.ErrValidation)

	require.Empty(t, rec.events)
	require.Zero(t, h.analyzer.Calls())
}

func TestRunConversionError(t *testing.T) {
	h := newHarness(t, "secret")
	rec := &recorder{}

	_, err := h.orch.Run(context.Background(), Input{Image: []byte("not an image at all"), Description: "x"}, rec.observe)
	require.ErrorIs(t, err, apierr.ErrConversion)
	require.Equal(t, []models.RunState{models.StateConvertingImage, models.StateErrored}, rec.states())
	require.Zero(t, h.analyzer.Calls())
}

func TestRunBusy(t *testing.T) {
	h := newHarness(t, "secret")
	started := make(chan struct{})
	h.analyzer.started = started
	h.analyzer.release = make(chan struct{})
	img := testImage(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Run(context.Background(), Input{Image: img, Description: "first"}, nil)
		done <- err
	}()
	<-started

	_, err := h.orch.Run(context.Background(), Input{Image: img, Description: "second"}, nil)
	require.ErrorIs(t, err, apierr.ErrBusy)

	close(h.analyzer.release)
	require.NoError(t, <-done)
}

func TestUserMessageQuotaWait(t *testing.T) {
	h := newHarness(t, "secret")
	msg := h.orch.UserMessage(apierr.RateLimited("analysis", 42*time.Second))
	require.Contains(t, msg, "Wait 42s")
	require.Contains(t, msg, "Google AI Studio")
}
