// Package orchestrator sequences a report run: image conversion, cached and
// rate-limited analysis, image synthesis and report assembly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/infralens/infralens/pkg/apierr"
	"github.com/infralens/infralens/pkg/cache"
	"github.com/infralens/infralens/pkg/clock"
	"github.com/infralens/infralens/pkg/fingerprint"
	"github.com/infralens/infralens/pkg/imaging"
	"github.com/infralens/infralens/pkg/metrics"
	"github.com/infralens/infralens/pkg/models"
	"github.com/infralens/infralens/pkg/prompt"
	"github.com/infralens/infralens/pkg/ratelimit"
	"github.com/infralens/infralens/pkg/report"
	"github.com/infralens/infralens/pkg/retry"
)

// Analyzer produces the structured assessment text for an image.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Visualizer synthesizes the repaired image.
type Visualizer interface {
	Synthesize(ctx context.Context, prompt string) ([]byte, string, error)
}

// Ledger stores dispatch attempts and run outcomes.
type Ledger interface {
	RecordDispatch(ctx context.Context, rec models.DispatchRecord) error
	RecordRun(ctx context.Context, rec models.RunRecord) error
}

// Observer receives every state transition of a run.
type Observer func(models.RunEvent)

// Input is what a run starts from.
type Input struct {
	Image       []byte
	Filename    string
	Description string
}

// Result is a finished run.
type Result struct {
	RunID    string
	Report   *models.ReportData
	CacheHit bool
	// Fallback is set when the analysis text held no usable structured block.
	Fallback bool
	// Placeholder is set when the repaired image could not be synthesized.
	Placeholder   bool
	RepairedImage []byte
	RepairedMIME  string
}

// Deps are the collaborators of an Orchestrator. Cache, Limiter, Ledger,
// Visualizer, Logger, Metrics and Clock are optional.
type Deps struct {
	Cache      *cache.Cache
	Limiter    *ratelimit.Limiter
	Retry      *retry.Controller
	Analyzer   Analyzer
	Visualizer Visualizer
	Prompts    *prompt.Builder
	// APIKey resolves the upstream credential at call time.
	APIKey func() string
	Ledger Ledger

	AnalysisModel string
	ImageModel    string

	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Clock   clock.Clock
}

// Orchestrator runs one report at a time.
type Orchestrator struct {
	d      Deps
	logger *slog.Logger
	clock  clock.Clock
	guard  *semaphore.Weighted
}

// New validates deps and returns an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	if d.Retry == nil {
		return nil, errors.New("orchestrator: retry controller is required")
	}
	if d.Analyzer == nil {
		return nil, errors.New("orchestrator: analyzer is required")
	}
	if d.Prompts == nil {
		return nil, errors.New("orchestrator: prompt builder is required")
	}
	if d.APIKey == nil {
		d.APIKey = func() string { return "" }
	}
	o := &Orchestrator{
		d:      d,
		logger: d.Logger,
		clock:  d.Clock,
		guard:  semaphore.NewWeighted(1),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}
	return o, nil
}

// MissingKeyWarning is reported while no API key is configured.
const MissingKeyWarning = "No API key configured: set GEMINI_API_KEY (or api_key in the config file). Reports cannot be generated until a key is provided."

// ConfigWarning returns the start-up configuration warning, or "".
func (o *Orchestrator) ConfigWarning() string {
	if strings.TrimSpace(o.d.APIKey()) == "" {
		return MissingKeyWarning
	}
	return ""
}

// run carries the state of one in-flight report.
type run struct {
	id       string
	started  time.Time
	observe  Observer
	hash     string
	cacheHit bool
	fallback bool
	state    models.RunState
}

// Run executes a report run. Validation failures and a concurrent run are
// reported without starting; every other failure moves the run to errored.
func (o *Orchestrator) Run(ctx context.Context, in Input, observe Observer) (*Result, error) {
	if len(in.Image) == 0 {
		return nil, apierr.New(apierr.KindValidation, "start run", "an image is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, apierr.New(apierr.KindValidation, "start run", "a description of the damage is required")
	}
	if !o.guard.TryAcquire(1) {
		return nil, apierr.New(apierr.KindBusy, "start run", "another report is already being generated")
	}
	defer o.guard.Release(1)

	r := &run{
		id:      uuid.NewString(),
		started: o.clock.Now(),
		observe: observe,
		state:   models.StateIdle,
	}
	logger := o.logger.With("run_id", r.id)

	if o.ConfigWarning() != "" {
		return nil, o.fail(ctx, r, apierr.New(apierr.KindConfiguration, "start run", "API key is not configured"))
	}

	o.transition(r, models.StateConvertingImage, "Preparing image")
	enc, err := imaging.Encode(in.Image)
	if err != nil {
		return nil, o.fail(ctx, r, err)
	}
	r.hash = fingerprint.HashBytes(in.Image)
	logger.Info("image prepared", "filename", in.Filename, "mime", enc.MIMEType, "bytes", len(enc.Data), "hash", r.hash)

	o.transition(r, models.StateAwaitingAnalysis, "Analyzing damage")
	text, err := o.analyze(ctx, r, enc, in.Description)
	if err != nil {
		return nil, o.fail(ctx, r, err)
	}

	assessment, fallback, parseErr := report.ParseOrFallback(text)
	if fallback {
		r.fallback = true
		logger.Warn("analysis had no usable structured block, using fallback report", "error", parseErr)
	}

	o.transition(r, models.StateAwaitingVisualization, "Generating repaired image")
	imgData, imgMIME, placeholder := o.visualize(ctx, r, text)
	imageRef := imaging.DataURI(imgMIME, imgData)

	data, err := report.Assemble(assessment, imageRef)
	if err != nil {
		return nil, o.fail(ctx, r, err)
	}

	o.transition(r, models.StateReady, "")
	o.finish(ctx, r, "")
	logger.Info("report ready", "cache_hit", r.cacheHit, "fallback", r.fallback, "placeholder_image", placeholder)

	return &Result{
		RunID:         r.id,
		Report:        data,
		CacheHit:      r.cacheHit,
		Fallback:      r.fallback,
		Placeholder:   placeholder,
		RepairedImage: imgData,
		RepairedMIME:  imgMIME,
	}, nil
}

func (o *Orchestrator) analyze(ctx context.Context, r *run, enc imaging.Encoded, description string) (string, error) {
	p, err := o.d.Prompts.Analysis(prompt.AnalysisInput{Description: description})
	if err != nil {
		return "", fmt.Errorf("build analysis prompt: %w", err)
	}

	if o.d.Cache != nil {
		if v, ok := o.d.Cache.Get(ctx, r.hash, p); ok {
			r.cacheHit = true
			o.logger.Debug("analysis served from cache", "run_id", r.id)
			return v, nil
		}
	}

	attempt := 0
	text, err := retry.Do(ctx, o.d.Retry, string(models.OperationAnalysis), func(ctx context.Context) (string, error) {
		attempt++
		start := o.clock.Now()
		text, err := o.d.Analyzer.Analyze(ctx, p, enc.Data, enc.MIMEType)
		o.recordDispatch(ctx, r, models.OperationAnalysis, o.d.AnalysisModel, attempt, start, err)
		return text, err
	}, func(a retry.Attempt) {
		msg := fmt.Sprintf("Quota or rate limit reached (attempt %d of %d)", a.Index+1, a.Index+1+a.Remaining)
		if a.Remaining > 0 {
			msg += fmt.Sprintf(", retrying in %s", a.Delay.Round(time.Second))
		}
		o.emit(r, models.StateAwaitingAnalysis, msg, "")
	})
	if err != nil {
		return "", err
	}

	if o.d.Cache != nil {
		o.d.Cache.Put(ctx, r.hash, p, text)
	}
	return text, nil
}

// visualize never fails; any error yields the placeholder image.
func (o *Orchestrator) visualize(ctx context.Context, r *run, analysis string) ([]byte, string, bool) {
	placeholder := func(reason string, err error) ([]byte, string, bool) {
		o.logger.Warn("using placeholder image", "run_id", r.id, "reason", reason, "error", err)
		return []byte(imaging.PlaceholderSVG), "image/svg+xml", true
	}
	if o.d.Visualizer == nil {
		return placeholder("no image synthesizer configured", nil)
	}

	p, err := o.d.Prompts.Visualization(analysis)
	if err != nil {
		return placeholder("build visualization prompt", err)
	}

	type image struct {
		data []byte
		mime string
	}
	attempt := 0
	img, err := retry.Do(ctx, o.d.Retry.WithMaxRetries(1), string(models.OperationVisualization), func(ctx context.Context) (image, error) {
		attempt++
		start := o.clock.Now()
		data, mime, err := o.d.Visualizer.Synthesize(ctx, p)
		o.recordDispatch(ctx, r, models.OperationVisualization, o.d.ImageModel, attempt, start, err)
		return image{data: data, mime: mime}, err
	}, nil)
	if err != nil {
		return placeholder("synthesis failed", err)
	}
	if len(img.data) == 0 || !strings.HasPrefix(img.mime, "image/") {
		return placeholder("malformed synthesis response", nil)
	}
	return img.data, img.mime, false
}

func (o *Orchestrator) recordDispatch(ctx context.Context, r *run, op models.Operation, model string, attempt int, start time.Time, err error) {
	if o.d.Ledger == nil {
		return
	}
	rec := models.DispatchRecord{
		RunID:     r.id,
		Operation: op,
		Model:     model,
		Attempt:   attempt,
		Outcome:   "success",
		LatencyMs: o.clock.Now().Sub(start).Milliseconds(),
		CreatedAt: start,
	}
	if err != nil {
		rec.Outcome = "error"
		rec.ErrorKind = string(apierr.KindOf(err))
		var ae *apierr.Error
		if errors.As(err, &ae) {
			rec.StatusCode = ae.Status
		}
	}
	if lerr := o.d.Ledger.RecordDispatch(ctx, rec); lerr != nil {
		o.logger.Warn("failed to record dispatch", "run_id", r.id, "error", lerr)
	}
}

func (o *Orchestrator) transition(r *run, state models.RunState, msg string) {
	r.state = state
	o.emit(r, state, msg, "")
}

func (o *Orchestrator) emit(r *run, state models.RunState, msg, errMsg string) {
	if r.observe == nil {
		return
	}
	r.observe(models.RunEvent{
		RunID:   r.id,
		State:   state,
		Message: msg,
		Error:   errMsg,
		At:      o.clock.Now(),
	})
}

// fail moves the run to errored and returns err.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	kind := apierr.KindOf(err)
	o.logger.Error("report run failed", "run_id", r.id, "state", r.state, "kind", kind, "error", err)
	r.state = models.StateErrored
	o.emit(r, models.StateErrored, o.UserMessage(err), err.Error())
	o.finish(ctx, r, string(kind))
	return err
}

func (o *Orchestrator) finish(ctx context.Context, r *run, errorKind string) {
	dur := o.clock.Now().Sub(r.started)
	o.d.Metrics.ObserveRun(string(r.state), errorKind, dur)
	if o.d.Ledger == nil {
		return
	}
	rec := models.RunRecord{
		RunID:       r.id,
		ContentHash: r.hash,
		State:       r.state,
		CacheHit:    r.cacheHit,
		Fallback:    r.fallback,
		ErrorKind:   errorKind,
		DurationMs:  dur.Milliseconds(),
		CreatedAt:   r.started,
	}
	if err := o.d.Ledger.RecordRun(ctx, rec); err != nil {
		o.logger.Warn("failed to record run", "run_id", r.id, "error", err)
	}
}
