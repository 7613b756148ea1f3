// Package prompt renders the hidden instructions sent to the upstream models.
// Every prompt is a named text/template with explicit placeholders.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// DefaultPrefixLength bounds how much analysis text feeds the image prompt.
const DefaultPrefixLength = 500

// DefaultAnalysisTemplate combines the domain instructions, the user's
// description and the output schema.
const DefaultAnalysisTemplate = `You are a senior civil and structural engineer assessing damaged or incomplete public infrastructure (roads, bridges, beams, columns, retaining walls, drainage, pavements) in India.

Inspect the attached photograph together with the field engineer's description and produce a practical repair assessment: the current condition, the likely cause, the repair method, the materials, the safety measures on site, a realistic cost estimate in Indian Rupees and a phased timeline.

Field description:
{{ .Description | trim }}

Respond with a single JSON object and nothing else, using exactly this shape:
{
  "repair_description": {
    "current_state": "string",
    "repair_steps": ["string"],
    "materials_required": ["string"],
    "safety_measures": ["string"]
  },
  "cost_estimation": {
    "total": "string, e.g. ₹3,00,000 INR",
    "breakdown": {
      "materials": "string",
      "labor": "string",
      "permits": "string",
      "safety_equipment": "string"
    }
  },
  "timeline": {
    "estimated_duration": "string",
    "phases": ["string"]
  }
}`

// DefaultVisualizationTemplate turns the analysis into an image prompt.
const DefaultVisualizationTemplate = `{{ prefix .PrefixLength .Analysis }}

Photorealistic image of the same infrastructure after the repairs above are fully completed: clean finished surfaces, structurally sound, daylight, same camera angle.`

// AnalysisInput fills the analysis template.
type AnalysisInput struct {
	Description string
}

// VisualizationInput fills the visualization template.
type VisualizationInput struct {
	Analysis     string
	PrefixLength int
}

// Builder renders both prompts. It is safe for concurrent use.
type Builder struct {
	analysis      *template.Template
	visualization *template.Template
	prefixLength  int
}

// Config overrides the built-in templates. Empty fields keep the defaults.
type Config struct {
	AnalysisTemplate      string
	VisualizationTemplate string
	PrefixLength          int
}

// NewBuilder compiles the templates.
func NewBuilder(cfg Config) (*Builder, error) {
	if strings.TrimSpace(cfg.AnalysisTemplate) == "" {
		cfg.AnalysisTemplate = DefaultAnalysisTemplate
	}
	if strings.TrimSpace(cfg.VisualizationTemplate) == "" {
		cfg.VisualizationTemplate = DefaultVisualizationTemplate
	}
	if cfg.PrefixLength <= 0 {
		cfg.PrefixLength = DefaultPrefixLength
	}

	funcs := sprig.TxtFuncMap()
	for _, name := range []string{"env", "expandenv", "readFile", "mustReadFile", "readDir", "mustReadDir", "glob"} {
		delete(funcs, name)
	}
	funcs["prefix"] = Prefix

	analysis, err := template.New("analysis").Funcs(funcs).Option("missingkey=error").Parse(cfg.AnalysisTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse analysis template: %w", err)
	}
	visualization, err := template.New("visualization").Funcs(funcs).Option("missingkey=error").Parse(cfg.VisualizationTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse visualization template: %w", err)
	}
	return &Builder{analysis: analysis, visualization: visualization, prefixLength: cfg.PrefixLength}, nil
}

// Analysis renders the combined analysis prompt. The result is also the
// request intent used for cache keys, so identical inputs render identically.
func (b *Builder) Analysis(in AnalysisInput) (string, error) {
	var buf bytes.Buffer
	if err := b.analysis.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("prompt: render analysis: %w", err)
	}
	return buf.String(), nil
}

// Visualization renders the image-synthesis prompt from the analysis text.
func (b *Builder) Visualization(analysis string) (string, error) {
	var buf bytes.Buffer
	in := VisualizationInput{Analysis: analysis, PrefixLength: b.prefixLength}
	if err := b.visualization.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("prompt: render visualization: %w", err)
	}
	return buf.String(), nil
}

// Prefix returns at most n characters of s without splitting a rune.
func Prefix(n int, s string) string {
	if n < 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
