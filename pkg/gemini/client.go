// Package gemini adapts the Google generative AI SDK to the analysis and
// image synthesis calls a report run makes.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/infralens/infralens/pkg/apierr"
)

// Defaults for the upstream models.
const (
	DefaultAnalysisModel   = "gemini-2.0-flash"
	DefaultImageModel      = "imagen-3.0-generate-002"
	DefaultTemperature     = 0.4
	DefaultMaxOutputTokens = 2048
	DefaultAspectRatio     = "4:3"
	DefaultSafetyFilter    = "BLOCK_MEDIUM_AND_ABOVE"
	DefaultRequestTimeout  = 60 * time.Second
	defaultImageMIMEType   = "image/png"
	analysisOperationName  = "gemini analyze"
	synthesisOperationName = "imagen synthesize"
)

// Config holds upstream settings.
type Config struct {
	BaseURL           string
	AnalysisModel     string
	ImageModel        string
	Temperature       float32
	MaxOutputTokens   int32
	AspectRatio       string
	SafetyFilterLevel string
	RequestTimeout    time.Duration
}

// KeyFunc resolves the API key at call time. An empty key is a
// configuration error.
type KeyFunc func() string

// generator is the subset of the SDK's model service used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

type factory func(ctx context.Context, apiKey string) (generator, error)

// Client calls the analysis and image models.
type Client struct {
	cfg    Config
	key    KeyFunc
	logger *slog.Logger
	newGen factory
}

// New creates a Client. Missing settings take their defaults.
func New(cfg Config, key KeyFunc, logger *slog.Logger) *Client {
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = DefaultAnalysisModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.AspectRatio == "" {
		cfg.AspectRatio = DefaultAspectRatio
	}
	if cfg.SafetyFilterLevel == "" {
		cfg.SafetyFilterLevel = DefaultSafetyFilter
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{cfg: cfg, key: key, logger: logger}
	c.newGen = c.sdkGenerator
	return c
}

func (c *Client) sdkGenerator(ctx context.Context, apiKey string) (generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: c.cfg.RequestTimeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: c.cfg.BaseURL},
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConfiguration, "create genai client", err)
	}
	return client.Models, nil
}

func (c *Client) generator(ctx context.Context, op string) (generator, error) {
	key := ""
	if c.key != nil {
		key = strings.TrimSpace(c.key())
	}
	if key == "" {
		return nil, apierr.New(apierr.KindConfiguration, op, "API key is not configured")
	}
	return c.newGen(ctx, key)
}

var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// Analyze sends the prompt and the inline image and returns the model's text.
func (c *Client) Analyze(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	gen, err := c.generator(ctx, analysisOperationName)
	if err != nil {
		return "", err
	}

	safety := make([]*genai.SafetySetting, 0, len(safetyCategories))
	for _, cat := range safetyCategories {
		safety = append(safety, &genai.SafetySetting{
			Category:  cat,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	resp, err := gen.GenerateContent(ctx, c.cfg.AnalysisModel, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.cfg.Temperature),
		MaxOutputTokens: c.cfg.MaxOutputTokens,
		SafetySettings:  safety,
	})
	if err != nil {
		return "", classify(analysisOperationName, err)
	}
	if resp == nil {
		return "", apierr.New(apierr.KindUpstreamFormat, analysisOperationName, "empty response")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", apierr.New(apierr.KindUpstreamFormat, analysisOperationName, "response carried no text")
	}
	c.logger.Debug("analysis received", "model", c.cfg.AnalysisModel, "chars", len(text))
	return text, nil
}

// Synthesize requests one image for prompt and returns its bytes and MIME type.
func (c *Client) Synthesize(ctx context.Context, prompt string) ([]byte, string, error) {
	gen, err := c.generator(ctx, synthesisOperationName)
	if err != nil {
		return nil, "", err
	}

	resp, err := gen.GenerateImages(ctx, c.cfg.ImageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages:    1,
		AspectRatio:       c.cfg.AspectRatio,
		SafetyFilterLevel: genai.SafetyFilterLevel(c.cfg.SafetyFilterLevel),
	})
	if err != nil {
		return nil, "", classify(synthesisOperationName, err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, "", apierr.New(apierr.KindUpstreamFormat, synthesisOperationName, "no image generated")
	}
	img := resp.GeneratedImages[0]
	if img == nil || img.Image == nil || len(img.Image.ImageBytes) == 0 {
		reason := ""
		if img != nil {
			reason = img.RAIFilteredReason
		}
		return nil, "", apierr.New(apierr.KindUpstreamFormat, synthesisOperationName,
			strings.TrimSpace("generated image is empty "+reason))
	}
	mimeType := img.Image.MIMEType
	if mimeType == "" {
		mimeType = defaultImageMIMEType
	}
	return img.Image.ImageBytes, mimeType, nil
}

// classify maps SDK and transport errors onto apierr kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fromAPIError(op, apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fromAPIError(op, *apiErrPtr, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apierr.Wrap(apierr.KindNetwork, op, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "quota") {
		return apierr.FromStatus(op, 0, err.Error(), err)
	}
	return apierr.Wrap(apierr.KindUpstream, op, err)
}

func fromAPIError(op string, apiErr genai.APIError, cause error) error {
	msg := apiErr.Message
	if apiErr.Status != "" {
		msg = fmt.Sprintf("%s: %s", apiErr.Status, apiErr.Message)
	}
	status := apiErr.Code
	if status == 0 {
		status = http.StatusBadGateway
	}
	return apierr.FromStatus(op, status, msg, cause)
}
