package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/infralens/infralens/pkg/apierr"
)

type fakeGenerator struct {
	contentResp *genai.GenerateContentResponse
	contentErr  error
	imagesResp  *genai.GenerateImagesResponse
	imagesErr   error

	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	prompt   string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.contentResp, f.contentErr
}

func (f *fakeGenerator) GenerateImages(_ context.Context, model, prompt string, _ *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.model, f.prompt = model, prompt
	return f.imagesResp, f.imagesErr
}

func newTestClient(key string, gen *fakeGenerator) *Client {
	c := New(Config{}, func() string { return key }, nil)
	c.newGen = func(context.Context, string) (generator, error) { return gen, nil }
	return c
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
	}
}

func TestAnalyzeReturnsText(t *testing.T) {
	gen := &fakeGenerator{contentResp: textResponse(`{"ok": true}`)}
	c := newTestClient("secret", gen)

	text, err := c.Analyze(context.Background(), "assess this", []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	require.Equal(t, `{"ok": true}`, text)
	require.Equal(t, DefaultAnalysisModel, gen.model)
	require.Len(t, gen.contents, 1)
	require.Len(t, gen.contents[0].Parts, 2)
	require.Equal(t, "assess this", gen.contents[0].Parts[0].Text)
	require.Equal(t, "image/png", gen.contents[0].Parts[1].InlineData.MIMEType)
	require.Len(t, gen.config.SafetySettings, 4)
}

func TestAnalyzeMissingKey(t *testing.T) {
	gen := &fakeGenerator{}
	c := newTestClient("  ", gen)

	_, err := c.Analyze(context.Background(), "p", []byte{1}, "image/png")
	require.ErrorIs(t, err, apierr.ErrConfiguration)
	require.Empty(t, gen.model, "no request without a key")
}

func TestAnalyzeEmptyText(t *testing.T) {
	gen := &fakeGenerator{contentResp: &genai.GenerateContentResponse{}}
	c := newTestClient("secret", gen)

	_, err := c.Analyze(context.Background(), "p", []byte{1}, "image/png")
	require.ErrorIs(t, err, apierr.ErrUpstreamFormat)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apierr.Kind
	}{
		{"too many requests", genai.APIError{Code: http.StatusTooManyRequests, Message: "slow down"}, apierr.KindRateLimit},
		{"quota on 429", genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded"}, apierr.KindQuotaExceeded},
		{"forbidden", genai.APIError{Code: http.StatusForbidden, Message: "API key not valid"}, apierr.KindAccessDenied},
		{"server error", genai.APIError{Code: http.StatusInternalServerError, Message: "internal"}, apierr.KindUpstream},
		{"plain quota text", errors.New("project quota exhausted"), apierr.KindQuotaExceeded},
		{"other", errors.New("boom"), apierr.KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, apierr.KindOf(classify("op", tt.err)))
		})
	}
}

func TestClassifyRetryable(t *testing.T) {
	err := classify("op", genai.APIError{Code: http.StatusTooManyRequests, Message: "slow down"})
	require.True(t, apierr.IsRetryable(err))

	err = classify("op", genai.APIError{Code: http.StatusBadRequest, Message: "bad image"})
	require.False(t, apierr.IsRetryable(err))
}

func TestClassifyKeepsContextErrors(t *testing.T) {
	require.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
}

func TestSynthesize(t *testing.T) {
	gen := &fakeGenerator{imagesResp: &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{{
			Image: &genai.Image{ImageBytes: []byte("png-bytes"), MIMEType: "image/png"},
		}},
	}}
	c := newTestClient("secret", gen)

	data, mimeType, err := c.Synthesize(context.Background(), "repaired bridge")
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), data)
	require.Equal(t, "image/png", mimeType)
	require.Equal(t, DefaultImageModel, gen.model)
	require.Equal(t, "repaired bridge", gen.prompt)
}

func TestSynthesizeNoImage(t *testing.T) {
	gen := &fakeGenerator{imagesResp: &genai.GenerateImagesResponse{}}
	c := newTestClient("secret", gen)

	_, _, err := c.Synthesize(context.Background(), "p")
	require.ErrorIs(t, err, apierr.ErrUpstreamFormat)
}
