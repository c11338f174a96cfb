// Package vision analyzes uploaded design references and page screenshots
// with the Anthropic Messages API. The model is asked for a structured JSON
// description that downstream briefs can quote without shipping the image
// bytes again.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = `You analyze UI design images for a web development tool.
Respond with a single JSON object and nothing else, using exactly these keys:
{
  "description": "one paragraph describing the image",
  "contentType": "screenshot | mockup | wireframe | photo | illustration",
  "uiElements": ["notable UI elements"],
  "textContent": "visible text, verbatim",
  "colorPalette": ["dominant colors as hex or CSS names"],
  "layout": "layout structure in one sentence",
  "accessibility": "contrast or accessibility observations"
}`

// Analysis is the structured result of one image analysis.
type Analysis struct {
	Description   string   `json:"description"`
	ContentType   string   `json:"contentType"`
	UIElements    []string `json:"uiElements"`
	TextContent   string   `json:"textContent"`
	ColorPalette  []string `json:"colorPalette"`
	Layout        string   `json:"layout"`
	Accessibility string   `json:"accessibility"`
}

// Map returns the analysis in the loose form carried by image payloads.
func (a Analysis) Map() map[string]any {
	data, err := json.Marshal(a)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// Analyzer talks to the Messages API.
type Analyzer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// Config holds the analyzer settings.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

func New(cfg Config) *Analyzer {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Analyzer{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

// Analyze sends a data URL image to the model and parses the structured
// reply.
func (a *Analyzer) Analyze(ctx context.Context, dataURL string) (*Analysis, error) {
	mediaType, payload, err := SplitDataURL(dataURL)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, payload),
				anthropic.NewTextBlock("Analyze this image."),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision: messages call: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("vision: empty response")
	}

	text := StripFences(resp.Content[0].Text)
	var out Analysis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("vision: parse analysis: %w\nraw response: %s", err, text)
	}
	return &out, nil
}

// SplitDataURL extracts the media type and base64 payload from an image
// data URL. Only base64-encoded image/* URLs are accepted.
func SplitDataURL(dataURL string) (mediaType, payload string, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", "", fmt.Errorf("vision: not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("vision: malformed data URL")
	}
	mediaType, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return "", "", fmt.Errorf("vision: data URL is not base64 encoded")
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", "", fmt.Errorf("vision: unsupported media type %q", mediaType)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", "", fmt.Errorf("vision: invalid base64 payload: %w", err)
	}
	return mediaType, payload, nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, from a model reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{}") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
