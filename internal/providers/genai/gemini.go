package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/http/client"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com"
	geminiDefaultModel = "gemini-3-pro-preview"
)

// gemini calls the generateContent REST endpoint.
type gemini struct {
	http      *client.Client
	model     string
	maxTokens int64
}

func newGemini(cfg Config) *gemini {
	base := cfg.BaseURL
	if base == "" {
		base = geminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}

	httpCfg := client.DefaultConfig()
	httpCfg.BaseURL = strings.TrimRight(base, "/")
	httpCfg.Timeout = cfg.Timeout
	httpCfg.MaxRetries = cfg.MaxRetries
	httpCfg.RateLimit = cfg.RateLimit
	c := client.NewClient("genai-gemini", httpCfg)
	c.SetHeader("x-goog-api-key", cfg.APIKey)

	return &gemini{http: c, model: model, maxTokens: cfg.MaxOutputTokens}
}

func (g *gemini) name() string { return ProviderGemini }

func (g *gemini) complete(ctx context.Context, req request) (string, error) {
	body, err := geminiBody(req, g.maxTokens)
	if err != nil {
		return "", err
	}

	resp, err := g.http.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post("/v1beta/models/" + g.model + ":generateContent")
	})
	if err != nil {
		return "", err
	}
	return geminiText(resp.Body())
}

// geminiBody builds a generateContent request document.
func geminiBody(req request, maxTokens int64) (string, error) {
	parts := []map[string]any{{"text": req.Text}}
	if len(req.Audio) > 0 {
		parts = append(parts, map[string]any{
			"inlineData": map[string]string{
				"mimeType": req.MIMEType,
				"data":     base64.StdEncoding.EncodeToString(req.Audio),
			},
		})
	}

	body := "{}"
	var err error
	set := func(path string, value any) {
		if err == nil {
			body, err = sjson.Set(body, path, value)
		}
	}

	set("contents", []map[string]any{{"role": "user", "parts": parts}})
	if req.System != "" {
		set("systemInstruction", map[string]any{"parts": []map[string]string{{"text": req.System}}})
	}
	if req.JSON {
		set("generationConfig.responseMimeType", "application/json")
	}
	if maxTokens > 0 {
		set("generationConfig.maxOutputTokens", maxTokens)
	}
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	return body, nil
}

// geminiText concatenates the text parts of the first candidate.
func geminiText(body []byte) (string, error) {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return "", fmt.Errorf("gemini: %s", msg.String())
	}

	var b strings.Builder
	for _, part := range gjson.GetBytes(body, "candidates.0.content.parts.#.text").Array() {
		b.WriteString(part.String())
	}
	if b.Len() == 0 {
		if reason := gjson.GetBytes(body, "promptFeedback.blockReason"); reason.Exists() {
			return "", fmt.Errorf("%w: blocked (%s)", ErrEmptyResponse, reason.String())
		}
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}
