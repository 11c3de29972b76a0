package genai

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

const openAIDefaultModel = "gpt-4o"

// openAIChat uses Chat Completions. It accepts text instructions only.
type openAIChat struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func newOpenAI(cfg Config) *openAIChat {
	opts := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		ooption.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(cfg.BaseURL)))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, ooption.WithRequestTimeout(cfg.Timeout))
	}
	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}
	return &openAIChat{client: openai.NewClient(opts...), model: model, maxTokens: cfg.MaxOutputTokens}
}

func (o *openAIChat) name() string { return ProviderOpenAI }

func (o *openAIChat) complete(ctx context.Context, req request) (string, error) {
	if len(req.Audio) > 0 {
		return "", ErrAudioUnsupported
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Text))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.maxTokens)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
