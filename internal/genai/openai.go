package genai

import (
	"context"
	"encoding/base64"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// chatCompletions adapts the SDK's completion service to chatService.
type chatCompletions struct {
	svc *openai.ChatCompletionService
}

func (c chatCompletions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type openAIBackend struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
}

func newOpenAIBackend(apiKey, model string, temperature float64, maxCompletionTokens int64) *openAIBackend {
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &openAIBackend{
		chat:                chatCompletions{svc: &cli.Chat.Completions},
		model:               model,
		temperature:         temperature,
		maxCompletionTokens: maxCompletionTokens,
	}
}

func (b *openAIBackend) name() string { return BackendOpenAI }

func (b *openAIBackend) complete(ctx context.Context, req completionRequest) (string, error) {
	user := openai.UserMessage(req.User)
	if len(req.Image) > 0 {
		dataURL := "data:" + req.ImageMIME + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.User),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		})
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(req.System), user},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(b.temperature),
	}
	if b.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(b.maxCompletionTokens)
	}

	resp, err := b.chat.Create(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
