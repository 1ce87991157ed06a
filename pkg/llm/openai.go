package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// OpenAIService generates code through the chat completions API.
type OpenAIService struct {
	client *openai.Client
	model  string
}

func NewOpenAIService(apiKey, model string) *OpenAIService {
	return &OpenAIService{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAIServiceWithBaseURL targets an OpenAI-compatible endpoint.
func NewOpenAIServiceWithBaseURL(apiKey, model, baseURL string) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIService{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIService) Model() string { return o.model }

func (o *OpenAIService) Generate(ctx context.Context, req Request) (string, error) {
	log.Debugf("Generate: calling OpenAI model %s", o.model)

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Images) == 0 {
		user.Content = userText(req)
	} else {
		user.MultiContent = []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: userText(req)}}
		for _, img := range req.Images {
			user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}

	messages := []openai.ChatCompletionMessage{user}
	if req.SystemPrompt != "" {
		messages = append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt}}, messages...)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 0.4,
	})
	if err != nil {
		log.Errorf("Generate: OpenAI call failed: %v", err)
		return "", fmt.Errorf("openai API call failed during code generation: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		log.Warn("Generate: OpenAI returned no choices or empty content")
		return "", ErrEmptyResponse
	}
	log.Debugf("Generate: OpenAI finish reason %s", resp.Choices[0].FinishReason)
	return CleanCodeFence(resp.Choices[0].Message.Content), nil
}

// Close is a no-op; the HTTP client needs no teardown.
func (o *OpenAIService) Close() error { return nil }
