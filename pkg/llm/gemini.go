// pkg/llm/gemini.go

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GeminiService holds the Gemini AI client.
type GeminiService struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// NewGeminiService creates a new Gemini AI service instance.
func NewGeminiService(ctx context.Context, apiKey, modelName string) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.4)
	return &GeminiService{client: client, model: model, modelName: modelName}, nil
}

func (s *GeminiService) Model() string { return s.modelName }

// Generate sends the prompt, reference code and images in one request and
// returns the text of the first candidate.
func (s *GeminiService) Generate(ctx context.Context, req Request) (string, error) {
	log.Debugf("Generate: calling Gemini model %s", s.modelName)

	// GenerativeModel is shared; copy it so the system instruction is per call.
	model := *s.model
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}

	parts := []genai.Part{genai.Text(userText(req))}
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData(strings.TrimPrefix(img.MIMEType, "image/"), img.Data))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		log.Errorf("Generate: Gemini call failed: %v", err)
		return "", fmt.Errorf("gemini API call failed during code generation: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		log.Warn("Generate: Gemini returned no candidates or content")
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		log.Errorf("Generate: Gemini response has no text parts")
		return "", ErrEmptyResponse
	}
	return CleanCodeFence(b.String()), nil
}

// Close releases the underlying Gemini client.
func (s *GeminiService) Close() error {
	log.Info("Closing Gemini AI service client.")
	return s.client.Close()
}
