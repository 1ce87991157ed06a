package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/config"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("provider returned no content")

// Image is an inline visual reference.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is one code generation call.
type Request struct {
	SystemPrompt  string
	UserPrompt    string
	ReferenceCode string
	Images        []Image
}

// Generator produces raw source text. Nothing about the result is trusted;
// callers validate it.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Model names the model for iteration metadata.
	Model() string
	Close() error
}

// New builds the generator selected by cfg.LLMProvider.
func New(ctx context.Context, cfg *config.Config) (Generator, error) {
	switch cfg.LLMProvider {
	case "gemini":
		return NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "openai":
		return NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// userText joins the user prompt with the reference code block.
func userText(req Request) string {
	if req.ReferenceCode == "" {
		return req.UserPrompt
	}
	return req.UserPrompt + "\n\n### Reference code:\n```tsx\n" + req.ReferenceCode + "\n```"
}

// CleanCodeFence strips a markdown fence the model wrapped its answer in.
func CleanCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") || !strings.HasSuffix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "```"), "```")
	for _, tag := range []string{"tsx", "typescript", "jsx", "javascript", "ts", "js"} {
		if strings.HasPrefix(cleaned, tag+"\n") {
			cleaned = strings.TrimPrefix(cleaned, tag)
			break
		}
	}
	return strings.TrimSpace(cleaned)
}

// Transient reports whether err is worth retrying: rate limits and server
// side failures from either provider.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) {
		return retryableStatus(coded.HTTPCode())
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
