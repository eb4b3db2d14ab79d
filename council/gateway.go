package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// FailureReason classifies why a gateway call produced no usable text.
type FailureReason string

const (
	FailureTimeout   FailureReason = "timeout"
	FailureTransport FailureReason = "transport"
	FailureProvider  FailureReason = "provider"
	FailureEmpty     FailureReason = "empty"
)

// BackendError is a failed gateway call. Tolerated per-model during Stage 1
// and Stage 2 fan-outs; fatal only for the synthesizer.
type BackendError struct {
	Model  string
	Reason FailureReason
	Err    error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s response", e.Model, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Model, e.Reason, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Gateway invokes a named language model with a plain-text prompt. The
// timeout is mandatory and applies to the single call; there are no retries
// at this layer. Implementations must be safe for concurrent use across
// distinct models.
type Gateway interface {
	Invoke(ctx context.Context, model, prompt string, timeout time.Duration) (string, error)
}

// OpenAIGateway speaks to any OpenAI-compatible chat-completions endpoint
// (Groq by default).
type OpenAIGateway struct {
	client      *openai.Client
	maxTokens   int
	temperature float32
}

func NewOpenAIGateway(apiKey, baseURL string, maxTokens int, temperature float32) *OpenAIGateway {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIGateway{
		client:      openai.NewClientWithConfig(config),
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Invoke runs one chat completion. The call is detached from the parent's
// cancellation: a cancelled run still lets in-flight calls settle under
// their own deadline, so the fan-out barrier never leaks an unresolved call.
func (g *OpenAIGateway) Invoke(ctx context.Context, model, prompt string, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", classifyError(model, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &BackendError{Model: model, Reason: FailureEmpty}
	}

	return resp.Choices[0].Message.Content, nil
}

func classifyError(model string, err error) *BackendError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Model: model, Reason: FailureTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &BackendError{Model: model, Reason: FailureProvider, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &BackendError{Model: model, Reason: FailureProvider, Err: err}
	}

	return &BackendError{Model: model, Reason: FailureTransport, Err: err}
}
