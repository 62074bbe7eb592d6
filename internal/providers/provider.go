package providers

import (
	"context"
	"time"

	"github.com/jobboard/aicredits/internal/models"
)

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a normalized chat completion request
type ChatRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
	// JSONResponse asks the provider for a JSON object reply
	JSONResponse bool
}

// ChatResponse is a normalized provider response. Non-2xx statuses are
// returned here, not as errors; Body holds the raw reply either way.
type ChatResponse struct {
	StatusCode      int
	Body            []byte
	Content         string // first choice's message content
	Usage           models.TokenUsage
	ProviderLatency time.Duration
}

// Provider is implemented by each upstream AI provider.
type Provider interface {
	Name() string

	// Chat sends a chat completion request. Transport failures and context
	// cancellation are returned as errors.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	Close() error
}
