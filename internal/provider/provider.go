package provider

import (
	"context"

	"github.com/bloopai/model-router/internal/catalog"
)

type Request struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int `json:"prompt_tokens"`
	OutputTokens int `json:"completion_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Response struct {
	ID           string
	Content      string
	Usage        Usage
	FinishReason string
	Model        string
	Provider     string
	LatencyMs    int64
}

// Chunk is one unit of a native provider stream. A terminal chunk has
// Done set and may carry final usage; an error chunk ends the stream.
type Chunk struct {
	Delta        string
	Done         bool
	Usage        *Usage
	FinishReason string
	Err          error
}

// Provider is the blocking generate capability every adapter has.
type Provider interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Name() string
	DefaultModel() string
	Catalog() []catalog.ModelInfo
}

// StreamProvider is the optional native-streaming capability. Adapters
// declare it by implementing the interface; the relay branches on a
// type assertion rather than runtime feature probing.
type StreamProvider interface {
	Provider
	GenerateStream(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// CloneForFallback returns a copy of the request with the pinned model
// cleared so a fallback provider picks its own default.
func (r *Request) CloneForFallback() *Request {
	cp := *r
	cp.Model = ""
	return &cp
}
