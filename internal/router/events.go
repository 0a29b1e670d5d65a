package router

import "github.com/bloopai/model-router/internal/provider"

const (
	EventMeta    = "meta"
	EventContent = "content"
	EventDone    = "done"
	EventError   = "error"
)

// StreamEvent is one frame of the outbound stream. Any number of meta
// and content events may be emitted; exactly one terminal event (done
// or error) closes the stream.
type StreamEvent struct {
	Type         string          `json:"type"`
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Content      string          `json:"content,omitempty"`
	Usage        *provider.Usage `json:"usage,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Error        string          `json:"error,omitempty"`
	Details      []string        `json:"details,omitempty"`
}
