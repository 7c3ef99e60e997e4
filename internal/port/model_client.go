package port

import "context"

// Message roles understood by every model backend.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one entry of a completion request.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a text-completion call.
type CompletionRequest struct {
	Messages        []Message
	Temperature     float64
	MaxOutputTokens int
}

// CompletionResponse is the raw text answer of a model backend.
type CompletionResponse struct {
	Text  string
	Model string
	// Truncated is set when the backend stopped at its output-token limit.
	Truncated bool
}

// ModelClient abstracts a generative-model text-completion backend. It
// returns best-effort text; callers repair and parse it.
type ModelClient interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
