package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ChatMessage is one turn of model input.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// StreamChunk is one fragment of a streamed completion.
type StreamChunk struct {
	Content string
	// Done is true on the terminal chunk; Content is empty then.
	Done bool
}

// StreamCallback receives chunks in arrival order. Returning an error
// aborts the stream.
type StreamCallback func(chunk StreamChunk) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate returns a complete response in one call.
	Generate(ctx context.Context, messages []ChatMessage, params GenerationParams) (string, error)

	// ChatStream streams a response chunk by chunk through cb. Returns
	// after the terminal chunk or the first error; cancellation mid-stream
	// surfaces as ctx.Err().
	ChatStream(ctx context.Context, messages []ChatMessage, params GenerationParams, cb StreamCallback) error

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}
