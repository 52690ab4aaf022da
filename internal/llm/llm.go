// Package llm abstracts the text generation capability used by the
// analysis stage. Providers are expected to return within the caller's
// context deadline or surface a timeout error.
package llm

import "context"

// Request is a single generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider is any LLM backend able to turn a prompt into text.
type Provider interface {
	Generate(ctx context.Context, req *Request) (string, error)
}
