// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., Google Gemini, OpenAI,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform completion
// call so the conversation turn generator never couples to a specific SDK.
//
// Replies in a voice conversation are one or two sentences, so the interface is
// request/response only.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Exactly one request is sent to the backend: implementations must not
	// retry. Returns an error if the request fails or if ctx is cancelled
	// before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
