// Package llm defines the Provider interface for the language models that run
// the transcript correction pass.
//
// A provider wraps a hosted or local model API (OpenAI, Anthropic, Gemini, a
// llama.cpp server, ...) behind one request/response shape so the correction
// service does not depend on any SDK.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Name identifies the backend in logs and metrics, e.g. "openai".
	Name() string

	// Complete sends req to the model and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the configured model.
	Capabilities() ModelCapabilities
}
