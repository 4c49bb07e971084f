package llm

import (
	"strings"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// CompletionRequest carries everything the model needs for one reply.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as a "system" message.
	SystemPrompt string

	// Messages is the ordered conversation, usually a single user message
	// holding the transcript.
	Messages []types.Message

	// Temperature in [0, 2]. Zero leaves the provider default, and it is
	// dropped for models that reject it (see ModelCapabilities).
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ModelCapabilities describes what a model accepts.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the most the model generates in one completion.
	MaxOutputTokens int

	// SupportsTemperature is false for reasoning models that only accept the
	// default sampling settings.
	SupportsTemperature bool
}

// EstimateTokens is a rough count of the tokens text occupies, at about four
// characters per token. It never undercounts by much for Latin or Cyrillic
// scripts, which is all the correction pass needs for budgeting.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Capabilities returns the known limits for model names across the supported
// vendors. Unknown models get conservative defaults.
func Capabilities(model string) ModelCapabilities {
	caps := ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsTemperature: true,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-5"):
		caps.ContextWindow = 400_000
		caps.MaxOutputTokens = 128_000
		caps.SupportsTemperature = false
	case strings.HasPrefix(lower, "gpt-4.1"):
		caps.ContextWindow = 1_047_576
		caps.MaxOutputTokens = 32_768
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsTemperature = false
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
	case strings.Contains(lower, "llama"), strings.Contains(lower, "qwen"), strings.Contains(lower, "mistral"):
		caps.ContextWindow = 32_768
		caps.MaxOutputTokens = 4_096
	}
	return caps
}
