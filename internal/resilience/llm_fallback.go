package resilience

import (
	"context"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a primary correction model and
// its fallbacks, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary preferred.
func NewLLMFallback(primary llm.Provider, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers another provider.
func (f *LLMFallback) AddFallback(p llm.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name returns the primary provider's name.
func (f *LLMFallback) Name() string {
	name, _ := f.group.Primary()
	return name
}

// Complete returns the reply of the first provider that succeeds.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	attempt, err := Run(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return attempt.Value, nil
}

// Capabilities returns the primary's capabilities. The correction pass sizes
// its request for the primary model.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	_, p := f.group.Primary()
	return p.Capabilities()
}
