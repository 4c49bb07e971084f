package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
	llmmock "github.com/HeroTools/open-whispr-sub004/pkg/provider/llm/mock"
)

func TestLLMFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ProviderName: "openai", Response: &llm.CompletionResponse{Content: "from primary"}}
	secondary := &llmmock.Provider{ProviderName: "ollama", Response: &llm.CompletionResponse{Content: "from secondary"}}

	fb := NewLLMFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Fatalf("content = %q", resp.Content)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls = %d/%d", primary.CallCount(), secondary.CallCount())
	}
	if fb.Name() != "openai" {
		t.Errorf("Name = %q", fb.Name())
	}
}

func TestLLMFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ProviderName: "openai", Err: errors.New("primary down")}
	secondary := &llmmock.Provider{ProviderName: "ollama", Response: &llm.CompletionResponse{Content: "from secondary"}}

	fb := NewLLMFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{Err: errors.New("a")}
	secondary := &llmmock.Provider{ProviderName: "b", Err: errors.New("b")}

	fb := NewLLMFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_CapabilitiesFromPrimary(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 8192}}
	fb := NewLLMFallback(primary, FallbackConfig{})
	if got := fb.Capabilities().MaxOutputTokens; got != 8192 {
		t.Fatalf("MaxOutputTokens = %d", got)
	}
}
