package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/HeroTools/open-whispr-sub004/internal/config"
	"github.com/HeroTools/open-whispr-sub004/internal/dictation"
	"github.com/HeroTools/open-whispr-sub004/internal/resilience"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
	llmmock "github.com/HeroTools/open-whispr-sub004/pkg/provider/llm/mock"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	sttmock "github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/mock"
)

func mockRegistry(failing ...string) *config.Registry {
	reg := config.NewRegistry()
	fails := func(name string) bool {
		for _, f := range failing {
			if f == name {
				return true
			}
		}
		return false
	}
	for _, name := range []string{config.BackendLocal, config.BackendCloud} {
		reg.RegisterSTT(name, func(e config.ProviderEntry) (stt.Backend, error) {
			if fails(name) {
				return nil, errors.New("boom")
			}
			return &sttmock.Backend{BackendName: name}, nil
		})
	}
	reg.RegisterStreaming(config.BackendStreaming, func(config.ProviderEntry) (stt.StreamingBackend, error) {
		return &sttmock.StreamingBackend{}, nil
	})
	for _, name := range []string{"openai", "anthropic"} {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) {
			return &llmmock.Provider{ProviderName: name}, nil
		})
	}
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Local:       config.ProviderEntry{Name: config.BackendLocal},
			Cloud:       config.ProviderEntry{Name: config.BackendCloud, APIKey: "k"},
			Streaming:   config.ProviderEntry{Name: config.BackendStreaming, BaseURL: "wss://example.test"},
			LLM:         config.ProviderEntry{Name: "openai"},
			LLMFallback: config.ProviderEntry{Name: "anthropic"},
		},
		Dictation: config.DictationConfig{Primary: config.BackendLocal, Fallback: config.BackendCloud},
	}

	ps, err := buildProviders(cfg, mockRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Primary.Name() != config.BackendLocal || ps.Fallback == nil || ps.Fallback.Name() != config.BackendCloud {
		t.Errorf("chain = %v, %v", ps.Primary, ps.Fallback)
	}
	if ps.Streaming == nil {
		t.Error("streaming backend not built")
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		return &config.Config{
			Providers: config.ProvidersConfig{
				Local: config.ProviderEntry{Name: config.BackendLocal},
				Cloud: config.ProviderEntry{Name: config.BackendCloud},
			},
			Dictation: config.DictationConfig{Primary: config.BackendLocal, Fallback: config.BackendCloud},
		}
	}

	t.Run("primary not configured", func(t *testing.T) {
		t.Parallel()
		cfg := base()
		cfg.Dictation.Primary = config.BackendNative
		if _, err := buildProviders(cfg, mockRegistry()); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("primary fails", func(t *testing.T) {
		t.Parallel()
		if _, err := buildProviders(base(), mockRegistry(config.BackendLocal)); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("fallback failure is tolerated", func(t *testing.T) {
		t.Parallel()
		ps, err := buildProviders(base(), mockRegistry(config.BackendCloud))
		if err != nil {
			t.Fatalf("buildProviders: %v", err)
		}
		if ps.Fallback != nil {
			t.Errorf("fallback = %v, want nil", ps.Fallback)
		}
	})
	t.Run("unknown llm", func(t *testing.T) {
		t.Parallel()
		cfg := base()
		cfg.Providers.LLM = config.ProviderEntry{Name: "groq"}
		if _, err := buildProviders(cfg, mockRegistry()); err == nil {
			t.Error("expected error for unregistered llm")
		}
	})
}

func TestPrintOutcome(t *testing.T) {
	t.Parallel()

	events := make(chan dictation.Event, 8)
	events <- dictation.Event{SessionID: "other", Kind: dictation.EventComplete, Completion: &dictation.Completion{Text: "not mine"}}
	events <- dictation.Event{SessionID: "s1", Kind: dictation.EventComplete, Completion: &dictation.Completion{Success: true, Text: "Hello.", Source: "local"}}
	events <- dictation.Event{SessionID: "s1", Kind: dictation.EventStateChange, State: &dictation.StateChange{State: dictation.StateIdle}}

	var stdout, stderr bytes.Buffer
	if code := printOutcome(context.Background(), &stdout, &stderr, events, "s1"); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if stdout.String() != "Hello.\n" {
		t.Errorf("stdout = %q", stdout.String())
	}

	events <- dictation.Event{SessionID: "s2", Kind: dictation.EventError, Error: &dictation.Error{Title: "Offline", Description: "no network"}}
	events <- dictation.Event{SessionID: "s2", Kind: dictation.EventStateChange, State: &dictation.StateChange{State: dictation.StateIdle}}
	stderr.Reset()
	if code := printOutcome(context.Background(), &stdout, &stderr, events, "s2"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if stderr.String() != "Offline: no network\n" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestBundledEngine(t *testing.T) {
	t.Parallel()

	name := defaultEngineBinary
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	dir := t.TempDir()
	if got := bundledEngine(dir); got != name {
		t.Errorf("missing bundled engine = %q, want %q", got, name)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, nil, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := bundledEngine(dir); got != path {
		t.Errorf("bundled engine = %q, want %q", got, path)
	}
}
