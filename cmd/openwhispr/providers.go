package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/HeroTools/open-whispr-sub004/internal/app"
	"github.com/HeroTools/open-whispr-sub004/internal/config"
	"github.com/HeroTools/open-whispr-sub004/internal/ffmpeg"
	"github.com/HeroTools/open-whispr-sub004/internal/health"
	"github.com/HeroTools/open-whispr-sub004/internal/models"
	"github.com/HeroTools/open-whispr-sub004/internal/resilience"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm/anyllm"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm/openai"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/cloud"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/local"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/whisper"
)

const defaultEngineBinary = "whisper-cli"

// builtinProviders maps provider category names to the implementations that
// ship with OpenWhispr. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":       {config.BackendLocal, config.BackendNative, config.BackendWhisperServer, config.BackendCloud},
	"streaming": {config.BackendStreaming},
}

// deps are the shared helpers provider factories and health checks need.
type deps struct {
	cfg    *config.Config
	models *models.Manager
	ffmpeg *ffmpeg.Locator
}

func newDeps(cfg *config.Config) *deps {
	var bundled []string
	if cfg.Paths.BundledDir != "" {
		bundled = append(bundled, cfg.Paths.BundledDir)
	}
	return &deps{
		cfg:    cfg,
		models: models.NewManager(cfg.Paths.ModelsDir),
		ffmpeg: ffmpeg.NewLocator(bundled),
	}
}

// ffmpegPath returns the pinned or discovered ffmpeg, or "" when none is found.
func (d *deps) ffmpegPath() string {
	if d.cfg.Paths.FFmpeg != "" {
		return d.cfg.Paths.FFmpeg
	}
	path, source, err := d.ffmpeg.Locate()
	if err != nil {
		slog.Warn("ffmpeg not found; the local engine may not decode audio", "err", err)
		return ""
	}
	slog.Debug("ffmpeg located", "path", path, "source", source)
	return path
}

// checkers returns the readiness checks for the local engine when it is part
// of the backend chain.
func (d *deps) checkers(cfg *config.Config) []health.Checker {
	usesLocal := cfg.Dictation.Primary == config.BackendLocal ||
		(cfg.Dictation.FallbackEnabled && cfg.Dictation.Fallback == config.BackendLocal)
	if !usesLocal {
		return nil
	}
	checks := []health.Checker{health.FFmpeg(d.ffmpeg)}
	model := cfg.Providers.Local.Model
	if model == "" {
		model = "base"
	}
	if _, err := models.Lookup(model); err == nil {
		checks = append(checks, health.Model(d.models, model))
	}
	return checks
}

// nativeModelPath resolves a catalog name to its file in the models
// directory. Anything else is taken as a path.
func (d *deps) nativeModelPath(entry config.ProviderEntry) (string, error) {
	var opts struct {
		ModelPath string `mapstructure:"model_path"`
	}
	if err := entry.DecodeOptions(&opts); err != nil {
		return "", err
	}
	if opts.ModelPath != "" {
		return opts.ModelPath, nil
	}
	if _, err := models.Lookup(entry.Model); err == nil {
		return d.models.Path(entry.Model)
	}
	return entry.Model, nil
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, d *deps) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Batch transcription ───────────────────────────────────────────────────
	reg.RegisterSTT(config.BackendLocal, func(entry config.ProviderEntry) (stt.Backend, error) {
		var lopts struct {
			Binary  string
			TempDir string `mapstructure:"temp_dir"`
		}
		if err := entry.DecodeOptions(&lopts); err != nil {
			return nil, err
		}
		binary := lopts.Binary
		if binary == "" {
			binary = bundledEngine(d.cfg.Paths.BundledDir)
		}
		var opts []local.Option
		if entry.Model != "" {
			opts = append(opts, local.WithModel(entry.Model))
		}
		if lopts.TempDir != "" {
			opts = append(opts, local.WithTempDir(lopts.TempDir))
		}
		if path := d.ffmpegPath(); path != "" {
			opts = append(opts, local.WithFFmpeg(path))
		}
		return local.New(binary, opts...)
	})

	reg.RegisterSTT(config.BackendNative, func(entry config.ProviderEntry) (stt.Backend, error) {
		path, err := d.nativeModelPath(entry)
		if err != nil {
			return nil, err
		}
		return whisper.NewNative(path)
	})

	reg.RegisterSTT(config.BackendWhisperServer, func(entry config.ProviderEntry) (stt.Backend, error) {
		opts := []whisper.Option{whisper.WithHTTPClient(cloud.NewHTTPClient(d.cfg.Dictation.BackendTimeout))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterSTT(config.BackendCloud, func(entry config.ProviderEntry) (stt.Backend, error) {
		opts := []cloud.Option{cloud.WithHTTPClient(cloud.NewHTTPClient(d.cfg.Dictation.BackendTimeout))}
		if entry.BaseURL != "" {
			opts = append(opts, cloud.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, cloud.WithModel(entry.Model))
		}
		return cloud.NewBatch(entry.APIKey, opts...), nil
	})

	// ── Streaming ─────────────────────────────────────────────────────────────
	reg.RegisterStreaming(config.BackendStreaming, func(entry config.ProviderEntry) (stt.StreamingBackend, error) {
		var so struct {
			MaxIdle     time.Duration `mapstructure:"max_idle"`
			DialTimeout time.Duration `mapstructure:"dial_timeout"`
		}
		if err := entry.DecodeOptions(&so); err != nil {
			return nil, err
		}
		var opts []cloud.StreamOption
		if entry.Model != "" {
			opts = append(opts, cloud.WithStreamModel(entry.Model))
		}
		if so.MaxIdle > 0 {
			opts = append(opts, cloud.WithMaxIdle(so.MaxIdle))
		}
		if so.DialTimeout > 0 {
			opts = append(opts, cloud.WithDialTimeout(so.DialTimeout))
		}
		return cloud.NewStreaming(entry.BaseURL, entry.APIKey, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// bundledEngine returns the engine binary inside dir when it exists there,
// else the bare name for a PATH lookup.
func bundledEngine(dir string) string {
	name := defaultEngineBinary
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if dir != "" {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return name
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	entry, ok := cfg.Providers.Batch(cfg.Dictation.Primary)
	if !ok {
		return nil, fmt.Errorf("primary backend %q is not configured", cfg.Dictation.Primary)
	}
	primary, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("create primary backend %q: %w", entry.Name, err)
	}
	ps.Primary = primary
	slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "primary")

	// The fallback is built even when disabled: a cloud fallback also serves
	// the language retry for streaming sessions.
	if entry, ok := cfg.Providers.Batch(cfg.Dictation.Fallback); ok {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			slog.Warn("fallback backend unavailable", "name", entry.Name, "err", err)
		} else {
			ps.Fallback = p
			slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
		}
	}

	if name := cfg.Providers.Streaming.Name; name != "" {
		p, err := reg.CreateStreaming(cfg.Providers.Streaming)
		if err != nil {
			return nil, fmt.Errorf("create streaming backend %q: %w", name, err)
		}
		ps.Streaming = p
		slog.Info("provider created", "kind", "streaming", "name", name)
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, fmt.Errorf("llm provider %q is not supported", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", name)

		if fbName := cfg.Providers.LLMFallback.Name; fbName != "" {
			fb, err := reg.CreateLLM(cfg.Providers.LLMFallback)
			if err != nil {
				slog.Warn("llm fallback unavailable", "name", fbName, "err", err)
			} else {
				group := resilience.NewLLMFallback(p, resilience.FallbackConfig{})
				group.AddFallback(fb)
				p = group
				slog.Info("provider created", "kind", "llm", "name", fbName, "role", "fallback")
			}
		}
		ps.LLM = p
	}

	return ps, nil
}
