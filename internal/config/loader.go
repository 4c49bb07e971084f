package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":       {BackendLocal, BackendNative, BackendWhisperServer, BackendCloud},
	"streaming": {BackendStreaming},
}

const (
	defaultBackendTimeout    = 60 * time.Second
	defaultCorrectionTimeout = 15 * time.Second
	defaultHistoryLimit      = 100
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults. An empty document
// yields a config that uses only the local engine.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	d := &cfg.Dictation
	if d.Primary == "" {
		d.Primary = BackendLocal
	}
	if d.Fallback == "" {
		if d.Primary == BackendCloud {
			d.Fallback = BackendLocal
		} else {
			d.Fallback = BackendCloud
		}
	}
	if d.BackendTimeout == 0 {
		d.BackendTimeout = defaultBackendTimeout
	}
	if d.CorrectionTimeout == 0 {
		d.CorrectionTimeout = defaultCorrectionTimeout
	}
	if cfg.Providers.Local.Name == "" && d.Primary == BackendLocal {
		cfg.Providers.Local.Name = BackendLocal
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = defaultHistoryLimit
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation; unknown names only warn.
	p := cfg.Providers
	validateProviderName("stt", p.Local.Name)
	validateProviderName("stt", p.Native.Name)
	validateProviderName("stt", p.WhisperServer.Name)
	validateProviderName("stt", p.Cloud.Name)
	validateProviderName("streaming", p.Streaming.Name)
	validateProviderName("llm", p.LLM.Name)
	validateProviderName("llm", p.LLMFallback.Name)

	if p.Native.Name != "" && p.Native.Model == "" && optString(p.Native.Options, "model_path") == "" {
		errs = append(errs, errors.New("providers.native requires model or options.model_path"))
	}
	if p.WhisperServer.Name != "" && p.WhisperServer.BaseURL == "" {
		errs = append(errs, errors.New("providers.whisper_server.base_url is required"))
	}
	if p.Streaming.Name != "" && p.Streaming.BaseURL == "" {
		errs = append(errs, errors.New("providers.streaming.base_url is required"))
	}
	if p.LLMFallback.Name != "" && p.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallback is set but providers.llm is not configured"))
	}

	// Dictation ↔ provider cross-validation
	d := cfg.Dictation
	if !isBatch(d.Primary) {
		errs = append(errs, fmt.Errorf("dictation.primary %q is invalid; valid values: local, native, whisper-server, cloud", d.Primary))
	} else if _, ok := p.Batch(d.Primary); !ok {
		errs = append(errs, fmt.Errorf("dictation.primary is %q but providers.%s is not configured", d.Primary, yamlKey(d.Primary)))
	}
	if d.FallbackEnabled {
		switch {
		case !isBatch(d.Fallback):
			errs = append(errs, fmt.Errorf("dictation.fallback %q is invalid; valid values: local, native, whisper-server, cloud", d.Fallback))
		case d.Fallback == d.Primary:
			errs = append(errs, fmt.Errorf("dictation.fallback %q must differ from dictation.primary", d.Fallback))
		default:
			if _, ok := p.Batch(d.Fallback); !ok {
				slog.Warn("dictation.fallback_enabled is set but the fallback backend is not configured; fallback disabled",
					"fallback", d.Fallback,
				)
			}
		}
	}
	if d.BackendTimeout < 0 {
		errs = append(errs, fmt.Errorf("dictation.backend_timeout %s must not be negative", d.BackendTimeout))
	}
	if d.CorrectionTimeout < 0 {
		errs = append(errs, fmt.Errorf("dictation.correction_timeout %s must not be negative", d.CorrectionTimeout))
	}
	if d.StreamingEnabled && p.Streaming.Name == "" {
		errs = append(errs, errors.New("dictation.streaming_enabled requires providers.streaming"))
	}
	if d.CorrectionEnabled && p.LLM.Name == "" {
		slog.Warn("dictation.correction_enabled is set but providers.llm is not configured; transcripts will be delivered raw")
	}
	if (p.Cloud.Name != "" && p.Cloud.APIKey == "") || (p.Streaming.Name != "" && p.Streaming.APIKey == "") {
		slog.Warn("cloud provider configured without api_key; requests will fail until a key is set")
	}

	// Languages
	l := cfg.Languages
	if len(l.Selected) > 1 && l.Fallback != "" && !slices.Contains(l.Selected, l.Fallback) {
		slog.Warn("languages.fallback is not one of languages.selected; the first selected language will be used",
			"fallback", l.Fallback,
			"selected", l.Selected,
		)
	}

	// Capture
	c := cfg.Capture
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", c.SampleRate))
	}
	if c.Channels < 0 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 2]", c.Channels))
	}
	if c.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must not be negative", c.FramesPerBuffer))
	}

	// Vocabulary
	for key, v := range map[string]float64{
		"phonetic_threshold": cfg.Vocabulary.PhoneticThreshold,
		"fuzzy_threshold":    cfg.Vocabulary.FuzzyThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("vocabulary.%s %g is out of range [0, 1]", key, v))
		}
	}

	// History
	if cfg.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit %d must not be negative", cfg.History.Limit))
	}

	// Shell
	if cfg.Shell.RestoreClipboard && !cfg.Shell.AutoPaste {
		slog.Warn("shell.restore_clipboard has no effect without shell.auto_paste")
	}

	return errors.Join(errs...)
}

func isBatch(name string) bool {
	return slices.Contains(ValidProviderNames["stt"], name)
}

// yamlKey maps a backend name to its key under providers.
func yamlKey(name string) string {
	if name == BackendWhisperServer {
		return "whisper_server"
	}
	return name
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
