// Package app wires the dictation subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the probe endpoints and keeps the streaming
// connection warm, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithCapture,
// WithHistory, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/HeroTools/open-whispr-sub004/internal/capture"
	"github.com/HeroTools/open-whispr-sub004/internal/config"
	"github.com/HeroTools/open-whispr-sub004/internal/correction"
	"github.com/HeroTools/open-whispr-sub004/internal/dictation"
	"github.com/HeroTools/open-whispr-sub004/internal/health"
	"github.com/HeroTools/open-whispr-sub004/internal/history"
	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/internal/observe"
	"github.com/HeroTools/open-whispr-sub004/internal/resilience"
	"github.com/HeroTools/open-whispr-sub004/internal/settings"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
)

const serverShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// Primary is the first batch backend tried. Required.
	Primary stt.Backend

	// Fallback is tried when Primary fails and fallback is enabled.
	Fallback stt.Backend

	Streaming stt.StreamingBackend

	// LLM powers the correction pass.
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	cfgPath   string

	// Subsystems, initialised in New and torn down in Shutdown.
	settings    *settings.Store
	registry    *language.Registry
	history     history.Store
	vocab       *vocabCache
	transcriber *resilience.STTFallback
	capture     capture.Source
	metrics     *observe.Metrics
	orch        *dictation.Orchestrator
	health      *health.Handler
	checkers    []health.Checker
	server      *http.Server
	watcher     *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCapture injects an audio source instead of opening PortAudio.
func WithCapture(s capture.Source) Option {
	return func(a *App) { a.capture = s }
}

// WithHistory injects a history store instead of creating one from config.
func WithHistory(h history.Store) Option {
	return func(a *App) { a.history = h }
}

// WithSettings injects the settings store instead of opening
// cfg.Paths.Settings.
func WithSettings(s *settings.Store) Option {
	return func(a *App) { a.settings = s }
}

// WithMetrics injects the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch enables hot reload of the config file at path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.cfgPath = path }
}

// WithCheckers adds readiness checks on top of the ones New derives from the
// providers.
func WithCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Primary == nil {
		return nil, errors.New("app: a primary transcription backend is required")
	}
	a := &App{
		providers: providers,
		log:       slog.Default(),
		registry:  language.NewRegistry(),
	}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings ──────────────────────────────────────────────────────
	if err := a.initSettings(); err != nil {
		return nil, fmt.Errorf("app: init settings: %w", err)
	}

	// ── 2. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Backend chain and correction ──────────────────────────────────
	a.initTranscriber()
	a.vocab = newVocabCache(providers.LLM, correction.WithTimeout(cfg.Dictation.CorrectionTimeout))

	// ── 4. Capture ───────────────────────────────────────────────────────
	if a.capture == nil {
		a.capture = capture.NewPortAudio(capture.Config{
			SampleRate:      cfg.Capture.SampleRate,
			Channels:        cfg.Capture.Channels,
			FramesPerBuffer: cfg.Capture.FramesPerBuffer,
		}.WithDefaults())
	}

	// ── 5. Orchestrator ──────────────────────────────────────────────────
	a.initOrchestrator()

	// ── 6. Health, HTTP and config watch ─────────────────────────────────
	a.initHealth()
	a.initServer()
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}
	a.addBackendClosers()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSettings opens the settings file unless one was injected. Without a
// path the config's language defaults are used as-is.
func (a *App) initSettings() error {
	if a.settings != nil {
		return nil
	}
	path := a.cfg.Load().Paths.Settings
	if path == "" {
		return nil
	}
	s, err := settings.Open(path)
	if err != nil {
		return err
	}
	a.settings = s
	return nil
}

// initHistory connects to PostgreSQL when a DSN is configured and otherwise
// keeps history in memory.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	hc := a.cfg.Load().History
	if hc.PostgresDSN == "" {
		a.history = history.NewMemory(hc.Limit)
		return nil
	}
	pg, err := history.OpenPostgres(ctx, hc.PostgresDSN)
	if err != nil {
		return err
	}
	a.history = pg
	a.checkers = append(a.checkers, health.Ping("history", pg.Ping))
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

func (a *App) initTranscriber() {
	dc := a.cfg.Load().Dictation
	a.transcriber = resilience.NewSTTFallback(a.providers.Primary, dc.BackendTimeout, resilience.FallbackConfig{})
	if dc.FallbackEnabled && a.providers.Fallback != nil {
		a.transcriber.AddFallback(a.providers.Fallback)
	}
}

func (a *App) initOrchestrator() {
	cfg := dictation.Config{
		Capture:        a.capture,
		Transcriber:    a.transcriber,
		Streaming:      a.providers.Streaming,
		Batch:          a.batchBackend(),
		History:        a.history,
		Settings:       a.snapshot,
		Registry:       a.registry,
		Metrics:        a.metrics,
		Logger:         a.log,
		BackendTimeout: a.cfg.Load().Dictation.BackendTimeout,
	}
	if a.vocab.hasProvider() {
		cfg.Corrector = a.vocab
	}
	a.orch = dictation.New(cfg)
	// The orchestrator closes first so no session outlives its backends.
	a.closers = append([]func() error{a.orch.Close}, a.closers...)
}

// batchBackend picks the backend streaming sessions retry on: the hosted
// batch endpoint when it is in the chain, else the primary.
func (a *App) batchBackend() stt.Backend {
	for _, b := range []stt.Backend{a.providers.Primary, a.providers.Fallback} {
		if b != nil && b.Name() == config.BackendCloud {
			return b
		}
	}
	return a.providers.Primary
}

type availabler interface{ Available() error }

type credentialed interface{ HasCredentials() bool }

// initHealth derives readiness checks from the configured backends.
func (a *App) initHealth() {
	checks := make([]health.Checker, 0, len(a.checkers)+2)
	for i, b := range []stt.Backend{a.providers.Primary, a.providers.Fallback} {
		if b == nil {
			continue
		}
		optional := i > 0
		switch v := b.(type) {
		case availabler:
			c := health.Available(b.Name(), v.Available)
			c.Optional = optional
			checks = append(checks, c)
		case credentialed:
			checks = append(checks, health.Credentials(b.Name(), v.HasCredentials, optional))
		}
	}
	a.health = health.New(append(checks, a.checkers...)...)
}

// Handler serves /metrics, /healthz and /readyz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics, a.log)(mux)
}

func (a *App) initServer() {
	addr := a.cfg.Load().Server.ListenAddr
	if addr == "" {
		return
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.closers = append(a.closers, a.server.Close)
}

func (a *App) initWatcher() error {
	if a.cfgPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.cfgPath, a.applyConfig, config.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// addBackendClosers releases backends that hold native or network resources.
func (a *App) addBackendClosers() {
	var backends []any
	for _, b := range []any{a.providers.Primary, a.providers.Fallback, a.providers.Streaming} {
		if b != nil && !lo.Contains(backends, b) {
			backends = append(backends, b)
		}
	}
	for _, b := range backends {
		if c, ok := b.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
}

// ─── Per-session settings ────────────────────────────────────────────────────

// snapshot builds the settings view for one session from the current config
// and the user settings file.
func (a *App) snapshot() dictation.Snapshot {
	cfg := a.cfg.Load()
	langs := language.NewSettings(cfg.Languages.Selected, cfg.Languages.Fallback)
	var dictionary []string
	if a.settings != nil {
		if err := a.settings.Reload(); err != nil {
			a.log.Warn("app: reload settings failed, using last values", "err", err)
		}
		langs = a.settings.Languages(langs)
		dictionary = a.settings.Dictionary()
	}
	words := lo.Uniq(append(lo.Compact(cfg.Vocabulary.Words), lo.Compact(dictionary)...))
	vocab := a.vocab.update(words, cfg.Vocabulary.PhoneticThreshold, cfg.Vocabulary.FuzzyThreshold)

	return dictation.Snapshot{
		Languages:         langs,
		Models:            modelsFor(cfg),
		Prompt:            vocab.Prompt(),
		CorrectionEnabled: cfg.Dictation.CorrectionEnabled && a.vocab.hasProvider(),
		CorrectionTimeout: cfg.Dictation.CorrectionTimeout,
		Streaming:         cfg.Dictation.StreamingEnabled && a.providers.Streaming != nil,
		FallbackEnabled:   cfg.Dictation.FallbackEnabled,
	}
}

// modelsFor maps each configured backend name to its model.
func modelsFor(cfg *config.Config) map[string]string {
	models := make(map[string]string)
	for _, name := range []string{config.BackendLocal, config.BackendNative, config.BackendWhisperServer, config.BackendCloud} {
		if e, ok := cfg.Providers.Batch(name); ok && e.Model != "" {
			models[name] = e.Model
		}
	}
	if m := cfg.Providers.Streaming.Model; m != "" {
		models[config.BackendStreaming] = m
	}
	return models
}

// applyConfig is the watcher callback. Only per-session fields take effect;
// the rest is reported by the watcher as needing a restart.
func (a *App) applyConfig(_, next *config.Config, d config.ConfigDiff) {
	a.cfg.Store(next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(levelFor(d.NewLogLevel))
	}
	a.log.Info("config reloaded",
		"languages", d.LanguagesChanged,
		"vocabulary", d.VocabularyChanged,
		"dictation", d.DictationChanged,
	)
}

func levelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the dictation orchestrator.
func (a *App) Orchestrator() *dictation.Orchestrator { return a.orch }

// Health returns the readiness checks.
func (a *App) Health() *health.Handler { return a.health }

// History returns the transcription history store.
func (a *App) History() history.Store { return a.history }

// Settings returns the user settings store, or nil when none is configured.
func (a *App) Settings() *settings.Store { return a.settings }

// Config returns the current (possibly reloaded) config.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the probe endpoints and warms the streaming connection, then
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		a.log.Info("serving probes", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		if err := a.orch.Warm(gctx); err != nil && gctx.Err() == nil {
			a.log.Warn("streaming warm-up failed", "err", err)
		}
		return nil
	})

	cfg := a.cfg.Load()
	a.log.Info("app running",
		"primary", a.providers.Primary.Name(),
		"fallback", cfg.Dictation.FallbackEnabled && a.providers.Fallback != nil,
		"streaming", cfg.Dictation.StreamingEnabled && a.providers.Streaming != nil,
		"correction", cfg.Dictation.CorrectionEnabled && a.vocab.hasProvider(),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the closers in order, stopping early when ctx expires. It is
// safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
