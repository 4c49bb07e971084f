// Command openwhispr is push-to-talk dictation for the terminal: record,
// transcribe locally or in the cloud, clean up with an LLM and paste.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dimiro1/banner"

	"github.com/HeroTools/open-whispr-sub004/internal/app"
	"github.com/HeroTools/open-whispr-sub004/internal/config"
	"github.com/HeroTools/open-whispr-sub004/internal/observe"
	"github.com/HeroTools/open-whispr-sub004/internal/shell"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `usage: openwhispr [-config path] <command> [args]

commands:
  run                      start dictation (default)
  transcribe <file.wav>    transcribe a WAV file and print the text
  models list              show local models and whether they are downloaded
  models check <name>      show one model's status
  models download <name>   download a model
  models delete <name>     delete a downloaded model
  check-ffmpeg             locate ffmpeg and print its version
  doctor                   run the readiness checks
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("openwhispr", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", defaultConfigPath(), "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cmd, rest := "run", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openwhispr: %v\n", err)
		return 1
	}
	if err := resolvePaths(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "openwhispr: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		return runDictation(ctx, cfg, *configPath, level)
	case "transcribe":
		return runTranscribe(ctx, cfg, rest)
	case "models":
		return runModels(ctx, cfg, rest)
	case "check-ffmpeg":
		return runCheckFFmpeg(ctx, cfg)
	case "doctor":
		return runDoctor(ctx, cfg)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "openwhispr: unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

// loadConfig reads path. A missing file at the default location yields the
// defaults so that a fresh install works without any setup.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath() {
		cfg, err = config.LoadFromReader(bytes.NewReader(nil))
		if err == nil {
			slog.Debug("no config file, using defaults", "path", path)
		}
		return cfg, err
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return nil, err
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "openwhispr", "config.yaml")
}

// resolvePaths fills the settings file and models directory from the user's
// config and cache directories when the config leaves them empty.
func resolvePaths(cfg *config.Config) error {
	if cfg.Paths.Settings == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate settings directory: %w", err)
		}
		cfg.Paths.Settings = filepath.Join(dir, "openwhispr", "settings.json")
	}
	if cfg.Paths.ModelsDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("locate models directory: %w", err)
		}
		cfg.Paths.ModelsDir = filepath.Join(dir, "openwhispr", "models")
	}
	return nil
}

func slogLevel(l config.LogLevel) slog.Level {
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

// runDictation is the interactive mode: Enter toggles recording, c cancels
// and q quits.
func runDictation(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) int {
	printBanner(os.Stdout)

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		StepLog:        slog.Default().With("component", "timing"),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	deps := newDeps(cfg)
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, deps)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	opts := []app.Option{
		app.WithLevelVar(level),
		app.WithCheckers(deps.checkers(cfg)...),
	}
	if _, err := os.Stat(configPath); err == nil {
		opts = append(opts, app.WithConfigWatch(configPath))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(os.Stdout, cfg, providers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	presenter := shell.NewPresenter(os.Stdout, presenterOptions(cfg)...)
	go presenter.Run(ctx, application.Orchestrator().Events())
	go func() {
		err := shell.KeyLoop(ctx, os.Stdin, os.Stdout, application.Orchestrator())
		if err != nil && !errors.Is(err, shell.ErrQuit) && !errors.Is(err, context.Canceled) {
			slog.Warn("key loop stopped", "err", err)
		}
		cancel()
	}()

	fmt.Fprintln(os.Stdout, "ready: press Enter to dictate, q to quit")

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	return 0
}

func presenterOptions(cfg *config.Config) []shell.Option {
	paster := &shell.Paster{
		Clipboard: shell.SystemClipboard{},
		AutoPaste: cfg.Shell.AutoPaste,
		Restore:   cfg.Shell.RestoreClipboard,
	}
	if cfg.Shell.AutoPaste {
		paster.Keyboard = &shell.SystemKeyboard{}
	}
	opts := []shell.Option{shell.WithPaster(paster)}
	if cfg.Shell.Notify {
		opts = append(opts, shell.WithNotifier(shell.DesktopNotifier{AppName: "OpenWhispr"}))
	}
	return opts
}

func printBanner(w io.Writer) {
	tpl := "{{ .Title \"OpenWhispr\" \"\" 0 }}\nversion " + version + "\n"
	banner.Init(w, true, true, bytes.NewBufferString(tpl))
}

// printStartupSummary writes a short table of the active backend chain.
func printStartupSummary(w io.Writer, cfg *config.Config, p *app.Providers) {
	name := func(n interface{ Name() string }, on bool) string {
		if !on || n == nil {
			return "off"
		}
		return n.Name()
	}
	fmt.Fprintf(w, "  primary     %s\n", p.Primary.Name())
	if p.Fallback != nil {
		fmt.Fprintf(w, "  fallback    %s\n", name(p.Fallback, cfg.Dictation.FallbackEnabled))
	} else {
		fmt.Fprintln(w, "  fallback    off")
	}
	if p.Streaming != nil {
		fmt.Fprintf(w, "  streaming   %s\n", name(p.Streaming, cfg.Dictation.StreamingEnabled))
	} else {
		fmt.Fprintln(w, "  streaming   off")
	}
	if p.LLM != nil {
		fmt.Fprintf(w, "  correction  %s\n", name(p.LLM, cfg.Dictation.CorrectionEnabled))
	} else {
		fmt.Fprintln(w, "  correction  off")
	}
	fmt.Fprintf(w, "  languages   %v (fallback %s)\n", cfg.Languages.Selected, cfg.Languages.Fallback)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "  probes      http://%s/readyz\n", cfg.Server.ListenAddr)
	}
}
