// Package local runs a bundled speech-to-text engine binary as a subprocess.
//
// Each Transcribe call writes the utterance to a temporary WAV file and
// invokes
//
//	<binary> --mode transcribe <file.wav> --model <model> --output-format json [--language <code>]
//
// The language flag is omitted entirely for auto-detection. Engine output is
// normalised by package wire, so stdout in any supported layout (or plain
// text) yields a Result; only a missing binary or a cancelled call produce an
// error.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/HeroTools/open-whispr-sub004/pkg/audio"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/wire"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

const (
	defaultModel = "base"

	// stderrTail bounds how much engine stderr is carried into a failure.
	stderrTail = 500
)

var _ stt.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithModel sets the default model used when Options.Model is empty.
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithTempDir sets the directory for per-call WAV files. Defaults to os.TempDir.
func WithTempDir(dir string) Option {
	return func(b *Backend) { b.tempDir = dir }
}

// WithFFmpeg passes the ffmpeg location to the engine via FFMPEG_PATH.
func WithFFmpeg(path string) Option {
	return func(b *Backend) { b.ffmpegPath = path }
}

// WithRunner replaces the process runner. Intended for tests.
func WithRunner(r Runner) Option {
	return func(b *Backend) { b.runner = r }
}

// WithName overrides the name reported by Name. Defaults to "local".
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// Backend implements stt.Backend over a local engine binary.
type Backend struct {
	name       string
	binary     string
	model      string
	tempDir    string
	ffmpegPath string
	runner     Runner
	lookPath   func(string) (string, error)
}

// New creates a Backend that invokes binary. binary may be an absolute path or
// a name resolved through PATH at call time.
func New(binary string, opts ...Option) (*Backend, error) {
	if strings.TrimSpace(binary) == "" {
		return nil, errors.New("local: binary must not be empty")
	}
	b := &Backend{
		name:     "local",
		binary:   binary,
		model:    defaultModel,
		tempDir:  os.TempDir(),
		runner:   ExecRunner{},
		lookPath: exec.LookPath,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return b.name }

// Available reports whether the engine binary can be found.
func (b *Backend) Available() error {
	if _, err := b.lookPath(b.binary); err != nil {
		return fmt.Errorf("local: engine binary %q: %w", b.binary, stt.ErrUnavailable)
	}
	return nil
}

// Transcribe writes audio to a temporary WAV file and runs the engine on it.
// The file is removed before returning.
func (b *Backend) Transcribe(ctx context.Context, a types.Audio, opts stt.Options) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("local: %w", err)
	}
	path := filepath.Join(b.tempDir, "dictation-"+uuid.NewString()+".wav")
	if err := audio.WriteWAVFile(path, a); err != nil {
		return stt.Result{}, fmt.Errorf("local: write audio: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("local: failed to remove temp audio", "path", path, "error", err)
		}
	}()

	model := opts.Model
	if model == "" {
		model = b.model
	}
	args := BuildArgs(path, model, opts.Language)

	var env []string
	if b.ffmpegPath != "" {
		env = append(env, "FFMPEG_PATH="+b.ffmpegPath)
	}

	out, runErr := b.runner.Run(ctx, env, b.binary, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stt.Result{}, fmt.Errorf("local: %w", ctxErr)
	}
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, os.ErrNotExist) {
			return stt.Result{}, fmt.Errorf("local: start %q: %w", b.binary, stt.ErrUnavailable)
		}
		if len(strings.TrimSpace(string(out.Stdout))) == 0 {
			return stt.Failure(fmt.Sprintf("engine exited with code %d: %s", out.ExitCode, tail(out.Stderr))), nil
		}
	}

	d := wire.Decode(out.Stdout)
	slog.Debug("local: engine output decoded",
		"shape", d.Shape.String(),
		"exit_code", out.ExitCode,
		"success", d.Result.Success,
		"language", d.Result.DetectedLanguage,
	)
	res := d.Result
	if runErr != nil && res.Success {
		// Text was produced but the engine still failed; report the exit.
		res = stt.Failure(fmt.Sprintf("engine exited with code %d: %s", out.ExitCode, tail(out.Stderr)))
	}
	if !res.Success && res.Error == "" {
		res.Error = tail(out.Stderr)
	}
	return res, nil
}

// BuildArgs returns the engine command line. JSON output is always requested
// and the language flag is only present when a language is pinned.
func BuildArgs(audioPath, model string, lang types.LanguageCode) []string {
	args := []string{
		"--mode", "transcribe",
		audioPath,
		"--model", model,
		"--output-format", "json",
	}
	if code := types.NormalizeLanguage(string(lang)); code != "" && code != "auto" {
		args = append(args, "--language", string(code))
	}
	return args
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}
