// This file contains the Native engine backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/HeroTools/open-whispr-sub004/pkg/audio"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Compile-time assertion that Native satisfies stt.Backend.
var _ stt.Backend = (*Native)(nil)

// Native implements stt.Backend using the whisper.cpp Go bindings, avoiding
// both the subprocess and HTTP hops. The model is loaded once and shared.
//
// whisper.cpp is not safe for concurrent inference on one model, so calls are
// serialised. The dictation flow runs one session at a time, so this costs
// nothing in practice.
type Native struct {
	model     whisperlib.Model
	modelName string

	mu sync.Mutex
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the engine is no longer needed.
func NewNative(modelPath string) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &Native{model: model, modelName: modelPath}, nil
}

// Name returns "native".
func (n *Native) Name() string { return "native" }

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs inference over a on a fresh whisper context. opts.Model is
// ignored because the model is fixed at construction.
//
// The bindings offer no way to interrupt a running inference; cancellation is
// honoured before the call starts and its result is discarded if ctx ends while
// it runs.
func (n *Native) Transcribe(ctx context.Context, a types.Audio, opts stt.Options) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	samples := audio.ToFloat32(audio.Convert(a, audio.SpeechFormat).PCM)

	type outcome struct {
		res stt.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := n.infer(samples, opts)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return stt.Result{}, fmt.Errorf("whisper: %w", ctx.Err())
	case o := <-done:
		return o.res, o.err
	}
}

func (n *Native) infer(samples []float32, opts stt.Options) (stt.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// A context is not thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	target := string(lang)
	if target == "" {
		target = "auto"
	}
	if err := wctx.SetLanguage(target); err != nil {
		slog.Warn("whisper: failed to set language, using auto", "language", target, "error", err)
		_ = wctx.SetLanguage("auto")
	}
	wctx.SetTranslate(false)
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Failure(fmt.Sprintf("process audio: %v", err)), nil
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Failure(fmt.Sprintf("read segment: %v", err)), nil
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	res := stt.Result{Text: strings.Join(parts, " "), Success: true}
	if lang == "" {
		res.DetectedLanguage = types.LanguageFromEngine(wctx.DetectedLanguage())
	}
	return res, nil
}
