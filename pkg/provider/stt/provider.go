// Package stt defines the contract shared by every speech-to-text backend.
//
// A backend turns one complete utterance into a Result. Two shapes exist:
//
//   - Backend transcribes a finished audio buffer in a single call. The local
//     subprocess engine, the in-process whisper.cpp engine and the cloud batch
//     API all implement it.
//   - StreamingBackend keeps a pre-warmed connection to a cloud service and
//     accepts audio while the user is still speaking. Partial text is advisory;
//     the authoritative Result is returned by Stream.Finish.
//
// Backends normalise every wire format into Result and never panic on
// malformed output. See Result for the error contract.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Options controls a single transcription call.
type Options struct {
	// Model is the backend-specific model identifier (e.g., "base", "whisper-1").
	// Empty selects the backend's configured default.
	Model string

	// Language pins recognition to one language. Empty means auto-detect; the
	// backend must never receive a sentinel such as "auto".
	Language types.LanguageCode

	// DetectLanguage asks the backend to report the detected language and its
	// confidence. Backends whose wire format offers a cheaper minimal response
	// use it only when this flag is set.
	DetectLanguage bool

	// Prompt is an optional vocabulary hint forwarded to backends that accept one.
	Prompt string
}

// StreamConfig describes the audio format of a streaming session in addition
// to the per-call Options.
type StreamConfig struct {
	Options

	// SampleRate is the PCM sample rate in Hz of the chunks passed to SendAudio.
	SampleRate int

	// Channels is 1 for mono.
	Channels int
}

// Backend transcribes a complete utterance.
type Backend interface {
	// Name identifies the backend in logs, metrics and transcript sources.
	Name() string

	// Transcribe runs recognition over audio. The returned error is non-nil only
	// when no result could be produced at all; see Result for details.
	Transcribe(ctx context.Context, audio types.Audio, opts Options) (Result, error)
}

// StreamingBackend transcribes audio while it is being captured over a
// persistent connection that is opened ahead of time.
type StreamingBackend interface {
	// Name identifies the backend in logs, metrics and transcript sources.
	Name() string

	// Warm opens the persistent connection if none is ready. Concurrent callers
	// share one in-flight attempt.
	Warm(ctx context.Context) error

	// Ready reports whether a warmed, authenticated connection is waiting.
	Ready() bool

	// StartStream consumes the warmed connection (dialling one if needed) and
	// starts a recognition session on it.
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)

	// Close releases any idle warmed connection.
	Close() error
}

// Stream is one live streaming recognition session.
//
// Callers must call Close when done, even after Finish. Close is idempotent.
type Stream interface {
	// SendAudio forwards a chunk of 16-bit PCM audio. Calling SendAudio after
	// Finish or Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim text. The values are advisory and may arrive out of
	// order relative to the final result. The channel is closed when the stream
	// ends.
	Partials() <-chan string

	// Finish signals end of audio and waits for the authoritative result.
	Finish(ctx context.Context) (Result, error)

	// Close aborts the stream and closes the underlying connection.
	Close() error
}
