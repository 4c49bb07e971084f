// Package capture records microphone audio.
//
// A [Source] opens one [Recording] at a time. The recording buffers every
// captured chunk for batch transcription and also hands each chunk to an
// optional callback as it arrives, which the streaming path forwards to a
// live cloud session.
package capture

import (
	"context"
	"errors"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// ErrNoDevice is returned by Open when no audio input device is available.
var ErrNoDevice = errors.New("capture: no audio input device")

// Config describes the capture format.
type Config struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int

	// Channels is 1 for mono. Default: 1.
	Channels int

	// FramesPerBuffer is the number of frames read per chunk. Default: 1024.
	FramesPerBuffer int
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = 1024
	}
	return c
}

// ChunkFunc receives each captured chunk of 16-bit little-endian PCM. It is
// called from the capture goroutine and must not block for long; the slice
// is not reused after the call.
type ChunkFunc func(chunk []byte)

// Source opens recordings.
type Source interface {
	// Open starts capturing. onChunk may be nil. Open fails with ErrNoDevice
	// when there is nothing to record from.
	Open(ctx context.Context, onChunk ChunkFunc) (Recording, error)
}

// Recording is one live capture.
type Recording interface {
	// Stop ends capture and returns everything recorded.
	Stop() (types.Audio, error)

	// Abort ends capture and discards the audio. It is safe to call after
	// Stop and more than once.
	Abort()
}
