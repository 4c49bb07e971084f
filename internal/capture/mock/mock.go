// Package mock provides a scripted capture.Source for tests.
package mock

import (
	"context"
	"sync"

	"github.com/HeroTools/open-whispr-sub004/internal/capture"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Source hands out Recordings that replay Chunks.
type Source struct {
	mu sync.Mutex

	// OpenErr is returned by Open.
	OpenErr error

	// Chunks are delivered to the chunk callback, in order, as soon as the
	// recording opens. Stop returns their concatenation.
	Chunks [][]byte

	// SampleRate and Channels describe the returned audio. Defaults 16000/1.
	SampleRate int
	Channels   int

	// StopErr is returned by Stop.
	StopErr error

	// Gate, when set, holds Open until it is closed or ctx is done, like a
	// device that is slow to start.
	Gate chan struct{}

	Opened     int
	Recordings []*Recording
}

var _ capture.Source = (*Source)(nil)

// Open records the call and replays Chunks to onChunk.
func (s *Source) Open(ctx context.Context, onChunk capture.ChunkFunc) (capture.Recording, error) {
	s.mu.Lock()
	s.Opened++
	gate := s.Gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	if s.OpenErr != nil {
		err := s.OpenErr
		s.mu.Unlock()
		return nil, err
	}
	rate, ch := s.SampleRate, s.Channels
	if rate == 0 {
		rate = 16000
	}
	if ch == 0 {
		ch = 1
	}
	r := &Recording{audio: types.Audio{SampleRate: rate, Channels: ch}, stopErr: s.StopErr}
	for _, c := range s.Chunks {
		r.audio.PCM = append(r.audio.PCM, c...)
	}
	s.Recordings = append(s.Recordings, r)
	chunks := s.Chunks
	s.mu.Unlock()

	if onChunk != nil {
		for _, c := range chunks {
			onChunk(append([]byte(nil), c...))
		}
	}
	return r, nil
}

// OpenCount returns the number of Open calls. Thread-safe.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Opened
}

// Last returns the most recent recording, or nil.
func (s *Source) Last() *Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Recordings) == 0 {
		return nil
	}
	return s.Recordings[len(s.Recordings)-1]
}

// Recording is a finished capture.
type Recording struct {
	mu      sync.Mutex
	audio   types.Audio
	stopErr error
	stopped bool
	aborted bool
}

// Stop returns the replayed audio.
func (r *Recording) Stop() (types.Audio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.stopErr != nil {
		return types.Audio{}, r.stopErr
	}
	return r.audio, nil
}

// Abort marks the recording aborted.
func (r *Recording) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = true
}

// Stopped reports whether Stop was called.
func (r *Recording) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Aborted reports whether Abort was called.
func (r *Recording) Aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}
