// Package mock provides test doubles for the stt package interfaces.
//
// Backend returns scripted results in call order and records every call.
// StreamingBackend hands out a Stream whose partials and final result are set
// by the test.
//
// Example:
//
//	b := &mock.Backend{
//	    BackendName: "local",
//	    Results:     []stt.Result{{Text: "hello", Success: true}},
//	}
//	res, _ := b.Transcribe(ctx, audio, stt.Options{})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// TranscribeCall records a single invocation of Backend.Transcribe.
type TranscribeCall struct {
	Audio types.Audio
	Opts  stt.Options
}

// Backend is a mock implementation of stt.Backend.
type Backend struct {
	mu sync.Mutex

	// BackendName is returned by Name. Defaults to "mock".
	BackendName string

	// Results are returned in order, one per call. When exhausted the last
	// entry is repeated. A zero-length slice yields an empty successful result.
	Results []stt.Result

	// Errs are returned in order alongside Results. A nil entry means no error.
	Errs []error

	// Block, when non-nil, makes Transcribe wait until the channel is closed or
	// ctx is done. Cancellation returns ctx.Err().
	Block chan struct{}

	// Started, when non-nil, receives one value at the start of each call.
	Started chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

var _ stt.Backend = (*Backend)(nil)

// Name returns BackendName.
func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "mock"
	}
	return b.BackendName
}

// Transcribe records the call and returns the next scripted result.
func (b *Backend) Transcribe(ctx context.Context, audio types.Audio, opts stt.Options) (stt.Result, error) {
	b.mu.Lock()
	idx := len(b.Calls)
	b.Calls = append(b.Calls, TranscribeCall{Audio: audio, Opts: opts})
	block := b.Block
	started := b.Started
	var res stt.Result
	var err error
	if n := len(b.Results); n > 0 {
		res = b.Results[min(idx, n-1)]
	} else {
		res = stt.Result{Success: true}
	}
	if n := len(b.Errs); n > 0 {
		err = b.Errs[min(idx, n-1)]
	}
	b.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// CallsSnapshot returns a copy of the recorded calls. Thread-safe.
func (b *Backend) CallsSnapshot() []TranscribeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TranscribeCall, len(b.Calls))
	copy(out, b.Calls)
	return out
}

// StreamingBackend is a mock implementation of stt.StreamingBackend.
type StreamingBackend struct {
	mu sync.Mutex

	// BackendName is returned by Name. Defaults to "mock-stream".
	BackendName string

	// IsReady is returned by Ready.
	IsReady bool

	// WarmErr is returned by Warm. A nil WarmErr sets IsReady.
	WarmErr error

	// StartErr is returned by StartStream.
	StartErr error

	// Stream is returned by StartStream. When nil a fresh Stream is created.
	Stream *Stream

	WarmCalls   int
	StartCalls  []stt.StreamConfig
	CloseCalled int
}

var _ stt.StreamingBackend = (*StreamingBackend)(nil)

// Name returns BackendName.
func (s *StreamingBackend) Name() string {
	if s.BackendName == "" {
		return "mock-stream"
	}
	return s.BackendName
}

// Warm records the call.
func (s *StreamingBackend) Warm(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WarmCalls++
	if s.WarmErr != nil {
		return s.WarmErr
	}
	s.IsReady = true
	return nil
}

// Ready returns IsReady.
func (s *StreamingBackend) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IsReady
}

// StartStream records the call and returns Stream.
func (s *StreamingBackend) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls = append(s.StartCalls, cfg)
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	s.IsReady = false
	if s.Stream == nil {
		s.Stream = NewStream(stt.Result{Success: true})
	}
	return s.Stream, nil
}

// Close records the call.
func (s *StreamingBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalled++
	return nil
}

// WarmCount returns the number of Warm calls. Thread-safe.
func (s *StreamingBackend) WarmCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WarmCalls
}

// Stream is a mock implementation of stt.Stream.
type Stream struct {
	mu sync.Mutex

	// PartialsCh is returned by Partials. Tests may send to it before Finish;
	// Finish and Close close it.
	PartialsCh chan string

	// Final and FinishErr are returned by Finish.
	Final     stt.Result
	FinishErr error

	// Chunks records every SendAudio payload.
	Chunks [][]byte

	closed     bool
	finished   bool
	CloseCount int
}

var _ stt.Stream = (*Stream)(nil)

// NewStream returns a Stream that finishes with final.
func NewStream(final stt.Result) *Stream {
	return &Stream{PartialsCh: make(chan string, 16), Final: final}
}

// SendAudio records a copy of chunk.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.finished {
		return errors.New("mock: stream is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.Chunks = append(s.Chunks, cp)
	return nil
}

// Partials returns PartialsCh.
func (s *Stream) Partials() <-chan string { return s.PartialsCh }

// Finish returns Final and FinishErr.
func (s *Stream) Finish(ctx context.Context) (stt.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished && !s.closed {
		close(s.PartialsCh)
	}
	s.finished = true
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	return s.Final, s.FinishErr
}

// Close marks the stream closed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished && !s.closed {
		close(s.PartialsCh)
	}
	s.closed = true
	s.CloseCount++
	return nil
}

// Closed reports whether Close was called. Thread-safe.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ChunkCount returns the number of SendAudio calls. Thread-safe.
func (s *Stream) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}
