package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// ResultError reports a backend that answered with an unsuccessful result.
// It lets such answers trip the breaker and trigger the fallback like any
// other failure.
type ResultError struct {
	Backend string
	Result  stt.Result
}

func (e *ResultError) Error() string {
	if e.Result.Error == "" {
		return e.Backend + ": transcription failed"
	}
	return e.Backend + ": " + e.Result.Error
}

// IsAccountError reports errors caused by the user's account rather than the
// backend: cancellation, expired credentials and a reached usage limit.
func IsAccountError(err error) bool {
	return IsCancellation(err) || errors.Is(err, stt.ErrAuthExpired) || errors.Is(err, stt.ErrLimitReached)
}

// Transcription is the outcome of [STTFallback.Transcribe].
type Transcription struct {
	Result  stt.Result
	Backend stt.Backend

	// FellBack is true when the primary did not produce Result.
	FellBack bool

	// Failures holds the errors of the backends tried before Backend.
	Failures []error
}

// STTFallback runs a transcription against the primary backend and, if that
// fails or times out, once against each fallback in turn.
type STTFallback struct {
	group   *FallbackGroup[stt.Backend]
	timeout time.Duration
}

// NewSTTFallback creates a fallback chain with primary first. Each attempt
// gets its own timeout; zero disables it. Unless cfg sets its own, the
// breakers treat rejected credentials and an exhausted quota as neutral.
func NewSTTFallback(primary stt.Backend, timeout time.Duration, cfg FallbackConfig) *STTFallback {
	if cfg.CircuitBreaker.Neutral == nil {
		cfg.CircuitBreaker.Neutral = IsAccountError
	}
	return &STTFallback{group: NewFallbackGroup(primary, primary.Name(), cfg), timeout: timeout}
}

// AddFallback appends a backend to the chain.
func (f *STTFallback) AddFallback(b stt.Backend) {
	f.group.AddFallback(b.Name(), b)
}

// Primary returns the preferred backend.
func (f *STTFallback) Primary() stt.Backend {
	_, b := f.group.Primary()
	return b
}

// Backends returns the chain in order.
func (f *STTFallback) Backends() []stt.Backend {
	out := make([]stt.Backend, 0, f.group.Len())
	for _, e := range f.group.entries {
		out = append(out, e.value)
	}
	return out
}

// Transcribe tries each backend with the options optsFor returns for it.
// Cancelling ctx stops the chain; a per-attempt timeout does not.
func (f *STTFallback) Transcribe(ctx context.Context, a types.Audio, optsFor func(stt.Backend) stt.Options) (Transcription, error) {
	attempt, err := Run(ctx, f.group, func(ctx context.Context, b stt.Backend) (stt.Result, error) {
		return f.once(ctx, b, a, optsFor(b))
	})
	if err != nil {
		return Transcription{Failures: attempt.Failures}, err
	}
	return Transcription{
		Result:   attempt.Value,
		Backend:  attempt.Entry,
		FellBack: attempt.FellBack(),
		Failures: attempt.Failures,
	}, nil
}

func (f *STTFallback) once(ctx context.Context, b stt.Backend, a types.Audio, opts stt.Options) (stt.Result, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	res, err := b.Transcribe(ctx, a, opts)
	if err != nil {
		return stt.Result{}, err
	}
	if ctx.Err() != nil {
		// The backend ignored the deadline and answered late.
		return stt.Result{}, fmt.Errorf("%s: %w", b.Name(), ctx.Err())
	}
	if !res.Success {
		return stt.Result{}, &ResultError{Backend: b.Name(), Result: res}
	}
	return res, nil
}
