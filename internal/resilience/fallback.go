package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or was
// skipped because its breaker is open.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and its fallbacks in the order they are tried.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry. Entries are tried in the order added.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: value, breaker: NewCircuitBreaker(cbCfg)})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Primary returns the first entry.
func (fg *FallbackGroup[T]) Primary() (string, T) {
	return fg.entries[0].name, fg.entries[0].value
}

// Breaker returns the breaker guarding the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// Attempt describes the entry that produced a successful result.
type Attempt[T any, R any] struct {
	Name  string
	Entry T
	Value R

	// Index is the entry position; anything above zero means a fallback ran.
	Index int

	// Failures lists the errors of the entries tried before this one.
	Failures []error
}

// FellBack reports whether the result came from a fallback entry.
func (a Attempt[T, R]) FellBack() bool { return a.Index > 0 }

// Run calls fn against each entry in order until one succeeds. Entries with an
// open breaker are skipped. A group with a single entry has nothing to skip
// to, so its breaker is bypassed and the entry's own error is returned. Once
// ctx is done no further entries are tried and the context error is returned.
// This is a function rather than a method because methods cannot declare type
// parameters.
func Run[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(ctx context.Context, entry T) (R, error)) (Attempt[T, R], error) {
	if len(fg.entries) == 1 {
		entry := &fg.entries[0]
		if err := ctx.Err(); err != nil {
			return Attempt[T, R]{}, err
		}
		result, err := fn(ctx, entry.value)
		if err != nil {
			return Attempt[T, R]{Failures: []error{fmt.Errorf("%s: %w", entry.name, err)}}, err
		}
		return Attempt[T, R]{Name: entry.name, Entry: entry.value, Value: result}, nil
	}

	var failures []error
	for i := range fg.entries {
		entry := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			return Attempt[T, R]{Failures: failures}, err
		}

		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		if err == nil {
			return Attempt[T, R]{Name: entry.name, Entry: entry.value, Value: result, Index: i, Failures: failures}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Attempt[T, R]{Failures: failures}, err
		}

		failures = append(failures, fmt.Errorf("%s: %w", entry.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend, circuit open", "backend", entry.name)
		} else if i+1 < len(fg.entries) {
			slog.Warn("backend failed, trying fallback", "backend", entry.name, "next", fg.entries[i+1].name, "error", err)
		}
	}
	return Attempt[T, R]{Failures: failures}, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(failures...))
}
