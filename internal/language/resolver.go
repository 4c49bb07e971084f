package language

import (
	"slices"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Reason explains a Decision.
type Reason string

const (
	// ReasonAuto: no languages configured; the detected language is trusted.
	ReasonAuto Reason = "auto"
	// ReasonSingle: exactly one language configured and pinned up front.
	ReasonSingle Reason = "single"
	// ReasonDetected: the detected language is one of the configured ones.
	ReasonDetected Reason = "detected"
	// ReasonFallback: detection landed outside the configured set.
	ReasonFallback Reason = "fallback"
)

// Decision is the resolver output. It is derived and never persisted.
type Decision struct {
	// Language is the language to trust or to pin the retry to. Empty for
	// ReasonAuto.
	Language types.LanguageCode
	Reason   Reason

	// NeedsRetry asks for one more transcription pinned to Language.
	NeedsRetry bool
}

// Resolve decides which language a transcript is in, given the configured
// candidates and what the first pass detected. It is total: every input maps
// to exactly one of the four reasons.
//
// The confidence is carried into the correction context by the caller but
// does not change the decision. A detector that lands inside the configured
// set is trusted even for closely related pairs, and reconciling those is the
// correction pass's job.
func Resolve(selected []types.LanguageCode, fallback, detected types.LanguageCode, confidence *float64) Decision {
	switch len(selected) {
	case 0:
		return Decision{Reason: ReasonAuto}
	case 1:
		return Decision{Language: selected[0], Reason: ReasonSingle}
	}
	if !detected.IsZero() && slices.Contains(selected, detected) {
		return Decision{Language: detected, Reason: ReasonDetected}
	}
	if fallback.IsZero() {
		fallback = selected[0]
	}
	return Decision{Language: fallback, Reason: ReasonFallback, NeedsRetry: true}
}
