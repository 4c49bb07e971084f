package stt

import (
	"errors"
	"strings"
	"unicode"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Sentinel errors returned (wrapped) by backends when no result could be
// produced. Callers classify with errors.Is.
var (
	// ErrUnavailable means the backend cannot run at all: the local binary or
	// model is missing, or cloud credentials are absent.
	ErrUnavailable = errors.New("stt: backend unavailable")

	// ErrAuthExpired means the cloud service rejected the credentials.
	ErrAuthExpired = errors.New("stt: authentication expired")

	// ErrOffline means the cloud service could not be reached.
	ErrOffline = errors.New("stt: service unreachable")

	// ErrLimitReached means the account's usage quota is exhausted and no text
	// was returned. When text is returned the backend reports the condition in
	// Result.Usage instead.
	ErrLimitReached = errors.New("stt: usage limit reached")
)

// Result is the normalised output of a transcription call.
//
// A backend that produced output describing a failure returns Success false
// with Error set and a nil error. The error return of Transcribe is reserved
// for calls that produced nothing (unavailable, offline, cancelled, timed out).
type Result struct {
	// Text is the transcript, trimmed of surrounding whitespace.
	Text string

	// DetectedLanguage is the language the backend reports having heard. Empty
	// when the backend did not run detection or did not report it.
	DetectedLanguage types.LanguageCode

	// DetectedConfidence is the detector's probability for DetectedLanguage in
	// [0, 1]. Nil when not reported.
	DetectedConfidence *float64

	// Success reports whether the backend considers the call successful.
	Success bool

	// Error carries the backend's own failure message when Success is false.
	Error string

	// Usage is set by metered cloud backends.
	Usage *Usage
}

// Usage reports quota state returned by metered cloud backends.
type Usage struct {
	LimitReached   bool
	WordsUsed      int
	WordsRemaining int
}

// Failure builds an unsuccessful Result carrying msg.
func Failure(msg string) Result {
	return Result{Success: false, Error: strings.TrimSpace(msg)}
}

// Confidence returns a pointer to v, for filling Result.DetectedConfidence.
func Confidence(v float64) *float64 { return &v }

// HasSpeech reports whether the transcript carries usable text. Engines emit
// bracketed markers such as "[BLANK_AUDIO]" for silence; those do not count.
// A lone character counts only when it can be a whole word on its own: a
// digit or a CJK character.
func (r Result) HasSpeech() bool {
	t := strings.TrimSpace(r.Text)
	switch rs := []rune(t); len(rs) {
	case 0:
		return false
	case 1:
		return wordRune(rs[0])
	}
	if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") {
		return false
	}
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		return false
	}
	return !strings.EqualFold(t, "BLANK_AUDIO")
}

func wordRune(r rune) bool {
	return unicode.IsDigit(r) || unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
