// Package types defines the shared value types used across the dictation packages.
//
// Providers, the orchestrator and the correction pass exchange these types. Each
// package still owns its own domain types; only cross-cutting data lives here to
// avoid import cycles.
package types

import (
	"strings"
	"time"
)

// LanguageCode is a lower-case ISO 639-1 style language code such as "en" or "uk".
// The empty code means "unknown" or "not pinned" depending on context.
type LanguageCode string

// NormalizeLanguage lower-cases and trims a language code and strips any region
// suffix, so "en-US", " EN " and "en_us" all become "en".
func NormalizeLanguage(s string) LanguageCode {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	return LanguageCode(s)
}

// IsZero reports whether the code is empty.
func (c LanguageCode) IsZero() bool { return c == "" }

// String returns the code as a plain string.
func (c LanguageCode) String() string { return string(c) }

// Audio is a complete captured utterance in signed 16-bit little-endian PCM.
type Audio struct {
	// PCM holds interleaved int16 little-endian samples.
	PCM []byte

	// SampleRate in Hz, typically 16000 for speech recognition.
	SampleRate int

	// Channels is 1 for mono capture.
	Channels int
}

// Duration returns the playback length of the buffer. It returns zero when the
// format is not set.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.PCM) / 2 / a.Channels
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// Empty reports whether the buffer carries no samples.
func (a Audio) Empty() bool { return len(a.PCM) < 2 }

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}
