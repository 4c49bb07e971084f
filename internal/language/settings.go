package language

import (
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Mode is how the first transcription pass treats language.
type Mode int

const (
	// ModeAuto: nothing configured, the backend auto-detects.
	ModeAuto Mode = iota
	// ModePinned: one language configured, detection is skipped.
	ModePinned
	// ModeMulti: several candidates, the backend detects and the resolver
	// checks the result against them.
	ModeMulti
)

func (m Mode) String() string {
	switch m {
	case ModePinned:
		return "pinned"
	case ModeMulti:
		return "multi"
	default:
		return "auto"
	}
}

// Settings is an immutable snapshot of the user's language configuration. A
// session takes one at start and keeps it; later edits apply to the next
// session.
type Settings struct {
	selected []types.LanguageCode
	fallback types.LanguageCode
}

// NewSettings normalises the configured codes: trims and lower-cases them,
// strips region suffixes, drops empty and "auto" entries and removes
// duplicates while keeping the user's order. An empty fallback defaults to
// the first selected language.
func NewSettings(selected []string, fallback string) Settings {
	codes := lo.FilterMap(selected, func(s string, _ int) (types.LanguageCode, bool) {
		c := types.NormalizeLanguage(s)
		return c, !c.IsZero() && c != "auto"
	})
	codes = lo.Uniq(codes)

	fb := types.NormalizeLanguage(fallback)
	if fb == "auto" {
		fb = ""
	}
	if fb.IsZero() && len(codes) > 0 {
		fb = codes[0]
	}
	return Settings{selected: codes, fallback: fb}
}

// Selected returns a copy of the candidate languages in configured order.
func (s Settings) Selected() []types.LanguageCode { return slices.Clone(s.selected) }

// Fallback returns the language used when detection misses the candidates.
func (s Settings) Fallback() types.LanguageCode { return s.fallback }

// Mode classifies the settings.
func (s Settings) Mode() Mode {
	switch len(s.selected) {
	case 0:
		return ModeAuto
	case 1:
		return ModePinned
	default:
		return ModeMulti
	}
}

// FirstPassLanguage is the language pinned on the first transcription call:
// the single configured language, otherwise empty for auto-detect.
func (s Settings) FirstPassLanguage() types.LanguageCode {
	if len(s.selected) == 1 {
		return s.selected[0]
	}
	return ""
}

// DetectLanguage reports whether the first pass must report the detected
// language, which only matters with several candidates.
func (s Settings) DetectLanguage() bool { return len(s.selected) > 1 }

// Contains reports whether code is a configured candidate.
func (s Settings) Contains(code types.LanguageCode) bool {
	return slices.Contains(s.selected, code)
}

// Resolve runs the resolver against these settings.
func (s Settings) Resolve(detected types.LanguageCode, confidence *float64) Decision {
	return Resolve(s.selected, s.fallback, detected, confidence)
}

// Strings returns the selected codes as plain strings, for persistence.
func (s Settings) Strings() []string {
	return lo.Map(s.selected, func(c types.LanguageCode, _ int) string { return string(c) })
}

// String renders the settings for logs, e.g. "multi[en,uk] fallback=en".
func (s Settings) String() string {
	return s.Mode().String() + "[" + strings.Join(s.Strings(), ",") + "] fallback=" + string(s.fallback)
}
