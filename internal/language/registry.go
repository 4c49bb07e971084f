// Package language decides which language a dictation is transcribed in.
//
// It holds the static registry of what each backend supports, the user's
// language settings as an immutable per-session snapshot, the pure resolver
// that picks the language for the final transcription, and the context
// handed to the correction pass.
package language

import (
	"strings"
	"unicode"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Backend kinds known to the registry.
const (
	BackendLocal     = "local"
	BackendNative    = "native"
	BackendServer    = "whisper-server"
	BackendCloud     = "cloud"
	BackendStreaming = "streaming"
)

// cloudLanguages are the languages the hosted transcription API accepts in
// its language field.
var cloudLanguages = []types.LanguageCode{
	"af", "ar", "hy", "az", "be", "bs", "bg", "ca", "zh", "hr", "cs", "da", "nl",
	"en", "et", "fi", "fr", "gl", "de", "el", "he", "hi", "hu", "is", "id", "it",
	"ja", "kn", "kk", "ko", "lv", "lt", "mk", "ms", "mr", "mi", "ne", "no", "fa",
	"pl", "pt", "ro", "ru", "sr", "sk", "sl", "es", "sw", "sv", "tl", "ta", "th",
	"tr", "uk", "ur", "vi", "cy",
}

// displayNames override the title-cased engine name where it reads badly.
var displayNames = map[types.LanguageCode]string{
	"zh":  "Chinese (Mandarin)",
	"yue": "Cantonese",
	"jw":  "Javanese",
	"ht":  "Haitian Creole",
	"nn":  "Norwegian Nynorsk",
	"no":  "Norwegian",
	"sr":  "Serbian",
}

// correctionHints describe confusions the acoustic detector is known to make,
// for the correction prompt.
var correctionHints = map[types.LanguageCode]string{
	"uk": "Ukrainian is often misdetected as Russian. Ukrainian uses і, ї, є and ґ, which Russian does not.",
	"ru": "Russian is often confused with Ukrainian or Belarusian. Russian uses ы, э and ъ, which Ukrainian does not.",
	"be": "Belarusian is often misdetected as Russian or Ukrainian. Belarusian uses ў and і.",
	"sr": "Serbian may be written in Cyrillic or Latin script; keep the script that was transcribed.",
	"hr": "Croatian, Bosnian and Serbian are mutually intelligible; keep Croatian spelling such as ije/je forms.",
	"bs": "Bosnian, Croatian and Serbian are mutually intelligible; do not normalise to either neighbour.",
	"pt": "Portuguese is often confused with Spanish or Galician.",
	"gl": "Galician is often misdetected as Portuguese or Spanish.",
	"no": "Norwegian is often confused with Danish or Swedish.",
	"da": "Danish is often confused with Norwegian.",
	"ms": "Malay is often misdetected as Indonesian.",
	"id": "Indonesian is often misdetected as Malay.",
	"zh": "Keep the Chinese script (simplified or traditional) that was transcribed.",
	"hi": "Hindi and Urdu sound alike; Hindi is written in Devanagari.",
	"ur": "Urdu and Hindi sound alike; Urdu is written in Perso-Arabic script.",
}

// Registry answers what a backend and model can transcribe. The zero value is
// not usable; use NewRegistry.
type Registry struct {
	local map[types.LanguageCode]bool
	cloud map[types.LanguageCode]bool
}

// NewRegistry builds the registry from the static tables.
func NewRegistry() *Registry {
	r := &Registry{
		local: make(map[types.LanguageCode]bool, len(types.WhisperLanguages)),
		cloud: make(map[types.LanguageCode]bool, len(cloudLanguages)),
	}
	for _, l := range types.WhisperLanguages {
		r.local[l.Code] = true
	}
	for _, c := range cloudLanguages {
		r.cloud[c] = true
	}
	return r
}

// Supported returns the languages backend can be pinned to with model, in
// registry order. English-only local models (".en" suffix) support English
// only.
func (r *Registry) Supported(backend, model string) []types.LanguageCode {
	switch {
	case englishOnly(model):
		return []types.LanguageCode{"en"}
	case isHosted(backend):
		return append([]types.LanguageCode(nil), cloudLanguages...)
	default:
		out := make([]types.LanguageCode, 0, len(types.WhisperLanguages))
		for _, l := range types.WhisperLanguages {
			out = append(out, l.Code)
		}
		return out
	}
}

// IsSupported reports whether backend with model accepts code as a pinned
// language.
func (r *Registry) IsSupported(backend, model string, code types.LanguageCode) bool {
	if code.IsZero() {
		return false
	}
	if englishOnly(model) {
		return code == "en"
	}
	if isHosted(backend) {
		return r.cloud[code]
	}
	return r.local[code]
}

// Pin returns code if backend can be pinned to it, otherwise the empty code
// so that the backend auto-detects instead of rejecting the request.
func (r *Registry) Pin(backend, model string, code types.LanguageCode) types.LanguageCode {
	if r.IsSupported(backend, model, code) {
		return code
	}
	return ""
}

// Known reports whether code is any language the engines recognise.
func (r *Registry) Known(code types.LanguageCode) bool { return r.local[code] }

// DisplayName returns a human readable English name for code, such as
// "Ukrainian". Unknown codes are returned upper-cased.
func DisplayName(code types.LanguageCode) string {
	if n, ok := displayNames[code]; ok {
		return n
	}
	name := types.EnglishName(code)
	if name == "" {
		return strings.ToUpper(string(code))
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// CorrectionHint returns a note about typical misdetections involving code,
// or "".
func CorrectionHint(code types.LanguageCode) string {
	return correctionHints[code]
}

func englishOnly(model string) bool {
	return strings.HasSuffix(strings.ToLower(model), ".en")
}

func isHosted(backend string) bool {
	return backend == BackendCloud || backend == BackendStreaming
}
