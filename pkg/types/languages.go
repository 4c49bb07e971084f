package types

import "strings"

// WhisperLanguages lists the languages the Whisper model family recognises, in
// the model's own token order. Names are the lower-case English names the
// engines print in verbose output.
var WhisperLanguages = []struct {
	Code LanguageCode
	Name string
}{
	{"en", "english"},
	{"zh", "chinese"},
	{"de", "german"},
	{"es", "spanish"},
	{"ru", "russian"},
	{"ko", "korean"},
	{"fr", "french"},
	{"ja", "japanese"},
	{"pt", "portuguese"},
	{"tr", "turkish"},
	{"pl", "polish"},
	{"ca", "catalan"},
	{"nl", "dutch"},
	{"ar", "arabic"},
	{"sv", "swedish"},
	{"it", "italian"},
	{"id", "indonesian"},
	{"hi", "hindi"},
	{"fi", "finnish"},
	{"vi", "vietnamese"},
	{"he", "hebrew"},
	{"uk", "ukrainian"},
	{"el", "greek"},
	{"ms", "malay"},
	{"cs", "czech"},
	{"ro", "romanian"},
	{"da", "danish"},
	{"hu", "hungarian"},
	{"ta", "tamil"},
	{"no", "norwegian"},
	{"th", "thai"},
	{"ur", "urdu"},
	{"hr", "croatian"},
	{"bg", "bulgarian"},
	{"lt", "lithuanian"},
	{"la", "latin"},
	{"mi", "maori"},
	{"ml", "malayalam"},
	{"cy", "welsh"},
	{"sk", "slovak"},
	{"te", "telugu"},
	{"fa", "persian"},
	{"lv", "latvian"},
	{"bn", "bengali"},
	{"sr", "serbian"},
	{"az", "azerbaijani"},
	{"sl", "slovenian"},
	{"kn", "kannada"},
	{"et", "estonian"},
	{"mk", "macedonian"},
	{"br", "breton"},
	{"eu", "basque"},
	{"is", "icelandic"},
	{"hy", "armenian"},
	{"ne", "nepali"},
	{"mn", "mongolian"},
	{"bs", "bosnian"},
	{"kk", "kazakh"},
	{"sq", "albanian"},
	{"sw", "swahili"},
	{"gl", "galician"},
	{"mr", "marathi"},
	{"pa", "punjabi"},
	{"si", "sinhala"},
	{"km", "khmer"},
	{"sn", "shona"},
	{"yo", "yoruba"},
	{"so", "somali"},
	{"af", "afrikaans"},
	{"oc", "occitan"},
	{"ka", "georgian"},
	{"be", "belarusian"},
	{"tg", "tajik"},
	{"sd", "sindhi"},
	{"gu", "gujarati"},
	{"am", "amharic"},
	{"yi", "yiddish"},
	{"lo", "lao"},
	{"uz", "uzbek"},
	{"fo", "faroese"},
	{"ht", "haitian creole"},
	{"ps", "pashto"},
	{"tk", "turkmen"},
	{"nn", "nynorsk"},
	{"mt", "maltese"},
	{"sa", "sanskrit"},
	{"lb", "luxembourgish"},
	{"my", "myanmar"},
	{"bo", "tibetan"},
	{"tl", "tagalog"},
	{"mg", "malagasy"},
	{"as", "assamese"},
	{"tt", "tatar"},
	{"haw", "hawaiian"},
	{"ln", "lingala"},
	{"ha", "hausa"},
	{"ba", "bashkir"},
	{"jw", "javanese"},
	{"su", "sundanese"},
	{"yue", "cantonese"},
}

// languageAliases maps alternative spellings that engines emit onto codes.
var languageAliases = map[string]LanguageCode{
	"castilian":     "es",
	"flemish":       "nl",
	"haitian":       "ht",
	"letzeburgesch": "lb",
	"moldavian":     "ro",
	"moldovan":      "ro",
	"burmese":       "my",
	"valencian":     "ca",
	"panjabi":       "pa",
	"pushto":        "ps",
	"sinhalese":     "si",
	"mandarin":      "zh",
	"jv":            "jw",
	"iw":            "he",
}

var (
	codeByName = map[string]LanguageCode{}
	knownCode  = map[LanguageCode]string{}
)

func init() {
	for _, l := range WhisperLanguages {
		codeByName[l.Name] = l.Code
		knownCode[l.Code] = l.Name
	}
	for alias, code := range languageAliases {
		codeByName[alias] = code
	}
}

// LanguageFromEngine maps whatever an engine reports as the detected language
// onto a code. It accepts codes ("uk", "en-US") and English names ("Ukrainian").
// Unknown values are normalised but otherwise passed through; the empty string
// and "auto" map to the empty code.
func LanguageFromEngine(s string) LanguageCode {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" || s == "unknown" {
		return ""
	}
	if code, ok := codeByName[s]; ok {
		return code
	}
	code := NormalizeLanguage(s)
	if alias, ok := languageAliases[string(code)]; ok {
		return alias
	}
	return code
}

// EnglishName returns the engine name for a known code, or "" when unknown.
func EnglishName(code LanguageCode) string {
	return knownCode[code]
}
