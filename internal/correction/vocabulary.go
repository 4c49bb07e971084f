package correction

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.82
	defaultFuzzyThreshold    = 0.92
	minTokenRunes            = 3
)

// Replacement records one vocabulary substitution.
type Replacement struct {
	Original string
	Word     string
	Score    float64
}

// VocabularyOption configures a Vocabulary.
type VocabularyOption func(*Vocabulary)

// WithPhoneticThreshold sets the Jaro-Winkler score a phonetically matching
// word needs to be replaced. Default: 0.82.
func WithPhoneticThreshold(t float64) VocabularyOption {
	return func(v *Vocabulary) { v.phoneticThreshold = t }
}

// WithFuzzyThreshold sets the Jaro-Winkler score a word without a phonetic
// match needs to be replaced. Default: 0.92.
func WithFuzzyThreshold(t float64) VocabularyOption {
	return func(v *Vocabulary) { v.fuzzyThreshold = t }
}

type term struct {
	word   string
	tokens []string
	codes  map[string]struct{}
}

// Vocabulary replaces misheard spellings of the user's custom words. Double
// Metaphone codes pick candidates and Jaro-Winkler similarity ranks them.
// A Vocabulary is read-only after construction and safe for concurrent use.
type Vocabulary struct {
	terms             []term
	maxTokens         int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewVocabulary builds a matcher over words. Blank and duplicate words are
// ignored.
func NewVocabulary(words []string, opts ...VocabularyOption) *Vocabulary {
	v := &Vocabulary{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		key := strings.ToLower(w)
		if w == "" || seen[key] {
			continue
		}
		seen[key] = true
		tokens := strings.Fields(key)
		v.terms = append(v.terms, term{word: w, tokens: tokens, codes: codesFor(tokens)})
		v.maxTokens = max(v.maxTokens, len(tokens))
	}
	return v
}

// Words returns the configured spellings in order.
func (v *Vocabulary) Words() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.terms))
	for i, t := range v.terms {
		out[i] = t.word
	}
	return out
}

// Prompt renders the vocabulary as a recognition hint for backends that
// accept one.
func (v *Vocabulary) Prompt() string {
	if v == nil || len(v.terms) == 0 {
		return ""
	}
	return strings.Join(v.Words(), ", ")
}

// Apply rewrites text so that spans sounding like a vocabulary word use its
// configured spelling. Longer spans are tried first so multi-word terms win
// over their parts, and a span one word longer than any term is tried so a
// term heard as two words ("open whisper") is joined back. Punctuation around
// a replaced span is kept.
func (v *Vocabulary) Apply(text string) (string, []Replacement) {
	if v == nil || len(v.terms) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	var reps []Replacement

	for i := 0; i < len(words); {
		matched := false
		for n := min(v.maxTokens+1, len(words)-i); n >= 1; n-- {
			span := words[i : i+n]
			lead, core, trail := splitPunct(strings.Join(span, " "))
			if len([]rune(core)) < minTokenRunes || (n > 1 && !plainPhrase(core)) {
				continue
			}
			word, score, ok := v.match(core)
			if !ok {
				continue
			}
			if word != core {
				reps = append(reps, Replacement{Original: core, Word: word, Score: score})
			}
			out = append(out, lead+word+trail)
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, words[i])
			i++
		}
	}
	return strings.Join(out, " "), reps
}

// match returns the best vocabulary word for phrase.
func (v *Vocabulary) match(phrase string) (string, float64, bool) {
	lower := strings.ToLower(phrase)
	tokens := strings.Fields(lower)
	codes := codesFor(tokens)

	var (
		best     string
		score    float64
		phonetic bool
	)
	for _, t := range v.terms {
		split := len(tokens) != len(t.tokens)
		if split && !splitCandidate(tokens, t.tokens) {
			continue
		}
		if lower == strings.ToLower(t.word) {
			return t.word, 1, true
		}
		s := similarity(tokens, t.tokens)
		if !split && overlaps(codes, t.codes) {
			if s >= v.phoneticThreshold && (!phonetic || s > score) {
				best, score, phonetic = t.word, s, true
			}
		} else if !phonetic && s >= v.fuzzyThreshold && s > score {
			best, score = t.word, s
		}
	}
	return best, score, best != ""
}

func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// splitCandidate reports whether spans with different word counts may be the
// same term split or joined differently. Every word must be a real word and
// the letters must nearly add up, so a short neighbour such as "a" or "to" is
// never swallowed into a term. Split matches only count on similarity.
func splitCandidate(a, b []string) bool {
	for _, t := range slices.Concat(a, b) {
		if utf8.RuneCountInString(t) < minTokenRunes {
			return false
		}
	}
	d := utf8.RuneCountInString(strings.Join(a, "")) - utf8.RuneCountInString(strings.Join(b, ""))
	return d >= -2 && d <= 2
}

// similarity compares the spans whole and with spaces removed, so "open
// whisper" still scores well against "OpenWhispr".
func similarity(a, b []string) float64 {
	s := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if len(a) > 1 || len(b) > 1 {
		if c := matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false); c > s {
			s = c
		}
	}
	return s
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (lead, core, trail string) {
	start := strings.IndexFunc(s, isWordRune)
	if start < 0 {
		return s, "", ""
	}
	end := strings.LastIndexFunc(s, isWordRune)
	_, size := utf8.DecodeRuneInString(s[end:])
	return s[:start], s[start : end+size], s[end+size:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// plainPhrase reports whether s holds only words separated by spaces, so a
// span never reaches across a sentence or clause boundary.
func plainPhrase(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		return !isWordRune(r) && r != ' ' && r != '\'' && r != '-'
	})
}
