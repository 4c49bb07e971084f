package app

import (
	"context"
	"slices"
	"sync"

	"github.com/HeroTools/open-whispr-sub004/internal/correction"
	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
)

// vocabCache keeps the correction service in step with the custom
// dictionary. The service is rebuilt only when the word list or the match
// thresholds change, and Correct always uses the one built for the most
// recent session.
type vocabCache struct {
	provider llm.Provider
	opts     []correction.Option

	mu         sync.Mutex
	words      []string
	thresholds [2]float64
	vocab      *correction.Vocabulary
	svc        *correction.Service
}

func newVocabCache(provider llm.Provider, opts ...correction.Option) *vocabCache {
	c := &vocabCache{provider: provider, opts: opts}
	c.update(nil, 0, 0)
	return c
}

func (c *vocabCache) hasProvider() bool { return c.provider != nil }

// update returns the vocabulary for words, rebuilding it when the words or
// thresholds differ from the last call. A zero threshold keeps the default.
func (c *vocabCache) update(words []string, phonetic, fuzzy float64) *correction.Vocabulary {
	c.mu.Lock()
	defer c.mu.Unlock()
	th := [2]float64{phonetic, fuzzy}
	if c.vocab != nil && th == c.thresholds && slices.Equal(c.words, words) {
		return c.vocab
	}
	var vopts []correction.VocabularyOption
	if phonetic > 0 {
		vopts = append(vopts, correction.WithPhoneticThreshold(phonetic))
	}
	if fuzzy > 0 {
		vopts = append(vopts, correction.WithFuzzyThreshold(fuzzy))
	}
	c.words, c.thresholds = slices.Clone(words), th
	c.vocab = correction.NewVocabulary(words, vopts...)
	c.svc = correction.New(c.provider, append(slices.Clone(c.opts), correction.WithVocabulary(c.vocab))...)
	return c.vocab
}

// Correct implements dictation.Corrector.
func (c *vocabCache) Correct(ctx context.Context, text string, lc *language.Context) (correction.Outcome, error) {
	c.mu.Lock()
	svc := c.svc
	c.mu.Unlock()
	return svc.Correct(ctx, text, lc)
}
