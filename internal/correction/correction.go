// Package correction implements the post-transcription cleanup pass.
//
// A [Service] sends the transcript to an [llm.Provider] with a system prompt
// built from the transcript's [language.Context]. The prompt tells the model
// which languages the speaker uses so it can repair acoustic misdetections
// between related languages without translating. Before the model runs, a
// [Vocabulary] pass replaces misheard spellings of the user's custom words,
// and edits the model makes to those words afterwards are reverted.
//
// Correction is never fatal to a dictation: on any error the caller still
// gets the vocabulary-corrected input back and delivers it uncorrected.
package correction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

const (
	defaultTemperature = 0.1
	defaultTimeout     = 30 * time.Second

	// replyHeadroom covers punctuation and casing the model adds.
	replyHeadroom = 128
)

var (
	// ErrEmptyReply means the model returned no usable text.
	ErrEmptyReply = errors.New("correction: empty reply")

	// ErrTooLong means the transcript does not fit the model's context window.
	ErrTooLong = errors.New("correction: transcript exceeds model context")
)

// Outcome is the result of one correction pass.
type Outcome struct {
	// Text is the corrected transcript.
	Text string

	// Replacements lists vocabulary substitutions made before the model ran.
	Replacements []Replacement

	// Edits counts the changed spans kept from the model's reply.
	Edits int

	Usage llm.Usage
}

// Option configures a Service.
type Option func(*Service)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// WithTimeout bounds one correction call. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithVocabulary enables the custom vocabulary pass.
func WithVocabulary(v *Vocabulary) Option {
	return func(s *Service) { s.vocab = v }
}

// Service runs the correction pass. It is safe for concurrent use.
type Service struct {
	llm         llm.Provider
	temperature float64
	timeout     time.Duration
	vocab       *Vocabulary
}

// New returns a Service backed by provider. A nil provider leaves only the
// vocabulary pass.
func New(provider llm.Provider, opts ...Option) *Service {
	s := &Service{
		llm:         provider,
		temperature: defaultTemperature,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Vocabulary returns the configured vocabulary, or nil.
func (s *Service) Vocabulary() *Vocabulary { return s.vocab }

// ProcessText returns text cleaned up by the model. On error the returned
// string is still usable: it is the input after the vocabulary pass.
func (s *Service) ProcessText(ctx context.Context, text string, lc *language.Context) (string, error) {
	out, err := s.Correct(ctx, text, lc)
	return out.Text, err
}

// Correct is ProcessText with the details of what changed.
func (s *Service) Correct(ctx context.Context, text string, lc *language.Context) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, nil
	}

	fixed, reps := s.vocab.Apply(text)
	out := Outcome{Text: fixed, Replacements: reps}
	if len(reps) > 0 {
		slog.Debug("correction: vocabulary replacements", "count", len(reps))
	}
	if s.llm == nil {
		return out, nil
	}

	system := BuildSystemPrompt(lc) + vocabularySection(s.vocab.Words())
	caps := s.llm.Capabilities()
	inTokens := llm.EstimateTokens(system) + llm.EstimateTokens(fixed)
	if caps.ContextWindow > 0 && inTokens >= caps.ContextWindow {
		return out, fmt.Errorf("%w: ~%d tokens, window %d", ErrTooLong, inTokens, caps.ContextWindow)
	}
	maxTokens := 2*llm.EstimateTokens(fixed) + replyHeadroom
	if caps.MaxOutputTokens > 0 {
		maxTokens = min(maxTokens, caps.MaxOutputTokens)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []types.Message{{Role: "user", Content: fixed}},
		Temperature:  s.temperature,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return out, fmt.Errorf("correction: %s: complete: %w", s.llm.Name(), err)
	}
	if resp == nil {
		return out, ErrEmptyReply
	}

	reply := cleanReply(resp.Content, fixed)
	if reply == "" {
		return out, ErrEmptyReply
	}
	if s.vocab != nil {
		reply, out.Edits = protectVocabulary(fixed, reply, s.vocab.Words())
	} else if reply != fixed {
		out.Edits = countEdits(fixed, reply)
	}
	out.Text = reply
	out.Usage = resp.Usage
	return out, nil
}

func countEdits(before, after string) int {
	n := 0
	for _, s := range segments(strings.Fields(before), strings.Fields(after)) {
		if s.changed() {
			n++
		}
	}
	return n
}

// cleanReply strips code fences and quotes some models wrap their answer in.
// Quotes are kept when the input itself was quoted.
func cleanReply(content, input string) string {
	s := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		// Drop an optional language tag on the opening fence line.
		if i := strings.IndexByte(after, '\n'); i >= 0 && !strings.Contains(after[:i], " ") {
			after = after[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(after), "```")
		s = strings.TrimSpace(s)
	}
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"«", "»"}} {
		if strings.HasPrefix(input, q[0]) {
			continue
		}
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
