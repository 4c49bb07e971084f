package correction_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HeroTools/open-whispr-sub004/internal/correction"
	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm/mock"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

func multiContext() *language.Context {
	return &language.Context{
		Candidates: []types.LanguageCode{"en", "ru", "uk"},
		Fallback:   "en",
		Detected:   "ru",
		Confidence: stt.Confidence(0.62),
		Reason:     language.ReasonDetected,
	}
}

func TestService_SendsTranscriptWithLanguagePrompt(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "Привіт, як справи?"}}
	svc := correction.New(p)

	got, err := svc.ProcessText(context.Background(), "  привіт як справи ", multiContext())
	if err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if got != "Привіт, як справи?" {
		t.Errorf("text = %q", got)
	}
	if p.CallCount() != 1 {
		t.Fatalf("Complete calls = %d, want 1", p.CallCount())
	}

	req := p.LastRequest()
	if !strings.Contains(req.SystemPrompt, "English, Russian, Ukrainian") {
		t.Errorf("system prompt lacks candidates:\n%s", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "привіт як справи" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", req.Temperature)
	}
	if req.MaxTokens <= 0 {
		t.Errorf("max tokens = %d, want > 0", req.MaxTokens)
	}
}

func TestService_MaxTokensCappedByModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		Response:          &llm.CompletionResponse{Content: "Hello there."},
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8000, MaxOutputTokens: 50},
	}
	svc := correction.New(p, correction.WithTemperature(0.4))
	if _, err := svc.ProcessText(context.Background(), "hello there", nil); err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	req := p.LastRequest()
	if req.MaxTokens != 50 {
		t.Errorf("max tokens = %d, want 50", req.MaxTokens)
	}
	if req.Temperature != 0.4 {
		t.Errorf("temperature = %v, want 0.4", req.Temperature)
	}
}

func TestService_TooLongSkipsModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 10}}
	svc := correction.New(p)
	got, err := svc.ProcessText(context.Background(), "a transcript that is far too long", nil)
	if !errors.Is(err, correction.ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
	if got != "a transcript that is far too long" {
		t.Errorf("text = %q, want input back", got)
	}
	if p.CallCount() != 0 {
		t.Errorf("Complete called %d times", p.CallCount())
	}
}

func TestService_ErrorsReturnUsableText(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		p       *mock.Provider
		wantErr error
	}{
		{name: "provider error", p: &mock.Provider{Err: boom}, wantErr: boom},
		{name: "nil response", p: &mock.Provider{}, wantErr: correction.ErrEmptyReply},
		{name: "blank reply", p: &mock.Provider{Response: &llm.CompletionResponse{Content: "  \n "}}, wantErr: correction.ErrEmptyReply},
		{name: "empty fence", p: &mock.Provider{Response: &llm.CompletionResponse{Content: "```\n```"}}, wantErr: correction.ErrEmptyReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := correction.New(tt.p)
			got, err := svc.ProcessText(context.Background(), "raw words", nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != "raw words" {
				t.Errorf("text = %q, want raw input", got)
			}
		})
	}
}

func TestService_Timeout(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Block: make(chan struct{})}
	svc := correction.New(p, correction.WithTimeout(20*time.Millisecond))

	start := time.Now()
	got, err := svc.ProcessText(context.Background(), "slow model", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if got != "slow model" {
		t.Errorf("text = %q", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not applied")
	}
}

func TestService_Cancelled(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Block: make(chan struct{})}
	svc := correction.New(p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.ProcessText(ctx, "words", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}

func TestService_EmptyTextSkipsModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "hallucination"}}
	svc := correction.New(p)
	got, err := svc.ProcessText(context.Background(), "   ", nil)
	if err != nil || got != "" {
		t.Fatalf("ProcessText = %q, %v", got, err)
	}
	if p.CallCount() != 0 {
		t.Errorf("Complete called %d times", p.CallCount())
	}
}

func TestService_StripsWrapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		reply string
		want  string
	}{
		{name: "plain", input: "hi", reply: "Hi.", want: "Hi."},
		{name: "fenced", input: "hi", reply: "```\nHi.\n```", want: "Hi."},
		{name: "fenced with tag", input: "hi", reply: "```text\nHi.\n```", want: "Hi."},
		{name: "double quotes", input: "hi", reply: `"Hi."`, want: "Hi."},
		{name: "curly quotes", input: "hi", reply: "“Hi.”", want: "Hi."},
		{name: "guillemets", input: "привіт", reply: "«Привіт.»", want: "Привіт."},
		{name: "quoted input kept", input: `"hi" she said`, reply: `"Hi," she said.`, want: `"Hi," she said.`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{Response: &llm.CompletionResponse{Content: tt.reply}}
			got, err := correction.New(p).ProcessText(context.Background(), tt.input, nil)
			if err != nil {
				t.Fatalf("ProcessText: %v", err)
			}
			if got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestService_VocabularyPass(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		Respond: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{
				Content: "Deploy to Cubernetes now.",
				Usage:   llm.Usage{TotalTokens: 42},
			}, nil
		},
	}
	vocab := correction.NewVocabulary([]string{"Kubernetes"})
	svc := correction.New(p, correction.WithVocabulary(vocab))

	out, err := svc.Correct(context.Background(), "deploy to kubernetis now", nil)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if out.Text != "Deploy to Kubernetes now" {
		t.Errorf("text = %q", out.Text)
	}
	if len(out.Replacements) != 1 || out.Replacements[0].Original != "kubernetis" {
		t.Errorf("replacements = %+v", out.Replacements)
	}
	if out.Usage.TotalTokens != 42 {
		t.Errorf("usage = %+v", out.Usage)
	}

	req := p.LastRequest()
	if req.Messages[0].Content != "deploy to Kubernetes now" {
		t.Errorf("model saw %q, want vocabulary-corrected text", req.Messages[0].Content)
	}
	if !strings.Contains(req.SystemPrompt, "- Kubernetes") {
		t.Errorf("system prompt lacks vocabulary:\n%s", req.SystemPrompt)
	}
}

func TestService_NilProviderRunsVocabularyOnly(t *testing.T) {
	t.Parallel()

	svc := correction.New(nil, correction.WithVocabulary(correction.NewVocabulary([]string{"OpenWhispr"})))
	got, err := svc.ProcessText(context.Background(), "try open whisper today", nil)
	if err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if got != "try OpenWhispr today" {
		t.Errorf("text = %q", got)
	}
}
