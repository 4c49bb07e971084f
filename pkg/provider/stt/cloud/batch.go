// Package cloud implements the hosted transcription backends: a batch
// multipart API compatible with the OpenAI audio transcription endpoint and a
// streaming websocket service with pre-warmed connections.
package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/HeroTools/open-whispr-sub004/pkg/audio"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/wire"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"

	formatVerbose = "verbose_json"
	formatMinimal = "json"
)

var _ stt.Backend = (*Batch)(nil)

// Option configures a Batch backend.
type Option func(*Batch)

// WithBaseURL overrides the API base URL (e.g., a self-hosted gateway).
func WithBaseURL(u string) Option {
	return func(b *Batch) { b.baseURL = strings.TrimRight(u, "/") }
}

// WithModel sets the default model used when Options.Model is empty.
func WithModel(model string) Option {
	return func(b *Batch) { b.model = model }
}

// WithHTTPClient replaces the HTTP client. Defaults to NewHTTPClient(60s).
func WithHTTPClient(c *http.Client) Option {
	return func(b *Batch) { b.httpClient = c }
}

// WithTokenSource supplies the bearer token per request, for session tokens
// that are refreshed by the caller. It takes precedence over the API key.
func WithTokenSource(fn func() string) Option {
	return func(b *Batch) { b.token = fn }
}

// Batch implements stt.Backend with one multipart POST per utterance.
type Batch struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	token      func() string
}

// NewBatch creates a batch backend. An empty apiKey is allowed so the backend
// can be registered before sign-in; calls then fail with stt.ErrUnavailable.
func NewBatch(apiKey string, opts ...Option) *Batch {
	b := &Batch{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		model:   defaultModel,
	}
	for _, o := range opts {
		o(b)
	}
	if b.httpClient == nil {
		b.httpClient = NewHTTPClient(60 * time.Second)
	}
	return b
}

// Name returns "cloud".
func (b *Batch) Name() string { return "cloud" }

// HasCredentials reports whether a bearer token is configured.
func (b *Batch) HasCredentials() bool { return b.bearer() != "" }

func (b *Batch) bearer() string {
	if b.token != nil {
		if t := b.token(); t != "" {
			return t
		}
	}
	return b.apiKey
}

// ResponseFormat returns the response_format requested for opts. Verbose
// output is only needed when the caller wants the detected language.
func ResponseFormat(opts stt.Options) string {
	if opts.DetectLanguage {
		return formatVerbose
	}
	return formatMinimal
}

// Transcribe uploads a as WAV and returns the normalised result.
func (b *Batch) Transcribe(ctx context.Context, a types.Audio, opts stt.Options) (stt.Result, error) {
	token := b.bearer()
	if token == "" {
		return stt.Result{}, fmt.Errorf("cloud: no credentials: %w", stt.ErrUnavailable)
	}
	wav, err := audio.EncodeWAV(a)
	if err != nil {
		return stt.Result{}, fmt.Errorf("cloud: encode audio: %w", err)
	}

	body, contentType, err := buildForm(wav, b.modelFor(opts), opts)
	if err != nil {
		return stt.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("cloud: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return stt.Result{}, fmt.Errorf("cloud: read response: %w", classifyTransportError(ctx, err))
	}
	return interpret(resp.StatusCode, data)
}

func (b *Batch) modelFor(opts stt.Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return b.model
}

func buildForm(wav []byte, model string, opts stt.Options) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("cloud: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("cloud: write audio: %w", err)
	}

	fields := [][2]string{
		{"model", model},
		{"response_format", ResponseFormat(opts)},
	}
	if !opts.Language.IsZero() {
		fields = append(fields, [2]string{"language", string(opts.Language)})
	}
	if opts.Prompt != "" {
		fields = append(fields, [2]string{"prompt", opts.Prompt})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("cloud: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("cloud: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// interpret maps an HTTP response onto the backend contract.
func interpret(status int, data []byte) (stt.Result, error) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return stt.Result{}, fmt.Errorf("cloud: HTTP %d: %w", status, stt.ErrAuthExpired)
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		res := wire.Parse(data)
		if res.Success && res.Text != "" {
			// Quota hit on this request but the text was still delivered.
			if res.Usage == nil {
				res.Usage = &stt.Usage{}
			}
			res.Usage.LimitReached = true
			return res, nil
		}
		if status == http.StatusPaymentRequired || (res.Usage != nil && res.Usage.LimitReached) {
			return stt.Result{}, fmt.Errorf("cloud: HTTP %d: %w", status, stt.ErrLimitReached)
		}
		return stt.Failure(fmt.Sprintf("rate limited (HTTP %d): %s", status, res.Error)), nil
	case status >= 400:
		res := wire.Parse(data)
		msg := res.Error
		if res.Success {
			msg = res.Text
		}
		return stt.Failure(fmt.Sprintf("HTTP %d: %s", status, msg)), nil
	}
	return wire.Parse(data), nil
}

// classifyTransportError keeps cancellation and deadlines recognisable and
// reports every other transport failure as offline.
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("cloud: %w", ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("cloud: %v: %w", err, context.DeadlineExceeded)
	}
	return fmt.Errorf("cloud: %v: %w", err, stt.ErrOffline)
}
