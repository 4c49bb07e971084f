// Package whisper provides whisper.cpp backed transcription engines.
//
// Two flavours share the stt.Backend contract:
//
//   - Server talks to a running whisper-server binary over its REST API at
//     POST /inference. The server keeps the model resident between calls,
//     which avoids the model-load latency of a fresh subprocess.
//   - Native links whisper.cpp in-process through the cgo bindings.
//
// Usage:
//
//	b, err := whisper.NewServer("http://127.0.0.1:8178", whisper.WithModel("base"))
//	res, err := b.Transcribe(ctx, audio, stt.Options{Language: "de"})
package whisper

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

// serverAutoLanguage is whisper-server's own request value for detection.
// The server falls back to its startup language when the field is absent,
// so detection has to be requested explicitly here.
const serverAutoLanguage = "auto"

// Compile-time assertion that Server implements stt.Backend.
var _ stt.Backend = (*Server)(nil)

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithModel sets the model identifier forwarded to the server. When empty the
// server uses whichever model it was started with, which is the default.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithHTTPClient replaces the HTTP client. Defaults to a client with a 60 s
// timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// Server implements stt.Backend against a whisper-server HTTP endpoint.
type Server struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// NewServer creates a Server for the whisper-server at serverURL (e.g.,
// "http://127.0.0.1:8178"). serverURL must be non-empty.
func NewServer(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name returns "whisper-server".
func (s *Server) Name() string { return "whisper-server" }

// Transcribe encodes a as WAV and POSTs it to /inference as multipart form
// data, requesting verbose JSON so the detected language is reported.
func (s *Server) Transcribe(ctx context.Context, a types.Audio, opts stt.Options) (stt.Result, error) {
	wav, err := audio.EncodeWAV(a)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: encode audio: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := string(opts.Language)
	if lang == "" {
		lang = serverAutoLanguage
	}
	fields := [][2]string{
		{"language", lang},
		{"response_format", "verbose_json"},
		{"temperature", "0.0"},
	}
	model := opts.Model
	if model == "" {
		model = s.model
	}
	if model != "" {
		fields = append(fields, [2]string{"model", model})
	}
	if opts.Prompt != "" {
		fields = append(fields, [2]string{"prompt", opts.Prompt})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, fmt.Errorf("whisper: %w", ctxErr)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return stt.Result{}, fmt.Errorf("whisper: http request: %w", context.DeadlineExceeded)
		}
		return stt.Result{}, fmt.Errorf("whisper: server at %s: %w", s.serverURL, stt.ErrUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Failure(fmt.Sprintf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))), nil
	}
	return wire.Parse(data), nil
}
