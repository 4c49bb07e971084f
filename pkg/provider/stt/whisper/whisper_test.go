package whisper_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/whisper"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// ---- helpers ----------------------------------------------------------------

// formSink captures the multipart fields of the last /inference request.
type formSink struct {
	fields map[string]string
	file   []byte
}

// newMockServer creates a test server that answers POST /inference with body
// and records the submitted form.
func newMockServer(t *testing.T, status int, body string, sink *formSink) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if sink != nil {
			sink.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				sink.fields[k] = v[0]
			}
			if f, _, err := r.FormFile("file"); err == nil {
				sink.file, _ = io.ReadAll(f)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func speech() types.Audio {
	return types.Audio{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
}

// ---- construction -----------------------------------------------------------

func TestNewServer_EmptyURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewServer(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- transcription ----------------------------------------------------------

func TestServerTranscribe_AutoDetect(t *testing.T) {
	t.Parallel()
	sink := &formSink{}
	srv := newMockServer(t, http.StatusOK,
		`{"task":"transcribe","language":"ukrainian","detected_language_probability":0.88,"text":" Добрий день"}`, sink)
	defer srv.Close()

	b, _ := whisper.NewServer(srv.URL+"/", whisper.WithModel("small"))
	res, err := b.Transcribe(context.Background(), speech(), stt.Options{DetectLanguage: true})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !res.Success || res.Text != "Добрий день" {
		t.Errorf("result = %+v", res)
	}
	if res.DetectedLanguage != "uk" {
		t.Errorf("DetectedLanguage = %q, want uk", res.DetectedLanguage)
	}
	if res.DetectedConfidence == nil || *res.DetectedConfidence != 0.88 {
		t.Errorf("DetectedConfidence = %v, want 0.88", res.DetectedConfidence)
	}
	if sink.fields["language"] != "auto" {
		t.Errorf("language field = %q, want auto", sink.fields["language"])
	}
	if sink.fields["model"] != "small" {
		t.Errorf("model field = %q, want small", sink.fields["model"])
	}
	if sink.fields["response_format"] != "verbose_json" {
		t.Errorf("response_format = %q", sink.fields["response_format"])
	}
	if !strings.HasPrefix(string(sink.file), "RIFF") {
		t.Error("uploaded file is not a WAV")
	}
}

func TestServerTranscribe_PinnedLanguage(t *testing.T) {
	t.Parallel()
	sink := &formSink{}
	srv := newMockServer(t, http.StatusOK, `{"text":"Guten Tag"}`, sink)
	defer srv.Close()

	b, _ := whisper.NewServer(srv.URL)
	if _, err := b.Transcribe(context.Background(), speech(), stt.Options{Language: "de", Prompt: "Glyphen"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if sink.fields["language"] != "de" {
		t.Errorf("language field = %q, want de", sink.fields["language"])
	}
	if sink.fields["prompt"] != "Glyphen" {
		t.Errorf("prompt field = %q", sink.fields["prompt"])
	}
}

func TestServerTranscribe_HTTPError(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, http.StatusInternalServerError, `model not loaded`, nil)
	defer srv.Close()

	b, _ := whisper.NewServer(srv.URL)
	res, err := b.Transcribe(context.Background(), speech(), stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "500") {
		t.Errorf("result = %+v, want failure mentioning 500", res)
	}
}

func TestServerTranscribe_Unreachable(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, http.StatusOK, `{}`, nil)
	url := srv.URL
	srv.Close()

	b, _ := whisper.NewServer(url)
	_, err := b.Transcribe(context.Background(), speech(), stt.Options{})
	if !errors.Is(err, stt.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestServerTranscribe_Cancelled(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	b, _ := whisper.NewServer(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Transcribe(ctx, speech(), stt.Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}
