// Package models manages the whisper.cpp model files used by the local
// engines: which ones exist, which are on disk, and fetching or removing
// them.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL hosts the ggml model files.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

const mb = 1024 * 1024

var (
	// ErrUnknownModel is returned for names outside the catalog.
	ErrUnknownModel = errors.New("models: unknown model")

	// ErrNotDownloaded is returned by Delete when the model is not on disk.
	ErrNotDownloaded = errors.New("models: model not downloaded")
)

// Model is one catalog entry.
type Model struct {
	Name        string
	File        string
	Description string

	// Size is the expected download size in bytes, used for progress when the
	// server does not send a length.
	Size int64
}

var catalog = []Model{
	{Name: "tiny", File: "ggml-tiny.bin", Size: 39 * mb, Description: "Fastest, lowest accuracy."},
	{Name: "base", File: "ggml-base.bin", Size: 74 * mb, Description: "Good balance for everyday dictation."},
	{Name: "small", File: "ggml-small.bin", Size: 244 * mb, Description: "Better accuracy, slower."},
	{Name: "medium", File: "ggml-medium.bin", Size: 769 * mb, Description: "High accuracy, needs a fast machine."},
	{Name: "large", File: "ggml-large-v3.bin", Size: 1550 * mb, Description: "Best accuracy, slowest."},
	{Name: "turbo", File: "ggml-large-v3-turbo.bin", Size: 809 * mb, Description: "Large-model accuracy at a fraction of the cost."},
}

// Catalog returns every known model, smallest first.
func Catalog() []Model { return append([]Model(nil), catalog...) }

// Lookup returns the catalog entry for name.
func Lookup(name string) (Model, error) {
	for _, m := range catalog {
		if m.Name == name {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// Status describes a model on disk.
type Status struct {
	Model      Model
	Downloaded bool
	Path       string
	SizeBytes  int64
}

// SizeMB is SizeBytes in megabytes, rounded to one decimal.
func (s Status) SizeMB() float64 {
	return float64(s.SizeBytes*10/mb) / 10
}

// Progress is reported while a download runs.
type Progress struct {
	Model          string
	Downloaded     int64
	Total          int64
	Percent        float64
	BytesPerSecond float64
	Done           bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBaseURL overrides where model files are fetched from.
func WithBaseURL(u string) Option {
	return func(m *Manager) { m.baseURL = u }
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithProgressInterval sets how often progress is reported. Default: 250ms.
func WithProgressInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// Manager owns a directory of model files.
type Manager struct {
	dir      string
	baseURL  string
	client   *http.Client
	interval time.Duration
}

// NewManager returns a Manager for dir. Downloads are traced and have no
// overall timeout; cancel the context to stop one.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:      dir,
		baseURL:  DefaultBaseURL,
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		interval: 250 * time.Millisecond,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Dir returns the model directory.
func (m *Manager) Dir() string { return m.dir }

// Path returns where name is stored, whether or not it exists.
func (m *Manager) Path(name string) (string, error) {
	model, err := Lookup(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.dir, model.File), nil
}

// Check reports whether name is on disk.
func (m *Manager) Check(name string) (Status, error) {
	model, err := Lookup(name)
	if err != nil {
		return Status{}, err
	}
	return m.status(model)
}

func (m *Manager) status(model Model) (Status, error) {
	st := Status{Model: model, Path: filepath.Join(m.dir, model.File)}
	info, err := os.Stat(st.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return st, nil
	case err != nil:
		return st, fmt.Errorf("models: stat %s: %w", model.Name, err)
	case info.IsDir():
		return st, nil
	}
	st.Downloaded = true
	st.SizeBytes = info.Size()
	return st, nil
}

// List returns the status of every catalog model.
func (m *Manager) List() ([]Status, error) {
	out := make([]Status, 0, len(catalog))
	for _, model := range catalog {
		st, err := m.status(model)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Download fetches name unless it is already present. The file is written
// next to its final path and renamed into place only when complete, so an
// interrupted download never looks finished. progress may be nil.
func (m *Manager) Download(ctx context.Context, name string, progress func(Progress)) (Status, error) {
	model, err := Lookup(name)
	if err != nil {
		return Status{}, err
	}
	st, err := m.status(model)
	if err != nil || st.Downloaded {
		return st, err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return st, fmt.Errorf("models: create %s: %w", m.dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/"+model.File, nil)
	if err != nil {
		return st, fmt.Errorf("models: build request: %w", err)
	}
	req.Header.Set("User-Agent", "openwhispr")
	resp, err := m.client.Do(req)
	if err != nil {
		return st, fmt.Errorf("models: download %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("models: download %s: unexpected status %s", name, resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = model.Size
	}
	part := st.Path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return st, fmt.Errorf("models: create %s: %w", part, err)
	}

	pw := &progressWriter{model: name, total: total, report: progress, interval: m.interval, start: time.Now()}
	_, copyErr := io.Copy(f, io.TeeReader(resp.Body, pw))
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(part)
		return st, fmt.Errorf("models: write %s: %w", name, err)
	}
	if err := os.Rename(part, st.Path); err != nil {
		_ = os.Remove(part)
		return st, fmt.Errorf("models: move %s into place: %w", name, err)
	}
	pw.finish()

	slog.Info("model downloaded", "model", name, "bytes", pw.n, "elapsed", time.Since(pw.start).Round(time.Millisecond))
	return m.status(model)
}

// Delete removes name from disk and returns the bytes freed.
func (m *Manager) Delete(name string) (int64, error) {
	st, err := m.Check(name)
	if err != nil {
		return 0, err
	}
	if !st.Downloaded {
		return 0, fmt.Errorf("%w: %s", ErrNotDownloaded, name)
	}
	if err := os.Remove(st.Path); err != nil {
		return 0, fmt.Errorf("models: delete %s: %w", name, err)
	}
	slog.Info("model deleted", "model", name, "freed_bytes", st.SizeBytes)
	return st.SizeBytes, nil
}

// progressWriter counts bytes passing through a download and reports at
// most once per interval.
type progressWriter struct {
	model    string
	total    int64
	n        int64
	report   func(Progress)
	interval time.Duration
	start    time.Time
	last     time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.n += int64(len(b))
	if p.report != nil && time.Since(p.last) >= p.interval {
		p.last = time.Now()
		p.report(p.snapshot(false))
	}
	return len(b), nil
}

func (p *progressWriter) finish() {
	if p.report != nil {
		p.report(p.snapshot(true))
	}
}

func (p *progressWriter) snapshot(done bool) Progress {
	pr := Progress{Model: p.model, Downloaded: p.n, Total: p.total, Done: done}
	if p.total > 0 {
		pr.Percent = min(float64(p.n)/float64(p.total)*100, 100)
	}
	if done {
		pr.Percent = 100
	}
	if secs := time.Since(p.start).Seconds(); secs > 0 {
		pr.BytesPerSecond = float64(p.n) / secs
	}
	return pr
}
