package dictation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/HeroTools/open-whispr-sub004/internal/capture"
	capmock "github.com/HeroTools/open-whispr-sub004/internal/capture/mock"
	"github.com/HeroTools/open-whispr-sub004/internal/correction"
	"github.com/HeroTools/open-whispr-sub004/internal/dictation"
	"github.com/HeroTools/open-whispr-sub004/internal/history"
	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/internal/observe"
	"github.com/HeroTools/open-whispr-sub004/internal/resilience"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/llm"
	llmmock "github.com/HeroTools/open-whispr-sub004/pkg/provider/llm/mock"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	sttmock "github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/mock"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// ── harness ──────────────────────────────────────────────────────────────────

type harness struct {
	o        *dictation.Orchestrator
	src      *capmock.Source
	primary  *sttmock.Backend
	fallback *sttmock.Backend
	hist     *history.Memory

	mu   sync.Mutex
	snap dictation.Snapshot
}

func (h *harness) setSnapshot(s dictation.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap = s
}

func speech() [][]byte {
	return [][]byte{make([]byte, 640), make([]byte, 640)}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newHarness wires an orchestrator with a local primary and a cloud
// fallback. configure may adjust the config before New.
func newHarness(t *testing.T, snap dictation.Snapshot, configure func(*dictation.Config, *harness)) *harness {
	t.Helper()
	h := &harness{
		src:      &capmock.Source{Chunks: speech()},
		primary:  &sttmock.Backend{BackendName: language.BackendLocal},
		fallback: &sttmock.Backend{BackendName: language.BackendCloud},
		hist:     history.NewMemory(0),
		snap:     snap,
	}
	chain := resilience.NewSTTFallback(h.primary, time.Second, resilience.FallbackConfig{})
	chain.AddFallback(h.fallback)

	cfg := dictation.Config{
		Capture:     h.src,
		Transcriber: chain,
		Batch:       h.fallback,
		History:     h.hist,
		Settings: func() dictation.Snapshot {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.snap
		},
		Metrics:        testMetrics(t),
		BackendTimeout: time.Second,
	}
	if configure != nil {
		configure(&cfg, h)
	}
	h.o = dictation.New(cfg)
	t.Cleanup(func() { _ = h.o.Close() })
	return h
}

func settings(selected ...string) language.Settings {
	return language.NewSettings(selected, "")
}

// runSession starts and stops a session and returns its events up to and
// including the final transition to idle.
func (h *harness) runSession(t *testing.T) []dictation.Event {
	t.Helper()
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	return collectUntilIdle(t, h.o)
}

func collectUntilIdle(t *testing.T, o *dictation.Orchestrator) []dictation.Event {
	t.Helper()
	var out []dictation.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-o.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if n := len(out); n > 0 && e.Seq != out[n-1].Seq+1 {
				t.Fatalf("event seq %d follows %d", e.Seq, out[n-1].Seq)
			}
			out = append(out, e)
			if e.Kind == dictation.EventStateChange && e.State.State == dictation.StateIdle {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for idle; got %d events", len(out))
		}
	}
}

func states(events []dictation.Event) []dictation.State {
	var out []dictation.State
	for _, e := range events {
		if e.Kind == dictation.EventStateChange {
			out = append(out, e.State.State)
		}
	}
	return out
}

func find(events []dictation.Event, kind dictation.EventKind) (int, *dictation.Event) {
	for i := range events {
		if events[i].Kind == kind {
			return i, &events[i]
		}
	}
	return -1, nil
}

func completion(t *testing.T, events []dictation.Event) *dictation.Completion {
	t.Helper()
	_, e := find(events, dictation.EventComplete)
	if e == nil {
		t.Fatalf("no completion event in %v", states(events))
	}
	return e.Completion
}

func equalStates(got, want []dictation.State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ── batch path ───────────────────────────────────────────────────────────────

func TestSession_SingleLanguageMakesOneCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{Languages: settings("uk")}, nil)
	h.primary.Results = []stt.Result{{Text: "привіт світ", Success: true}}

	events := h.runSession(t)

	want := []dictation.State{dictation.StateRecording, dictation.StateTranscribing, dictation.StateIdle}
	if got := states(events); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	calls := h.primary.CallsSnapshot()
	if len(calls) != 1 {
		t.Fatalf("primary calls = %d, want 1", len(calls))
	}
	if calls[0].Opts.Language != "uk" || calls[0].Opts.DetectLanguage {
		t.Errorf("opts = %+v, want pinned uk without detection", calls[0].Opts)
	}
	if len(calls[0].Audio.PCM) != 1280 {
		t.Errorf("audio bytes = %d, want 1280", len(calls[0].Audio.PCM))
	}

	c := completion(t, events)
	if !c.Success || c.Text != "привіт світ" || c.Source != language.BackendLocal {
		t.Errorf("completion = %+v", c)
	}
	if c.Language.Reason != language.ReasonSingle || c.Language.Used != "uk" {
		t.Errorf("language context = %+v", c.Language)
	}

	entries, _ := h.hist.Recent(context.Background(), 0)
	if len(entries) != 1 || entries[0].Text != "привіт світ" || entries[0].UsedLanguage != "uk" {
		t.Errorf("history = %+v", entries)
	}
	if h.o.State() != dictation.StateIdle {
		t.Errorf("state after session = %v", h.o.State())
	}
}

func TestSession_DetectedInSetIsTrusted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{Languages: settings("uk", "ru")}, nil)
	h.primary.Results = []stt.Result{{
		Text: "привет мир", DetectedLanguage: "ru", DetectedConfidence: stt.Confidence(0.91), Success: true,
	}}

	c := completion(t, h.runSession(t))

	calls := h.primary.CallsSnapshot()
	if len(calls) != 1 {
		t.Fatalf("primary calls = %d, want 1", len(calls))
	}
	if calls[0].Opts.Language != "" || !calls[0].Opts.DetectLanguage {
		t.Errorf("first pass opts = %+v, want auto-detect", calls[0].Opts)
	}
	lc := c.Language
	if lc.Reason != language.ReasonDetected || lc.Detected != "ru" || lc.Used != "" {
		t.Errorf("language context = %+v", lc)
	}
	if lc.Confidence == nil || *lc.Confidence != 0.91 {
		t.Errorf("confidence = %v, want 0.91", lc.Confidence)
	}
	if c.DetectedLanguage != "ru" {
		t.Errorf("DetectedLanguage = %q", c.DetectedLanguage)
	}
}

func TestSession_DetectedOutsideSetRetriesOnce(t *testing.T) {
	t.Parallel()

	snap := dictation.Snapshot{Languages: language.NewSettings([]string{"uk", "en"}, "uk")}
	h := newHarness(t, snap, nil)
	h.primary.Results = []stt.Result{
		{Text: "привет", DetectedLanguage: "ru", DetectedConfidence: stt.Confidence(0.6), Success: true},
		{Text: "привіт", Success: true},
	}

	c := completion(t, h.runSession(t))

	calls := h.primary.CallsSnapshot()
	if len(calls) != 2 {
		t.Fatalf("primary calls = %d, want 2", len(calls))
	}
	if calls[1].Opts.Language != "uk" || calls[1].Opts.DetectLanguage {
		t.Errorf("retry opts = %+v, want pinned uk", calls[1].Opts)
	}
	if c.Text != "привіт" || c.RawText != "привіт" {
		t.Errorf("text = %q, want retry text", c.Text)
	}
	lc := c.Language
	if lc.Reason != language.ReasonFallback || lc.Used != "uk" || lc.Detected != "ru" {
		t.Errorf("language context = %+v", lc)
	}
	if h.fallback.CallCount() != 0 {
		t.Errorf("fallback backend called %d times", h.fallback.CallCount())
	}
}

func TestSession_FailedRetryKeepsFirstPass(t *testing.T) {
	t.Parallel()

	snap := dictation.Snapshot{Languages: language.NewSettings([]string{"uk", "en"}, "uk")}
	h := newHarness(t, snap, nil)
	h.primary.Results = []stt.Result{
		{Text: "привет", DetectedLanguage: "ru", Success: true},
		stt.Failure("decoder crashed"),
	}

	c := completion(t, h.runSession(t))

	if n := h.primary.CallCount(); n != 2 {
		t.Fatalf("primary calls = %d, want exactly 2", n)
	}
	if c.Text != "привет" {
		t.Errorf("text = %q, want first pass", c.Text)
	}
	if c.Language.Used != "" || c.Language.Detected != "ru" || c.Language.Reason != language.ReasonFallback {
		t.Errorf("language context = %+v", c.Language)
	}
}

func TestSession_FallsBackToSecondBackend(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{Languages: settings("en")}, nil)
	h.primary.Errs = []error{stt.ErrUnavailable}
	h.fallback.Results = []stt.Result{{Text: "hello from the cloud", Success: true}}

	c := completion(t, h.runSession(t))

	if c.Source != language.BackendCloud || c.Text != "hello from the cloud" {
		t.Errorf("completion = %+v", c)
	}
	if h.primary.CallCount() != 1 || h.fallback.CallCount() != 1 {
		t.Errorf("calls primary=%d fallback=%d, want 1 each", h.primary.CallCount(), h.fallback.CallCount())
	}
}

func TestSession_AllBackendsFail(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{Languages: settings()}, nil)
	h.primary.Errs = []error{stt.ErrUnavailable}
	h.fallback.Errs = []error{stt.ErrOffline}

	events := h.runSession(t)

	want := []dictation.State{dictation.StateRecording, dictation.StateTranscribing, dictation.StateFailed, dictation.StateIdle}
	if got := states(events); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	_, e := find(events, dictation.EventError)
	if e == nil || e.Error.Code != dictation.CodeOffline {
		t.Fatalf("error event = %+v, want offline", e)
	}
	if _, c := find(events, dictation.EventComplete); c != nil {
		t.Error("completion published for a failed session")
	}
	if entries, _ := h.hist.Recent(context.Background(), 0); len(entries) != 0 {
		t.Errorf("history = %+v, want empty", entries)
	}
}

func TestSession_AccountErrorsWithoutFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cause error
		want  dictation.Code
	}{
		{stt.ErrAuthExpired, dictation.CodeAuthExpired},
		{stt.ErrLimitReached, dictation.CodeLimitReached},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, dictation.Snapshot{Languages: settings("en")}, func(cfg *dictation.Config, h *harness) {
				cfg.Transcriber = resilience.NewSTTFallback(h.primary, time.Second, resilience.FallbackConfig{})
			})
			h.primary.Errs = []error{tt.cause}

			for i := 1; i <= 5; i++ {
				_, e := find(h.runSession(t), dictation.EventError)
				if e == nil || e.Error.Code != tt.want {
					t.Fatalf("session %d: error event = %+v, want %s", i, e, tt.want)
				}
				if got := h.primary.CallCount(); got != i {
					t.Fatalf("session %d: primary calls = %d, want %d", i, got, i)
				}
			}
		})
	}
}

func TestSession_NoAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		chunks  [][]byte
		result  stt.Result
		wantTry int
	}{
		{name: "empty recording", chunks: nil, wantTry: 0},
		{name: "blank marker", chunks: speech(), result: stt.Result{Text: "[BLANK_AUDIO]", Success: true}, wantTry: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, dictation.Snapshot{}, nil)
			h.src.Chunks = tt.chunks
			h.primary.Results = []stt.Result{tt.result}

			events := h.runSession(t)

			_, n := find(events, dictation.EventNotice)
			if n == nil || n.Notice.Code != dictation.CodeNoAudio {
				t.Fatalf("notice = %+v, want no audio", n)
			}
			if _, e := find(events, dictation.EventError); e != nil {
				t.Errorf("no audio surfaced as error: %+v", e.Error)
			}
			if _, c := find(events, dictation.EventComplete); c != nil {
				t.Error("completion published without speech")
			}
			if got := h.primary.CallCount(); got != tt.wantTry {
				t.Errorf("backend calls = %d, want %d", got, tt.wantTry)
			}
		})
	}
}

func TestSession_LimitReached(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	h.primary.Results = []stt.Result{{
		Text: "last words", Success: true,
		Usage: &stt.Usage{LimitReached: true, WordsUsed: 2000, WordsRemaining: 0},
	}}

	events := h.runSession(t)

	c := completion(t, events)
	if !c.LimitReached || c.WordsUsed != 2000 {
		t.Errorf("completion usage = %+v", c)
	}
	ni, n := find(events, dictation.EventNotice)
	ci, _ := find(events, dictation.EventComplete)
	if n == nil || n.Notice.Code != dictation.CodeLimitReached || ni > ci {
		t.Errorf("limit notice = %+v at %d, completion at %d", n, ni, ci)
	}
}

// ── correction ───────────────────────────────────────────────────────────────

func TestSession_Correction(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "Hello, world."}}
	snap := dictation.Snapshot{Languages: settings("en"), CorrectionEnabled: true}
	h := newHarness(t, snap, func(cfg *dictation.Config, _ *harness) {
		cfg.Corrector = correction.New(provider)
	})
	h.primary.Results = []stt.Result{{Text: "hello world", Success: true}}

	events := h.runSession(t)

	want := []dictation.State{dictation.StateRecording, dictation.StateTranscribing, dictation.StateCorrecting, dictation.StateIdle}
	if got := states(events); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	c := completion(t, events)
	if c.Text != "Hello, world." || c.RawText != "hello world" || !c.Corrected || c.Raw {
		t.Errorf("completion = %+v", c)
	}
	if len(provider.Calls) != 1 {
		t.Errorf("llm calls = %d, want 1", len(provider.Calls))
	}
}

func TestSession_CorrectionFailureDeliversRaw(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Err: errors.New("model overloaded")}
	snap := dictation.Snapshot{Languages: settings("en"), CorrectionEnabled: true}
	h := newHarness(t, snap, func(cfg *dictation.Config, _ *harness) {
		cfg.Corrector = correction.New(provider)
	})
	h.primary.Results = []stt.Result{{Text: "hello world", Success: true}}

	events := h.runSession(t)

	c := completion(t, events)
	if c.Text != "hello world" || c.Corrected || !c.Raw || !c.Success {
		t.Errorf("completion = %+v, want raw delivery", c)
	}
	_, n := find(events, dictation.EventNotice)
	if n == nil || n.Notice.Code != dictation.CodeCorrectionFailed {
		t.Errorf("notice = %+v, want correction failed", n)
	}
	if _, e := find(events, dictation.EventError); e != nil {
		t.Errorf("correction failure surfaced as error: %+v", e.Error)
	}
	entries, _ := h.hist.Recent(context.Background(), 0)
	if len(entries) != 1 || entries[0].Corrected {
		t.Errorf("history = %+v", entries)
	}
}

func TestSession_CorrectionDisabled(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "changed"}}
	h := newHarness(t, dictation.Snapshot{}, func(cfg *dictation.Config, _ *harness) {
		cfg.Corrector = correction.New(provider)
	})
	h.primary.Results = []stt.Result{{Text: "as spoken", Success: true}}

	c := completion(t, h.runSession(t))
	if c.Text != "as spoken" || c.Corrected || c.Raw {
		t.Errorf("completion = %+v", c)
	}
	if len(provider.Calls) != 0 {
		t.Error("corrector ran while disabled")
	}
}

// ── lifecycle ────────────────────────────────────────────────────────────────

func TestStart_NoDevice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	h.src.OpenErr = capture.ErrNoDevice

	err := h.o.Start(context.Background())
	var de *dictation.Error
	if !errors.As(err, &de) || de.Code != dictation.CodeNoDevice {
		t.Fatalf("Start err = %v, want no device", err)
	}
	e := <-h.o.Events()
	if e.Kind != dictation.EventError || e.Error.Code != dictation.CodeNoDevice {
		t.Errorf("event = %+v", e)
	}
	if h.o.State() != dictation.StateIdle {
		t.Errorf("state = %v, want idle", h.o.State())
	}
	// A later session still works.
	h.src.OpenErr = nil
	if err := h.o.Start(context.Background()); err != nil {
		t.Errorf("Start after failure: %v", err)
	}
}

func TestStart_Busy(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	ctx := context.Background()
	if err := h.o.Stop(ctx); !errors.Is(err, dictation.ErrNotRecording) {
		t.Errorf("Stop while idle = %v, want ErrNotRecording", err)
	}
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.o.Start(ctx); !errors.Is(err, dictation.ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}
	if err := h.o.CancelProcessing(ctx); !errors.Is(err, dictation.ErrNotProcessing) {
		t.Errorf("CancelProcessing while recording = %v, want ErrNotProcessing", err)
	}
	if h.src.OpenCount() != 1 {
		t.Errorf("Open calls = %d, want 1", h.src.OpenCount())
	}
}

func TestStart_BusyWhileProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	h.primary.Block = make(chan struct{})
	h.primary.Started = make(chan struct{}, 1)
	ctx := context.Background()

	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-h.primary.Started
	if err := h.o.Start(ctx); !errors.Is(err, dictation.ErrBusy) {
		t.Errorf("Start while transcribing = %v, want ErrBusy", err)
	}
	if err := h.o.Toggle(ctx); !errors.Is(err, dictation.ErrBusy) {
		t.Errorf("Toggle while transcribing = %v, want ErrBusy", err)
	}
	close(h.primary.Block)
	collectUntilIdle(t, h.o)
}

func TestCancelRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.o.CancelRecording(); err != nil {
		t.Fatalf("CancelRecording: %v", err)
	}
	events := collectUntilIdle(t, h.o)

	want := []dictation.State{dictation.StateRecording, dictation.StateCancelled, dictation.StateIdle}
	if got := states(events); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if !h.src.Last().Aborted() {
		t.Error("recording not aborted")
	}
	if h.primary.CallCount() != 0 {
		t.Error("backend called for a cancelled recording")
	}
	if err := h.o.CancelRecording(); !errors.Is(err, dictation.ErrNotRecording) {
		t.Errorf("second CancelRecording = %v", err)
	}
}

func TestCancelProcessing_PublishesNoResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	h.primary.Block = make(chan struct{})
	h.primary.Started = make(chan struct{}, 1)
	h.primary.Results = []stt.Result{{Text: "too late", Success: true}}
	ctx := context.Background()

	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-h.primary.Started

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.o.CancelProcessing(cctx); err != nil {
		t.Fatalf("CancelProcessing: %v", err)
	}
	events := collectUntilIdle(t, h.o)

	want := []dictation.State{dictation.StateRecording, dictation.StateTranscribing, dictation.StateCancelled, dictation.StateIdle}
	if got := states(events); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	for _, kind := range []dictation.EventKind{dictation.EventComplete, dictation.EventError} {
		if _, e := find(events, kind); e != nil {
			t.Errorf("%s event published after cancel: %+v", kind, e)
		}
	}
	if h.fallback.CallCount() != 0 {
		t.Error("cancellation triggered the fallback backend")
	}
	if entries, _ := h.hist.Recent(ctx, 0); len(entries) != 0 {
		t.Errorf("history = %+v, want empty", entries)
	}
}

func TestCancelProcessing_DuringCorrection(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		Block:    make(chan struct{}),
		Response: &llm.CompletionResponse{Content: "never"},
	}
	snap := dictation.Snapshot{CorrectionEnabled: true}
	h := newHarness(t, snap, func(cfg *dictation.Config, _ *harness) {
		cfg.Corrector = correction.New(provider)
	})
	h.primary.Results = []stt.Result{{Text: "hello there", Success: true}}
	ctx := context.Background()

	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	var events []dictation.Event
	for e := range h.o.Events() {
		events = append(events, e)
		if e.Kind == dictation.EventStateChange && e.State.State == dictation.StateCorrecting {
			break
		}
	}
	if err := h.o.CancelProcessing(ctx); err != nil {
		t.Fatalf("CancelProcessing: %v", err)
	}
	events = append(events, collectUntilIdle(t, h.o)...)

	if _, e := find(events, dictation.EventComplete); e != nil {
		t.Errorf("completion published after cancel: %+v", e.Completion)
	}
	if _, n := find(events, dictation.EventNotice); n != nil {
		t.Errorf("notice published after cancel: %+v", n.Notice)
	}
}

func TestToggle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	h.primary.Results = []stt.Result{{Text: "toggled", Success: true}}
	ctx := context.Background()

	if err := h.o.Toggle(ctx); err != nil {
		t.Fatalf("Toggle (start): %v", err)
	}
	if h.o.State() != dictation.StateRecording {
		t.Fatalf("state = %v, want recording", h.o.State())
	}
	if err := h.o.Toggle(ctx); err != nil {
		t.Fatalf("Toggle (stop): %v", err)
	}
	if c := completion(t, collectUntilIdle(t, h.o)); c.Text != "toggled" {
		t.Errorf("text = %q", c.Text)
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{Languages: settings("en"), Streaming: true}, nil)
	h.primary.Results = []stt.Result{{Text: "from a file", Success: true}}
	ctx := context.Background()

	id, err := h.o.Submit(ctx, types.Audio{PCM: make([]byte, 1280), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := h.o.Submit(ctx, types.Audio{}); !errors.Is(err, dictation.ErrBusy) {
		t.Errorf("second Submit = %v, want ErrBusy", err)
	}

	events := collectUntilIdle(t, h.o)
	want := []dictation.State{dictation.StateTranscribing, dictation.StateIdle}
	if got := states(events); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	_, e := find(events, dictation.EventComplete)
	if e == nil || e.SessionID != id || e.Completion.Text != "from a file" {
		t.Fatalf("completion event = %+v", e)
	}
	if h.src.OpenCount() != 0 {
		t.Error("Submit opened the microphone")
	}
}

func TestSubmit_Empty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	if _, err := h.o.Submit(context.Background(), types.Audio{SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := collectUntilIdle(t, h.o)
	_, e := find(events, dictation.EventNotice)
	if e == nil || e.Notice.Code != dictation.CodeNoAudio {
		t.Errorf("notice = %+v, want no audio", e)
	}
	if h.primary.CallCount() != 0 {
		t.Errorf("backend called %d times for empty audio", h.primary.CallCount())
	}
}

func TestSettingsAreSnapshotPerSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{Languages: settings("de")}, nil)
	h.primary.Results = []stt.Result{{Text: "hallo", Success: true}}
	ctx := context.Background()

	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.setSnapshot(dictation.Snapshot{Languages: settings("fr")})
	if err := h.o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	collectUntilIdle(t, h.o)
	h.runSession(t)

	calls := h.primary.CallsSnapshot()
	if len(calls) != 2 || calls[0].Opts.Language != "de" || calls[1].Opts.Language != "fr" {
		t.Errorf("languages = %+v", calls)
	}
}

func TestUnsupportedPinFallsBackToAutoDetect(t *testing.T) {
	t.Parallel()

	snap := dictation.Snapshot{
		Languages: settings("uk"),
		Models:    map[string]string{language.BackendLocal: "base.en"},
	}
	h := newHarness(t, snap, nil)
	h.primary.Results = []stt.Result{{Text: "hello", Success: true}}

	h.runSession(t)

	calls := h.primary.CallsSnapshot()
	if len(calls) != 1 || calls[0].Opts.Language != "" || calls[0].Opts.Model != "base.en" {
		t.Errorf("opts = %+v, want auto-detect on an English-only model", calls[0].Opts)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var events []dictation.Event
	for e := range h.o.Events() {
		events = append(events, e)
	}
	want := []dictation.State{dictation.StateRecording, dictation.StateCancelled, dictation.StateIdle}
	if got := states(events); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if got := h.o.State(); got != dictation.StateIdle {
		t.Errorf("State after Close = %v, want idle", got)
	}
	if err := h.o.Start(ctx); !errors.Is(err, dictation.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if !h.src.Last().Aborted() {
		t.Error("recording not aborted on Close")
	}
}

func TestStart_SlowDeviceDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	gate := make(chan struct{})
	h.src.Gate = gate

	started := make(chan error, 1)
	go func() { started <- h.o.Start(context.Background()) }()
	for h.src.OpenCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	stateDone := make(chan dictation.State, 1)
	go func() { stateDone <- h.o.State() }()
	select {
	case st := <-stateDone:
		if st != dictation.StateIdle {
			t.Errorf("State while opening = %v, want idle", st)
		}
	case <-time.After(time.Second):
		t.Fatal("State blocked while the device was opening")
	}
	if err := h.o.Start(context.Background()); !errors.Is(err, dictation.ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}
	if err := h.o.CancelRecording(); !errors.Is(err, dictation.ErrNotRecording) {
		t.Errorf("CancelRecording while opening = %v, want ErrNotRecording", err)
	}

	close(gate)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.o.State(); got != dictation.StateRecording {
		t.Errorf("State = %v, want recording", got)
	}
}

func TestClose_WhileStarting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, dictation.Snapshot{}, nil)
	h.src.Gate = make(chan struct{})

	started := make(chan error, 1)
	go func() { started <- h.o.Start(context.Background()) }()
	for h.src.OpenCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := h.o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-started; !errors.Is(err, dictation.ErrClosed) {
		t.Errorf("Start = %v, want ErrClosed", err)
	}
	for range h.o.Events() {
	}
}

// ── streaming ────────────────────────────────────────────────────────────────

func streamingHarness(t *testing.T, snap dictation.Snapshot, final stt.Result) (*harness, *sttmock.StreamingBackend) {
	t.Helper()
	sb := &sttmock.StreamingBackend{
		BackendName: language.BackendStreaming,
		IsReady:     true,
		Stream:      sttmock.NewStream(final),
	}
	snap.Streaming = true
	h := newHarness(t, snap, func(cfg *dictation.Config, _ *harness) {
		cfg.Streaming = sb
	})
	return h, sb
}

func TestStreaming_PartialsThenFinal(t *testing.T) {
	t.Parallel()

	h, sb := streamingHarness(t, dictation.Snapshot{Languages: settings("en")},
		stt.Result{Text: "hello there", Success: true})
	sb.Stream.PartialsCh <- "hello"

	events := h.runSession(t)

	want := []dictation.State{
		dictation.StateRecording, dictation.StateStreaming, dictation.StateStreaming, dictation.StateIdle,
	}
	if got := states(events); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	pi, p := find(events, dictation.EventPartial)
	ci, _ := find(events, dictation.EventComplete)
	if p == nil || p.Partial != "hello" || pi > ci {
		t.Errorf("partial = %+v at %d, completion at %d", p, pi, ci)
	}
	c := completion(t, events)
	if c.Text != "hello there" || c.Source != language.BackendStreaming {
		t.Errorf("completion = %+v", c)
	}
	if got := sb.Stream.ChunkCount(); got != len(speech()) {
		t.Errorf("chunks streamed = %d, want %d", got, len(speech()))
	}
	if len(sb.StartCalls) != 1 || sb.StartCalls[0].Language != "en" || sb.StartCalls[0].SampleRate != 16000 {
		t.Errorf("stream config = %+v", sb.StartCalls)
	}
	if !sb.Stream.Closed() {
		t.Error("stream not closed")
	}
	if h.primary.CallCount() != 0 || h.fallback.CallCount() != 0 {
		t.Error("batch backend called for a successful stream")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sb.WarmCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sb.WarmCount() == 0 {
		t.Error("streaming connection not re-warmed after the session")
	}
}

func TestStreaming_RetryUsesBatchBackend(t *testing.T) {
	t.Parallel()

	snap := dictation.Snapshot{Languages: language.NewSettings([]string{"uk", "en"}, "uk")}
	h, _ := streamingHarness(t, snap, stt.Result{Text: "привет", DetectedLanguage: "ru", Success: true})
	h.fallback.Results = []stt.Result{{Text: "привіт", Success: true}}

	c := completion(t, h.runSession(t))

	calls := h.fallback.CallsSnapshot()
	if len(calls) != 1 || calls[0].Opts.Language != "uk" {
		t.Fatalf("batch calls = %+v, want one pinned to uk", calls)
	}
	if c.Text != "привіт" || c.Source != language.BackendStreaming || c.Language.Used != "uk" {
		t.Errorf("completion = %+v", c)
	}
}

func TestStreaming_FailureFallsBackToBatch(t *testing.T) {
	t.Parallel()

	snap := dictation.Snapshot{FallbackEnabled: true}
	h, _ := streamingHarness(t, snap, stt.Failure("socket closed"))
	h.fallback.Results = []stt.Result{{Text: "recovered", Success: true}}

	c := completion(t, h.runSession(t))

	if c.Text != "recovered" || c.Source != language.BackendCloud {
		t.Errorf("completion = %+v", c)
	}
	if h.fallback.CallCount() != 1 {
		t.Errorf("batch calls = %d, want 1", h.fallback.CallCount())
	}
}

func TestStreaming_FailureWithoutFallback(t *testing.T) {
	t.Parallel()

	h, _ := streamingHarness(t, dictation.Snapshot{}, stt.Failure("socket closed"))

	events := h.runSession(t)

	if _, e := find(events, dictation.EventError); e == nil || e.Error.Code != dictation.CodeTranscriptionFailed {
		t.Errorf("error event = %+v", e)
	}
	if h.fallback.CallCount() != 0 {
		t.Error("batch backend called with fallback disabled")
	}
}

func TestStreaming_NotReadyUsesBatch(t *testing.T) {
	t.Parallel()

	h, sb := streamingHarness(t, dictation.Snapshot{}, stt.Result{Text: "unused", Success: true})
	sb.IsReady = false
	h.primary.Results = []stt.Result{{Text: "batch text", Success: true}}

	c := completion(t, h.runSession(t))

	if c.Source != language.BackendLocal || c.Text != "batch text" {
		t.Errorf("completion = %+v", c)
	}
	if len(sb.StartCalls) != 0 {
		t.Error("stream started without a warmed connection")
	}
}
