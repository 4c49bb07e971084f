// Package dictation runs the capture, transcribe, correct and deliver
// lifecycle of one push-to-talk session at a time.
//
// The [Orchestrator] is a small state machine:
//
//	Idle → Recording → Transcribing → Correcting → Idle
//	Idle → Recording → Streaming → Correcting → Idle
//
// Any in-flight state can move to Cancelled, and any processing state to
// Failed; both return to Idle. Every transition, partial transcript, result,
// error and notice is published in order on the channel returned by
// [Orchestrator.Events].
//
// Settings are read once per session through [Config.Settings], so changes
// made while a session runs take effect on the next one.
package dictation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/HeroTools/open-whispr-sub004/internal/capture"
	"github.com/HeroTools/open-whispr-sub004/internal/correction"
	"github.com/HeroTools/open-whispr-sub004/internal/history"
	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/internal/observe"
	"github.com/HeroTools/open-whispr-sub004/internal/resilience"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

const (
	defaultBackendTimeout    = 60 * time.Second
	defaultCorrectionTimeout = 30 * time.Second
	defaultEventBuffer       = 64
	historyTimeout           = 5 * time.Second
	streamStartTimeout       = 5 * time.Second
)

// Transcriber runs a batch transcription through an ordered backend chain.
// [resilience.STTFallback] implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, a types.Audio, optsFor func(stt.Backend) stt.Options) (resilience.Transcription, error)
}

// Corrector cleans up a transcript. [correction.Service] implements it.
type Corrector interface {
	Correct(ctx context.Context, text string, lc *language.Context) (correction.Outcome, error)
}

// Snapshot is the per-session view of the user's settings.
type Snapshot struct {
	Languages language.Settings

	// Models maps a backend name to the model it should use. Missing entries
	// select the backend default.
	Models map[string]string

	// Prompt is the vocabulary hint sent to backends that accept one.
	Prompt string

	CorrectionEnabled bool
	CorrectionTimeout time.Duration

	// Streaming is true when the user is signed in to the streaming tier and
	// has live transcription enabled.
	Streaming bool

	// FallbackEnabled lets a failed stream be retried on the batch backend.
	// Batch fallback is configured on the Transcriber itself.
	FallbackEnabled bool
}

// Config wires an Orchestrator.
type Config struct {
	Capture     capture.Source
	Transcriber Transcriber

	// Streaming is optional. Batch is the backend streaming sessions use for
	// the language retry and, when enabled, as the fallback for a failed
	// stream.
	Streaming stt.StreamingBackend
	Batch     stt.Backend

	// Corrector is optional.
	Corrector Corrector

	// History is optional.
	History history.Store

	// Settings is called once at the start of every session. Required.
	Settings func() Snapshot

	Registry *language.Registry
	Metrics  *observe.Metrics
	Logger   *slog.Logger

	// BackendTimeout bounds the language retry and the wait for a stream's
	// final result. Default: 60s.
	BackendTimeout time.Duration

	// EventBuffer sizes the Events channel. Default: 64.
	EventBuffer int
}

// session is the state of one dictation.
type session struct {
	id      string
	snap    Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	rec       capture.Recording
	capturing bool

	stream       stt.Stream
	streamLang   types.LanguageCode
	streamBroken atomic.Bool
	partialsDone chan struct{}
	closeOnce    sync.Once
	stopped      time.Time

	// cancelled and delivered are guarded by Orchestrator.mu.
	cancelled bool
	delivered bool
	done      chan struct{}
}

func (s *session) streaming() bool { return s.stream != nil }

// Orchestrator drives dictation sessions. It is safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	events  *eventQueue

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu    sync.Mutex
	state State
	sess  *session

	// starting is set while Start opens the stream and the microphone.
	starting bool
	closed   bool
}

// New returns an idle Orchestrator. Call Close to release it.
func New(cfg Config) *Orchestrator {
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = defaultBackendTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Registry == nil {
		cfg.Registry = language.NewRegistry()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		log:        cfg.Logger.With("component", "dictation"),
		metrics:    cfg.Metrics,
		events:     newEventQueue(cfg.EventBuffer),
		root:       root,
		rootCancel: cancel,
	}
}

// Events returns the outbound event channel. It is closed by Close.
func (o *Orchestrator) Events() <-chan Event { return o.events.out }

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Warm opens the streaming connection ahead of the next session when the
// current settings allow streaming. It is a no-op otherwise.
func (o *Orchestrator) Warm(ctx context.Context) error {
	if o.cfg.Streaming == nil || !o.cfg.Settings().Streaming {
		return nil
	}
	return o.cfg.Streaming.Warm(ctx)
}

func (o *Orchestrator) rewarm() {
	if o.cfg.Streaming == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(o.root, streamStartTimeout)
		defer cancel()
		if err := o.Warm(ctx); err != nil && o.root.Err() == nil {
			o.log.Warn("streaming warm-up failed", "err", err)
		}
	}()
}

// Toggle starts a session when idle and stops the recording when recording.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	o.mu.Lock()
	recording := o.sess != nil && o.sess.capturing
	o.mu.Unlock()
	if recording {
		return o.Stop(ctx)
	}
	return o.Start(ctx)
}

// Start opens the microphone and begins a session. It returns ErrBusy when a
// session is already in progress or starting, and an *Error with
// CodeNoDevice when no input device is available.
//
// The stream and the microphone are opened without holding o.mu, so State
// and the other calls stay responsive while a slow connection is set up.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateIdle || o.starting {
		o.mu.Unlock()
		return ErrBusy
	}
	o.starting = true
	o.wg.Add(1)
	snap := o.cfg.Settings()
	o.mu.Unlock()
	defer o.wg.Done()

	sctx, cancel := context.WithCancel(o.root)
	s := &session{
		id:      uuid.NewString(),
		snap:    snap,
		ctx:     sctx,
		cancel:  cancel,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	log := o.log.With("session_id", s.id)

	if s.snap.Streaming && o.cfg.Streaming != nil && o.cfg.Streaming.Ready() {
		if err := o.openStream(ctx, s); err != nil {
			log.Warn("streaming unavailable, recording for batch transcription", "err", err)
		}
	}

	rec, err := o.cfg.Capture.Open(sctx, func(chunk []byte) {
		if s.stream == nil || s.streamBroken.Load() {
			return
		}
		if err := s.stream.SendAudio(chunk); err != nil {
			if !s.streamBroken.Swap(true) {
				log.Warn("streaming send failed, falling back after stop", "err", err)
			}
		}
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	o.starting = false

	if o.closed {
		if rec != nil {
			rec.Abort()
		}
		o.closeStream(s)
		cancel()
		close(s.done)
		return ErrClosed
	}
	if err != nil {
		o.closeStream(s)
		cancel()
		close(s.done)
		derr := AsError(err)
		o.emitError(s, derr)
		o.metrics.RecordSession(ctx, "failed", 0)
		log.Warn("could not start recording", "err", err)
		return derr
	}

	s.rec = rec
	s.capturing = true
	o.sess = s
	o.metrics.ActiveSessions.Add(ctx, 1)
	o.setStateLocked(s, StateRecording)
	if s.streaming() {
		o.setStateLocked(s, StateStreaming)
	}
	log.Info("recording started", "mode", s.snap.Languages.Mode().String(), "streaming", s.streaming())
	return nil
}

// openStream starts a live session on the warmed connection and forwards its
// partial transcripts.
func (o *Orchestrator) openStream(ctx context.Context, s *session) error {
	ctx, cancel := context.WithTimeout(ctx, streamStartTimeout)
	defer cancel()

	opts := o.options(s, o.cfg.Streaming.Name())
	st, err := o.cfg.Streaming.StartStream(ctx, stt.StreamConfig{
		Options:    opts,
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		return err
	}
	s.stream = st
	s.streamLang = opts.Language
	s.partialsDone = make(chan struct{})

	go func() {
		defer close(s.partialsDone)
		for text := range st.Partials() {
			o.events.push(Event{SessionID: s.id, Kind: EventPartial, Partial: text})
		}
	}()
	return nil
}

// closeStream closes the session's stream and waits for the partials
// forwarder, so no partial is published after the session's result.
func (o *Orchestrator) closeStream(s *session) {
	if s.stream == nil {
		return
	}
	s.closeOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			o.log.Debug("closing stream", "session_id", s.id, "err", err)
		}
		<-s.partialsDone
	})
}

// Stop ends the recording and processes it in the background. The result is
// published on Events.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	s := o.sess
	if s == nil || !s.capturing {
		o.mu.Unlock()
		return ErrNotRecording
	}
	s.capturing = false
	next := StateTranscribing
	if s.streaming() {
		next = StateStreaming
	}
	o.setStateLocked(s, next)
	o.mu.Unlock()

	s.stopped = time.Now()
	audio, err := s.rec.Stop()
	o.metrics.RecordStep(ctx, observe.StepCapture, "", time.Since(s.started))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(s.done)
		defer s.cancel()
		if err != nil {
			o.fail(s, err)
			return
		}
		o.process(s, audio)
	}()
	return nil
}

// Submit processes prerecorded audio, such as a file named on the command
// line, as one batch session. Streaming is not used. The outcome is published
// on Events like that of a recorded session, and the session id is returned.
func (o *Orchestrator) Submit(ctx context.Context, a types.Audio) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", ErrClosed
	}
	if o.state != StateIdle || o.starting {
		return "", ErrBusy
	}

	sctx, cancel := context.WithCancel(o.root)
	now := time.Now()
	s := &session{
		id:      uuid.NewString(),
		snap:    o.cfg.Settings(),
		ctx:     sctx,
		cancel:  cancel,
		started: now,
		stopped: now,
		done:    make(chan struct{}),
	}
	s.snap.Streaming = false
	o.sess = s
	o.metrics.ActiveSessions.Add(ctx, 1)
	o.setStateLocked(s, StateTranscribing)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(s.done)
		defer s.cancel()
		o.process(s, a)
	}()
	return s.id, nil
}

// CancelRecording discards the current recording without transcribing it.
func (o *Orchestrator) CancelRecording() error {
	o.mu.Lock()
	s := o.sess
	if s == nil || !s.capturing {
		o.mu.Unlock()
		return ErrNotRecording
	}
	s.capturing = false
	s.cancelled = true
	o.mu.Unlock()

	s.rec.Abort()
	s.cancel()
	o.closeStream(s)
	close(s.done)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelledLocked(s)
	return nil
}

// CancelProcessing aborts an in-flight transcription or correction. No
// result is published for the session. It waits for the session's calls to
// return or for ctx to be done.
func (o *Orchestrator) CancelProcessing(ctx context.Context) error {
	o.mu.Lock()
	s := o.sess
	if s == nil || s.capturing || s.delivered || !o.state.processing() {
		o.mu.Unlock()
		return ErrNotProcessing
	}
	s.cancelled = true
	o.mu.Unlock()

	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any session, waits for background work and closes Events.
// A session that is still recording ends as cancelled, exactly as with
// CancelRecording.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	s := o.sess
	recording := s != nil && s.capturing
	if s != nil {
		s.capturing = false
		s.cancelled = true
	}
	o.mu.Unlock()

	if s != nil {
		if recording {
			s.rec.Abort()
		}
		s.cancel()
	}
	if recording {
		o.closeStream(s)
		close(s.done)
		o.mu.Lock()
		o.cancelledLocked(s)
		o.mu.Unlock()
	}
	o.rootCancel()
	o.wg.Wait()
	if s != nil {
		o.closeStream(s)
	}
	o.events.close()
	return nil
}

// options builds the first-pass call options for backend.
func (o *Orchestrator) options(s *session, backend string) stt.Options {
	model := s.snap.Models[backend]
	want := s.snap.Languages.FirstPassLanguage()
	pinned := o.cfg.Registry.Pin(backend, model, want)
	if !want.IsZero() && pinned.IsZero() {
		o.log.Warn("backend cannot be pinned to language, auto-detecting",
			"session_id", s.id, "backend", backend, "model", model, "language", want)
	}
	return stt.Options{
		Model:          model,
		Language:       pinned,
		DetectLanguage: s.snap.Languages.DetectLanguage(),
		Prompt:         s.snap.Prompt,
	}
}

// setStateLocked records a transition and publishes it. o.mu must be held.
func (o *Orchestrator) setStateLocked(s *session, st State) {
	o.state = st
	o.events.push(Event{
		SessionID: s.id,
		Kind:      EventStateChange,
		State: &StateChange{
			State:        st,
			IsRecording:  s.capturing,
			IsProcessing: st.processing() && !s.capturing,
			IsStreaming:  s.streaming() && (st == StateStreaming || st == StateRecording),
		},
	})
}

// advance moves a processing session to st unless it was cancelled.
func (o *Orchestrator) advance(s *session, st State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.cancelled {
		return false
	}
	o.setStateLocked(s, st)
	return true
}

// endLocked returns the orchestrator to Idle after s. o.mu must be held.
func (o *Orchestrator) endLocked(s *session) {
	o.setStateLocked(s, StateIdle)
	if o.sess == s {
		o.sess = nil
	}
	o.metrics.ActiveSessions.Add(context.Background(), -1)
	if s.snap.Streaming && !o.closed {
		o.rewarm()
	}
}

func (o *Orchestrator) cancelledLocked(s *session) {
	o.setStateLocked(s, StateCancelled)
	o.endLocked(s)
	o.metrics.RecordSession(context.Background(), "cancelled", 0)
	o.log.Info("session cancelled", "session_id", s.id)
}

func (o *Orchestrator) emitError(s *session, e *Error) {
	o.events.push(Event{SessionID: s.id, Kind: EventError, Error: e})
}

func (o *Orchestrator) emitNotice(s *session, code Code) {
	o.events.push(Event{SessionID: s.id, Kind: EventNotice, Notice: newNotice(code)})
}
