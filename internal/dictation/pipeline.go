package dictation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HeroTools/open-whispr-sub004/internal/history"
	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/internal/observe"
	"github.com/HeroTools/open-whispr-sub004/internal/resilience"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

var errStreamIncomplete = errors.New("stream: audio was not fully sent")

// pass is the outcome of the first transcription of a session.
type pass struct {
	result stt.Result

	// backend is where a language retry goes; nil disables it.
	backend stt.Backend
	source  string

	// used is the language the call was pinned to, empty for auto-detect.
	used types.LanguageCode
}

// step starts the span for one pipeline step of s.
func step(ctx context.Context, s *session, name string) (context.Context, trace.Span) {
	return observe.StartSpan(ctx, "dictation."+name, trace.WithAttributes(attribute.String("session_id", s.id)))
}

// endStep ends span, marking it failed when err is set.
func endStep(span trace.Span, backend string, err error) {
	if backend != "" {
		span.SetAttributes(attribute.String("backend", backend))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// process turns a finished recording into a delivered transcript.
func (o *Orchestrator) process(s *session, a types.Audio) {
	ctx, span := step(s.ctx, s, "process")
	defer span.End()

	if a.Empty() {
		o.noAudio(s)
		return
	}

	var first pass
	var err error
	if s.streaming() {
		first, err = o.streamPass(ctx, s, a)
	} else {
		first, err = o.batchPass(ctx, s, a)
	}
	if err != nil {
		o.fail(s, err)
		return
	}
	if !first.result.HasSpeech() {
		o.noAudio(s)
		return
	}

	final, lc := o.resolve(ctx, s, a, first)

	comp := &Completion{
		Success:          true,
		Text:             final.Text,
		RawText:          final.Text,
		Source:           first.source,
		DetectedLanguage: first.result.DetectedLanguage,
		Language:         lc,
	}
	usage := final.Usage
	if usage == nil {
		usage = first.result.Usage
	}
	if usage != nil {
		comp.LimitReached = usage.LimitReached
		comp.WordsUsed = usage.WordsUsed
		comp.WordsRemaining = usage.WordsRemaining
	}

	o.correct(ctx, s, comp, lc)
	o.deliver(s, comp)
}

func (o *Orchestrator) batchPass(ctx context.Context, s *session, a types.Audio) (p pass, err error) {
	ctx, span := step(ctx, s, observe.StepTranscribe)
	defer func() { endStep(span, p.source, err) }()

	start := time.Now()
	var used types.LanguageCode
	tr, terr := o.cfg.Transcriber.Transcribe(ctx, a, func(b stt.Backend) stt.Options {
		opts := o.options(s, b.Name())
		used = opts.Language
		return opts
	})
	for _, f := range tr.Failures {
		var re *resilience.ResultError
		name := "unknown"
		if errors.As(f, &re) {
			name = re.Backend
		}
		o.metrics.RecordProviderError(ctx, name, "stt")
	}
	if terr != nil {
		return pass{}, terr
	}

	name := tr.Backend.Name()
	o.metrics.RecordStep(ctx, observe.StepTranscribe, name, time.Since(start))
	if tr.FellBack {
		o.metrics.RecordStep(ctx, observe.StepFallback, name, time.Since(start))
		o.log.Warn("primary backend failed, used fallback",
			"session_id", s.id, "backend", name, "failures", len(tr.Failures), "err", errors.Join(tr.Failures...))
	}
	return pass{result: tr.Result, backend: tr.Backend, source: name, used: used}, nil
}

// streamPass waits for the stream's final result. A failed stream is retried
// once on the batch backend with the buffered audio when fallback is enabled.
func (o *Orchestrator) streamPass(ctx context.Context, s *session, a types.Audio) (p pass, perr error) {
	name := o.cfg.Streaming.Name()
	ctx, span := step(ctx, s, observe.StepTranscribe)
	defer func() { endStep(span, p.source, perr) }()

	start := time.Now()

	fctx, cancel := context.WithTimeout(ctx, o.cfg.BackendTimeout)
	res, err := s.stream.Finish(fctx)
	cancel()
	o.closeStream(s)

	if err == nil && res.Success && !s.streamBroken.Load() {
		o.metrics.RecordStep(ctx, observe.StepTranscribe, name, time.Since(start))
		return pass{result: res, backend: o.cfg.Batch, source: name, used: s.streamLang}, nil
	}
	if ctx.Err() != nil {
		return pass{}, ctx.Err()
	}
	switch {
	case err != nil:
	case s.streamBroken.Load():
		err = errStreamIncomplete
	default:
		err = &resilience.ResultError{Backend: name, Result: res}
	}
	o.metrics.RecordProviderError(ctx, name, "stt")
	if !s.snap.FallbackEnabled || o.cfg.Batch == nil {
		return pass{}, err
	}

	b := o.cfg.Batch
	o.log.Warn("streaming failed, falling back to batch", "session_id", s.id, "backend", b.Name(), "err", err)
	opts := o.options(s, b.Name())
	bctx, cancel := context.WithTimeout(ctx, o.cfg.BackendTimeout)
	defer cancel()

	start = time.Now()
	res, ferr := b.Transcribe(bctx, a, opts)
	o.metrics.RecordStep(ctx, observe.StepFallback, b.Name(), time.Since(start))
	if ferr == nil && !res.Success {
		ferr = &resilience.ResultError{Backend: b.Name(), Result: res}
	}
	if ferr != nil {
		o.metrics.RecordProviderError(ctx, b.Name(), "stt")
		return pass{}, errors.Join(err, ferr)
	}
	return pass{result: res, backend: b, source: b.Name(), used: opts.Language}, nil
}

// resolve decides the transcript's language and, when detection landed
// outside the configured set, transcribes once more pinned to the fallback.
// A failed retry keeps the first pass.
func (o *Orchestrator) resolve(ctx context.Context, s *session, a types.Audio, first pass) (stt.Result, *language.Context) {
	settings := s.snap.Languages
	det, conf := first.result.DetectedLanguage, first.result.DetectedConfidence
	d := settings.Resolve(det, conf)
	o.metrics.RecordLanguageDecision(ctx, string(d.Reason), d.NeedsRetry)

	final, used := first.result, first.used
	if d.NeedsRetry {
		if res, lang, ok := o.retry(ctx, s, a, first, d.Language); ok {
			final, used = res, lang
		}
	}
	o.log.Debug("language resolved",
		"session_id", s.id, "reason", d.Reason, "detected", det, "used", used, "selected", settings.String())
	return final, language.NewContext(settings, d, det, conf, used)
}

func (o *Orchestrator) retry(ctx context.Context, s *session, a types.Audio, first pass, lang types.LanguageCode) (stt.Result, types.LanguageCode, bool) {
	log := observe.Logger(ctx, o.log).With("session_id", s.id, "detected", first.result.DetectedLanguage, "language", lang)
	if first.backend == nil {
		log.Warn("no backend for language retry, keeping first pass")
		return stt.Result{}, "", false
	}
	name := first.backend.Name()
	opts := o.options(s, name)
	opts.Language = o.cfg.Registry.Pin(name, opts.Model, lang)
	opts.DetectLanguage = false
	if opts.Language.IsZero() {
		log.Warn("backend cannot be pinned to fallback language, keeping first pass", "backend", name)
		return stt.Result{}, "", false
	}

	sctx, span := step(ctx, s, observe.StepLanguageRetry)
	rctx, cancel := context.WithTimeout(sctx, o.cfg.BackendTimeout)
	defer cancel()
	start := time.Now()
	res, err := first.backend.Transcribe(rctx, a, opts)
	o.metrics.RecordStep(ctx, observe.StepLanguageRetry, name, time.Since(start))
	endStep(span, name, err)
	if err != nil || !res.Success || !res.HasSpeech() {
		log.Warn("language retry failed, keeping first pass", "backend", name, "err", err, "backend_error", res.Error)
		return stt.Result{}, "", false
	}
	log.Info("retranscribed in fallback language", "backend", name)
	return res, opts.Language, true
}

// correct runs the correction pass in place. A failure leaves comp.Text
// without AI cleanup and marks it raw.
func (o *Orchestrator) correct(ctx context.Context, s *session, comp *Completion, lc *language.Context) {
	if o.cfg.Corrector == nil || !s.snap.CorrectionEnabled {
		return
	}
	if !o.advance(s, StateCorrecting) {
		return
	}
	timeout := s.snap.CorrectionTimeout
	if timeout <= 0 {
		timeout = defaultCorrectionTimeout
	}
	sctx, span := step(ctx, s, observe.StepCorrection)
	cctx, cancel := context.WithTimeout(sctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := o.cfg.Corrector.Correct(cctx, comp.RawText, lc)
	o.metrics.RecordStep(ctx, observe.StepCorrection, "", time.Since(start))
	endStep(span, "", err)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		o.metrics.RecordProviderError(ctx, "correction", "llm")
		o.log.Warn("correction failed, delivering raw transcript", "session_id", s.id, "err", err)
		if out.Text != "" {
			comp.Text = out.Text
		}
		comp.Raw = true
		o.emitNotice(s, CodeCorrectionFailed)
		return
	}
	comp.Text = out.Text
	comp.Corrected = true
}

// deliver publishes comp, saves it to history and ends the session. Nothing
// is published when the session was cancelled first.
func (o *Orchestrator) deliver(s *session, comp *Completion) {
	o.closeStream(s)
	o.mu.Lock()
	if s.cancelled {
		o.cancelledLocked(s)
		o.mu.Unlock()
		return
	}
	if comp.LimitReached {
		o.emitNotice(s, CodeLimitReached)
	}
	o.events.push(Event{SessionID: s.id, Kind: EventComplete, Completion: comp})
	s.delivered = true
	o.mu.Unlock()

	o.record(s, comp)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.endLocked(s)
	o.metrics.RecordSession(context.Background(), "success", time.Since(s.stopped))
	o.log.Info("transcription delivered",
		"session_id", s.id, "source", comp.Source, "corrected", comp.Corrected, "chars", len([]rune(comp.Text)))
}

func (o *Orchestrator) record(s *session, comp *Completion) {
	if o.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	e := history.Entry{
		SessionID:        s.id,
		Text:             comp.Text,
		RawText:          comp.RawText,
		Source:           comp.Source,
		Corrected:        comp.Corrected,
		DetectedLanguage: comp.DetectedLanguage,
	}
	if comp.Language != nil {
		e.UsedLanguage = comp.Language.Used
	}
	if err := o.cfg.History.Append(ctx, e); err != nil {
		o.log.Warn("could not save transcript to history", "session_id", s.id, "err", err)
	}
}

func (o *Orchestrator) noAudio(s *session) {
	o.closeStream(s)
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.cancelled {
		o.cancelledLocked(s)
		return
	}
	o.emitNotice(s, CodeNoAudio)
	o.endLocked(s)
	o.metrics.RecordSession(context.Background(), "no_audio", 0)
	o.log.Info("no speech detected", "session_id", s.id)
}

func (o *Orchestrator) fail(s *session, err error) {
	o.closeStream(s)
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.cancelled {
		o.cancelledLocked(s)
		return
	}
	derr := AsError(err)
	o.setStateLocked(s, StateFailed)
	o.emitError(s, derr)
	o.endLocked(s)
	o.metrics.RecordSession(context.Background(), "failed", 0)
	o.log.Error("transcription failed", "session_id", s.id, "code", derr.Code, "err", err)
}
