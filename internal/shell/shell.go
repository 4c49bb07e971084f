// Package shell is a small terminal front end for the dictation core. It
// renders the orchestrator's events, delivers transcripts to the clipboard
// (optionally pasting them into the focused window) and turns key presses
// into toggle and cancel requests.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/HeroTools/open-whispr-sub004/internal/dictation"
)

// Presenter consumes dictation events.
type Presenter struct {
	out      io.Writer
	paster   *Paster
	notifier Notifier
	log      *slog.Logger

	partial bool
}

// Option configures a Presenter.
type Option func(*Presenter)

// WithPaster enables transcript delivery. Without one transcripts are only
// printed.
func WithPaster(p *Paster) Option {
	return func(pr *Presenter) { pr.paster = p }
}

// WithNotifier shows errors and notices as desktop notifications.
func WithNotifier(n Notifier) Option {
	return func(pr *Presenter) { pr.notifier = n }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(pr *Presenter) { pr.log = l }
}

// NewPresenter writes status lines to out.
func NewPresenter(out io.Writer, opts ...Option) *Presenter {
	p := &Presenter{out: out, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run handles events until the channel closes or ctx is done.
func (p *Presenter) Run(ctx context.Context, events <-chan dictation.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Handle(ev)
		}
	}
}

// Handle renders one event.
func (p *Presenter) Handle(ev dictation.Event) {
	switch ev.Kind {
	case dictation.EventStateChange:
		p.state(ev.State)
	case dictation.EventPartial:
		p.partial = true
		fmt.Fprintf(p.out, "\r\033[K… %s", ev.Partial)
	case dictation.EventComplete:
		p.complete(ev.SessionID, ev.Completion)
	case dictation.EventError:
		p.endPartial()
		fmt.Fprintf(p.out, "✗ %s: %s\n", ev.Error.Title, ev.Error.Description)
		p.notify(ev.Error.Title, ev.Error.Description)
	case dictation.EventNotice:
		p.endPartial()
		fmt.Fprintf(p.out, "! %s: %s\n", ev.Notice.Title, ev.Notice.Description)
		p.notify(ev.Notice.Title, ev.Notice.Description)
	}
}

func (p *Presenter) state(sc *dictation.StateChange) {
	var label string
	switch sc.State {
	case dictation.StateRecording:
		label = "● recording (Enter to stop, c to cancel)"
	case dictation.StateStreaming:
		label = "● recording, live transcription on (Enter to stop, c to cancel)"
	case dictation.StateTranscribing:
		label = "… transcribing (c to cancel)"
	case dictation.StateCorrecting:
		label = "… cleaning up text (c to cancel)"
	case dictation.StateCancelled:
		label = "cancelled"
	default:
		// Idle and Failed are reported through their events.
		return
	}
	p.endPartial()
	fmt.Fprintln(p.out, label)
}

func (p *Presenter) complete(sessionID string, c *dictation.Completion) {
	p.endPartial()
	var tags []string
	if c.Source != "" {
		tags = append(tags, c.Source)
	}
	if lang := c.Language.Effective(); lang != "" {
		tags = append(tags, string(lang))
	} else if c.DetectedLanguage != "" {
		tags = append(tags, string(c.DetectedLanguage))
	}
	if c.Corrected {
		tags = append(tags, "cleaned")
	}
	fmt.Fprintf(p.out, "✓ [%s] %s\n", strings.Join(tags, ", "), c.Text)

	if p.paster == nil || c.Text == "" {
		return
	}
	pasted, err := p.paster.Deliver(c.Text)
	if err != nil {
		p.log.Warn("shell: transcript delivery failed", "session_id", sessionID, "err", err)
		fmt.Fprintln(p.out, "  (clipboard unavailable; text printed above)")
		return
	}
	if !pasted {
		fmt.Fprintln(p.out, "  copied to clipboard")
	}
}

func (p *Presenter) endPartial() {
	if p.partial {
		fmt.Fprint(p.out, "\r\033[K")
		p.partial = false
	}
}

func (p *Presenter) notify(title, msg string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(title, msg); err != nil {
		p.log.Debug("shell: notification failed", "err", err)
	}
}
