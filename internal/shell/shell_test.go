package shell_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HeroTools/open-whispr-sub004/internal/dictation"
	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/internal/shell"
)

type fakeClipboard struct {
	mu      sync.Mutex
	content string
	writes  []string
	err     error
}

func (c *fakeClipboard) ReadAll() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content, nil
}

func (c *fakeClipboard) WriteAll(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.content = s
	c.writes = append(c.writes, s)
	return nil
}

type fakeKeyboard struct {
	clip    *fakeClipboard
	pasted  []string
	pasteEr error
}

func (k *fakeKeyboard) Paste() error {
	if k.pasteEr != nil {
		return k.pasteEr
	}
	s, _ := k.clip.ReadAll()
	k.pasted = append(k.pasted, s)
	return nil
}

type fakeNotifier struct{ titles []string }

func (n *fakeNotifier) Notify(title, _ string) error {
	n.titles = append(n.titles, title)
	return nil
}

func TestPaster_Deliver(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		auto       bool
		restore    bool
		wantPasted bool
		wantClip   string
	}{
		{name: "copy only", wantClip: "hello"},
		{name: "paste", auto: true, wantPasted: true, wantClip: "hello"},
		{name: "paste and restore", auto: true, restore: true, wantPasted: true, wantClip: "previous"},
		{name: "restore without paste is ignored", restore: true, wantClip: "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clip := &fakeClipboard{content: "previous"}
			kb := &fakeKeyboard{clip: clip}
			p := &shell.Paster{Clipboard: clip, Keyboard: kb, AutoPaste: tt.auto, Restore: tt.restore, Settle: time.Millisecond}

			pasted, err := p.Deliver("hello")
			if err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if pasted != tt.wantPasted {
				t.Errorf("pasted = %v, want %v", pasted, tt.wantPasted)
			}
			if clip.content != tt.wantClip {
				t.Errorf("clipboard = %q, want %q", clip.content, tt.wantClip)
			}
			if tt.wantPasted && (len(kb.pasted) != 1 || kb.pasted[0] != "hello") {
				t.Errorf("keyboard pasted %q", kb.pasted)
			}
		})
	}
}

func TestPaster_Errors(t *testing.T) {
	t.Parallel()

	clip := &fakeClipboard{err: errors.New("no display")}
	if _, err := (&shell.Paster{Clipboard: clip}).Deliver("x"); err == nil {
		t.Error("expected copy error")
	}

	clip = &fakeClipboard{}
	kb := &fakeKeyboard{clip: clip, pasteEr: errors.New("uinput denied")}
	pasted, err := (&shell.Paster{Clipboard: clip, Keyboard: kb, AutoPaste: true, Settle: time.Millisecond}).Deliver("x")
	if err == nil || pasted {
		t.Errorf("Deliver = %v, %v; want paste error", pasted, err)
	}
}

func TestPresenter_Events(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	clip := &fakeClipboard{}
	notes := &fakeNotifier{}
	p := shell.NewPresenter(&out,
		shell.WithPaster(&shell.Paster{Clipboard: clip}),
		shell.WithNotifier(notes),
	)

	events := make(chan dictation.Event, 8)
	events <- dictation.Event{Kind: dictation.EventStateChange, State: &dictation.StateChange{State: dictation.StateRecording, IsRecording: true}}
	events <- dictation.Event{Kind: dictation.EventPartial, Partial: "hel"}
	events <- dictation.Event{Kind: dictation.EventComplete, Completion: &dictation.Completion{
		Success:   true,
		Text:      "Hello there.",
		Source:    "local",
		Corrected: true,
		Language:  &language.Context{Used: "en"},
	}}
	events <- dictation.Event{Kind: dictation.EventNotice, Notice: &dictation.Notice{Title: "Limit reached", Description: "Upgrade"}}
	events <- dictation.Event{Kind: dictation.EventError, Error: &dictation.Error{Title: "Offline", Description: "Check your connection"}}
	close(events)

	p.Run(context.Background(), events)

	got := out.String()
	for _, want := range []string{"recording", "… hel", "✓ [local, en, cleaned] Hello there.", "copied to clipboard", "! Limit reached", "✗ Offline"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if clip.content != "Hello there." {
		t.Errorf("clipboard = %q", clip.content)
	}
	if len(notes.titles) != 2 {
		t.Errorf("notifications = %v", notes.titles)
	}
}

func TestPresenter_EmptyTextNotCopied(t *testing.T) {
	t.Parallel()

	clip := &fakeClipboard{}
	p := shell.NewPresenter(&bytes.Buffer{}, shell.WithPaster(&shell.Paster{Clipboard: clip}))
	p.Handle(dictation.Event{Kind: dictation.EventComplete, Completion: &dictation.Completion{Success: true}})
	if len(clip.writes) != 0 {
		t.Errorf("clipboard writes = %q", clip.writes)
	}
}
