package shell

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
	"github.com/micmonay/keybd_event"
)

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// Keyboard sends the platform paste shortcut to the focused window.
type Keyboard interface {
	Paste() error
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title, message string) error
}

// SystemClipboard is the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }
func (SystemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

// SystemKeyboard synthesises Ctrl+V (Cmd+V on macOS).
type SystemKeyboard struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

func (k *SystemKeyboard) init() {
	k.kb, k.err = keybd_event.NewKeyBonding()
	if k.err != nil {
		return
	}
	if runtime.GOOS == "linux" {
		// The uinput device needs a moment before the first event is seen.
		time.Sleep(2 * time.Second)
	}
}

// Paste presses and releases the paste shortcut.
func (k *SystemKeyboard) Paste() error {
	k.once.Do(k.init)
	if k.err != nil {
		return fmt.Errorf("shell: keyboard: %w", k.err)
	}
	k.kb.Clear()
	if runtime.GOOS == "darwin" {
		k.kb.HasSuper(true)
	} else {
		k.kb.HasCTRL(true)
	}
	k.kb.SetKeys(keybd_event.VK_V)
	if err := k.kb.Launching(); err != nil {
		return fmt.Errorf("shell: send paste: %w", err)
	}
	return nil
}

// DesktopNotifier shows notifications through the OS notification center.
type DesktopNotifier struct {
	AppName string
}

func (n DesktopNotifier) Notify(title, message string) error {
	if n.AppName != "" {
		title = n.AppName + ": " + title
	}
	return beeep.Notify(title, message, "")
}

// Paster puts transcripts where the user is typing.
type Paster struct {
	Clipboard Clipboard
	Keyboard  Keyboard

	// AutoPaste sends the paste shortcut after copying. Without it the text
	// is only copied.
	AutoPaste bool

	// Restore puts the previous clipboard contents back after pasting.
	Restore bool

	// Settle is how long to wait around the keystroke so the target window
	// reads the new clipboard before it is restored. Default: 100ms.
	Settle time.Duration
}

// Deliver copies text and, when enabled, pastes it. It reports whether the
// paste shortcut was sent.
func (p *Paster) Deliver(text string) (bool, error) {
	settle := p.Settle
	if settle <= 0 {
		settle = 100 * time.Millisecond
	}

	var prev string
	var hadPrev bool
	if p.AutoPaste && p.Restore {
		if s, err := p.Clipboard.ReadAll(); err == nil {
			prev, hadPrev = s, true
		}
	}
	if err := p.Clipboard.WriteAll(text); err != nil {
		return false, fmt.Errorf("shell: copy transcript: %w", err)
	}
	if !p.AutoPaste || p.Keyboard == nil {
		return false, nil
	}

	time.Sleep(settle)
	if err := p.Keyboard.Paste(); err != nil {
		return false, err
	}
	if hadPrev {
		time.Sleep(settle)
		if err := p.Clipboard.WriteAll(prev); err != nil {
			return true, fmt.Errorf("shell: restore clipboard: %w", err)
		}
	}
	return true, nil
}
