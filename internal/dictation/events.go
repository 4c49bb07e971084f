package dictation

import (
	"sync"
	"time"

	"github.com/HeroTools/open-whispr-sub004/internal/language"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// EventKind tags an Event.
type EventKind string

const (
	EventStateChange EventKind = "state"
	EventPartial     EventKind = "partial"
	EventComplete    EventKind = "complete"
	EventError       EventKind = "error"
	EventNotice      EventKind = "notice"
)

// Event is one message on the orchestrator's outbound channel. Exactly one
// payload field matching Kind is set.
type Event struct {
	// Seq increases by one per event, across sessions.
	Seq       int64
	SessionID string
	Time      time.Time
	Kind      EventKind

	State      *StateChange
	Partial    string
	Completion *Completion
	Error      *Error
	Notice     *Notice
}

// StateChange reports a transition.
type StateChange struct {
	State        State
	IsRecording  bool
	IsProcessing bool
	IsStreaming  bool
}

// Completion is a delivered transcript.
type Completion struct {
	Success bool

	// Text is the text to paste.
	Text string

	// RawText is the backend transcript before correction.
	RawText string

	// Source names the backend that produced RawText.
	Source string

	// Corrected is true when Text came from the correction pass. Raw is true
	// when correction was attempted and failed, so Text has had no AI cleanup.
	Corrected bool
	Raw       bool

	DetectedLanguage types.LanguageCode
	Language         *language.Context

	LimitReached   bool
	WordsUsed      int
	WordsRemaining int
}

// Notice is informational and never ends a session in failure.
type Notice struct {
	Code        Code
	Title       string
	Description string
}

// eventQueue delivers events in order without ever blocking the producer.
type eventQueue struct {
	mu     sync.Mutex
	seq    int64
	items  []Event
	notify chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newEventQueue(buffer int) *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	q.seq++
	e.Seq = q.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-q.done:
				q.flush()
				return
			}
		}
		e := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-q.done:
			q.flush(e)
			return
		}
	}
}

// flush hands pending events, starting with head, to the out buffer after
// close. Whatever does not fit is dropped since no reader is guaranteed.
func (q *eventQueue) flush(head ...Event) {
	q.mu.Lock()
	pending := append(head, q.items...)
	q.items = nil
	q.mu.Unlock()
	for _, e := range pending {
		select {
		case q.out <- e:
		default:
			return
		}
	}
}

func (q *eventQueue) close() {
	q.once.Do(func() { close(q.done) })
}
