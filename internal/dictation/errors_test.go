package dictation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/HeroTools/open-whispr-sub004/internal/capture"
	"github.com/HeroTools/open-whispr-sub004/internal/resilience"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"no device", fmt.Errorf("open: %w", capture.ErrNoDevice), CodeNoDevice},
		{"unavailable", stt.ErrUnavailable, CodeBackendUnavailable},
		{"auth", fmt.Errorf("cloud: %w", stt.ErrAuthExpired), CodeAuthExpired},
		{"offline", stt.ErrOffline, CodeOffline},
		{"dial error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, CodeOffline},
		{"limit", stt.ErrLimitReached, CodeLimitReached},
		{"timeout", context.DeadlineExceeded, CodeTranscriptionFailed},
		{"result error", &resilience.ResultError{Backend: "local", Result: stt.Failure("bad audio")}, CodeTranscriptionFailed},
		{"unknown", errors.New("boom"), CodeTranscriptionFailed},
		{
			"chain prefers offline over unavailable",
			fmt.Errorf("%w: %w", resilience.ErrAllFailed, errors.Join(stt.ErrUnavailable, stt.ErrOffline)),
			CodeOffline,
		},
		{"already classified", NewError(CodeNoAudio, nil), CodeNoAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	e := AsError(fmt.Errorf("transcribe: %w", stt.ErrAuthExpired))
	if e.Code != CodeAuthExpired || e.Title == "" || e.Description == "" {
		t.Fatalf("AsError = %+v", e)
	}
	if !errors.Is(e, stt.ErrAuthExpired) {
		t.Error("Error does not unwrap to the cause")
	}
	if AsError(e) != e {
		t.Error("AsError re-wrapped an *Error")
	}
}

func TestEventQueue_OrderAndSeq(t *testing.T) {
	t.Parallel()

	q := newEventQueue(1)
	defer q.close()

	const n = 500
	for i := range n {
		q.push(Event{Kind: EventPartial, Partial: fmt.Sprint(i)})
	}
	for i := range n {
		e := <-q.out
		if e.Seq != int64(i+1) || e.Partial != fmt.Sprint(i) {
			t.Fatalf("event %d = seq %d partial %q", i, e.Seq, e.Partial)
		}
		if e.Time.IsZero() {
			t.Fatal("event time not set")
		}
	}
}

func TestEventQueue_CloseClosesOut(t *testing.T) {
	t.Parallel()

	q := newEventQueue(0)
	q.push(Event{Kind: EventNotice})
	q.close()
	for range q.out {
	}
}

func TestEventQueue_CloseDeliversPending(t *testing.T) {
	t.Parallel()

	q := newEventQueue(4)
	for i := 0; i < 3; i++ {
		q.push(Event{Kind: EventNotice})
	}
	q.close()
	var seqs []int64
	for e := range q.out {
		seqs = append(seqs, e.Seq)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Errorf("delivered seqs = %v, want [1 2 3]", seqs)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateIdle:         "idle",
		StateRecording:    "recording",
		StateStreaming:    "streaming",
		StateTranscribing: "transcribing",
		StateCorrecting:   "correcting",
		StateCancelled:    "cancelled",
		StateFailed:       "failed",
		State(99):         "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
