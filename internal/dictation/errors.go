package dictation

import (
	"errors"
	"net"

	"github.com/HeroTools/open-whispr-sub004/internal/capture"
	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
)

var (
	// ErrBusy is returned by Start while another session is in progress.
	ErrBusy = errors.New("dictation: a session is already in progress")

	// ErrNotRecording is returned by Stop and CancelRecording outside of a
	// recording.
	ErrNotRecording = errors.New("dictation: not recording")

	// ErrNotProcessing is returned by CancelProcessing when nothing is being
	// transcribed or corrected.
	ErrNotProcessing = errors.New("dictation: not processing")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dictation: orchestrator closed")
)

// Code classifies a user-visible failure or notice.
type Code string

const (
	CodeNoDevice            Code = "no_device"
	CodeBackendUnavailable  Code = "backend_unavailable"
	CodeTranscriptionFailed Code = "transcription_failed"
	CodeAuthExpired         Code = "auth_expired"
	CodeOffline             Code = "offline"
	CodeLimitReached        Code = "limit_reached"
	CodeNoAudio             Code = "no_audio"
	CodeCorrectionFailed    Code = "correction_failed"
)

var messages = map[Code][2]string{
	CodeNoDevice:            {"No microphone found", "Connect a microphone or check your input device permissions, then try again."},
	CodeBackendUnavailable:  {"Transcription unavailable", "The selected transcription engine is not set up. Check the model and binary, or your API key."},
	CodeTranscriptionFailed: {"Transcription failed", "The recording could not be transcribed. Please try again."},
	CodeAuthExpired:         {"Session expired", "Sign in again to keep using cloud transcription."},
	CodeOffline:             {"You're offline", "The transcription service could not be reached. Check your connection or switch to local transcription."},
	CodeLimitReached:        {"Usage limit reached", "You have used all of your transcription words for this period."},
	CodeNoAudio:             {"No audio detected", "Nothing was heard in the recording. Check that the right microphone is selected."},
	CodeCorrectionFailed:    {"Correction skipped", "The transcript was pasted without AI cleanup."},
}

// Error is a failure surfaced to the user.
type Error struct {
	Code        Code
	Title       string
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "dictation: " + e.Title
	}
	return "dictation: " + e.Title + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the message for code.
func NewError(code Code, err error) *Error {
	m := messages[code]
	return &Error{Code: code, Title: m[0], Description: m[1], Err: err}
}

// AsError returns err as an *Error, classifying it if it is not one already.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return NewError(Classify(err), err)
}

func newNotice(code Code) *Notice {
	m := messages[code]
	return &Notice{Code: code, Title: m[0], Description: m[1]}
}

// Classify maps err to a Code. When err joins several failures, as a
// fallback chain does, the most actionable one wins.
func Classify(err error) Code {
	var de *Error
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return de.Code
	case errors.Is(err, capture.ErrNoDevice):
		return CodeNoDevice
	case errors.Is(err, stt.ErrAuthExpired):
		return CodeAuthExpired
	case errors.Is(err, stt.ErrLimitReached):
		return CodeLimitReached
	case errors.Is(err, stt.ErrOffline):
		return CodeOffline
	case errors.As(err, &netErr) && !netErr.Timeout():
		return CodeOffline
	case errors.Is(err, stt.ErrUnavailable):
		return CodeBackendUnavailable
	default:
		// Unsuccessful backend results, timeouts and anything unrecognised.
		return CodeTranscriptionFailed
	}
}
