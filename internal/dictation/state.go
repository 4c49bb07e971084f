package dictation

// State is the orchestrator's position in the capture-to-paste lifecycle.
type State int

const (
	// StateIdle: no session.
	StateIdle State = iota

	// StateRecording: capturing audio for a batch transcription.
	StateRecording

	// StateStreaming: capturing into, or waiting on, a live streaming session.
	StateStreaming

	// StateTranscribing: a batch backend call is in flight.
	StateTranscribing

	// StateCorrecting: the correction pass is running.
	StateCorrecting

	// StateCancelled and StateFailed are terminal for a session. The
	// orchestrator passes through them and returns to StateIdle.
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStreaming:
		return "streaming"
	case StateTranscribing:
		return "transcribing"
	case StateCorrecting:
		return "correcting"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// processing reports whether a backend or correction call may be in flight.
func (s State) processing() bool {
	return s == StateTranscribing || s == StateStreaming || s == StateCorrecting
}
