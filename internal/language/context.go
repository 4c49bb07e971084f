package language

import "github.com/HeroTools/open-whispr-sub004/pkg/types"

// Context tells the correction pass what is known about a transcript's
// language.
type Context struct {
	Candidates []types.LanguageCode
	Fallback   types.LanguageCode

	// Detected is the first pass's raw detection, empty when the first pass
	// was pinned and did not detect.
	Detected types.LanguageCode

	// Confidence accompanies Detected when the backend reported one.
	Confidence *float64

	// Used is the language pinned on the call that produced the final text,
	// empty when that call auto-detected.
	Used types.LanguageCode

	Reason Reason
}

// NewContext assembles the context for a finished transcription. detected
// and confidence come from the first pass; used is the language pinned on
// the call whose text is delivered.
func NewContext(s Settings, d Decision, detected types.LanguageCode, confidence *float64, used types.LanguageCode) *Context {
	if s.Mode() == ModePinned {
		detected, confidence = "", nil
	}
	return &Context{
		Candidates: s.Selected(),
		Fallback:   s.Fallback(),
		Detected:   detected,
		Confidence: confidence,
		Used:       used,
		Reason:     d.Reason,
	}
}

// Effective returns the best single guess of the transcript's language: the
// pinned language if any, else the decision's or the detected one.
func (c *Context) Effective() types.LanguageCode {
	if c == nil {
		return ""
	}
	if !c.Used.IsZero() {
		return c.Used
	}
	if c.Reason == ReasonDetected || c.Reason == ReasonAuto {
		return c.Detected
	}
	return ""
}
