package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
//
// Languages, vocabulary and the dictation switches are read at the start of
// every session, so they apply without a restart. Providers, the backend
// chain, capture, paths, history, shell and server.listen_addr are bound at
// startup; changes there are reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguagesChanged  bool
	VocabularyChanged bool
	DictationChanged  bool
	ShellChanged      bool

	// RestartRequired lists the sections whose changes are ignored until the
	// process restarts.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LanguagesChanged && !d.VocabularyChanged &&
		!d.DictationChanged && !d.ShellChanged && len(d.RestartRequired) == 0
}

// Changed returns the names of the hot-reloadable sections that changed.
func (d ConfigDiff) Changed() []string {
	var out []string
	if d.LogLevelChanged {
		out = append(out, "server.log_level")
	}
	if d.LanguagesChanged {
		out = append(out, "languages")
	}
	if d.VocabularyChanged {
		out = append(out, "vocabulary")
	}
	if d.DictationChanged {
		out = append(out, "dictation")
	}
	if d.ShellChanged {
		out = append(out, "shell")
	}
	return out
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Languages.Selected, new.Languages.Selected) || old.Languages.Fallback != new.Languages.Fallback {
		d.LanguagesChanged = true
	}
	if !slices.Equal(old.Vocabulary.Words, new.Vocabulary.Words) ||
		old.Vocabulary.PhoneticThreshold != new.Vocabulary.PhoneticThreshold ||
		old.Vocabulary.FuzzyThreshold != new.Vocabulary.FuzzyThreshold {
		d.VocabularyChanged = true
	}
	if diffDictation(old.Dictation, new.Dictation) {
		d.DictationChanged = true
	}
	if old.Shell != new.Shell {
		// The presenter is built once at startup.
		d.ShellChanged = true
		d.RestartRequired = append(d.RestartRequired, "shell")
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Dictation.Primary != new.Dictation.Primary ||
		old.Dictation.Fallback != new.Dictation.Fallback ||
		old.Dictation.BackendTimeout != new.Dictation.BackendTimeout {
		d.RestartRequired = append(d.RestartRequired, "dictation.backends")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Paths != new.Paths {
		d.RestartRequired = append(d.RestartRequired, "paths")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}

	return d
}

// diffDictation compares the per-session dictation switches. The backend
// chain itself is built once at startup and is not part of this.
func diffDictation(old, new DictationConfig) bool {
	return old.FallbackEnabled != new.FallbackEnabled ||
		old.CorrectionEnabled != new.CorrectionEnabled ||
		old.CorrectionTimeout != new.CorrectionTimeout ||
		old.StreamingEnabled != new.StreamingEnabled
}
