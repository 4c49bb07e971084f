// Package settings persists the user-facing key-value settings the dictation
// core reads: the selected languages, the default language and the custom
// dictionary.
//
// Values live in a small JSON file shared with the shell, which owns most of
// its keys. Viper reads it; writes merge the changed keys into the file as it
// is on disk so every other key keeps its name and value. List values are
// stored as JSON array strings, and a legacy single preferredLanguage key is
// migrated into the current keys the first time the file is opened.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/HeroTools/open-whispr-sub004/internal/language"
)

// Setting keys.
const (
	KeySelectedLanguages = "selectedLanguages"
	KeyDefaultLanguage   = "defaultLanguage"
	KeyPreferredLanguage = "preferredLanguage"
	KeyCustomDictionary  = "customDictionary"
)

// Values is the decoded view of the settings file.
type Values struct {
	SelectedLanguages []string `mapstructure:"selectedLanguages"`
	DefaultLanguage   string   `mapstructure:"defaultLanguage"`
	PreferredLanguage string   `mapstructure:"preferredLanguage"`
	CustomDictionary  []string `mapstructure:"customDictionary"`
}

// Store reads and writes the settings file. It is safe for concurrent use.
type Store struct {
	path string

	mu sync.Mutex
	v  *viper.Viper
}

// Open loads the settings file at path, creating nothing until the first
// write, and runs the legacy language migration.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	if _, err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file, picking up edits made by another process. A
// missing file yields empty settings.
func (s *Store) Reload() error {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return fmt.Errorf("settings: read %s: %w", s.path, err)
		}
	}
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
	return nil
}

// Values decodes the current settings.
func (s *Store) Values() (Values, error) {
	s.mu.Lock()
	raw := s.v.AllSettings()
	s.mu.Unlock()

	var out Values
	if err := decode(raw, &out); err != nil {
		return Values{}, fmt.Errorf("settings: decode: %w", err)
	}
	return out, nil
}

// Get returns a raw value as a string, "" when unset.
func (s *Store) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(key)
}

// Set stores a single value and writes the file.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(map[string]any{key: value})
}

// Languages returns the language settings snapshot. When the user never
// configured languages, defaults apply.
func (s *Store) Languages(defaults language.Settings) language.Settings {
	vals, err := s.Values()
	if err != nil {
		slog.Warn("settings: unreadable language settings, using defaults", "error", err)
		return defaults
	}
	s.mu.Lock()
	configured := s.v.IsSet(KeySelectedLanguages)
	s.mu.Unlock()
	if !configured {
		return defaults
	}
	return language.NewSettings(vals.SelectedLanguages, vals.DefaultLanguage)
}

// SetLanguages persists the selected languages and the default language.
func (s *Store) SetLanguages(selected []string, defaultLanguage string) error {
	normalised := language.NewSettings(selected, defaultLanguage)
	data, err := json.Marshal(normalised.Strings())
	if err != nil {
		return fmt.Errorf("settings: encode languages: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(map[string]any{
		KeySelectedLanguages: string(data),
		KeyDefaultLanguage:   string(normalised.Fallback()),
	})
}

// Dictionary returns the custom dictionary words.
func (s *Store) Dictionary() []string {
	vals, err := s.Values()
	if err != nil {
		return nil
	}
	return vals.CustomDictionary
}

// Migrate seeds selectedLanguages and defaultLanguage from the legacy
// preferredLanguage key when neither new key is present. It reports whether
// anything was written. "auto" migrates to an empty selection.
func (s *Store) Migrate() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.v.IsSet(KeySelectedLanguages) || s.v.IsSet(KeyDefaultLanguage) {
		return false, nil
	}
	legacy := strings.TrimSpace(s.v.GetString(KeyPreferredLanguage))
	if legacy == "" {
		return false, nil
	}

	selected := []string{}
	if !strings.EqualFold(legacy, "auto") {
		selected = []string{legacy}
	}
	migrated := language.NewSettings(selected, "")
	data, err := json.Marshal(migrated.Strings())
	if err != nil {
		return false, fmt.Errorf("settings: encode languages: %w", err)
	}
	if err := s.save(map[string]any{
		KeySelectedLanguages: string(data),
		KeyDefaultLanguage:   string(migrated.Fallback()),
	}); err != nil {
		return false, err
	}
	slog.Info("settings: migrated legacy language preference", "preferred", legacy, "selected", migrated.String())
	return true, nil
}

// save merges updates into the file on disk and into the in-memory view.
// Keys are written exactly as given, replacing any spelling of the same key
// that differs only in case. s.mu must be held.
func (s *Store) save(updates map[string]any) error {
	doc := map[string]any{}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("settings: read %s: %w", s.path, err)
	case len(bytes.TrimSpace(data)) > 0:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("settings: parse %s: %w", s.path, err)
		}
	}
	for key, value := range updates {
		for existing := range doc {
			if normalizeKey(existing) == normalizeKey(key) {
				delete(doc, existing)
			}
		}
		doc[key] = value
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	for key, value := range updates {
		s.v.Set(key, value)
	}
	return nil
}

// decode maps viper's lower-cased keys onto Values. List fields accept a JSON
// array string, a comma separated string or a real list.
func decode(input map[string]any, out *Values) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       stringToList,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func stringToList(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return []string{}, nil
	}
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("invalid list %q: %w", s, err)
		}
		return list, nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	return strings.ReplaceAll(key, "-", "")
}
