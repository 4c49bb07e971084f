// Package wire decodes the transcription payloads emitted by speech engines
// into stt.Result.
//
// Engines disagree on output layout, and the same engine changes it between
// versions. Decode tries each known shape in a fixed order and settles on the
// first that matches:
//
//  1. nested: the result object lives under a "result" key; an error object
//     there is reported as an error
//  2. top-level: "text" (and optionally "language", a confidence and "usage")
//     sit at the root
//  3. segments: only a "segments" array of {text, language?} is present
//  4. error: a JSON object that only reports "success": false or "error"
//  5. plain text: anything that is not a JSON object is taken as the transcript
//
// Decode never fails. Unrecognised JSON becomes an unsuccessful result.
// Decoding is a pure function of its input.
package wire

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Shape identifies which payload layout Decode recognised.
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeNested
	ShapeTopLevel
	ShapeSegments
	ShapeError
	ShapeUnknownJSON
	ShapePlainText
)

// String returns the shape name used in logs.
func (s Shape) String() string {
	switch s {
	case ShapeNested:
		return "nested"
	case ShapeTopLevel:
		return "top-level"
	case ShapeSegments:
		return "segments"
	case ShapeError:
		return "error"
	case ShapeUnknownJSON:
		return "unknown-json"
	case ShapePlainText:
		return "plain-text"
	default:
		return "empty"
	}
}

// Decoded is the tagged result of Decode.
type Decoded struct {
	Shape  Shape
	Result stt.Result
}

var (
	languagePaths   = []string{"language", "detected_language", "lang", "language_code"}
	confidencePaths = []string{"language_probability", "detected_language_probability", "language_confidence", "confidence"}

	// timestampPrefix matches whisper-cli style "[00:00:00.000 --> 00:00:02.000]".
	timestampPrefix = regexp.MustCompile(`^\[\d{2}:\d{2}(:\d{2})?[.,]\d{3} --> \d{2}:\d{2}(:\d{2})?[.,]\d{3}\]\s*`)
)

// Decode normalises raw engine output into a result.
func Decode(raw []byte) Decoded {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Decoded{Shape: ShapeEmpty, Result: stt.Failure("empty output")}
	}

	doc, ok := jsonObject(raw)
	if !ok {
		return Decoded{Shape: ShapePlainText, Result: plainText(raw)}
	}

	if nested := doc.Get("result"); nested.IsObject() {
		d := decodeObject(nested)
		switch d.Shape {
		case ShapeError:
			return d
		case ShapeTopLevel, ShapeSegments:
			// Quota and status fields may sit beside "result".
			if d.Result.Usage == nil {
				d.Result.Usage = usage(doc)
			}
			if failed(doc) {
				d.Result = stt.Result{Text: d.Result.Text, Success: false, Error: errorMessage(doc)}
			}
			d.Shape = ShapeNested
			return d
		}
	}
	return decodeObject(doc)
}

// Parse is a shorthand for Decode(raw).Result.
func Parse(raw []byte) stt.Result {
	return Decode(raw).Result
}

func decodeObject(doc gjson.Result) Decoded {
	if text := doc.Get("text"); text.Exists() && text.Type == gjson.String {
		res := stt.Result{
			Text:               strings.TrimSpace(text.String()),
			DetectedLanguage:   language(doc),
			DetectedConfidence: confidence(doc),
			Success:            true,
			Usage:              usage(doc),
		}
		if res.DetectedLanguage.IsZero() {
			res.DetectedLanguage = segmentLanguage(doc.Get("segments"))
		}
		if failed(doc) {
			res.Success = false
			res.Error = errorMessage(doc)
		}
		return Decoded{Shape: ShapeTopLevel, Result: res}
	}

	if segs := doc.Get("segments"); segs.IsArray() {
		var parts []string
		for _, seg := range segs.Array() {
			if t := strings.TrimSpace(seg.Get("text").String()); t != "" {
				parts = append(parts, t)
			}
		}
		lang := language(doc)
		if lang.IsZero() {
			lang = segmentLanguage(segs)
		}
		res := stt.Result{
			Text:               strings.Join(strings.Fields(strings.Join(parts, " ")), " "),
			DetectedLanguage:   lang,
			DetectedConfidence: confidence(doc),
			Success:            true,
			Usage:              usage(doc),
		}
		if failed(doc) {
			res.Success = false
			res.Error = errorMessage(doc)
		}
		return Decoded{Shape: ShapeSegments, Result: res}
	}

	if failed(doc) || doc.Get("error").Exists() {
		return Decoded{Shape: ShapeError, Result: stt.Failure(errorMessage(doc))}
	}
	return Decoded{Shape: ShapeUnknownJSON, Result: stt.Failure("unrecognised output: " + truncate(doc.Raw, 200))}
}

// jsonObject returns the payload as a JSON object. Engines sometimes print log
// lines before the JSON, so the last line that is a valid object also counts.
func jsonObject(raw []byte) (gjson.Result, bool) {
	if gjson.ValidBytes(raw) {
		doc := gjson.ParseBytes(raw)
		return doc, doc.IsObject()
	}
	lines := bytes.Split(raw, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if gjson.ValidBytes(line) {
			return gjson.ParseBytes(line), true
		}
	}
	return gjson.Result{}, false
}

func plainText(raw []byte) stt.Result {
	var parts []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(timestampPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			parts = append(parts, line)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		return stt.Failure("empty output")
	}
	return stt.Result{Text: text, Success: true}
}

func language(doc gjson.Result) types.LanguageCode {
	for _, p := range languagePaths {
		if v := doc.Get(p); v.Type == gjson.String {
			if code := types.LanguageFromEngine(v.String()); !code.IsZero() {
				return code
			}
		}
	}
	return ""
}

func segmentLanguage(segs gjson.Result) types.LanguageCode {
	if !segs.IsArray() {
		return ""
	}
	for _, seg := range segs.Array() {
		if code := language(seg); !code.IsZero() {
			return code
		}
	}
	return ""
}

func confidence(doc gjson.Result) *float64 {
	for _, p := range confidencePaths {
		if v := doc.Get(p); v.Type == gjson.Number {
			c := v.Float()
			if c < 0 || c > 1 {
				continue
			}
			return stt.Confidence(c)
		}
	}
	return nil
}

func usage(doc gjson.Result) *stt.Usage {
	u := doc.Get("usage")
	if !u.IsObject() {
		u = doc
	}
	limit := first(u, "limit_reached", "limitReached")
	used := first(u, "words_used", "wordsUsed")
	remaining := first(u, "words_remaining", "wordsRemaining")
	if !limit.Exists() && !used.Exists() && !remaining.Exists() {
		return nil
	}
	return &stt.Usage{
		LimitReached:   limit.Bool(),
		WordsUsed:      int(used.Int()),
		WordsRemaining: int(remaining.Int()),
	}
}

func failed(doc gjson.Result) bool {
	s := doc.Get("success")
	return s.Exists() && !s.Bool()
}

func errorMessage(doc gjson.Result) string {
	e := doc.Get("error")
	switch {
	case e.Type == gjson.String && e.String() != "":
		return e.String()
	case e.IsObject():
		if m := first(e, "message", "msg").String(); m != "" {
			return m
		}
		return e.Raw
	}
	if m := first(doc, "message", "detail").String(); m != "" {
		return m
	}
	return "transcription failed"
}

func first(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
