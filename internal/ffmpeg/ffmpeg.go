// Package ffmpeg finds the ffmpeg executable the local engine needs for
// audio decoding.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/HeroTools/open-whispr-sub004/pkg/provider/stt/local"
)

// ErrNotFound is returned when no ffmpeg executable can be located.
var ErrNotFound = errors.New("ffmpeg: executable not found")

// EnvVars are checked in order before any other location.
var EnvVars = []string{"FFMPEG_PATH", "FFMPEG_EXECUTABLE", "FFMPEG_BINARY"}

const checkTimeout = 10 * time.Second

// Sources of a located executable.
const (
	SourceEnv     = "env"
	SourceBundled = "bundled"
	SourcePath    = "path"
)

// Info is the result of Check.
type Info struct {
	Available bool
	Path      string
	Source    string
	Version   string
	Error     string
}

// Locator searches for ffmpeg. The zero value is not usable; use NewLocator.
type Locator struct {
	bundled  []string
	getenv   func(string) string
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	runner   local.Runner
}

// Option configures a Locator.
type Option func(*Locator)

// WithRunner replaces the command runner used by Check.
func WithRunner(r local.Runner) Option {
	return func(l *Locator) { l.runner = r }
}

// WithEnv replaces environment lookup.
func WithEnv(getenv func(string) string) Option {
	return func(l *Locator) { l.getenv = getenv }
}

// WithLookPath replaces the PATH search.
func WithLookPath(f func(string) (string, error)) Option {
	return func(l *Locator) { l.lookPath = f }
}

// NewLocator returns a Locator that also searches the given bundled
// directories, in order, after the environment.
func NewLocator(bundledDirs []string, opts ...Option) *Locator {
	l := &Locator{
		bundled:  bundledDirs,
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
		stat:     os.Stat,
		runner:   local.ExecRunner{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func exeName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

func (l *Locator) isFile(path string) bool {
	info, err := l.stat(path)
	return err == nil && !info.IsDir()
}

// Locate returns the path of the first ffmpeg found and where it came from.
func (l *Locator) Locate() (path, source string, err error) {
	for _, key := range EnvVars {
		v := strings.TrimSpace(l.getenv(key))
		if v == "" {
			continue
		}
		if abs, err := filepath.Abs(v); err == nil && l.isFile(abs) {
			return abs, SourceEnv, nil
		}
	}
	for _, dir := range l.bundled {
		p := filepath.Join(dir, exeName())
		if l.isFile(p) {
			return p, SourceBundled, nil
		}
	}
	if p, err := l.lookPath("ffmpeg"); err == nil {
		return p, SourcePath, nil
	}
	if runtime.GOOS == "darwin" {
		// GUI launches on macOS do not inherit the shell PATH.
		for _, p := range []string{"/opt/homebrew/bin/ffmpeg", "/usr/local/bin/ffmpeg"} {
			if l.isFile(p) {
				return p, SourcePath, nil
			}
		}
	}
	return "", "", ErrNotFound
}

// Check locates ffmpeg and runs it with -version.
func (l *Locator) Check(ctx context.Context) Info {
	path, source, err := l.Locate()
	if err != nil {
		return Info{Error: err.Error()}
	}
	info := Info{Path: path, Source: source}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	res, err := l.runner.Run(ctx, nil, path, "-version")
	if err != nil {
		info.Error = fmt.Sprintf("ffmpeg: run -version: %v", err)
		return info
	}
	info.Available = true
	info.Version = parseVersion(string(res.Stdout))
	return info
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}
