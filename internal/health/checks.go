package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/HeroTools/open-whispr-sub004/internal/ffmpeg"
	"github.com/HeroTools/open-whispr-sub004/internal/models"
)

// Available wraps a backend's own availability probe, such as the local
// engine's binary lookup.
func Available(name string, probe func() error) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return probe() }}
}

// Model fails when the named model is not on disk.
func Model(mgr *models.Manager, name string) Checker {
	return Checker{
		Name: "model",
		Check: func(context.Context) error {
			st, err := mgr.Check(name)
			if err != nil {
				return err
			}
			if !st.Downloaded {
				return fmt.Errorf("model %q not downloaded (expected at %s)", name, st.Path)
			}
			return nil
		},
	}
}

// FFmpeg fails when ffmpeg cannot be found or does not run.
func FFmpeg(loc *ffmpeg.Locator) Checker {
	return Checker{
		Name: "ffmpeg",
		Check: func(ctx context.Context) error {
			info := loc.Check(ctx)
			if !info.Available {
				return errors.New(info.Error)
			}
			return nil
		},
	}
}

// Credentials fails when a hosted backend has no API key. It is optional
// when the backend is only a fallback.
func Credentials(name string, has func() bool, optional bool) Checker {
	return Checker{
		Name:     name,
		Optional: optional,
		Check: func(context.Context) error {
			if !has() {
				return errors.New("no api key configured")
			}
			return nil
		},
	}
}

// Ping wraps a store's connectivity check.
func Ping(name string, ping func(context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}
