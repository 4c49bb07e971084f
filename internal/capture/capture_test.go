package capture_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/HeroTools/open-whispr-sub004/internal/capture"
	"github.com/HeroTools/open-whispr-sub004/internal/capture/mock"
)

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	got := capture.Config{}.WithDefaults()
	if got.SampleRate != 16000 || got.Channels != 1 || got.FramesPerBuffer != 1024 {
		t.Errorf("defaults = %+v", got)
	}
	kept := capture.Config{SampleRate: 48000, Channels: 2, FramesPerBuffer: 256}.WithDefaults()
	if kept.SampleRate != 48000 || kept.Channels != 2 || kept.FramesPerBuffer != 256 {
		t.Errorf("explicit values overwritten: %+v", kept)
	}
}

func TestMockSource_ReplaysChunks(t *testing.T) {
	t.Parallel()

	src := &mock.Source{Chunks: [][]byte{{1, 0}, {2, 0, 3, 0}}}
	var seen [][]byte
	rec, err := src.Open(context.Background(), func(c []byte) { seen = append(seen, c) })
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("chunks seen = %d, want 2", len(seen))
	}
	a, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !bytes.Equal(a.PCM, []byte{1, 0, 2, 0, 3, 0}) || a.SampleRate != 16000 || a.Channels != 1 {
		t.Errorf("audio = %+v", a)
	}
}

func TestMockSource_NoDevice(t *testing.T) {
	t.Parallel()

	src := &mock.Source{OpenErr: capture.ErrNoDevice}
	if _, err := src.Open(context.Background(), nil); !errors.Is(err, capture.ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
}
