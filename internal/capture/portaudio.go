package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/HeroTools/open-whispr-sub004/pkg/audio"
	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// PortAudio captures from the system default input device.
type PortAudio struct {
	cfg Config
}

var _ Source = (*PortAudio)(nil)

// NewPortAudio returns a Source reading cfg's format from the default input.
func NewPortAudio(cfg Config) *PortAudio {
	return &PortAudio{cfg: cfg.WithDefaults()}
}

// Open initialises PortAudio and starts the default input stream. The
// library is terminated again when the recording ends.
func (p *PortAudio) Open(ctx context.Context, onChunk ChunkFunc) (Recording, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: init portaudio: %w", err)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil || dev.MaxInputChannels == 0 {
		_ = portaudio.Terminate()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return nil, ErrNoDevice
	}

	in := make([]int16, p.cfg.FramesPerBuffer*p.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(p.cfg.Channels, 0, float64(p.cfg.SampleRate), p.cfg.FramesPerBuffer, in)
	if err != nil {
		_ = portaudio.Terminate()
		if errors.Is(err, portaudio.DeviceUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return nil, fmt.Errorf("capture: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("capture: start stream: %w", err)
	}

	slog.Debug("capture: recording started", "device", dev.Name, "sample_rate", p.cfg.SampleRate)

	r := &paRecording{
		cfg:     p.cfg,
		stream:  stream,
		in:      in,
		onChunk: onChunk,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.loop(ctx)
	return r, nil
}

type paRecording struct {
	cfg     Config
	stream  *portaudio.Stream
	in      []int16
	onChunk ChunkFunc

	buf     bytes.Buffer
	readErr error

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (r *paRecording) loop(ctx context.Context) {
	defer close(r.done)
	defer func() {
		_ = r.stream.Stop()
		_ = r.stream.Close()
		_ = portaudio.Terminate()
	}()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := r.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			r.readErr = fmt.Errorf("capture: read: %w", err)
			return
		}
		chunk := audio.Int16ToBytes(r.in)
		r.buf.Write(chunk)
		if r.onChunk != nil {
			r.onChunk(chunk)
		}
	}
}

func (r *paRecording) halt() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Stop ends capture and returns the recorded audio.
func (r *paRecording) Stop() (types.Audio, error) {
	r.halt()
	a := types.Audio{PCM: r.buf.Bytes(), SampleRate: r.cfg.SampleRate, Channels: r.cfg.Channels}
	if r.readErr != nil && a.Empty() {
		return types.Audio{}, r.readErr
	}
	return a, nil
}

// Abort ends capture and drops the buffer.
func (r *paRecording) Abort() {
	r.halt()
	r.buf.Reset()
}
