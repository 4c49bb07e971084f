package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

const bitDepth = 16

// WriteWAV encodes a as a 16-bit PCM WAV stream into w. The encoder patches
// the RIFF header on close, so w must be seekable.
func WriteWAV(w io.WriteSeeker, a types.Audio) error {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return fmt.Errorf("audio: invalid format %dHz/%dch", a.SampleRate, a.Channels)
	}
	enc := wav.NewEncoder(w, a.SampleRate, bitDepth, a.Channels, 1)
	n := len(a.PCM) / 2
	data := make([]int, n)
	for i := range n {
		data[i] = int(int16(a.PCM[i*2]) | int16(a.PCM[i*2+1])<<8)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: a.Channels, SampleRate: a.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV returns a as an in-memory WAV file, ready for a multipart upload.
func EncodeWAV(a types.Audio) ([]byte, error) {
	var ws memFile
	if err := WriteWAV(&ws, a); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// WriteWAVFile writes a to path, replacing any existing file.
func WriteWAVFile(path string, a types.Audio) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	if err := WriteWAV(f, a); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadWAVFile decodes a 16-bit PCM WAV file.
func ReadWAVFile(path string) (types.Audio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Audio{}, fmt.Errorf("audio: read %s: %w", path, err)
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return types.Audio{}, fmt.Errorf("audio: %s is not a valid wav file", path)
	}
	if dec.BitDepth != bitDepth {
		return types.Audio{}, fmt.Errorf("audio: %s has %d-bit samples, want %d", path, dec.BitDepth, bitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return types.Audio{}, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return types.Audio{
		PCM:        Int16ToBytes(samples),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

// memFile is an in-memory io.WriteSeeker.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
