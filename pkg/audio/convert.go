// Package audio holds PCM helpers shared by the capture layer and the
// transcription backends: format conversion, level metering and WAV encoding.
//
// All functions operate on signed 16-bit little-endian PCM, the format the
// microphone capture produces and every speech backend accepts.
package audio

import (
	"fmt"
	"log/slog"

	"github.com/HeroTools/open-whispr-sub004/pkg/types"
)

// Format describes the sample rate and channel count of an audio buffer.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is what every backend is fed: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Convert returns a in the target format. Channels are folded down before
// resampling so that only one channel is interpolated. A buffer that already
// matches is returned unchanged. Odd byte counts are truncated to whole
// samples.
func Convert(a types.Audio, target Format) types.Audio {
	pcm := a.PCM
	if len(pcm)%2 != 0 {
		slog.Warn("audio: odd byte count in PCM data, truncating", "bytes", len(pcm))
		pcm = pcm[:len(pcm)-1]
	}
	src := Format{SampleRate: a.SampleRate, Channels: a.Channels}
	if src == target {
		return types.Audio{PCM: pcm, SampleRate: a.SampleRate, Channels: a.Channels}
	}

	channels := src.Channels
	if channels == 2 && target.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}
	if channels == 1 && src.SampleRate != target.SampleRate {
		pcm = ResampleMono16(pcm, src.SampleRate, target.SampleRate)
	}

	slog.Debug("audio: converted buffer", "from", src.String(), "to", target.String())
	return types.Audio{PCM: pcm, SampleRate: target.SampleRate, Channels: channels}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, or either rate is invalid, the input is
// returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Int16ToBytes packs samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// ToFloat32 converts PCM samples to float32 in [-1.0, 1.0), the input format
// of in-process inference engines.
func ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
