package audio

import (
	"encoding/binary"
	"math"
)

// SilenceRMS is the root-mean-square level (in 16-bit PCM units) below which a
// buffer is treated as silence. The maximum for 16-bit audio is 32767.
const SilenceRMS = 300.0

// RMS returns the root-mean-square energy of 16-bit PCM. Returns 0 for buffers
// shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// IsSilent reports whether the whole buffer stays below SilenceRMS.
func IsSilent(pcm []byte) bool {
	return RMS(pcm) < SilenceRMS
}
