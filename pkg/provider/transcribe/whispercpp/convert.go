package whispercpp

import "encoding/binary"

// pcmToFloat32 converts int16 LE PCM to float32 samples in [-1, 1]. A trailing
// odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}
