package voicemode

import (
	"encoding/binary"
	"math"
	"sync"
)

// DefaultWindowSamples is the default RMS window: 64 ms at 16 kHz.
const DefaultWindowSamples = 1024

// Sampler keeps a rolling window of the most recent int16 samples and reports
// their RMS energy on demand. Both the window and the write path are
// allocation-free after construction.
//
// Write and Sample may be called from different goroutines.
type Sampler struct {
	mu     sync.Mutex
	window []int16
	pos    int
	filled int
}

// NewSampler returns a Sampler over the last n samples. n <= 0 selects
// [DefaultWindowSamples].
func NewSampler(n int) *Sampler {
	if n <= 0 {
		n = DefaultWindowSamples
	}
	return &Sampler{window: make([]int16, n)}
}

// Write appends int16 LE mono PCM to the window, overwriting the oldest
// samples. A trailing odd byte is ignored.
func (s *Sampler) Write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.window)
	for i := 0; i+1 < len(pcm); i += 2 {
		s.window[s.pos] = int16(binary.LittleEndian.Uint16(pcm[i:]))
		s.pos++
		if s.pos == n {
			s.pos = 0
		}
		if s.filled < n {
			s.filled++
		}
	}
}

// Sample returns the RMS of the buffered samples normalized to [0, 1], where a
// silent signal reads 0 and a full-scale square wave reads 1. It returns 0
// before any audio has been written.
func (s *Sampler) Sample() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filled == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.window[:s.filled] {
		f := float64(v) / 32768.0
		sum += f * f
	}
	return math.Min(math.Sqrt(sum/float64(s.filled)), 1)
}

// Reset forgets all buffered samples.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.filled = 0
}
