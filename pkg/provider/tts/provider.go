// Package tts defines the Provider interface for the text-to-speech backends
// that voice assistant replies.
//
// SynthesizeStream accepts a channel of text fragments and returns a [Stream]
// of raw PCM chunks as they become available, so speak-back can start before
// the whole reply is synthesized.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/handsfree/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments and returns a stream of int16 LE
	// PCM chunks in [Provider.Format].
	//
	// Stream.Audio is closed when all text has been synthesized or ctx is
	// cancelled. The caller must drain it. A non-nil error means the stream
	// could not be started. A failure mid-stream closes Audio early and is
	// reported by [Stream.Err].
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (*Stream, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format reports the PCM layout of synthesized audio.
	Format() audio.Format
}

// Stream is one running synthesis.
type Stream struct {
	// Audio carries the synthesized PCM. The producer closes it.
	Audio <-chan []byte

	err atomic.Pointer[error]
}

// NewStream wraps a producer's audio channel.
func NewStream(ch <-chan []byte) *Stream {
	return &Stream{Audio: ch}
}

// Err returns the backend failure that ended Audio early, or nil. Cancelling
// the synthesis context is not a failure. Read it after Audio is closed.
func (s *Stream) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Fail records err as the reason Audio ended early. The producer calls it
// before closing Audio. Nil errors are ignored and the first failure wins.
func (s *Stream) Fail(err error) {
	if err != nil {
		s.err.CompareAndSwap(nil, &err)
	}
}
