// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{pcm1, pcm2}}
//	stream, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	Ctx   context.Context
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is emitted, in order, on every returned channel.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// StreamErr, if non-nil, fails every stream after its chunks are sent.
	StreamErr error

	// Gate, when non-nil, delays each chunk until a value is received or the
	// gate is closed.
	Gate chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// FormatResult is returned by Format. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// Texts records every text fragment consumed, across all calls.
	Texts []string
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// stream that emits SynthesizeChunks then closes, failing with StreamErr when
// set. Text fragments are drained and recorded in Texts.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (*tts.Stream, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Voice: voice})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	gate := p.Gate
	streamErr := p.StreamErr
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	stream := tts.NewStream(ch)
	go func() {
		defer close(ch)
		for s := range text {
			p.mu.Lock()
			p.Texts = append(p.Texts, s)
			p.mu.Unlock()
		}
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
		stream.Fail(streamErr)
	}()
	return stream, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FormatResult.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return p.FormatResult
}

// CallCount returns how many times SynthesizeStream was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// ConsumedText returns a snapshot of Texts.
func (p *Provider) ConsumedText() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Texts...)
}
