// Package mock provides a configurable [transcribe.Provider] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
)

var _ transcribe.Provider = (*Provider)(nil)

// Provider is a mock implementation of [transcribe.Provider].
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err is returned by Transcribe.
	Err error

	// Gate, when non-nil, makes Transcribe block until a value is received or
	// the gate is closed (or ctx is done), so tests can hold a clip in flight.
	Gate chan struct{}

	// Calls records every clip passed to Transcribe.
	Calls []audio.Clip
}

// Transcribe implements [transcribe.Provider].
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, clip)
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}

// CallCount returns how many times Transcribe was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Set replaces the result returned by subsequent calls.
func (p *Provider) Set(text string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Text, p.Err = text, err
}

// ResetCalls clears the recorded calls.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
