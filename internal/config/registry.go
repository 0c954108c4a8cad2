package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
	"github.com/MrWong99/handsfree/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to constructors for each provider kind.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	microphones map[string]func(ProviderEntry) (audio.Microphone, error)
	speakers    map[string]func(ProviderEntry) (audio.Speaker, error)
	transcriber map[string]func(ProviderEntry) (transcribe.Provider, error)
	tts         map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		microphones: make(map[string]func(ProviderEntry) (audio.Microphone, error)),
		speakers:    make(map[string]func(ProviderEntry) (audio.Speaker, error)),
		transcriber: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
		tts:         make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterMicrophone registers a capture device factory under name. A later
// registration under the same name replaces the earlier one.
func (r *Registry) RegisterMicrophone(name string, factory func(ProviderEntry) (audio.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphones[name] = factory
}

// RegisterSpeaker registers a playback device factory under name.
func (r *Registry) RegisterSpeaker(name string, factory func(ProviderEntry) (audio.Speaker, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speakers[name] = factory
}

// RegisterTranscriber registers a transcription gateway factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterTTS registers a speech synthesis factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateMicrophone instantiates the capture device registered under
// entry.Name. It returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateMicrophone(entry ProviderEntry) (audio.Microphone, error) {
	return create(r, r.microphones, "microphone", entry)
}

// CreateSpeaker instantiates the playback device registered under entry.Name.
func (r *Registry) CreateSpeaker(entry ProviderEntry) (audio.Speaker, error) {
	return create(r, r.speakers, "speaker", entry)
}

// CreateTranscriber instantiates the gateway registered under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (transcribe.Provider, error) {
	return create(r, r.transcriber, "transcriber", entry)
}

// CreateTTS instantiates the synthesizer registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

func create[T any](r *Registry, factories map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
