package main

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/handsfree/internal/config"
	"github.com/MrWong99/handsfree/pkg/audio"
	audiomock "github.com/MrWong99/handsfree/pkg/audio/mock"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
	transcribemock "github.com/MrWong99/handsfree/pkg/provider/transcribe/mock"
	"github.com/MrWong99/handsfree/pkg/provider/tts"
	ttsmock "github.com/MrWong99/handsfree/pkg/provider/tts/mock"
)

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"language": "de",
		"threads":  4,
		"rate":     16000.0,
		"frame":    "20ms",
		"timeout":  1500,
		"bad":      "soon",
	}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString = %q, want de", got)
	}
	if got := optString(opts, "threads"); got != "" {
		t.Errorf("optString(non-string) = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if got := optStringOr(opts, "missing", "en"); got != "en" {
		t.Errorf("optStringOr = %q, want en", got)
	}
	if got := optInt(opts, "threads"); got != 4 {
		t.Errorf("optInt(int) = %d, want 4", got)
	}
	if got := optInt(opts, "rate"); got != 16000 {
		t.Errorf("optInt(float) = %d, want 16000", got)
	}
	if got := optDuration(opts, "frame"); got != 20*time.Millisecond {
		t.Errorf("optDuration(string) = %v, want 20ms", got)
	}
	if got := optDuration(opts, "timeout"); got != 1500*time.Millisecond {
		t.Errorf("optDuration(int) = %v, want 1.5s", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration(invalid) = %v, want 0", got)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	cfg := &config.Config{}
	link := registerBuiltinProviders(context.Background(), reg, cfg)
	if err := link.Close(); err != nil {
		t.Errorf("Close on an undialed link = %v", err)
	}

	// Factories that validate their input fail without touching a device
	// or the network.
	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "openai"}); err == nil || errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("openai without api key: err = %v, want a validation error", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs"}); err == nil || errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("elevenlabs without api key: err = %v, want a validation error", err)
	}
	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8081"}); err != nil {
		t.Errorf("whisper: %v", err)
	}
	if _, err := reg.CreateMicrophone(config.ProviderEntry{Name: "portaudio"}); err != nil {
		t.Errorf("portaudio microphone: %v", err)
	}
}

func TestBuiltinProvidersMatchConfig(t *testing.T) {
	t.Parallel()

	for kind, names := range builtinProviders {
		for _, name := range names {
			if !slices.Contains(config.ValidProviderNames[kind], name) {
				t.Errorf("%s/%s is registered but not a valid config name", kind, name)
			}
		}
	}
}

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterMicrophone("mock", func(config.ProviderEntry) (audio.Microphone, error) { return &audiomock.Microphone{}, nil })
	reg.RegisterSpeaker("mock", func(config.ProviderEntry) (audio.Speaker, error) { return &audiomock.Speaker{}, nil })
	reg.RegisterTranscriber("mock", func(config.ProviderEntry) (transcribe.Provider, error) { return &transcribemock.Provider{}, nil })
	reg.RegisterTranscriber("broken", func(config.ProviderEntry) (transcribe.Provider, error) { return nil, errors.New("no model") })
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "voice-1", Name: "Ada"}}}, nil
	})
	reg.RegisterTTS("offline", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{ListVoicesErr: errors.New("no network")}, nil
	})
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		Microphone:  config.ProviderEntry{Name: "mock"},
		Transcriber: config.ProviderEntry{Name: "mock"},
		FallbackTranscribers: []config.ProviderEntry{
			{Name: "broken"},
			{Name: "mock"},
			{Name: "mock"},
		},
		TTS:     config.ProviderEntry{Name: "mock"},
		Speaker: config.ProviderEntry{Name: "mock"},
	}, SpeakBack: config.SpeakBackConfig{VoiceID: "voice-1"}}

	ps, err := buildProviders(context.Background(), cfg, mockRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	var names []string
	for _, fb := range ps.Fallbacks {
		names = append(names, fb.Name)
	}
	if want := []string{"mock-2", "mock-3"}; !slices.Equal(names, want) {
		t.Errorf("fallback names = %v, want %v", names, want)
	}
	if ps.TTS == nil || ps.Speaker == nil || ps.TTSName != "mock" {
		t.Errorf("speak-back not wired: %+v", ps)
	}
	if ps.Voice.ID != "voice-1" || ps.Voice.Name != "Ada" {
		t.Errorf("voice = %+v, want the resolved profile", ps.Voice)
	}
}

func TestBuildProviders_SpeakBackVoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		tts       string
		voiceID   string
		wantSpeak bool
		wantName  string
	}{
		{"offered voice", "mock", "voice-1", true, "Ada"},
		{"unknown voice", "mock", "nobody", false, ""},
		{"lookup fails", "offline", "voice-9", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{
				Providers: config.ProvidersConfig{
					Microphone:  config.ProviderEntry{Name: "mock"},
					Transcriber: config.ProviderEntry{Name: "mock"},
					TTS:         config.ProviderEntry{Name: tt.tts},
					Speaker:     config.ProviderEntry{Name: "mock"},
				},
				SpeakBack: config.SpeakBackConfig{VoiceID: tt.voiceID},
			}
			ps, err := buildProviders(context.Background(), cfg, mockRegistry())
			if err != nil {
				t.Fatalf("buildProviders: %v", err)
			}
			if got := ps.TTS != nil; got != tt.wantSpeak {
				t.Fatalf("speak-back enabled = %v, want %v", got, tt.wantSpeak)
			}
			if !tt.wantSpeak {
				return
			}
			if ps.Voice.ID != tt.voiceID || ps.Voice.Name != tt.wantName {
				t.Errorf("voice = %+v", ps.Voice)
			}
		})
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    config.ProvidersConfig
	}{
		{"unknown microphone", config.ProvidersConfig{
			Microphone:  config.ProviderEntry{Name: "nope"},
			Transcriber: config.ProviderEntry{Name: "mock"},
		}},
		{"broken transcriber", config.ProvidersConfig{
			Microphone:  config.ProviderEntry{Name: "mock"},
			Transcriber: config.ProviderEntry{Name: "broken"},
		}},
		{"unknown tts", config.ProvidersConfig{
			Microphone:  config.ProviderEntry{Name: "mock"},
			Transcriber: config.ProviderEntry{Name: "mock"},
			TTS:         config.ProviderEntry{Name: "nope"},
			Speaker:     config.ProviderEntry{Name: "mock"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := buildProviders(context.Background(), &config.Config{Providers: tt.p}, mockRegistry()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildProviders_SpeakBackUnavailable(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		Microphone:  config.ProviderEntry{Name: "mock"},
		Transcriber: config.ProviderEntry{Name: "mock"},
		TTS:         config.ProviderEntry{Name: "mock"},
		Speaker:     config.ProviderEntry{Name: "nope"},
	}, SpeakBack: config.SpeakBackConfig{VoiceID: "voice-1"}}
	ps, err := buildProviders(context.Background(), cfg, mockRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.TTS != nil || ps.Speaker != nil {
		t.Error("speak-back wired without a speaker")
	}
}
