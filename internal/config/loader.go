package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultSampleRate = 16000
)

// ValidProviderNames lists known provider names per provider kind. [Validate]
// warns about names not listed here.
var ValidProviderNames = map[string][]string{
	"microphone":  {"portaudio", "discord"},
	"speaker":     {"portaudio", "discord"},
	"tts":         {"elevenlabs"},
	"transcriber": {"whisper", "whisper-native", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills settings whose zero value is not usable. Voice mode
// tuning is left at zero; the controller supplies its own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.VoiceMode.SampleRate == 0 {
		cfg.VoiceMode.SampleRate = DefaultSampleRate
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	vm := cfg.VoiceMode
	if vm.AmplitudeThreshold < 0 || vm.AmplitudeThreshold > 1 {
		errs = append(errs, fmt.Errorf("voice_mode.amplitude_threshold %.3f is out of range [0, 1]", vm.AmplitudeThreshold))
	}
	for _, d := range []struct {
		field string
		value int64
	}{
		{"min_speech", int64(vm.MinSpeech)},
		{"min_silence", int64(vm.MinSilence)},
		{"tick_interval", int64(vm.TickInterval)},
		{"transcribe_timeout", int64(vm.TranscribeTimeout)},
		{"window_samples", int64(vm.WindowSamples)},
		{"min_clip_bytes", int64(vm.MinClipBytes)},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("voice_mode.%s must not be negative", d.field))
		}
	}
	if vm.SampleRate < 8000 || vm.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("voice_mode.sample_rate %d is out of range [8000, 48000]", vm.SampleRate))
	}

	p := cfg.Providers
	if p.Microphone.Name == "" {
		errs = append(errs, errors.New("providers.microphone.name is required"))
	}
	if p.Transcriber.Name == "" {
		errs = append(errs, errors.New("providers.transcriber.name is required"))
	}
	for i, fb := range p.FallbackTranscribers {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallback_transcribers[%d].name is required", i))
		}
	}
	if p.TTS.Name != "" && p.Speaker.Name == "" {
		errs = append(errs, errors.New("providers.speaker is required when providers.tts is configured"))
	}
	if p.Speaker.Name != "" && p.TTS.Name == "" {
		slog.Warn("config: providers.speaker is set without providers.tts; speak-back stays disabled")
	}
	if p.TTS.Name != "" && cfg.SpeakBack.VoiceID == "" {
		errs = append(errs, errors.New("speak_back.voice_id is required when providers.tts is configured"))
	}
	if cfg.SpeakBack.Gap < 0 {
		errs = append(errs, errors.New("speak_back.gap must not be negative"))
	}

	validateProviderName("microphone", p.Microphone.Name)
	validateProviderName("speaker", p.Speaker.Name)
	validateProviderName("tts", p.TTS.Name)
	validateProviderName("transcriber", p.Transcriber.Name)
	for _, fb := range p.FallbackTranscribers {
		validateProviderName("transcriber", fb.Name)
	}

	if p.Microphone.Name == "discord" || p.Speaker.Name == "discord" {
		d := cfg.Discord
		if d.Token == "" || d.GuildID == "" || d.ChannelID == "" {
			errs = append(errs, errors.New("discord.token, discord.guild_id and discord.channel_id are required for the discord microphone or speaker"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName warns if name is non-empty and not listed in
// [ValidProviderNames] for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
