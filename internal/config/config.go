// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry of handsfree.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	VoiceMode VoiceModeConfig `yaml:"voice_mode"`
	Providers ProvidersConfig `yaml:"providers"`
	SpeakBack SpeakBackConfig `yaml:"speak_back"`
	Discord   DiscordConfig   `yaml:"discord"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns (e.g. "chat.example.com") allowed to
	// open the UI WebSocket cross-origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// VoiceModeConfig tunes the hands-free recording controller. Zero values take
// the controller defaults.
type VoiceModeConfig struct {
	// AmplitudeThreshold is the normalized RMS that counts as speech.
	AmplitudeThreshold float64 `yaml:"amplitude_threshold"`

	// MinSpeech is how long speech must last before a recording opens.
	MinSpeech time.Duration `yaml:"min_speech"`

	// MinSilence is how long silence must last before a recording closes.
	MinSilence time.Duration `yaml:"min_silence"`

	// TickInterval paces the monitoring loop.
	TickInterval time.Duration `yaml:"tick_interval"`

	// WindowSamples is the energy analysis window size.
	WindowSamples int `yaml:"window_samples"`

	// MinClipBytes is the noise floor for finished clips.
	MinClipBytes int `yaml:"min_clip_bytes"`

	// SampleRate is the capture rate clips are encoded at. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// TranscribeTimeout bounds each transcription. Zero means no deadline.
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`

	// Language is the transcription language hint (e.g. "en").
	Language string `yaml:"language"`

	// EnableOnStart turns voice mode on at boot.
	EnableOnStart bool `yaml:"enable_on_start"`
}

// ProvidersConfig selects the implementation of each external collaborator.
// Each entry names a factory registered in the [Registry].
type ProvidersConfig struct {
	Microphone ProviderEntry `yaml:"microphone"`
	Speaker    ProviderEntry `yaml:"speaker"`
	TTS        ProviderEntry `yaml:"tts"`

	// Transcriber is the preferred transcription gateway.
	Transcriber ProviderEntry `yaml:"transcriber"`

	// FallbackTranscribers are tried in order when the preferred gateway
	// fails or its circuit is open.
	FallbackTranscribers []ProviderEntry `yaml:"fallback_transcribers"`

	// CircuitBreaker tunes the per-gateway breakers.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "whisper", "portaudio").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider, or a model file for
	// in-process engines.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig mirrors the resilience breaker knobs.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// SpeakBackConfig configures assistant reply playback. Speak-back is enabled
// when providers.tts is set.
type SpeakBackConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Gap is the pause between consecutive replies.
	Gap time.Duration `yaml:"gap"`

	// QueueCapacity is the initial capacity of the reply queue.
	QueueCapacity int `yaml:"queue_capacity"`
}

// DiscordConfig identifies the voice channel used by the "discord"
// microphone and speaker.
type DiscordConfig struct {
	// Token is the bot token without the "Bot " prefix.
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}
