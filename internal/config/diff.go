package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs. Settings that can
// be applied to a running process are reported individually; everything else
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged reports a change of the detector thresholds.
	VADChanged bool

	GapChanged bool
	NewGap     time.Duration

	// RestartRequired names the changed settings that only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADChanged && !d.GapChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.VoiceMode, new.VoiceMode
	d.VADChanged = ov.AmplitudeThreshold != nv.AmplitudeThreshold ||
		ov.MinSpeech != nv.MinSpeech ||
		ov.MinSilence != nv.MinSilence

	if old.SpeakBack.Gap != new.SpeakBack.Gap {
		d.GapChanged = true
		d.NewGap = new.SpeakBack.Gap
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("voice_mode.tick_interval", ov.TickInterval != nv.TickInterval)
	restart("voice_mode.window_samples", ov.WindowSamples != nv.WindowSamples)
	restart("voice_mode.min_clip_bytes", ov.MinClipBytes != nv.MinClipBytes)
	restart("voice_mode.sample_rate", ov.SampleRate != nv.SampleRate)
	restart("voice_mode.transcribe_timeout", ov.TranscribeTimeout != nv.TranscribeTimeout)
	restart("voice_mode.language", ov.Language != nv.Language)
	restart("providers", !providersEqual(old.Providers, new.Providers))
	restart("speak_back.voice_id", old.SpeakBack.VoiceID != new.SpeakBack.VoiceID)
	restart("speak_back.queue_capacity", old.SpeakBack.QueueCapacity != new.SpeakBack.QueueCapacity)
	restart("discord", old.Discord != new.Discord)
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Microphone, b.Microphone) &&
		entryEqual(a.Speaker, b.Speaker) &&
		entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.Transcriber, b.Transcriber) &&
		slices.EqualFunc(a.FallbackTranscribers, b.FallbackTranscribers, entryEqual) &&
		a.CircuitBreaker == b.CircuitBreaker
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !scalarEqual(av, bv) {
			return false
		}
	}
	return true
}

// scalarEqual compares decoded YAML option values. Nested values are treated
// as changed.
func scalarEqual(a, b any) bool {
	switch a.(type) {
	case string, bool, int, float64:
		return a == b
	}
	return false
}
