package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/handsfree/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Providers.Transcriber.Options = map[string]any{"prompt": "names"}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("Diff of identical configs = %+v, want empty", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old := validConfig()
	new := validConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_HotSettings(t *testing.T) {
	t.Parallel()

	old := validConfig()
	new := validConfig()
	new.VoiceMode.AmplitudeThreshold = 0.08
	new.SpeakBack.Gap = 500 * time.Millisecond

	d := config.Diff(old, new)
	if !d.VADChanged {
		t.Error("VADChanged = false, want true")
	}
	if !d.GapChanged || d.NewGap != 500*time.Millisecond {
		t.Errorf("gap diff = %v/%v, want true/500ms", d.GapChanged, d.NewGap)
	}
	if d.Empty() {
		t.Error("Empty() = true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old := validConfig()
	new := validConfig()
	new.Server.ListenAddr = ":9999"
	new.Providers.Transcriber.Model = "large-v3"
	new.VoiceMode.SampleRate = 48000

	d := config.Diff(old, new)
	for _, want := range []string{"server.listen_addr", "providers", "voice_mode.sample_rate"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if d.VADChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}

func TestDiff_ProviderOptions(t *testing.T) {
	t.Parallel()

	old := validConfig()
	old.Providers.TTS.Options = map[string]any{"stability": 0.5}
	new := validConfig()
	new.Providers.TTS.Options = map[string]any{"stability": 0.7}

	if d := config.Diff(old, new); !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("RestartRequired = %v, want providers", d.RestartRequired)
	}
}
