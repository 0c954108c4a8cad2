package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/handsfree/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "handsfree.yaml")
	writeFile(t, path, minimalYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Transcriber.Name != "whisper" {
		t.Errorf("Transcriber = %q, want whisper", cfg.Providers.Transcriber.Name)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestValidate_DiscordComplete(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Providers.Microphone.Name = "discord"
	cfg.Providers.Speaker.Name = "discord"
	cfg.Providers.TTS.Name = "elevenlabs"
	cfg.SpeakBack.VoiceID = "rachel"
	cfg.Discord = config.DiscordConfig{Token: "t", GuildID: "g", ChannelID: "c"}

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownProviderIsNotAnError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Providers.Transcriber.Name = "my-custom-gateway"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
