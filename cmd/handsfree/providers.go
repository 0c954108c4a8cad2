package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/handsfree/internal/app"
	"github.com/MrWong99/handsfree/internal/config"
	"github.com/MrWong99/handsfree/internal/speech"
	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/audio/discord"
	"github.com/MrWong99/handsfree/pkg/audio/portaudio"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
	oaitranscribe "github.com/MrWong99/handsfree/pkg/provider/transcribe/openai"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe/whisper"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe/whispercpp"
	"github.com/MrWong99/handsfree/pkg/provider/tts"
	"github.com/MrWong99/handsfree/pkg/provider/tts/elevenlabs"
)

// voiceLookupTimeout bounds the startup check of the speak-back voice.
const voiceLookupTimeout = 10 * time.Second

// builtinProviders lists the names registered by registerBuiltinProviders.
var builtinProviders = map[string][]string{
	"microphone":  {"portaudio", "discord"},
	"speaker":     {"portaudio", "discord"},
	"transcriber": {"whisper", "whisper-native", "openai"},
	"tts":         {"elevenlabs"},
}

// discordLink dials the voice channel on first use so the microphone and the
// speaker share one connection.
type discordLink struct {
	ctx context.Context
	cfg discord.Config

	once  sync.Once
	voice *discord.Voice
	err   error
}

func (l *discordLink) get() (*discord.Voice, error) {
	l.once.Do(func() {
		l.voice, l.err = discord.Dial(l.ctx, l.cfg)
		if l.err == nil {
			slog.Info("discord voice connected", "guild_id", l.cfg.GuildID, "channel_id", l.cfg.ChannelID)
		}
	})
	return l.voice, l.err
}

// Close leaves the voice channel if it was joined.
func (l *discordLink) Close() error {
	if l.voice == nil {
		return nil
	}
	return l.voice.Close()
}

// registerBuiltinProviders registers every built-in factory on reg. The
// returned link owns the Discord connection, if one gets dialed.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, cfg *config.Config) *discordLink {
	link := &discordLink{
		ctx: ctx,
		cfg: discord.Config{
			Token:     cfg.Discord.Token,
			GuildID:   cfg.Discord.GuildID,
			ChannelID: cfg.Discord.ChannelID,
		},
	}
	lang := cfg.VoiceMode.Language

	// ── Microphones ──────────────────────────────────────────────────────

	reg.RegisterMicrophone("portaudio", func(entry config.ProviderEntry) (audio.Microphone, error) {
		var opts []portaudio.MicOption
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, portaudio.WithSampleRate(rate))
		}
		if d := optDuration(entry.Options, "frame_size"); d > 0 {
			opts = append(opts, portaudio.WithFrameSize(d))
		}
		return portaudio.NewMicrophone(opts...), nil
	})

	reg.RegisterMicrophone("discord", func(config.ProviderEntry) (audio.Microphone, error) {
		v, err := link.get()
		if err != nil {
			return nil, err
		}
		return v.Microphone(), nil
	})

	// ── Speakers ─────────────────────────────────────────────────────────

	reg.RegisterSpeaker("portaudio", func(entry config.ProviderEntry) (audio.Speaker, error) {
		f := audio.Format{SampleRate: 48000, Channels: 1}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			f.SampleRate = rate
		}
		if ch := optInt(entry.Options, "channels"); ch > 0 {
			f.Channels = ch
		}
		return portaudio.NewSpeaker(f)
	})

	reg.RegisterSpeaker("discord", func(config.ProviderEntry) (audio.Speaker, error) {
		v, err := link.get()
		if err != nil {
			return nil, err
		}
		return v.Speaker(), nil
	})

	// ── Transcribers ─────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if l := optStringOr(entry.Options, "language", lang); l != "" {
			opts = append(opts, whisper.WithLanguage(l))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whispercpp.Option
		if l := optStringOr(entry.Options, "language", lang); l != "" {
			opts = append(opts, whispercpp.WithLanguage(l))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whispercpp.WithThreads(uint(n)))
		}
		return whispercpp.New(modelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []oaitranscribe.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitranscribe.WithBaseURL(entry.BaseURL))
		}
		if l := optStringOr(entry.Options, "language", lang); l != "" {
			opts = append(opts, oaitranscribe.WithLanguage(l))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaitranscribe.WithTimeout(d))
		}
		return oaitranscribe.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ──────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
	return link
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
//
// When speak-back is configured, the voice is checked against the voices the
// TTS provider offers. An unknown voice disables speak-back; a failed lookup
// only warns and keeps the configured ID.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	p := cfg.Providers

	mic, err := reg.CreateMicrophone(p.Microphone)
	if err != nil {
		return nil, fmt.Errorf("create microphone %q: %w", p.Microphone.Name, err)
	}
	ps.Microphone = mic
	slog.Info("provider created", "kind", "microphone", "name", p.Microphone.Name)

	tr, err := reg.CreateTranscriber(p.Transcriber)
	if err != nil {
		return nil, fmt.Errorf("create transcriber %q: %w", p.Transcriber.Name, err)
	}
	ps.Transcriber = app.Named{Name: p.Transcriber.Name, Provider: tr}
	ps.Closers = append(ps.Closers, app.CloserOf(tr))
	slog.Info("provider created", "kind", "transcriber", "name", p.Transcriber.Name)

	for i, entry := range p.FallbackTranscribers {
		fb, err := reg.CreateTranscriber(entry)
		if err != nil {
			// A broken fallback must not keep the primary from serving.
			slog.Warn("fallback transcriber skipped", "index", i, "name", entry.Name, "err", err)
			continue
		}
		ps.Fallbacks = append(ps.Fallbacks, app.Named{Name: fallbackName(entry.Name, ps), Provider: fb})
		ps.Closers = append(ps.Closers, app.CloserOf(fb))
		slog.Info("provider created", "kind", "transcriber", "name", entry.Name, "fallback", true)
	}

	if p.TTS.Name == "" {
		return ps, nil
	}
	synth, err := reg.CreateTTS(p.TTS)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return nil, fmt.Errorf("create tts %q: %w", p.TTS.Name, err)
	} else if err != nil {
		slog.Warn("speak-back disabled: tts unavailable", "name", p.TTS.Name, "err", err)
		return ps, nil
	}
	voice, err := resolveVoice(ctx, synth, cfg.SpeakBack.VoiceID)
	if errors.Is(err, speech.ErrUnknownVoice) {
		slog.Warn("speak-back disabled: voice not offered by tts", "name", p.TTS.Name, "voice_id", cfg.SpeakBack.VoiceID)
		return ps, nil
	} else if err != nil {
		slog.Warn("could not verify speak-back voice", "name", p.TTS.Name, "voice_id", cfg.SpeakBack.VoiceID, "err", err)
		voice = tts.VoiceProfile{ID: cfg.SpeakBack.VoiceID, Provider: p.TTS.Name}
	}
	spk, err := reg.CreateSpeaker(p.Speaker)
	if err != nil {
		slog.Warn("speak-back disabled: speaker unavailable", "name", p.Speaker.Name, "err", err)
		return ps, nil
	}
	ps.Voice = voice
	ps.TTS = synth
	ps.TTSName = p.TTS.Name
	ps.Speaker = spk
	ps.Closers = append(ps.Closers, spk.Close)
	slog.Info("provider created", "kind", "tts", "name", p.TTS.Name)
	slog.Info("provider created", "kind", "speaker", "name", p.Speaker.Name)
	return ps, nil
}

func resolveVoice(ctx context.Context, p tts.Provider, id string) (tts.VoiceProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, voiceLookupTimeout)
	defer cancel()
	return speech.ResolveVoice(ctx, p, id)
}

// fallbackName keeps gateway names unique so each gets its own breaker and
// metric series.
func fallbackName(name string, ps *app.Providers) string {
	taken := func(n string) bool {
		if n == ps.Transcriber.Name {
			return true
		}
		for _, fb := range ps.Fallbacks {
			if fb.Name == n {
				return true
			}
		}
		return false
	}
	unique := name
	for i := 2; taken(unique); i++ {
		unique = fmt.Sprintf("%s-%d", name, i)
	}
	return unique
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optStringOr(opts map[string]any, key, fallback string) string {
	if s := optString(opts, key); s != "" {
		return s
	}
	return fallback
}

// optInt accepts YAML integers and whole floats.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration accepts duration strings ("20ms") and plain milliseconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}
