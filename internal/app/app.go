// Package app wires all handsfree subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the voice controller,
// the speak-back pipeline and the HTTP surface from the config and the
// providers main.go created; Run serves until the context is cancelled; and
// Shutdown tears everything down in order.
//
// For testing, inject doubles through [Providers] and the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/handsfree/internal/config"
	"github.com/MrWong99/handsfree/internal/health"
	"github.com/MrWong99/handsfree/internal/hub"
	"github.com/MrWong99/handsfree/internal/observe"
	"github.com/MrWong99/handsfree/internal/resilience"
	"github.com/MrWong99/handsfree/internal/speech"
	"github.com/MrWong99/handsfree/internal/voicemode"
	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/audio/playback"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
	"github.com/MrWong99/handsfree/pkg/provider/tts"
)

// Named pairs a transcription gateway with the name it was registered under.
type Named struct {
	Name     string
	Provider transcribe.Provider
}

// Providers holds the external collaborators. Microphone and Transcriber are
// required; speak-back is enabled when both TTS and Speaker are set.
// Populated by main.go via the config registry.
type Providers struct {
	Microphone  audio.Microphone
	Transcriber Named
	Fallbacks   []Named
	TTS         tts.Provider
	TTSName     string
	Speaker     audio.Speaker

	// Voice is the resolved speak-back voice. When its ID is empty the
	// configured speak_back.voice_id is used as is.
	Voice tts.VoiceProfile

	// Closers release provider resources (device handles, native models,
	// platform connections) during Shutdown, after the subsystems stopped.
	Closers []func() error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar
	sched     voicemode.Scheduler
	watcher   *config.Watcher

	// Subsystems, initialised in New and torn down in Shutdown.
	transcriber *resilience.Transcriber
	player      *playback.Queue
	speaker     *speech.Speaker
	voice       *voicemode.Controller
	hub         *hub.Hub
	health      *health.Handler
	handler     http.Handler

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithScheduler overrides how the voice mode loop is driven.
func WithScheduler(s voicemode.Scheduler) Option {
	return func(a *App) { a.sched = s }
}

// WithWatcher runs w during [App.Run] and applies its reloads. The watcher
// must have been created with [App.Reload] as its callback, or the caller
// must forward changes some other way.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Microphone == nil {
		return nil, errors.New("app: a microphone is required")
	}
	if providers.Transcriber.Provider == nil {
		return nil, errors.New("app: a transcriber is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcription gateway chain ──────────────────────────────────
	a.initTranscriber()

	// ── 2. Speak-back ───────────────────────────────────────────────────
	a.initSpeakBack()

	// ── 3. Voice mode controller + UI hub ───────────────────────────────
	a.initVoice()

	// ── 4. HTTP surface ─────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTranscriber() {
	cb := a.cfg.Providers.CircuitBreaker
	p := a.providers.Transcriber
	a.transcriber = resilience.NewTranscriber(p.Provider, p.Name, resilience.CircuitBreakerConfig{
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		HalfOpenMax:  cb.HalfOpenMax,
	}, a.metrics)
	for _, fb := range a.providers.Fallbacks {
		a.transcriber.AddFallback(fb.Name, fb.Provider)
	}
	slog.Info("app: transcription chain ready", "gateways", len(a.providers.Fallbacks)+1, "primary", p.Name)
}

func (a *App) initSpeakBack() {
	p := a.providers
	if p.TTS == nil || p.Speaker == nil {
		slog.Info("app: speak-back disabled")
		return
	}

	sb := a.cfg.SpeakBack
	opts := []playback.Option{playback.WithQueueCapacity(sb.QueueCapacity)}
	if sb.Gap > 0 {
		opts = append(opts, playback.WithGap(sb.Gap))
	}
	out := p.Speaker
	a.player = playback.New(func(f audio.AudioFrame) {
		if err := out.Write(f); err != nil {
			slog.Warn("app: speaker write failed", "err", err)
		}
	}, opts...)

	voice := p.Voice
	if voice.ID == "" {
		voice = tts.VoiceProfile{ID: sb.VoiceID, Provider: p.TTSName}
	}
	a.speaker = speech.New(p.TTS, a.player, voice,
		speech.WithMetrics(a.metrics), speech.WithProviderName(p.TTSName))

	a.closers = append(a.closers, a.speaker.Close, a.player.Close)
	slog.Info("app: speak-back enabled", "provider", p.TTSName, "voice_id", voice.ID, "voice", voice.Name)
}

func (a *App) initVoice() {
	vm := a.cfg.VoiceMode

	// The hub and the controller refer to each other; the callbacks below
	// only run after both exist.
	var h *hub.Hub
	vcfg := voicemode.Config{
		VAD: vadConfig(vm),
		Session: voicemode.SessionConfig{
			Format:        audio.Format{SampleRate: vm.SampleRate, Channels: 1},
			WindowSamples: vm.WindowSamples,
		},
		TickInterval:      vm.TickInterval,
		MinClipBytes:      vm.MinClipBytes,
		TranscribeTimeout: vm.TranscribeTimeout,
		OnTranscription: func(t voicemode.Transcript) {
			slog.Info("app: transcript", "utterance_id", t.ID, "chars", len(t.Text), "duration", t.Duration)
			h.Transcript(t)
		},
		OnError:             func(msg string) { h.Error(msg) },
		ShouldHoldRecording: func() bool { return h.Held() },
	}
	if a.speaker != nil {
		vcfg.OnInterrupt = a.speaker.InterruptForUser
	}

	vopts := []voicemode.Option{voicemode.WithMetrics(a.metrics)}
	if a.sched != nil {
		vopts = append(vopts, voicemode.WithScheduler(a.sched))
	}
	a.voice = voicemode.New(a.providers.Microphone, a.transcriber, vcfg, vopts...)

	hopts := []hub.Option{hub.WithMetrics(a.metrics)}
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		hopts = append(hopts, hub.WithOriginPatterns(a.cfg.Server.AllowedOrigins...))
	}
	if a.speaker != nil {
		h = hub.New(a.voice, a.speaker, hopts...)
	} else {
		h = hub.New(a.voice, nil, hopts...)
	}
	a.hub = h

	a.closers = append(a.closers, a.voice.Close, a.hub.Close)
}

func (a *App) initHTTP() {
	a.health = health.New(
		health.WithChecker("transcriber", a.checkTranscriber),
		health.WithDetail("voice_mode", func() string { return a.voice.Status().Status.String() }),
		health.WithDetail("speak_back", func() string {
			if a.speaker == nil {
				return "disabled"
			}
			if a.speaker.Speaking() {
				return "speaking"
			}
			return "idle"
		}),
	)

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.Handle("GET /ws", a.hub)
	a.handler = observe.Middleware(a.metrics)(mux)
}

// checkTranscriber fails while every gateway's circuit is open.
func (a *App) checkTranscriber(context.Context) error {
	for _, st := range a.transcriber.States() {
		if st != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("all transcription gateways are unavailable")
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving /ws, /metrics, /healthz and /readyz.
func (a *App) Handler() http.Handler { return a.handler }

// Voice returns the voice mode controller.
func (a *App) Voice() *voicemode.Controller { return a.voice }

// Hub returns the UI hub.
func (a *App) Hub() *hub.Hub { return a.hub }

// Speaker returns the speak-back speaker, or nil when speak-back is disabled.
func (a *App) Speaker() *speech.Speaker { return a.speaker }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like [App.Run] on an existing listener. It closes ln on return.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: http listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked WebSocket connections are not closed by Shutdown.
		_ = a.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.hub.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.cfg.VoiceMode.EnableOnStart {
		g.Go(func() error {
			if err := a.voice.Enable(gctx); err != nil {
				slog.Warn("app: enable on start failed", "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the settings of new that can change at runtime and warns
// about the rest. Pass it as the [config.Watcher] callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.VADChanged {
		a.voice.SetVAD(vadConfig(new.VoiceMode))
	}
	if d.GapChanged && a.player != nil {
		a.player.SetGap(d.NewGap)
		slog.Info("app: speak-back gap changed", "gap", d.NewGap)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart", "settings", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order, then releases the
// providers. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		closers := slices.Concat(a.closers, a.providers.Closers)
		slog.Info("app: shutting down", "closers", len(closers))

		for i, closer := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if closer == nil {
				continue
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func vadConfig(vm config.VoiceModeConfig) voicemode.VADConfig {
	return voicemode.VADConfig{
		Threshold:  vm.AmplitudeThreshold,
		MinSpeech:  vm.MinSpeech,
		MinSilence: vm.MinSilence,
	}
}

// ParseLevel maps a config log level to its slog level. Unknown values map
// to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CloserOf returns v's Close method as a closer when v implements
// [io.Closer], or nil.
func CloserOf(v any) func() error {
	if c, ok := v.(io.Closer); ok {
		return c.Close
	}
	return nil
}
