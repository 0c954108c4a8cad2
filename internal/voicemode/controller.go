// Package voicemode implements the hands-free recording controller: it keeps a
// microphone open while voice mode is enabled, watches the signal energy tick
// by tick, opens a recording when sustained speech begins, closes it after
// sustained silence, and hands each finished clip to a transcriber.
//
// The pieces, leaves first:
//
//   - [Sampler]: rolling RMS energy over the latest captured samples.
//   - [Decide]: the pure voice activity decision over energy and time.
//   - [SessionManager]: owns the device stream, the sampler and the encoder.
//   - [Controller]: the state machine that drives everything and publishes
//     [Status] through a [Broadcaster].
//
// The monitoring loop is the only code path that starts or stops a
// recording. User speech always silences speak-back first: the controller
// calls OnInterrupt before any audio of the new utterance is captured.
package voicemode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/handsfree/internal/observe"
	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
)

// DefaultMinClipBytes is the encoded size below which a clip is treated as a
// false trigger and discarded without transcription.
const DefaultMinClipBytes = 1024

// Transcript is one accepted utterance.
type Transcript struct {
	// ID identifies the utterance; it matches the utterance_id log attribute.
	ID string

	// Text is the trimmed, non-empty transcript.
	Text string

	// Duration is the length of captured audio.
	Duration time.Duration
}

// Config configures a [Controller]. Callbacks may be nil.
type Config struct {
	// VAD holds the detector thresholds. Zero fields take the defaults.
	VAD VADConfig

	// Session configures the device session. Zero fields take the defaults.
	Session SessionConfig

	// TickInterval paces the monitoring loop. Defaults to [DefaultTickInterval].
	TickInterval time.Duration

	// MinClipBytes is the noise floor for finished clips, WAV header
	// included. Defaults to [DefaultMinClipBytes].
	MinClipBytes int

	// TranscribeTimeout bounds each transcription call. Zero means no
	// deadline.
	TranscribeTimeout time.Duration

	// OnTranscription receives every accepted transcript.
	OnTranscription func(Transcript)

	// OnInterrupt is called synchronously the instant a recording opens, before
	// any audio is captured. It runs on the monitoring loop and must not call
	// back into the Controller.
	OnInterrupt func()

	// OnError receives a short user-facing message for every surfaced failure.
	OnError func(message string)

	// ShouldHoldRecording is polled once per tick while listening. Returning
	// true suppresses the start of a recording. Like OnInterrupt it must not
	// call back into the Controller.
	ShouldHoldRecording func() bool
}

func (c *Config) applyDefaults() {
	c.VAD = c.VAD.withDefaults()
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.VAD.TickInterval <= 0 {
		c.VAD.TickInterval = c.TickInterval
	}
	if c.MinClipBytes <= 0 {
		c.MinClipBytes = DefaultMinClipBytes
	}
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithClock overrides the monotonic clock used for VAD timing.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithScheduler overrides how the monitoring loop is driven.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the voice-mode state machine:
//
//	idle → initializing → listening ⇄ recording → processing → listening
//
// Device and encoder failures land in error and disable voice mode. A failed
// transcription passes through error and returns to listening.
//
// All methods are safe for concurrent use. Enable, Disable, monitoring ticks
// and transcription completions are serialized by one mutex.
type Controller struct {
	cfg         Config
	sessions    *SessionManager
	transcriber transcribe.Provider
	status      *Broadcaster
	now         func() time.Time
	sched       Scheduler
	metrics     *observe.Metrics

	// abortOpen cancels an in-flight device request. It has its own lock so
	// Disable can reach it while Enable holds mu.
	abortMu   sync.Mutex
	abortOpen context.CancelFunc

	mu         sync.Mutex
	enabled    bool
	gen        uint64 // bumped on every enable and teardown
	vad        VADState
	processing bool
	stopLoop   context.CancelFunc
	recStarted time.Time
	utterance  string
}

// New creates a Controller that captures from mic and transcribes with tr.
// Voice mode starts disabled.
func New(mic audio.Microphone, tr transcribe.Provider, cfg Config, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:         cfg,
		transcriber: tr,
		status:      NewBroadcaster(),
		now:         time.Now,
		sched:       TickerScheduler{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	sc := cfg.Session
	if sc.Metrics == nil {
		sc.Metrics = c.metrics
	}
	c.sessions = NewSessionManager(mic, sc)
	c.status.publish(StatusEvent{Status: StatusIdle, At: c.now()})
	return c
}

// Status returns the current status event.
func (c *Controller) Status() StatusEvent { return c.status.Current() }

// Subscribe registers for status transitions. See [Broadcaster.Subscribe].
func (c *Controller) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	return c.status.Subscribe(buffer)
}

// Enabled reports the activation flag.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// VAD returns the detector settings in effect.
func (c *Controller) VAD() VADConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.VAD
}

// SetVAD replaces the detector settings. Zero fields take the defaults, and a
// zero TickInterval keeps the loop's own interval. The change applies from the
// next tick; running timers are kept.
func (c *Controller) SetVAD(cfg VADConfig) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = c.cfg.TickInterval
	}
	c.cfg.VAD = cfg
	c.mu.Unlock()
	slog.Info("voicemode: detector retuned",
		"threshold", cfg.Threshold,
		"min_speech", cfg.MinSpeech,
		"min_silence", cfg.MinSilence,
	)
}

// Enable turns voice mode on: it requests the microphone and, once granted,
// starts the monitoring loop. ctx governs the device request only.
//
// Enabling while already enabled is a no-op. A device failure is surfaced
// through OnError, leaves voice mode disabled in [StatusError] and is returned
// as an [*Error]. A request aborted by Disable or by ctx returns to idle
// without surfacing an error.
func (c *Controller) Enable(ctx context.Context) error {
	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return nil
	}
	c.abortMu.Lock()
	c.abortOpen = cancel
	c.abortMu.Unlock()

	c.enabled = true
	c.gen++
	c.setStatusLocked(StatusInitializing)

	err := c.sessions.OpenDeviceSession(openCtx)

	c.abortMu.Lock()
	c.abortOpen = nil
	c.abortMu.Unlock()

	if err != nil {
		if openCtx.Err() != nil {
			c.teardownLocked()
			c.enabled = false
			c.setStatusLocked(StatusIdle)
			c.mu.Unlock()
			slog.Debug("voicemode: enable aborted", "err", err)
			return fmt.Errorf("voicemode: enable aborted: %w", openCtx.Err())
		}
		verr := deviceError(err)
		after := c.failLocked(verr)
		c.mu.Unlock()
		run(after)
		return verr
	}

	loopCtx, stop := context.WithCancel(context.Background())
	c.stopLoop = stop
	c.vad = VADState{}
	gen := c.gen
	c.setStatusLocked(StatusListening)
	c.sched.Every(loopCtx, c.cfg.TickInterval, func() { c.tick(gen) })
	vad := c.cfg.VAD
	c.mu.Unlock()

	slog.Info("voicemode: enabled",
		"threshold", vad.Threshold,
		"min_speech", vad.MinSpeech,
		"min_silence", vad.MinSilence,
	)
	return nil
}

// Disable turns voice mode off: it cancels the monitoring loop, aborts any
// open recording, releases the device and clears all timers. An outstanding
// transcription finishes in the background and its result is discarded.
//
// Disable is idempotent and safe to call when voice mode was never enabled.
func (c *Controller) Disable() {
	c.abortMu.Lock()
	if c.abortOpen != nil {
		c.abortOpen()
	}
	c.abortMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	wasEnabled := c.enabled
	c.teardownLocked()
	c.enabled = false
	if c.status.Current().Status != StatusIdle {
		c.setStatusLocked(StatusIdle)
	}
	if wasEnabled {
		slog.Info("voicemode: disabled")
	}
}

// Close disables voice mode. It always returns nil.
func (c *Controller) Close() error {
	c.Disable()
	return nil
}

// tick is one pass of the monitoring loop.
func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		return
	}

	select {
	case <-c.sessions.Lost():
		after := c.failLocked(deviceError(fmt.Errorf("voicemode: input stream ended: %w", audio.ErrDeviceUnavailable)))
		c.mu.Unlock()
		run(after)
		return
	default:
	}

	now := c.now()
	recording := c.sessions.Recording()
	hold := false
	if !recording {
		hold = c.processing || (c.cfg.ShouldHoldRecording != nil && c.cfg.ShouldHoldRecording())
	}

	var after []func()
	switch Decide(c.cfg.VAD, &c.vad, c.sessions.Sample(), now, recording, hold) {
	case StartRecording:
		after = c.startRecordingLocked(now)
	case StopRecording:
		after = c.stopRecordingLocked(now)
	}
	c.mu.Unlock()
	run(after)
}

func (c *Controller) startRecordingLocked(now time.Time) []func() {
	if c.cfg.OnInterrupt != nil {
		c.cfg.OnInterrupt()
	}
	if err := c.sessions.StartRecording(); err != nil {
		return c.failLocked(encoderError(err))
	}
	c.recStarted = now
	c.utterance = uuid.NewString()
	c.setStatusLocked(StatusRecording)
	slog.Debug("voicemode: recording started", "utterance_id", c.utterance)
	return nil
}

func (c *Controller) stopRecordingLocked(now time.Time) []func() {
	id := c.utterance
	c.utterance = ""

	clip, err := c.sessions.StopRecording()
	if err != nil {
		return c.failLocked(encoderError(err))
	}

	ctx := observe.WithUtterance(context.Background(), id)
	c.metrics.RecordingDuration.Record(ctx, now.Sub(c.recStarted).Seconds())
	c.setStatusLocked(StatusProcessing)

	if clip.Len() < c.cfg.MinClipBytes {
		c.metrics.RecordUtterance(ctx, observe.OutcomeNoise)
		observe.Logger(ctx).Debug("voicemode: discarding short clip",
			"bytes", clip.Len(),
			"min_bytes", c.cfg.MinClipBytes,
		)
		c.setStatusLocked(StatusListening)
		return nil
	}

	c.processing = true
	gen := c.gen
	go c.transcribe(ctx, gen, id, clip)
	return nil
}

// transcribe runs one transcription round-trip off the monitoring loop.
func (c *Controller) transcribe(ctx context.Context, gen uint64, id string, clip audio.Clip) {
	ctx, span := observe.StartSpan(ctx, "voicemode.transcribe")
	defer span.End()

	if c.cfg.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.transcriber.Transcribe(ctx, clip)
	if err == nil {
		text, err = transcribe.Normalize(text)
	}
	c.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.finishTranscription(ctx, gen, Transcript{ID: id, Text: text, Duration: clip.Duration}, err)
}

func (c *Controller) finishTranscription(ctx context.Context, gen uint64, t Transcript, err error) {
	log := observe.Logger(ctx)

	c.mu.Lock()
	if gen != c.gen || !c.enabled {
		c.mu.Unlock()
		c.metrics.RecordUtterance(ctx, observe.OutcomeDiscarded)
		log.Debug("voicemode: discarding transcript after disable")
		return
	}
	c.processing = false

	var after []func()
	if err != nil {
		verr := transcriptionError(err)
		c.metrics.RecordUtterance(ctx, observe.OutcomeFailed)
		c.metrics.RecordVoiceError(ctx, verr.Kind.String())
		log.Warn("voicemode: transcription failed", "err", err)
		c.setStatusLocked(StatusError)
		c.setStatusLocked(StatusListening)
		if c.cfg.OnError != nil {
			onError := c.cfg.OnError
			after = append(after, func() { onError(verr.Message) })
		}
	} else {
		c.metrics.RecordUtterance(ctx, observe.OutcomeTranscribed)
		log.Debug("voicemode: transcribed utterance", "chars", len(t.Text))
		c.setStatusLocked(StatusListening)
		if c.cfg.OnTranscription != nil {
			onText := c.cfg.OnTranscription
			after = append(after, func() { onText(t) })
		}
	}
	c.mu.Unlock()
	run(after)
}

// failLocked tears the session down after a fatal error, disables voice mode
// and returns the deferred OnError call.
func (c *Controller) failLocked(verr *Error) []func() {
	c.teardownLocked()
	c.enabled = false
	c.metrics.RecordVoiceError(context.Background(), verr.Kind.String())
	slog.Warn("voicemode: disabled after error", "kind", verr.Kind.String(), "err", verr.Err)
	c.setStatusLocked(StatusError)

	if c.cfg.OnError == nil {
		return nil
	}
	onError := c.cfg.OnError
	return []func(){func() { onError(verr.Message) }}
}

// teardownLocked stops the loop and releases the device session. It leaves
// the enabled flag and status to the caller.
func (c *Controller) teardownLocked() {
	c.gen++
	if c.stopLoop != nil {
		c.stopLoop()
		c.stopLoop = nil
	}
	if c.sessions.Recording() {
		c.metrics.RecordUtterance(context.Background(), observe.OutcomeDiscarded)
	}
	c.sessions.CloseDeviceSession()
	c.vad = VADState{}
	c.processing = false
	c.utterance = ""
}

func (c *Controller) setStatusLocked(s Status) {
	c.status.publish(StatusEvent{Status: s, Enabled: c.enabled, At: c.now()})
	c.metrics.RecordStatus(context.Background(), s.String())
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
