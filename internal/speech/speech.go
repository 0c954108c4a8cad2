// Package speech voices assistant replies: it synthesizes text through a TTS
// provider and queues the audio on the speak-back player. It is also the
// playback interrupt coordinator the voice controller silences when the user
// starts to talk.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/handsfree/internal/observe"
	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/provider/tts"
)

var (
	// ErrEmptyText is returned by [Speaker.Speak] for blank text.
	ErrEmptyText = errors.New("speech: text must not be empty")

	// ErrUnknownVoice is returned by [ResolveVoice] when the provider does not
	// offer the requested voice.
	ErrUnknownVoice = errors.New("speech: voice not offered by provider")
)

// Request is one reply to voice.
type Request struct {
	// ID identifies the reply. A random one is generated when empty.
	ID string

	// Text is the reply text. Surrounding whitespace is trimmed.
	Text string

	// Priority orders queued replies. A reply with a higher priority than the
	// one playing preempts it.
	Priority int

	// OnFailed, if set, is called once when synthesis fails after Speak has
	// returned. It runs on the synthesis goroutine and must not block.
	OnFailed func(id string, err error)
}

// Option is a functional option for [New].
type Option func(*Speaker)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// WithProviderName sets the provider label used on metrics.
func WithProviderName(name string) Option {
	return func(s *Speaker) { s.providerName = name }
}

// Speaker turns reply text into queued speak-back audio.
//
// All methods are safe for concurrent use.
type Speaker struct {
	tts          tts.Provider
	player       audio.Player
	voice        tts.VoiceProfile
	metrics      *observe.Metrics
	providerName string

	mu       sync.Mutex
	seq      uint64
	inflight map[uint64]context.CancelFunc
	closed   bool
}

// New creates a Speaker that synthesizes with p in voice and plays through
// player. It registers itself as player's interrupt handler.
func New(p tts.Provider, player audio.Player, voice tts.VoiceProfile, opts ...Option) *Speaker {
	s := &Speaker{
		tts:          p,
		player:       player,
		voice:        voice,
		providerName: "tts",
		inflight:     make(map[uint64]context.CancelFunc),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	player.OnInterrupt(s.onInterrupt)
	return s
}

// Speak synthesizes req.Text and enqueues it for playback. It returns the
// reply ID once synthesis has started; audio keeps streaming in the
// background. ctx is used for logging only: the synthesis outlives the request
// and ends with the reply or an interrupt.
func (s *Speaker) Speak(ctx context.Context, req Request) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrEmptyText
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	log := observe.Logger(ctx).With("reply_id", id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errors.New("speech: speaker closed")
	}
	synthCtx, cancel := context.WithCancel(context.Background())
	s.seq++
	token := s.seq
	s.inflight[token] = cancel
	s.mu.Unlock()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	start := time.Now()
	stream, err := s.tts.SynthesizeStream(synthCtx, textCh, s.voice)
	if err != nil {
		s.finish(token)
		s.metrics.RecordProviderRequest(ctx, s.providerName, "tts", "error")
		s.metrics.RecordProviderError(ctx, s.providerName, "tts")
		return "", fmt.Errorf("speech: start synthesis: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "tts", "ok")

	out := make(chan []byte, 16)
	reply := &audio.Reply{ID: id, Audio: out, Format: s.tts.Format(), Priority: req.Priority}
	go s.forward(synthCtx, token, start, stream, reply, out, req.OnFailed)

	s.player.Enqueue(reply)
	log.Debug("speech: reply queued", "chars", len(text), "priority", req.Priority)
	return id, nil
}

// forward relays synthesized chunks to the player until the stream ends or
// the reply is interrupted. A backend failure is recorded on reply before its
// audio closes.
func (s *Speaker) forward(ctx context.Context, token uint64, start time.Time, stream *tts.Stream, reply *audio.Reply, out chan<- []byte, onFailed func(string, error)) {
	defer close(out)
	defer s.finish(token)

	in := stream.Audio
	first := true
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(in)
			return
		case chunk, ok := <-in:
			if !ok {
				if err := stream.Err(); err != nil && ctx.Err() == nil {
					reply.SetStreamErr(err)
					s.metrics.RecordProviderError(context.Background(), s.providerName, "tts")
					if onFailed != nil {
						onFailed(reply.ID, err)
					}
				}
				return
			}
			if first {
				first = false
				s.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				go audio.Drain(in)
				return
			}
		}
	}
}

// ResolveVoice looks id up among the voices p offers. It returns
// [ErrUnknownVoice] when p lists voices but none matches.
func ResolveVoice(ctx context.Context, p tts.Provider, id string) (tts.VoiceProfile, error) {
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return tts.VoiceProfile{}, fmt.Errorf("speech: list voices: %w", err)
	}
	for _, v := range voices {
		if v.ID == id {
			return v, nil
		}
	}
	return tts.VoiceProfile{}, fmt.Errorf("%w: %q", ErrUnknownVoice, id)
}

func (s *Speaker) finish(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.inflight[token]; ok {
		cancel()
		delete(s.inflight, token)
	}
}

// Interrupt stops speak-back for reason and reports whether anything was
// playing or queued. Reasons that clear the queue also cancel every
// synthesis still in flight. It returns once no further audio will be played.
func (s *Speaker) Interrupt(reason audio.InterruptReason) bool {
	if reason.ClearsQueue() {
		s.cancelAll()
	}
	return s.player.Interrupt(reason)
}

// InterruptForUser is the hook the voice controller calls when a recording
// opens.
func (s *Speaker) InterruptForUser() {
	s.Interrupt(audio.UserSpeech)
}

// Speaking reports whether a reply is playing.
func (s *Speaker) Speaking() bool { return s.player.Speaking() }

// Close cancels all in-flight synthesis and stops playback.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Interrupt(audio.Stopped)
	return nil
}

func (s *Speaker) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, cancel := range s.inflight {
		cancel()
		delete(s.inflight, token)
	}
}

func (s *Speaker) onInterrupt(ev audio.Interruption) {
	s.metrics.RecordInterrupt(context.Background(), ev.Reason.String())
	slog.Debug("speech: playback interrupted",
		"reply_id", ev.ReplyID,
		"reason", ev.Reason.String(),
		"dropped", ev.Dropped,
	)
}
