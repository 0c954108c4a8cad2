// Package mock provides in-memory mock implementations of [audio.Microphone],
// [audio.InputStream], [audio.Speaker] and [audio.Player] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose exported fields that control
// return values.
//
// Typical usage:
//
//	mic := &mock.Microphone{Format: audio.Format{SampleRate: 16000, Channels: 1}}
//	stream, _ := mic.Open(ctx)
//	mic.Last().Push(frame)
//	// ...
//	if mic.OpenStreams() != 0 { t.Error("device leaked") }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/handsfree/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone]. Every successful
// Open returns a fresh [*Stream].
type Microphone struct {
	mu sync.Mutex

	// Format is reported by every opened stream. Defaults to 16 kHz mono.
	Format audio.Format

	// OpenErr, when non-nil, is returned by Open and no stream is created.
	OpenErr error

	// OpenHook, when non-nil, runs at the start of Open. It may block on ctx
	// to simulate a slow permission prompt.
	OpenHook func(ctx context.Context) error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	streams []*Stream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	m.CallCountOpen++
	hook := m.OpenHook
	err := m.OpenErr
	format := m.Format
	m.mu.Unlock()

	if hook != nil {
		if hErr := hook(ctx); hErr != nil {
			return nil, hErr
		}
	}
	if err != nil {
		return nil, err
	}
	if format.SampleRate == 0 {
		format = audio.Format{SampleRate: 16000, Channels: 1}
	}

	s := &Stream{format: format, frames: make(chan audio.AudioFrame, 64)}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// Streams returns all streams opened so far, in order.
func (m *Microphone) Streams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Stream(nil), m.streams...)
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// OpenStreams returns how many opened streams have not been closed yet.
func (m *Microphone) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.streams {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.InputStream] fed by the test through Push.
type Stream struct {
	mu     sync.Mutex
	format audio.Format
	frames chan audio.AudioFrame
	ended  bool
	closed bool
	offset time.Duration

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Frames implements [audio.InputStream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.InputStream].
func (s *Stream) Format() audio.Format { return s.format }

// Close implements [audio.InputStream]. It is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.endLocked()
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers pcm as one frame in the stream's format. It reports false if
// the stream has already ended.
func (s *Stream) Push(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	f := audio.AudioFrame{
		Data:       pcm,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  s.offset,
	}
	s.offset += f.Duration()
	s.frames <- f
	return true
}

// End closes the frame channel without Close, simulating an unplugged device.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

func (s *Stream) endLocked() {
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock [audio.Speaker] that stores written frames.
type Speaker struct {
	mu sync.Mutex

	// WriteErr is returned by Write.
	WriteErr error

	// Frames records every written frame.
	Frames []audio.AudioFrame

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Write implements [audio.Speaker].
func (s *Speaker) Write(f audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, f)
	return s.WriteErr
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Written returns a snapshot of the frames written so far.
func (s *Speaker) Written() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.AudioFrame(nil), s.Frames...)
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player].
type Player struct {
	mu sync.Mutex

	// InterruptResult is returned by Interrupt.
	InterruptResult bool

	// SpeakingResult is returned by Speaking.
	SpeakingResult bool

	// EnqueueCalls records every enqueued reply.
	EnqueueCalls []*audio.Reply

	// InterruptCalls records the reason of every Interrupt call.
	InterruptCalls []audio.InterruptReason

	// SetGapCalls records every SetGap duration.
	SetGapCalls []time.Duration

	handler func(audio.Interruption)
}

// Enqueue implements [audio.Player].
func (p *Player) Enqueue(r *audio.Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EnqueueCalls = append(p.EnqueueCalls, r)
}

// Interrupt implements [audio.Player].
func (p *Player) Interrupt(reason audio.InterruptReason) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InterruptCalls = append(p.InterruptCalls, reason)
	return p.InterruptResult
}

// Speaking implements [audio.Player].
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SpeakingResult
}

// OnInterrupt implements [audio.Player].
func (p *Player) OnInterrupt(h func(audio.Interruption)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// SetGap implements [audio.Player].
func (p *Player) SetGap(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetGapCalls = append(p.SetGapCalls, d)
}

// Interrupts returns a snapshot of InterruptCalls.
func (p *Player) Interrupts() []audio.InterruptReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.InterruptReason(nil), p.InterruptCalls...)
}

// Enqueued returns a snapshot of EnqueueCalls.
func (p *Player) Enqueued() []*audio.Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*audio.Reply(nil), p.EnqueueCalls...)
}

// EmitInterrupt invokes the registered OnInterrupt handler synchronously.
func (p *Player) EmitInterrupt(ev audio.Interruption) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(ev)
	}
}
