package voicemode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/handsfree/internal/observe"
	"github.com/MrWong99/handsfree/pkg/audio"
)

// DefaultCaptureFormat is the PCM layout clips are recorded in.
var DefaultCaptureFormat = audio.Format{SampleRate: 16000, Channels: 1}

// ErrNotRecording is returned by [SessionManager.StopRecording] when no
// recording is open.
var ErrNotRecording = errors.New("voicemode: not recording")

// SessionConfig configures a [SessionManager].
type SessionConfig struct {
	// Format is the capture format. Device frames are converted to it before
	// they reach the sampler or the encoder. Defaults to [DefaultCaptureFormat].
	Format audio.Format

	// WindowSamples is the RMS window length. Defaults to [DefaultWindowSamples].
	WindowSamples int

	// NewEncoder builds the encoder for each recording. Defaults to
	// [NewWAVEncoder].
	NewEncoder EncoderFactory

	// Metrics receives the active-session gauge. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// SessionManager owns the open capture device, the energy window fed from it
// and the encoder of the current recording. At most one device session is
// open at a time.
//
// SessionManager methods are not safe for concurrent use; the [Controller]
// serializes them. The capture pump it starts internally synchronizes with
// StartRecording, StopRecording and CloseDeviceSession on its own.
type SessionManager struct {
	mic audio.Microphone
	cfg SessionConfig
	cur *deviceSession
}

// NewSessionManager returns a SessionManager that opens mic on demand.
func NewSessionManager(mic audio.Microphone, cfg SessionConfig) *SessionManager {
	if cfg.Format.SampleRate <= 0 || cfg.Format.Channels <= 0 {
		cfg.Format = DefaultCaptureFormat
	}
	if cfg.NewEncoder == nil {
		cfg.NewEncoder = NewWAVEncoder
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &SessionManager{mic: mic, cfg: cfg}
}

// deviceSession is one open device plus everything derived from it.
type deviceSession struct {
	stream  audio.InputStream
	conv    audio.FormatConverter
	sampler *Sampler

	mu  sync.Mutex
	enc Encoder

	closing atomic.Bool
	pumped  atomic.Int64 // frames fully handed to sampler and encoder
	lost    chan struct{}
	done    chan struct{}
}

// OpenDeviceSession requests the microphone and starts capturing into the
// energy window. It is a no-op when a session is already open.
func (m *SessionManager) OpenDeviceSession(ctx context.Context) error {
	if m.cur != nil {
		return nil
	}
	stream, err := m.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("voicemode: open microphone: %w", err)
	}

	s := &deviceSession{
		stream:  stream,
		conv:    audio.FormatConverter{Target: m.cfg.Format},
		sampler: NewSampler(m.cfg.WindowSamples),
		lost:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.pump()

	m.cur = s
	m.cfg.Metrics.ActiveDeviceSessions.Add(context.Background(), 1)
	slog.Debug("voicemode: device session open",
		"device_format", stream.Format(),
		"capture_format", m.cfg.Format,
	)
	return nil
}

// pump moves frames from the device into the sampler and, while recording,
// into the encoder.
func (s *deviceSession) pump() {
	defer close(s.done)
	for frame := range s.stream.Frames() {
		f := s.conv.Convert(frame)
		if len(f.Data) == 0 {
			s.pumped.Add(1)
			continue
		}
		s.sampler.Write(f.Data)

		s.mu.Lock()
		if s.enc != nil {
			if err := s.enc.Write(f.Data); err != nil {
				slog.Warn("voicemode: encoder write failed", "err", err)
			}
		}
		s.mu.Unlock()
		s.pumped.Add(1)
	}
	if !s.closing.Load() {
		close(s.lost)
	}
}

// IsOpen reports whether a device session is open.
func (m *SessionManager) IsOpen() bool { return m.cur != nil }

// Recording reports whether an encoder is accumulating audio.
func (m *SessionManager) Recording() bool {
	if m.cur == nil {
		return false
	}
	m.cur.mu.Lock()
	defer m.cur.mu.Unlock()
	return m.cur.enc != nil
}

// Sample returns the current energy reading, or 0 when no session is open.
func (m *SessionManager) Sample() float64 {
	if m.cur == nil {
		return 0
	}
	return m.cur.sampler.Sample()
}

// Lost returns a channel that is closed when the device stream ends without
// CloseDeviceSession being called. It returns nil when no session is open.
func (m *SessionManager) Lost() <-chan struct{} {
	if m.cur == nil {
		return nil
	}
	return m.cur.lost
}

// StartRecording builds a fresh encoder and begins accumulating audio from the
// live stream. Starting while already recording is a no-op.
func (m *SessionManager) StartRecording() error {
	if m.cur == nil {
		return fmt.Errorf("voicemode: start recording: %w", audio.ErrDeviceUnavailable)
	}
	m.cur.mu.Lock()
	defer m.cur.mu.Unlock()
	if m.cur.enc != nil {
		return nil
	}
	enc, err := m.cfg.NewEncoder(m.cfg.Format)
	if err != nil {
		return fmt.Errorf("voicemode: create encoder: %w", err)
	}
	m.cur.enc = enc
	return nil
}

// StopRecording finalizes the encoder into one clip and resets accumulation.
func (m *SessionManager) StopRecording() (audio.Clip, error) {
	if m.cur == nil {
		return audio.Clip{}, fmt.Errorf("voicemode: stop recording: %w", audio.ErrDeviceUnavailable)
	}
	m.cur.mu.Lock()
	enc := m.cur.enc
	m.cur.enc = nil
	m.cur.mu.Unlock()

	if enc == nil {
		return audio.Clip{}, ErrNotRecording
	}
	clip, err := enc.Finish()
	if err != nil {
		return audio.Clip{}, fmt.Errorf("voicemode: finish encoder: %w", err)
	}
	return clip, nil
}

// CloseDeviceSession aborts any open encoder, releases the device stream and
// waits for the capture pump to exit. It is idempotent and never fails;
// release errors are logged.
func (m *SessionManager) CloseDeviceSession() {
	s := m.cur
	if s == nil {
		return
	}
	m.cur = nil

	s.closing.Store(true)
	s.mu.Lock()
	if s.enc != nil {
		s.enc.Abort()
		s.enc = nil
	}
	s.mu.Unlock()

	if err := s.stream.Close(); err != nil {
		slog.Warn("voicemode: failed to release microphone", "err", err)
	}
	<-s.done
	m.cfg.Metrics.ActiveDeviceSessions.Add(context.Background(), -1)
	slog.Debug("voicemode: device session closed")
}
