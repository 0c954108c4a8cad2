// Package portaudio provides [audio.Microphone] and [audio.Speaker]
// implementations backed by the host's default PortAudio devices.
//
// PortAudio is a CGO dependency: the portaudio library and headers must be
// installed (e.g. portaudio19-dev on Debian). Every opened stream holds its
// own Initialize/Terminate pair, so the library stays loaded exactly as long
// as a device is in use.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/handsfree/pkg/audio"
)

// Defaults for both capture and playback.
const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 20 * time.Millisecond
)

var (
	_ audio.Microphone  = (*Microphone)(nil)
	_ audio.InputStream = (*inputStream)(nil)
	_ audio.Speaker     = (*Speaker)(nil)
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// MicOption is a functional option for [NewMicrophone].
type MicOption func(*Microphone)

// WithSampleRate sets the capture rate in Hz.
func WithSampleRate(rate int) MicOption {
	return func(m *Microphone) {
		if rate > 0 {
			m.format.SampleRate = rate
		}
	}
}

// WithFrameSize sets how much audio each delivered frame carries.
func WithFrameSize(d time.Duration) MicOption {
	return func(m *Microphone) {
		if d > 0 {
			m.frameSize = d
		}
	}
}

// Microphone captures mono int16 PCM from the default input device.
type Microphone struct {
	format    audio.Format
	frameSize time.Duration
}

// NewMicrophone creates a Microphone. No device is touched until Open.
func NewMicrophone(opts ...MicOption) *Microphone {
	m := &Microphone{
		format:    audio.Format{SampleRate: DefaultSampleRate, Channels: 1},
		frameSize: DefaultFrameSize,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open implements [audio.Microphone]. PortAudio does not distinguish a
// refused permission from a missing device, so every failure wraps
// [audio.ErrDeviceUnavailable].
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, deviceErr("initialize", err)
	}

	buf := make([]int16, samplesPerBuffer(m.format, m.frameSize))
	stream, err := pa.OpenDefaultStream(m.format.Channels, 0, float64(m.format.SampleRate), len(buf), buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, deviceErr("open input stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, deviceErr("start input stream", err)
	}

	s := &inputStream{
		stream: stream,
		buf:    buf,
		format: m.format,
		frames: make(chan audio.AudioFrame, 32),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	slog.Debug("portaudio: input stream opened",
		"sample_rate", m.format.SampleRate,
		"frames_per_buffer", len(buf),
	)
	return s, nil
}

// inputStream owns a started PortAudio stream. Only readLoop touches the
// stream; Close signals it and waits.
type inputStream struct {
	stream *pa.Stream
	buf    []int16
	format audio.Format
	frames chan audio.AudioFrame

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *inputStream) Frames() <-chan audio.AudioFrame { return s.frames }
func (s *inputStream) Format() audio.Format            { return s.format }

// Close implements [audio.InputStream]. It returns once the device has been
// released.
func (s *inputStream) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *inputStream) readLoop() {
	defer close(s.done)
	defer close(s.frames)
	defer s.release()

	var offset time.Duration
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
			slog.Warn("portaudio: input read failed, ending stream", "err", err)
			return
		}
		f := audio.AudioFrame{
			Data:       audio.Int16ToBytes(s.buf),
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  offset,
		}
		offset += f.Duration()
		select {
		case s.frames <- f:
		case <-s.stop:
			return
		default:
			slog.Debug("portaudio: consumer behind, dropping frame")
		}
	}
}

func (s *inputStream) release() {
	if err := s.stream.Stop(); err != nil {
		slog.Warn("portaudio: stop input stream", "err", err)
	}
	if err := s.stream.Close(); err != nil {
		slog.Warn("portaudio: close input stream", "err", err)
	}
	if err := pa.Terminate(); err != nil {
		slog.Warn("portaudio: terminate", "err", err)
	}
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker plays int16 PCM on the default output device. Frames in any format
// are converted to the device format first.
type Speaker struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	conv   audio.FormatConverter
	closed bool
}

// NewSpeaker opens and starts the default output device in format. A zero
// format means 16 kHz mono.
func NewSpeaker(format audio.Format) (*Speaker, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = audio.Format{SampleRate: DefaultSampleRate, Channels: 1}
	}
	if err := pa.Initialize(); err != nil {
		return nil, deviceErr("initialize", err)
	}
	buf := make([]int16, samplesPerBuffer(format, DefaultFrameSize))
	stream, err := pa.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), len(buf)/format.Channels, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, deviceErr("open output stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, deviceErr("start output stream", err)
	}
	return &Speaker{
		stream: stream,
		buf:    buf,
		conv:   audio.FormatConverter{Target: format},
	}, nil
}

// Write implements [audio.Speaker]. It blocks until the device has accepted
// every buffer of the frame. A trailing partial buffer is padded with silence.
func (s *Speaker) Write(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("portaudio: speaker closed")
	}
	pcm := s.conv.Convert(frame).Data
	for _, chunk := range chunkPCM(pcm, len(s.buf)) {
		n := audio.BytesToInt16(s.buf, chunk)
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("portaudio: close speaker: %w", err)
	}
	return nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// samplesPerBuffer returns the interleaved sample count of one buffer of d.
func samplesPerBuffer(f audio.Format, d time.Duration) int {
	n := int(time.Duration(f.SampleRate) * d / time.Second)
	return max(n, 1) * max(f.Channels, 1)
}

// chunkPCM splits pcm into pieces of at most samples int16 values. The last
// piece may be shorter.
func chunkPCM(pcm []byte, samples int) [][]byte {
	size := samples * 2
	var out [][]byte
	for len(pcm) > 0 {
		n := min(size, len(pcm))
		out = append(out, pcm[:n])
		pcm = pcm[n:]
	}
	return out
}

func deviceErr(op string, err error) error {
	return fmt.Errorf("portaudio: %s: %w: %w", op, audio.ErrDeviceUnavailable, err)
}
