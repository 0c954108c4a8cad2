// Package whispercpp provides an in-process [transcribe.Provider] backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a) and
// headers (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/audio/wav"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// modelSampleRate is the only input rate whisper models accept.
const modelSampleRate = 16000

var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithThreads sets the number of CPU threads per inference. Zero keeps the
// library default.
func WithThreads(n uint) Option {
	return func(p *Provider) { p.threads = n }
}

// Provider transcribes clips with a whisper model loaded once at startup.
// Inferences are serialized; whisper contexts are not safe for concurrent
// use and one utterance is in flight at a time anyway.
type Provider struct {
	model    whisperlib.Model
	language string
	threads  uint

	mu sync.Mutex
}

// New loads the model at modelPath. Call Close when done.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model, language: "en"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements [transcribe.Provider]. Only WAV clips are accepted;
// they are downmixed and resampled to 16 kHz mono before inference.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	samples, err := clipSamples(clip)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whispercpp: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whispercpp: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whispercpp: failed to set language, using default", "language", p.language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whispercpp: read segment: %w", err)
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}

	text, err := transcribe.Normalize(strings.Join(parts, " "))
	if err != nil {
		return "", fmt.Errorf("whispercpp: %w", err)
	}
	return text, nil
}

// clipSamples decodes a WAV clip into 16 kHz mono float32 samples.
func clipSamples(clip audio.Clip) ([]float32, error) {
	if clip.MediaType != "" && clip.MediaType != wav.MediaType {
		return nil, fmt.Errorf("whispercpp: %w: %s", transcribe.ErrUnsupportedMedia, clip.MediaType)
	}
	pcm, f, err := wav.Decode(clip.Data)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("whispercpp: %w", transcribe.ErrNoSpeech)
	}
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: modelSampleRate, Channels: 1}}
	frame := conv.Convert(audio.AudioFrame{Data: pcm, SampleRate: f.SampleRate, Channels: f.Channels})
	return pcmToFloat32(frame.Data), nil
}
