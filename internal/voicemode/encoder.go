package voicemode

import (
	"bytes"
	"errors"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/audio/wav"
)

// errEncoderDone is returned by a WAV encoder used after Finish or Abort.
var errEncoderDone = errors.New("voicemode: encoder already finished")

// Encoder accumulates captured PCM into one deliverable clip.
type Encoder interface {
	// Write appends int16 LE PCM in the format the encoder was built for.
	Write(pcm []byte) error

	// Finish finalizes the encoder and returns the clip. The encoder must not
	// be used afterwards.
	Finish() (audio.Clip, error)

	// Abort discards everything accumulated. It is safe to call after Finish
	// and more than once.
	Abort()

	// MediaType reports the MIME type of produced clips.
	MediaType() string
}

// EncoderFactory builds an Encoder for PCM in format f. It is called once per
// recording.
type EncoderFactory func(f audio.Format) (Encoder, error)

// NewWAVEncoder is the default [EncoderFactory]. It buffers raw PCM and wraps
// it in a WAV container on Finish.
func NewWAVEncoder(f audio.Format) (Encoder, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, errors.New("voicemode: invalid capture format")
	}
	return &wavEncoder{format: f}, nil
}

type wavEncoder struct {
	format audio.Format
	buf    bytes.Buffer
	done   bool
}

func (e *wavEncoder) Write(pcm []byte) error {
	if e.done {
		return errEncoderDone
	}
	e.buf.Write(pcm)
	return nil
}

func (e *wavEncoder) Finish() (audio.Clip, error) {
	if e.done {
		return audio.Clip{}, errEncoderDone
	}
	e.done = true
	pcm := e.buf.Bytes()
	clip := audio.Clip{
		Data:      wav.Encode(pcm, e.format),
		MediaType: wav.MediaType,
		Format:    e.format,
		Duration:  e.format.Duration(len(pcm)),
	}
	e.buf = bytes.Buffer{}
	return clip, nil
}

func (e *wavEncoder) Abort() {
	e.done = true
	e.buf = bytes.Buffer{}
}

func (e *wavEncoder) MediaType() string { return wav.MediaType }
