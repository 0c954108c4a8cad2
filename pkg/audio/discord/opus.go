package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/handsfree/pkg/audio"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// opusDecoder wraps a gopus decoder for one speaker's SSRC. Decoder state
// carries across packets, so a decoder is never shared between SSRCs.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns the packet as interleaved int16 LE PCM.
func (d *opusDecoder) decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.Int16ToBytes(pcm), nil
}

// opusEncoder wraps the gopus encoder used for speak-back.
type opusEncoder struct {
	enc     *gopus.Encoder
	scratch []int16
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode packs exactly one frame of interleaved int16 LE PCM. The encoder's
// scratch buffer is reused between calls.
func (e *opusEncoder) encode(pcmBytes []byte) ([]byte, error) {
	if cap(e.scratch) < len(pcmBytes)/2 {
		e.scratch = make([]int16, len(pcmBytes)/2)
	}
	pcm := e.scratch[:audio.BytesToInt16(e.scratch[:len(pcmBytes)/2], pcmBytes)]
	opus, err := e.enc.Encode(pcm, opusFrameSize, len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return opus, nil
}
