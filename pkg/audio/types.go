// Package audio defines the PCM frame types, capture and playback device
// interfaces, and format helpers shared by every handsfree component.
//
// The primary abstractions are:
//
//   - [Microphone]: grants access to a capture device and returns an [InputStream].
//   - [Speaker]: a sink for synthesized speech, fed by a [Player].
//   - [Player]: the speak-back queue that user speech interrupts.
//
// Device adapters live in subpackages (audio/portaudio, audio/discord). This
// package lives under pkg/ so that external code can provide its own devices.
package audio

import "time"

// AudioFrame is a single chunk of 16-bit little-endian PCM flowing from a
// capture device or towards a speaker.
type AudioFrame struct {
	// Data holds interleaved int16 LE samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for transcription).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel layout.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration reports how much audio the frame carries.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of int16 PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration converts a PCM byte count in this format into playback time.
// It returns zero for an unset format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Clip is one finalized, self-contained unit of captured audio: the encoded
// bytes of a single utterance plus the media type the encoder declared.
//
// A Clip is immutable once produced. It is handed to exactly one transcription
// call and then discarded.
type Clip struct {
	// Data is the encoded audio (e.g., a complete WAV file).
	Data []byte

	// MediaType is the encoder's declared MIME type (e.g., "audio/wav").
	MediaType string

	// Format is the PCM layout the clip was captured in.
	Format Format

	// Duration is the length of captured audio.
	Duration time.Duration
}

// Len returns the encoded size of the clip in bytes.
func (c Clip) Len() int { return len(c.Data) }
