// Package transcribe defines the Transcription Gateway: the contract through
// which a finished [audio.Clip] is turned into text.
//
// The voice controller only depends on [Provider]. Concrete gateways live in
// subpackages (transcribe/whisper, transcribe/openai); resilience wrappers live
// in internal/resilience.
package transcribe

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/handsfree/pkg/audio"
)

// ErrNoSpeech is returned when a gateway responds successfully but the clip
// contained no recognisable speech.
var ErrNoSpeech = errors.New("transcribe: no speech detected")

// ErrUnsupportedMedia is returned when a gateway cannot consume the clip's
// media type.
var ErrUnsupportedMedia = errors.New("transcribe: unsupported media type")

// Provider converts one audio clip into text.
//
// Implementations must be safe for concurrent use. No deadline is imposed by
// callers unless ctx carries one.
type Provider interface {
	// Transcribe returns the trimmed transcript of clip. A clip without speech
	// yields an error wrapping [ErrNoSpeech].
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

// Func adapts an ordinary function to [Provider].
type Func func(ctx context.Context, clip audio.Clip) (string, error)

// Transcribe implements [Provider].
func (f Func) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	return f(ctx, clip)
}

// Normalize trims a raw gateway transcript and turns empty results and the
// bracketed non-speech markers whisper models emit (e.g. "[BLANK_AUDIO]",
// "(silence)", "[MUSIC]") into [ErrNoSpeech]. Other bracketed text, such as
// "(yes)", is kept.
func Normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	if isMarker(text) {
		return "", ErrNoSpeech
	}
	return text, nil
}

// markers are the non-speech annotations, lowercased, without brackets.
var markers = map[string]bool{
	"blank_audio":      true,
	"blank audio":      true,
	"silence":          true,
	"music":            true,
	"noise":            true,
	"background noise": true,
	"inaudible":        true,
	"applause":         true,
	"laughter":         true,
	"no speech":        true,
}

func isMarker(s string) bool {
	if len(s) < 2 {
		return false
	}
	l, r := s[0], s[len(s)-1]
	if !((l == '[' && r == ']') || (l == '(' && r == ')')) {
		return false
	}
	return markers[strings.ToLower(strings.TrimSpace(s[1:len(s)-1]))]
}
