package voicemode

import (
	"errors"

	"github.com/MrWong99/handsfree/pkg/audio"
)

// ErrorKind classifies a voice-mode failure.
type ErrorKind int

const (
	// KindDevice covers permission denial, busy or missing devices, and device
	// loss. Fatal to the session.
	KindDevice ErrorKind = iota

	// KindEncoder means the recording encoder could not be constructed. Fatal
	// to the session.
	KindEncoder

	// KindTranscription means one utterance could not be transcribed.
	// Recoverable: voice mode keeps listening.
	KindTranscription
)

// String returns the metric label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindEncoder:
		return "encoder"
	case KindTranscription:
		return "transcription"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind disable voice mode.
func (k ErrorKind) Fatal() bool { return k != KindTranscription }

// User-facing messages, one per failure.
const (
	MsgPermissionDenied    = "Microphone permission denied"
	MsgDeviceUnavailable   = "Microphone unavailable"
	MsgEncoderUnavailable  = "Voice recording unavailable"
	MsgTranscriptionFailed = "Transcription failed, please try again"
)

// Error is a classified voice-mode failure. Message is safe to show to a user;
// Err holds the underlying cause for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "voicemode: " + e.Message
	}
	return "voicemode: " + e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// deviceError classifies a failure to open or keep the capture device.
func deviceError(err error) *Error {
	msg := MsgDeviceUnavailable
	if errors.Is(err, audio.ErrPermissionDenied) {
		msg = MsgPermissionDenied
	}
	return &Error{Kind: KindDevice, Message: msg, Err: err}
}

func encoderError(err error) *Error {
	return &Error{Kind: KindEncoder, Message: MsgEncoderUnavailable, Err: err}
}

func transcriptionError(err error) *Error {
	return &Error{Kind: KindTranscription, Message: MsgTranscriptionFailed, Err: err}
}
