package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned (possibly wrapped) by [Microphone.Open] when
// the platform or the user refused access to the capture device.
var ErrPermissionDenied = errors.New("audio: device permission denied")

// ErrDeviceUnavailable is returned (possibly wrapped) by [Microphone.Open] when
// no usable device exists, the device is busy, or the platform is unsupported.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Microphone grants access to a capture device.
//
// Implementations must be safe for concurrent use. Each successful Open
// returns an independent [InputStream] that holds the device until closed.
type Microphone interface {
	// Open requests access to the device and starts capturing. The supplied ctx
	// governs the access request only; once returned, the stream lives until
	// [InputStream.Close] is called.
	//
	// Permission failures should wrap [ErrPermissionDenied]; all other
	// failures should wrap [ErrDeviceUnavailable] or return a descriptive error.
	Open(ctx context.Context) (InputStream, error)
}

// InputStream is an open capture device.
type InputStream interface {
	// Frames returns the channel that delivers captured audio. The channel is
	// closed when the device goes away or after Close returns.
	Frames() <-chan AudioFrame

	// Format reports the native format frames are delivered in.
	Format() Format

	// Close stops capture and releases the device. It is safe to call Close
	// more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Speaker is a playback device for synthesized speech.
//
// Implementations must be safe for concurrent use by a single writer.
type Speaker interface {
	// Write plays one chunk of PCM. It may block until the device accepts it.
	Write(frame AudioFrame) error

	// Close releases the device. Subsequent calls are no-ops.
	Close() error
}
