package audio

import (
	"sync/atomic"
	"time"
)

// InterruptReason identifies why speak-back playback was cut short.
type InterruptReason int

const (
	// UserSpeech indicates that the user started talking. The player yields
	// the floor: the current reply stops and all queued replies are dropped.
	UserSpeech InterruptReason = iota

	// Superseded indicates that a higher-priority reply preempted the current
	// one. Queued replies are preserved.
	Superseded

	// Stopped indicates an explicit stop request from the UI. Like
	// [UserSpeech], the queue is cleared.
	Stopped
)

// String returns the human-readable name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case UserSpeech:
		return "user_speech"
	case Superseded:
		return "superseded"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ClearsQueue reports whether interrupting for r also drops queued replies.
func (r InterruptReason) ClearsQueue() bool {
	return r == UserSpeech || r == Stopped
}

// Reply is one unit of assistant speech submitted to a [Player]. Audio is
// streamed so playback can begin before synthesis is complete.
type Reply struct {
	// ID identifies the reply (e.g., the chat message the speech belongs to).
	ID string

	// Audio is a read-only channel of int16 LE PCM chunks. The producer closes
	// it when synthesis ends or fails. After it closes, check [Reply.Err].
	Audio <-chan []byte

	// Format describes the PCM on Audio. SampleRate and Channels must be > 0.
	Format Format

	// Priority controls scheduling when several replies are queued. Higher
	// values preempt lower ones; equal priorities play in FIFO order.
	Priority int

	streamErr atomic.Pointer[error]
}

// Err returns the error that ended the Audio stream early, or nil.
func (r *Reply) Err() error {
	if p := r.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream synthesis error. The producer should call
// it before closing Audio.
func (r *Reply) SetStreamErr(err error) {
	r.streamErr.Store(&err)
}

// Interruption describes a reply that was cut short.
type Interruption struct {
	// ReplyID is the ID of the reply that stopped, or "" if only queued
	// replies were dropped.
	ReplyID string

	// Reason is why playback stopped.
	Reason InterruptReason

	// Dropped is the number of queued replies discarded with it.
	Dropped int
}

// Player is the speak-back queue. It plays one reply at a time and is the
// component the voice controller silences when the user starts to speak.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Enqueue schedules reply for playback. A reply with higher priority than
	// the one currently playing preempts it with [Superseded].
	Enqueue(reply *Reply)

	// Interrupt stops the current reply for the given reason and reports
	// whether anything was playing or queued. It returns once the current
	// reply will emit no further audio.
	Interrupt(reason InterruptReason) bool

	// Speaking reports whether a reply is currently playing.
	Speaking() bool

	// OnInterrupt registers handler to be called after each interruption.
	// Only one handler may be registered; later calls replace earlier ones.
	// The handler runs on its own goroutine and must not block.
	OnInterrupt(handler func(Interruption))

	// SetGap configures the silence inserted between consecutive replies.
	SetGap(d time.Duration)
}

// Drain reads ch until it is closed, discarding all values. Use it so that a
// producer blocked on a discarded reply's Audio channel can finish.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
