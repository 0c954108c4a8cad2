package voicemode

import (
	"log/slog"
	"sync"
	"time"
)

// Status is the externally visible state of voice mode. Exactly one value
// holds at any instant.
type Status int

const (
	// StatusIdle means voice mode is disabled and no device is held.
	StatusIdle Status = iota

	// StatusInitializing means device access has been requested.
	StatusInitializing

	// StatusListening means the device is open and the monitoring loop is
	// waiting for sustained speech.
	StatusListening

	// StatusRecording means an utterance is being captured.
	StatusRecording

	// StatusProcessing means a finished clip is being transcribed.
	StatusProcessing

	// StatusError means the last operation failed. After a device failure the
	// status stays here until voice mode is toggled again.
	StatusError
)

// String returns the lower-case wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitializing:
		return "initializing"
	case StatusListening:
		return "listening"
	case StatusRecording:
		return "recording"
	case StatusProcessing:
		return "processing"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusEvent is one published transition.
type StatusEvent struct {
	Status Status

	// Enabled mirrors the activation flag after the transition, so a host can
	// observe auto-disable.
	Enabled bool

	At time.Time
}

// Broadcaster fans status transitions out to subscribers. Only the
// [Controller] publishes; everybody else subscribes.
//
// Slow subscribers lose events rather than stall the controller: a send to a
// full subscriber channel is dropped and logged.
type Broadcaster struct {
	mu      sync.Mutex
	current StatusEvent
	subs    map[int]chan StatusEvent
	nextID  int
}

// NewBroadcaster returns a Broadcaster whose current value is idle.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan StatusEvent)}
}

// Current returns the most recently published event.
func (b *Broadcaster) Current() StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers a new subscriber with the given channel buffer. The
// returned cancel func unregisters and closes the channel; it is safe to call
// more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) publish(ev StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = ev
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("voicemode: status subscriber full, dropping event",
				"subscriber", id,
				"status", ev.Status.String(),
			)
		}
	}
}
