// Package playback provides the speak-back [audio.Player]: a priority queue of
// assistant replies streamed to an output sink one at a time, with
// interruption support for when the user starts talking.
package playback

import (
	"container/heap"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/handsfree/pkg/audio"
)

var _ audio.Player = (*Queue)(nil)

const (
	// DefaultGap is the base silence inserted between consecutive replies.
	DefaultGap = 250 * time.Millisecond

	defaultQueueCap = 8
)

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithGap sets the base gap between consecutive replies. Jitter of ±1/6 of
// the gap is applied. Zero disables the gap.
func WithGap(d time.Duration) Option {
	return func(q *Queue) {
		q.gap = d
	}
}

// WithQueueCapacity sets the initial capacity hint of the reply heap.
func WithQueueCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.pending = make(replyHeap, 0, n)
		}
	}
}

// Queue is the concrete [audio.Player]. Replies are pulled from a priority
// heap by a single dispatch goroutine and their PCM chunks are handed to the
// output sink as [audio.AudioFrame] values.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	output func(audio.AudioFrame)

	// outMu is held while a chunk is being written to output so Interrupt can
	// wait for an in-flight write to finish.
	outMu sync.Mutex

	mu          sync.Mutex
	pending     replyHeap
	seq         uint64
	gap         time.Duration
	playing     *audio.Reply
	cancel      chan struct{}
	onInterrupt func(audio.Interruption)

	notify chan struct{}
	done   chan struct{}
	closed bool
}

// New creates a Queue that delivers audio to output and starts its dispatch
// goroutine. output is called sequentially and must not block for long.
//
// Call [Queue.Close] to stop the goroutine.
func New(output func(audio.AudioFrame), opts ...Option) *Queue {
	q := &Queue{
		output:  output,
		pending: make(replyHeap, 0, defaultQueueCap),
		gap:     DefaultGap,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	heap.Init(&q.pending)
	go q.dispatch()
	return q
}

// Enqueue implements [audio.Player]. Replies with an invalid format are
// dropped with a warning.
func (q *Queue) Enqueue(reply *audio.Reply) {
	if reply.Format.SampleRate <= 0 || reply.Format.Channels <= 0 {
		slog.Warn("playback: dropping reply with invalid format",
			"reply_id", reply.ID,
			"sample_rate", reply.Format.SampleRate,
			"channels", reply.Format.Channels,
		)
		go audio.Drain(reply.Audio)
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		go audio.Drain(reply.Audio)
		return
	}

	q.seq++
	heap.Push(&q.pending, queued{reply: reply, seq: q.seq})

	var ev *audio.Interruption
	if q.playing != nil && reply.Priority > q.playing.Priority {
		ev = q.interruptLocked(audio.Superseded)
	}
	handler := q.onInterrupt

	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	if ev != nil {
		q.waitOutput()
		q.emit(handler, *ev)
	}
}

// Interrupt implements [audio.Player].
func (q *Queue) Interrupt(reason audio.InterruptReason) bool {
	q.mu.Lock()
	ev := q.interruptLocked(reason)
	handler := q.onInterrupt
	q.mu.Unlock()

	if ev == nil {
		return false
	}
	q.waitOutput()
	q.emit(handler, *ev)
	return true
}

// Speaking implements [audio.Player].
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing != nil
}

// OnInterrupt implements [audio.Player].
func (q *Queue) OnInterrupt(handler func(audio.Interruption)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onInterrupt = handler
}

// SetGap implements [audio.Player].
func (q *Queue) SetGap(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gap = d
}

// Close stops the dispatch goroutine and drains every queued reply. Close is
// idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.interruptLocked(audio.Stopped)
	q.mu.Unlock()

	close(q.done)
	return nil
}

// interruptLocked cancels the playing reply and, for reasons that yield the
// floor, drops the queue. It returns nil when there was nothing to stop.
// Must be called with q.mu held.
func (q *Queue) interruptLocked(reason audio.InterruptReason) *audio.Interruption {
	ev := audio.Interruption{Reason: reason}
	hit := false

	if q.playing != nil {
		ev.ReplyID = q.playing.ID
		hit = true
	}
	if q.cancel != nil {
		close(q.cancel)
		q.cancel = nil
	}
	q.playing = nil

	if reason.ClearsQueue() {
		for q.pending.Len() > 0 {
			e := heap.Pop(&q.pending).(queued)
			go audio.Drain(e.reply.Audio)
			ev.Dropped++
			hit = true
		}
	}
	if !hit {
		return nil
	}
	return &ev
}

// waitOutput blocks until no chunk is being written to the sink.
func (q *Queue) waitOutput() {
	q.outMu.Lock()
	defer q.outMu.Unlock()
}

func (q *Queue) emit(handler func(audio.Interruption), ev audio.Interruption) {
	slog.Debug("playback: interrupted",
		"reply_id", ev.ReplyID,
		"reason", ev.Reason.String(),
		"dropped", ev.Dropped,
	)
	if handler != nil {
		go handler(ev)
	}
}

func (q *Queue) dispatch() {
	var played bool

	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			reply, cancel, ok := q.next()
			if !ok {
				break
			}

			if played {
				if d := q.gapWithJitter(); d > 0 {
					gapTimer.Reset(d)
					select {
					case <-q.done:
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						go audio.Drain(reply.Audio)
						return
					case <-cancel:
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
						go audio.Drain(reply.Audio)
						continue
					case <-gapTimer.C:
					}
				}
			}

			q.play(reply, cancel)
			played = true

			q.mu.Lock()
			if q.playing == reply {
				q.playing = nil
				q.cancel = nil
			}
			q.mu.Unlock()
		}
	}
}

// next pops the highest-priority reply and marks it as playing.
func (q *Queue) next() (*audio.Reply, chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Len() == 0 {
		return nil, nil, false
	}
	e := heap.Pop(&q.pending).(queued)
	cancel := make(chan struct{})
	q.playing = e.reply
	q.cancel = cancel
	return e.reply, cancel, true
}

// play streams reply's chunks to the sink until the Audio channel closes or
// cancel fires.
func (q *Queue) play(reply *audio.Reply, cancel chan struct{}) {
	var offset time.Duration
	for {
		select {
		case <-q.done:
			go audio.Drain(reply.Audio)
			return
		case <-cancel:
			go audio.Drain(reply.Audio)
			return
		case chunk, ok := <-reply.Audio:
			if !ok {
				if err := reply.Err(); err != nil {
					slog.Warn("playback: reply ended with error", "reply_id", reply.ID, "err", err)
				}
				return
			}
			frame := audio.AudioFrame{
				Data:       chunk,
				SampleRate: reply.Format.SampleRate,
				Channels:   reply.Format.Channels,
				Timestamp:  offset,
			}
			offset += frame.Duration()

			q.outMu.Lock()
			select {
			case <-cancel:
				q.outMu.Unlock()
				go audio.Drain(reply.Audio)
				return
			default:
			}
			q.output(frame)
			q.outMu.Unlock()
		}
	}
}

func (q *Queue) gapWithJitter() time.Duration {
	q.mu.Lock()
	base := q.gap
	q.mu.Unlock()

	if base <= 0 {
		return 0
	}
	spread := base / 6
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(2*spread+1))) - spread
}
