// Package hub is the UI surface of handsfree: a WebSocket endpoint through
// which a chat client toggles voice mode, mirrors its status, receives
// transcripts and errors, and requests speak-back.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/handsfree/internal/observe"
	"github.com/MrWong99/handsfree/internal/speech"
	"github.com/MrWong99/handsfree/internal/voicemode"
	"github.com/MrWong99/handsfree/pkg/audio"
)

const (
	clientSendBuffer = 32
	writeTimeout     = 5 * time.Second
)

// Voice is the voice mode surface the hub drives. [*voicemode.Controller]
// satisfies it.
type Voice interface {
	Enable(ctx context.Context) error
	Disable()
	Status() voicemode.StatusEvent
	Subscribe(buffer int) (<-chan voicemode.StatusEvent, func())
}

// Speaker voices assistant replies. [*speech.Speaker] satisfies it.
type Speaker interface {
	Speak(ctx context.Context, req speech.Request) (string, error)
	Interrupt(reason audio.InterruptReason) bool
}

// Option is a functional option for [New].
type Option func(*Hub)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns sets the host patterns allowed to connect cross-origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

// Hub fans voice mode events out to connected UI clients and applies their
// commands.
//
// Hub is safe for concurrent use.
type Hub struct {
	voice          Voice
	speaker        Speaker
	metrics        *observe.Metrics
	originPatterns []string

	hold atomic.Bool

	mu      sync.Mutex
	clients map[string]*client
	last    *statusMessage // latest status Run broadcast; nil until Run starts
}

// New creates a Hub. speaker may be nil, in which case speak requests are
// answered with an error.
func New(voice Voice, speaker Speaker, opts ...Option) *Hub {
	h := &Hub{
		voice:   voice,
		speaker: speaker,
		clients: make(map[string]*client),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Held reports whether a client asked voice mode to hold off new recordings.
// Wire it to [voicemode.Config.ShouldHoldRecording].
func (h *Hub) Held() bool { return h.hold.Load() }

// Transcript broadcasts an accepted utterance. Wire it to
// [voicemode.Config.OnTranscription].
func (h *Hub) Transcript(t voicemode.Transcript) {
	h.broadcast(transcriptMessage{Type: TypeTranscript, ID: t.ID, Text: t.Text})
}

// Error broadcasts a user-facing error. Wire it to [voicemode.Config.OnError].
func (h *Hub) Error(message string) {
	h.broadcast(errorMessage{Type: TypeError, Message: message})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run forwards voice mode status changes to every client until ctx is
// cancelled.
//
// Clients connecting while Run is active receive the status Run broadcast
// last, so their first status is never newer than the events that follow it.
func (h *Hub) Run(ctx context.Context) error {
	events, cancel := h.voice.Subscribe(16)
	defer cancel()

	h.mu.Lock()
	initial := statusFrom(h.voice.Status())
	h.last = &initial
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.last = nil
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.broadcastStatus(statusFrom(ev))
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves one client until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("hub: websocket accept failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		gone: cancel,
	}
	h.add(ctx, c)
	defer h.remove(ctx, c)

	log := slog.With("client_id", c.id)
	log.Info("hub: client connected", "remote", r.RemoteAddr)

	go c.writeLoop(ctx)

	err = h.readLoop(ctx, c)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("hub: client disconnected")
	case errors.Is(err, context.Canceled):
		log.Info("hub: client dropped")
	default:
		log.Warn("hub: client read failed", "err", err)
	}
	conn.CloseNow()
}

// Close disconnects every client with a going-away status. ServeHTTP calls
// return shortly after.
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Go(func() {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			c.gone()
		})
	}
	wg.Wait()
	return nil
}

func (h *Hub) readLoop(ctx context.Context, c *client) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.enqueue(mustMarshal(errorMessage{Type: TypeError, Message: "expected a text message"}))
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(mustMarshal(errorMessage{Type: TypeError, Message: "malformed message"}))
			continue
		}
		h.handle(ctx, c, msg)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, msg inbound) {
	switch msg.Type {
	case TypeEnable:
		// Enable blocks while the device opens; keep reading so a disable
		// can abort it.
		go func() {
			if err := h.voice.Enable(ctx); err != nil {
				slog.Debug("hub: enable ended", "client_id", c.id, "err", err)
			}
		}()
	case TypeDisable:
		h.voice.Disable()
	case TypeHold:
		h.setHold(c, msg.Hold)
	case TypeSpeak:
		if h.speaker == nil {
			c.enqueue(mustMarshal(errorMessage{Type: TypeError, Message: MsgSpeakUnavailable}))
			return
		}
		// Starting synthesis dials the TTS backend; keep reading meanwhile.
		go h.speak(ctx, c, msg)
	case TypeStopSpeaking:
		if h.speaker != nil {
			h.speaker.Interrupt(audio.Stopped)
		}
	default:
		c.enqueue(mustMarshal(errorMessage{Type: TypeError, Message: "unknown message type"}))
	}
}

func (h *Hub) speak(ctx context.Context, c *client, msg inbound) {
	id, err := h.speaker.Speak(ctx, speech.Request{
		ID:       msg.ID,
		Text:     msg.Text,
		Priority: msg.Priority,
		OnFailed: func(id string, err error) {
			slog.Warn("hub: speak-back ended early", "client_id", c.id, "reply_id", id, "err", err)
			c.enqueue(mustMarshal(errorMessage{Type: TypeError, ID: id, Message: MsgSpeakFailed}))
		},
	})
	if err != nil {
		slog.Warn("hub: speak failed", "client_id", c.id, "err", err)
		c.enqueue(mustMarshal(errorMessage{Type: TypeError, ID: msg.ID, Message: MsgSpeakFailed}))
		return
	}
	c.enqueue(mustMarshal(speakingMessage{Type: TypeSpeaking, ID: id}))
}

// setHold records c's hold request. The hub is held while any client holds.
func (h *Hub) setHold(c *client, hold bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.holding = hold
	h.hold.Store(h.anyHoldingLocked())
}

func (h *Hub) anyHoldingLocked() bool {
	for _, c := range h.clients {
		if c.holding {
			return true
		}
	}
	return false
}

// add registers c and queues its first status. It shares h.mu with
// broadcastStatus, so no broadcast can slip between the snapshot and the
// registration.
func (h *Hub) add(ctx context.Context, c *client) {
	h.mu.Lock()
	first := statusFrom(h.voice.Status())
	if h.last != nil {
		first = *h.last
	}
	h.clients[c.id] = c
	c.enqueue(mustMarshal(first))
	h.mu.Unlock()
	h.metrics.HubClients.Add(ctx, 1)
}

func (h *Hub) remove(ctx context.Context, c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.hold.Store(h.anyHoldingLocked())
	h.mu.Unlock()
	h.metrics.HubClients.Add(context.WithoutCancel(ctx), -1)
}

func (h *Hub) broadcast(v any) {
	data := mustMarshal(v)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.enqueue(data)
	}
}

func (h *Hub) broadcastStatus(msg statusMessage) {
	data := mustMarshal(msg)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &msg
	for _, c := range h.clients {
		c.enqueue(data)
	}
}

func statusFrom(ev voicemode.StatusEvent) statusMessage {
	return statusMessage{Type: TypeStatus, Status: ev.Status.String(), Enabled: ev.Enabled}
}

// mustMarshal encodes one of the fixed protocol structs, which cannot fail.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("hub: marshal " + err.Error())
	}
	return data
}

// ─── client ───────────────────────────────────────────────────────────────────

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	gone    context.CancelFunc
	holding bool // guarded by Hub.mu
}

// enqueue queues data for the writer. A client that cannot keep up is
// disconnected.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("hub: client too slow, disconnecting", "client_id", c.id)
		c.gone()
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("hub: write failed", "client_id", c.id, "err", err)
				c.gone()
				return
			}
		}
	}
}
